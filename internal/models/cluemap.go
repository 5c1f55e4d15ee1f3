package models

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

type Clue struct {
	Key    string `json:"key"`
	Answer string `json:"answer"`
}

// ClueMap keeps clue keys in catalog order so the first matching clue wins deterministically.
type ClueMap []Clue

func (m *ClueMap) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("clue_map: expected mapping, got line %d", value.Line)
	}
	out := make(ClueMap, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var key, answer string
		if err := value.Content[i].Decode(&key); err != nil {
			return err
		}
		if err := value.Content[i+1].Decode(&answer); err != nil {
			return err
		}
		out = append(out, Clue{Key: key, Answer: answer})
	}
	*m = out
	return nil
}
