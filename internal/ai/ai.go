package ai

import (
	"context"
	"hash/fnv"
)

// Generator is a text-generation service. Callers treat it as unreliable and always pair it
// with a fallback or an explicit failure path.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

func promptHash(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
