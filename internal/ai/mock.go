package ai

import "context"

// MockGenerator answers deterministically from the prompt hash so local runs exercise the
// LLM-backed paths without a model server.
type MockGenerator struct {
	Replies []string
}

var defaultMockReplies = []string{
	"I tried that just now and it still shows the same message on my screen.",
	"It started this morning after I came back from lunch, and nobody else near me has it.",
	"I restarted once already, but the problem came back after a few minutes.",
}

func (m MockGenerator) Generate(_ context.Context, prompt string) (string, error) {
	replies := m.Replies
	if len(replies) == 0 {
		replies = defaultMockReplies
	}
	return replies[int(promptHash(prompt)%uint64(len(replies)))], nil
}
