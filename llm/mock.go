package llm

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/pmnowak/ollama-code/session"
)

// MockLLMClient replays scripted responses, one per request. Once the script
// runs out the last response repeats. With no script it parrots the last
// user message back. Each response is streamed word by word.
type MockLLMClient struct {
	Responses []string
	// Err, when set, is returned instead of a response.
	Err error
	// Delay is slept between fragments.
	Delay time.Duration

	// Requests records every request received, for inspection in tests.
	Requests []Request
	calls    int
}

func (m *MockLLMClient) ChatStream(ctx context.Context, req Request) iter.Seq2[string, error] {
	recorded := req
	recorded.Turns = append([]session.Turn(nil), req.Turns...)
	m.Requests = append(m.Requests, recorded)

	response := m.next(req)
	return func(yield func(string, error) bool) {
		if m.Err != nil {
			yield("", m.Err)
			return
		}
		for _, fragment := range splitKeepingSpaces(response) {
			if m.Delay > 0 {
				time.Sleep(m.Delay)
			}
			if !yield(fragment, nil) {
				return
			}
		}
	}
}

func (m *MockLLMClient) next(req Request) string {
	defer func() { m.calls++ }()
	if len(m.Responses) == 0 {
		last := ""
		if len(req.Turns) > 0 {
			last = req.Turns[len(req.Turns)-1].Content
		}
		return fmt.Sprintf("I am a mock LLM. You said: '%s'.", last)
	}
	if m.calls < len(m.Responses) {
		return m.Responses[m.calls]
	}
	return m.Responses[len(m.Responses)-1]
}

// splitKeepingSpaces cuts s after every space so the fragments concatenate
// back to s exactly.
func splitKeepingSpaces(s string) []string {
	var out []string
	for s != "" {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}
