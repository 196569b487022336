package llm

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/pmnowak/ollama-code/config"
	"github.com/pmnowak/ollama-code/errors"
	"github.com/pmnowak/ollama-code/session"
)

// Request is one model query: the full transcript replayed to the model.
type Request struct {
	Model string
	Turns []session.Turn
	// ContextWindow is the context size in tokens to ask the server for.
	// Providers that size the context themselves ignore it.
	ContextWindow int
}

// LLMClient is the interface for interacting with a Large Language Model.
// ChatStream returns the response as a finite sequence of text fragments.
// A non-nil error ends the sequence and fails the whole request.
type LLMClient interface {
	ChatStream(ctx context.Context, req Request) iter.Seq2[string, error]
}

// Collect drains a response stream, handing every fragment to onDelta as it
// arrives, and returns the concatenated text.
func Collect(ctx context.Context, client LLMClient, req Request, onDelta func(string)) (string, error) {
	var b strings.Builder
	for fragment, err := range client.ChatStream(ctx, req) {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(fragment)
		if onDelta != nil {
			onDelta(fragment)
		}
	}
	return b.String(), nil
}

// NewClient builds the client selected by cfg.LLMClient.
func NewClient(ctx context.Context, cfg *config.Config) (LLMClient, error) {
	switch cfg.LLMClient {
	case "", "ollama":
		return NewOllamaLLMClient(cfg.OllamaURL, cfg.RequestTimeout), nil
	case "openai":
		return NewOpenAILLMClient(ctx)
	case "anthropic":
		return NewAnthropicLLMClient(ctx)
	case "gemini":
		return NewGeminiLLMClient(ctx)
	case "bedrock":
		return NewBedrockLLMClient(ctx)
	case "mock":
		return &MockLLMClient{Delay: 10 * time.Millisecond}, nil
	default:
		return nil, errors.New("unknown llm client '%s' (want ollama, openai, anthropic, gemini, bedrock or mock)", cfg.LLMClient)
	}
}

// systemAndTurns splits the leading system Turn off the transcript for
// providers that take the system prompt as a separate parameter.
func systemAndTurns(turns []session.Turn) (string, []session.Turn) {
	if len(turns) > 0 && turns[0].Role == session.RoleSystem {
		return turns[0].Content, turns[1:]
	}
	return "", turns
}
