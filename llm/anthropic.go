package llm

import (
	"context"
	"iter"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pmnowak/ollama-code/errors"
	"github.com/pmnowak/ollama-code/session"
)

const anthropicMaxTokens = 4096

// AnthropicLLMClient streams from the Anthropic Messages API.
type AnthropicLLMClient struct {
	client *anthropic.Client
}

// NewAnthropicLLMClient creates a new AnthropicLLMClient.
// It requires the ANTHROPIC_API_KEY environment variable to be set.
func NewAnthropicLLMClient(ctx context.Context) (*AnthropicLLMClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}

	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)
	return &AnthropicLLMClient{client: &client}, nil
}

func (a *AnthropicLLMClient) ChatStream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		system, turns := systemAndTurns(req.Turns)
		params := anthropic.MessageNewParams{
			Model:     anthropic.Model(req.Model),
			MaxTokens: anthropicMaxTokens,
			Messages:  convertTurnsToAnthropicMessages(turns),
		}
		if system != "" {
			params.System = []anthropic.TextBlockParam{{Text: system}}
		}

		stream := a.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok || text.Text == "" {
				continue
			}
			if !yield(text.Text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", errors.Wrapf(err, "failed to stream from Anthropic"))
		}
	}
}

// convertTurnsToAnthropicMessages maps the non-system transcript onto
// Anthropic's user/assistant messages.
func convertTurnsToAnthropicMessages(turns []session.Turn) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropic.NewTextBlock(t.Content)
		if t.Role == session.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(block))
	}
	return messages
}
