package llm

import (
	"context"
	"iter"
	"os"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/pmnowak/ollama-code/errors"
	"github.com/pmnowak/ollama-code/session"
)

// OpenAILLMClient streams from an OpenAI-compatible Chat Completions API.
// Pointing OPENAI_BASE_URL at http://<ollama>/v1 drives Ollama through its
// compatibility layer.
type OpenAILLMClient struct {
	client *openai.Client
}

// NewOpenAILLMClient creates a new OpenAILLMClient. It requires the OPENAI_API_KEY environment variable to be set.
// It also supports OPENAI_BASE_URL for custom API endpoints.
func NewOpenAILLMClient(ctx context.Context) (*OpenAILLMClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	c := openai.NewClient(options...)
	return &OpenAILLMClient{client: &c}, nil
}

func (o *OpenAILLMClient) ChatStream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		params := openai.ChatCompletionNewParams{
			Model:    openai.ChatModel(req.Model),
			Messages: convertTurnsToOpenAIMessages(req.Turns),
		}

		stream := o.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if content := chunk.Choices[0].Delta.Content; content != "" {
				if !yield(content, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield("", errors.Wrapf(err, "failed to stream from OpenAI"))
		}
	}
}

func convertTurnsToOpenAIMessages(turns []session.Turn) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case session.RoleSystem:
			messages = append(messages, openai.SystemMessage(t.Content))
		case session.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(t.Content))
		default:
			messages = append(messages, openai.UserMessage(t.Content))
		}
	}
	return messages
}
