package llm

import (
	"context"
	"iter"
	"os"

	"github.com/google/generative-ai-go/genai"
	"github.com/pmnowak/ollama-code/errors"
	"github.com/pmnowak/ollama-code/session"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiLLMClient streams from the Google Gemini API.
type GeminiLLMClient struct {
	client *genai.Client
}

// NewGeminiLLMClient creates a new GeminiLLMClient.
// It requires the GEMINI_API_KEY environment variable to be set.
func NewGeminiLLMClient(ctx context.Context) (*GeminiLLMClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}
	return &GeminiLLMClient{client: client}, nil
}

func (g *GeminiLLMClient) ChatStream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		system, turns := systemAndTurns(req.Turns)
		if len(turns) == 0 {
			yield("", errors.New("no message to send to Gemini"))
			return
		}

		// The model is created per request since the model name can change
		// between requests.
		model := g.client.GenerativeModel(req.Model)
		if system != "" {
			model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
		}

		history := convertTurnsToGeminiContent(turns)
		last := history[len(history)-1]
		chat := model.StartChat()
		chat.History = history[:len(history)-1]

		it := chat.SendMessageStream(ctx, last.Parts...)
		for {
			resp, err := it.Next()
			if err == iterator.Done {
				return
			}
			if err != nil {
				yield("", errors.Wrapf(err, "failed to stream from Gemini"))
				return
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					text, ok := part.(genai.Text)
					if !ok || text == "" {
						continue
					}
					if !yield(string(text), nil) {
						return
					}
				}
				// Only the first candidate is used.
				break
			}
		}
	}
}

func convertTurnsToGeminiContent(turns []session.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := "user"
		if t.Role == session.RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(t.Content)},
		})
	}
	return contents
}
