package llm

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/pmnowak/ollama-code/errors"
	"github.com/pmnowak/ollama-code/session"
	"github.com/tidwall/gjson"
)

// BedrockLLMClient streams from Anthropic models hosted on AWS Bedrock.
type BedrockLLMClient struct {
	client *bedrockruntime.Client
}

// NewBedrockLLMClient creates a new BedrockLLMClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockLLMClient(ctx context.Context) (*BedrockLLMClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	return &BedrockLLMClient{client: bedrockruntime.NewFromConfig(cfg)}, nil
}

func (b *BedrockLLMClient) ChatStream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body, err := createBedrockAnthropicRequest(req.Turns)
		if err != nil {
			yield("", errors.Wrapf(err, "failed to encode Bedrock request"))
			return
		}

		out, err := b.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
			ModelId:     aws.String(req.Model),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			yield("", errors.Wrapf(err, "failed to invoke Bedrock model"))
			return
		}
		stream := out.GetStream()
		defer stream.Close()

		for event := range stream.Events() {
			chunk, ok := event.(*types.ResponseStreamMemberChunk)
			if !ok {
				continue
			}
			text, err := bedrockChunkText(chunk.Value.Bytes)
			if err != nil {
				yield("", err)
				return
			}
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", errors.Wrapf(err, "failed to read Bedrock stream"))
		}
	}
}

// createBedrockAnthropicRequest builds the Anthropic Messages body Bedrock
// expects for Claude models.
func createBedrockAnthropicRequest(turns []session.Turn) ([]byte, error) {
	system, rest := systemAndTurns(turns)
	messages := make([]map[string]interface{}, 0, len(rest))
	for _, t := range rest {
		role := "user"
		if t.Role == session.RoleAssistant {
			role = "assistant"
		}
		messages = append(messages, map[string]interface{}{
			"role": role,
			"content": []map[string]interface{}{
				{"type": "text", "text": t.Content},
			},
		})
	}

	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        anthropicMaxTokens,
		"messages":          messages,
	}
	if system != "" {
		request["system"] = system
	}
	return json.Marshal(request)
}

// bedrockChunkText extracts the text delta, if any, from one streamed
// Anthropic event.
func bedrockChunkText(chunk []byte) (string, error) {
	switch gjson.GetBytes(chunk, "type").String() {
	case "content_block_delta":
		return gjson.GetBytes(chunk, "delta.text").String(), nil
	case "error":
		return "", errors.New("Bedrock stream error: %s", gjson.GetBytes(chunk, "error.message").String())
	default:
		return "", nil
	}
}
