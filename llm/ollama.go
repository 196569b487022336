package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/pmnowak/ollama-code/errors"
	"github.com/tidwall/gjson"
)

// OllamaLLMClient talks to Ollama's native chat endpoint, which streams one
// JSON object per line.
type OllamaLLMClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaLLMClient creates a client for the server at baseURL. headerTimeout
// bounds the wait for the response headers; the streamed body is not bounded.
func NewOllamaLLMClient(baseURL string, headerTimeout time.Duration) *OllamaLLMClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return &OllamaLLMClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Transport: transport},
	}
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

func (o *OllamaLLMClient) ChatStream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		body, err := json.Marshal(newOllamaChatRequest(req))
		if err != nil {
			yield("", errors.Wrapf(err, "failed to encode Ollama request"))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			yield("", errors.Wrapf(err, "failed to build Ollama request"))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := o.httpClient.Do(httpReq)
		if err != nil {
			yield("", errors.Wrapf(err, "failed to send message to Ollama at %s", o.baseURL))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			yield("", statusError(resp))
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			if !gjson.ValidBytes(line) {
				yield("", errors.New("malformed chunk from Ollama: %q", truncate(string(line), 200)))
				return
			}
			if msg := gjson.GetBytes(line, "error"); msg.Exists() {
				yield("", errors.New("Ollama error: %s", msg.String()))
				return
			}
			if content := gjson.GetBytes(line, "message.content").String(); content != "" {
				if !yield(content, nil) {
					return
				}
			}
			if gjson.GetBytes(line, "done").Bool() {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield("", errors.Wrapf(err, "failed to read Ollama stream"))
		}
	}
}

func newOllamaChatRequest(req Request) ollamaChatRequest {
	messages := make([]ollamaMessage, 0, len(req.Turns))
	for _, t := range req.Turns {
		messages = append(messages, ollamaMessage{Role: string(t.Role), Content: t.Content})
	}
	out := ollamaChatRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
	}
	if req.ContextWindow > 0 {
		out.Options = map[string]any{"num_ctx": req.ContextWindow}
	}
	return out
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := strings.TrimSpace(string(data))
	if msg := gjson.GetBytes(data, "error"); msg.Exists() {
		detail = msg.String()
	}
	return errors.New("Ollama returned %s: %s", resp.Status, detail)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
