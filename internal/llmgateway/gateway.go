// Package llmgateway implements the outbound HTTP client to the
// remote LLM service: a JSON chat-completion endpoint, bearer-token
// auth, exponential-backoff retry, and structured-JSON extraction from
// free-form responses.
package llmgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ReOpsIL/cai-sub000/internal/errs"
	"github.com/ReOpsIL/cai-sub000/internal/observability"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Gateway is the HTTP client to the chat-completion endpoint.
type Gateway struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	HTTPClient  *http.Client
	Metrics     *observability.Metrics
}

// New constructs a Gateway with the given connection parameters. A
// zero MaxRetries defaults to 3 total attempts.
func New(baseURL, apiKey, model string, timeout time.Duration, maxRetries int, temperature float64, maxTokens int) *Gateway {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Gateway{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		Model:       model,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		MaxRetries:  maxRetries,
		HTTPClient:  &http.Client{Timeout: timeout},
	}
}

// ChatCompletion sends messages and returns the assistant's raw text
// content, retrying transient failures with exponential backoff.
func (g *Gateway) ChatCompletion(ctx context.Context, messages []Message) (string, error) {
	start := time.Now()
	content, err := g.chatCompletion(ctx, messages)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	g.Metrics.ObserveLLMCall(outcome, time.Since(start).Seconds())
	return content, err
}

func (g *Gateway) chatCompletion(ctx context.Context, messages []Message) (string, error) {
	reqBody := chatRequest{
		Model:       g.Model,
		Messages:    messages,
		MaxTokens:   g.MaxTokens,
		Temperature: g.Temperature,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", errs.Wrap(errs.LLMUnavailable, "encoding chat request", err)
	}

	var lastErr error
	for attempt := 0; attempt < g.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 250 * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", errs.Wrap(errs.LLMTimeout, "chat completion cancelled during backoff", ctx.Err())
			}
		}

		content, err := g.doRequest(ctx, payload)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", errs.Wrap(errs.LLMTimeout, "chat completion context done", ctx.Err())
		}
	}
	return "", errs.Wrap(errs.LLMUnavailable, "chat completion failed after retries", lastErr)
}

func (g *Gateway) doRequest(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}

	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llm gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm gateway returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// ChatCompletionJSON calls ChatCompletion and extracts a structured
// JSON object from the response text, then unmarshals it into out.
func (g *Gateway) ChatCompletionJSON(ctx context.Context, messages []Message, out any) error {
	text, err := g.ChatCompletion(ctx, messages)
	if err != nil {
		return err
	}
	extracted, ok := ExtractJSON(text)
	if !ok {
		return errs.New(errs.LLMParseError, "no JSON object found in llm response")
	}
	if err := json.Unmarshal([]byte(extracted), out); err != nil {
		return errs.Wrap(errs.LLMParseError, "unmarshalling extracted json", err)
	}
	return nil
}

// ExtractJSON locates a JSON object in free-form LLM output. It tries,
// in order: a fenced ```json block, a fenced ``` block whose trimmed
// content looks like an object, the first brace-balanced {...} span in
// the text, then the trimmed whole text.
func ExtractJSON(response string) (string, bool) {
	if block, ok := fencedBlock(response, "```json"); ok {
		return block, true
	}
	if block, ok := fencedBlock(response, "```"); ok {
		trimmed := strings.TrimSpace(block)
		if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
			return trimmed, true
		}
	}
	if start := strings.Index(response, "{"); start != -1 {
		depth := 0
		for i := start; i < len(response); i++ {
			switch response[i] {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return response[start : i+1], true
				}
			}
		}
	}
	trimmed := strings.TrimSpace(response)
	if trimmed != "" {
		return trimmed, true
	}
	return "", false
}

func fencedBlock(response, fence string) (string, bool) {
	start := strings.Index(response, fence)
	if start == -1 {
		return "", false
	}
	rest := response[start+len(fence):]
	end := strings.Index(rest, "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}
