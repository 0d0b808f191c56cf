package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/abelbrown/briefs/internal/logging"
)

const (
	defaultEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultModel    = "gpt-5.2"

	maxAttempts      = 3
	baseRetryDelay   = 1 * time.Second
	maxRetryDelay    = 20 * time.Second
	defaultMaxTokens = 2048
)

// Client calls the OpenAI chat completions API with bounded retries.
type Client struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	onUsage  func(Usage)

	// test seams
	sleep func(time.Duration)
}

// NewClient creates an OpenAI completion client. model may be empty to use
// the default.
func NewClient(apiKey, model string) *Client {
	if model == "" {
		model = defaultModel
	}
	return &Client{
		apiKey:   apiKey,
		model:    model,
		endpoint: defaultEndpoint,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
		sleep: time.Sleep,
	}
}

// OnUsage registers a callback invoked with the token usage of every
// successful call. The pipeline uses it to feed a per-run usage recorder.
func (c *Client) OnUsage(fn func(Usage)) {
	c.onUsage = fn
}

func (c *Client) Available() bool {
	return c.apiKey != ""
}

// Complete performs a chat completion, retrying transient failures with
// jittered exponential backoff.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	if !c.Available() {
		return Response{}, fmt.Errorf("llm client not configured")
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt - 1)
			logging.Warn("LLM call failed, retrying",
				"attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			default:
			}
			c.sleep(delay)
		}

		resp, retryable, err := c.doRequest(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable {
			return Response{}, err
		}
	}
	return Response{}, fmt.Errorf("%w: %v", ErrTooManyRetries, lastErr)
}

func (c *Client) doRequest(ctx context.Context, req Request) (Response, bool, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	messages := []map[string]string{}
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]string{
			"role":    "system",
			"content": req.SystemPrompt,
		})
	}
	messages = append(messages, map[string]string{
		"role":    "user",
		"content": req.UserPrompt,
	})

	body := map[string]interface{}{
		"model":                 model,
		"max_completion_tokens": maxTokens,
		"messages":              messages,
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return Response{}, false, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return Response{}, false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, true, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		logging.Error("LLM API error", "status", resp.StatusCode, "body", string(respBody))
		return Response{}, retryable, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Model string `json:"model"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Response{}, false, fmt.Errorf("failed to parse response: %w", err)
	}

	content := ""
	finishReason := ""
	if len(result.Choices) > 0 {
		content = result.Choices[0].Message.Content
		finishReason = result.Choices[0].FinishReason
	}

	if finishReason == "length" {
		logging.Warn("LLM response truncated due to max tokens",
			"model", result.Model,
			"max_tokens", maxTokens,
			"content_length", len(content))
	}

	usage := Usage{
		Model:            result.Model,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
	}
	if c.onUsage != nil {
		c.onUsage(usage)
	}

	logging.Debug("LLM API response",
		"model", result.Model,
		"content_length", len(content),
		"finish_reason", finishReason)

	return Response{Content: content, Model: result.Model, Usage: usage}, false, nil
}

// backoffDelay returns a uniformly jittered delay for the given retry,
// capped so pathological attempt counts cannot sleep for minutes.
func backoffDelay(retry int) time.Duration {
	ceiling := baseRetryDelay << retry
	if ceiling > maxRetryDelay {
		ceiling = maxRetryDelay
	}
	min := 500 * time.Millisecond
	if ceiling <= min {
		return ceiling
	}
	return min + time.Duration(rand.Int63n(int64(ceiling-min)))
}
