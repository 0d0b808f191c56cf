package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// OpenAIEmbedder generates embeddings via the OpenAI embeddings API.
type OpenAIEmbedder struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter

	// onUsage, when set, receives the billed token count of each call.
	onUsage func(model string, tokens int)
}

type openAIEmbedRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format"`
}

type openAIEmbedResponse struct {
	Data []openAIEmbedding `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
	} `json:"usage"`
}

type openAIEmbedding struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// NewOpenAIEmbedder creates an embedder with the given API key and model.
func NewOpenAIEmbedder(apiKey, model string) *OpenAIEmbedder {
	if model == "" {
		model = "text-embedding-3-large"
	}
	return &OpenAIEmbedder{
		apiKey:   apiKey,
		model:    model,
		endpoint: "https://api.openai.com/v1/embeddings",
		client:   &http.Client{Timeout: 60 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(200*time.Millisecond), 1), // ~300 RPM
	}
}

// OnUsage registers a callback receiving the billed tokens of each call.
func (e *OpenAIEmbedder) OnUsage(fn func(model string, tokens int)) {
	e.onUsage = fn
}

// Available returns true if the API key is configured.
func (e *OpenAIEmbedder) Available() bool {
	return e.apiKey != ""
}

// Embed generates vector embeddings for the given texts in one API call.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) (Result, error) {
	if len(texts) == 0 {
		return Result{Model: e.model}, nil
	}

	reqBody := openAIEmbedRequest{
		Model:          e.model,
		Input:          texts,
		EncodingFormat: "float",
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("embed: failed to marshal request: %w", err)
	}

	resp, err := e.doWithRetry(ctx, jsonBody)
	if err != nil {
		return Result{}, err
	}

	results := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return Result{}, fmt.Errorf("embed: openai returned out-of-range index %d for %d inputs", item.Index, len(texts))
		}
		results[item.Index] = item.Embedding
	}
	for i, r := range results {
		if r == nil {
			return Result{}, fmt.Errorf("embed: missing embedding for index %d", i)
		}
	}

	if e.onUsage != nil {
		e.onUsage(e.model, resp.Usage.PromptTokens)
	}
	return Result{Vectors: results, Model: e.model, Tokens: resp.Usage.PromptTokens}, nil
}

// doWithRetry executes the API request with retry logic for transient errors.
// Retries up to 3 times on HTTP 429 or 5xx status codes with exponential
// backoff, honoring the Retry-After header on 429.
func (e *OpenAIEmbedder) doWithRetry(ctx context.Context, reqBody []byte) (*openAIEmbedResponse, error) {
	maxRetries := 3
	backoffs := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("embed: rate limiter wait failed: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return nil, fmt.Errorf("embed: failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+e.apiKey)

		resp, err := e.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("embed: request cancelled: %w", ctx.Err())
			}
			return nil, fmt.Errorf("embed: request failed: %w", err)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("embed: failed to read response: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			var embedResp openAIEmbedResponse
			if err := json.Unmarshal(body, &embedResp); err != nil {
				return nil, fmt.Errorf("embed: failed to parse response: %w", err)
			}
			return &embedResp, nil
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if !retryable {
			return nil, fmt.Errorf("embed: openai returned status %d: %s", resp.StatusCode, string(body))
		}
		lastErr = fmt.Errorf("embed: openai returned status %d: %s", resp.StatusCode, string(body))

		if attempt < maxRetries {
			delay := backoffs[attempt]
			if resp.StatusCode == http.StatusTooManyRequests {
				if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
					if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
						delay = time.Duration(seconds) * time.Second
						if delay > 30*time.Second {
							delay = 30 * time.Second
						}
					}
				}
			}
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("embed: request cancelled during retry: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return nil, fmt.Errorf("embed: all retries exhausted: %w", lastErr)
}
