// Package llm provides the chat-completion client used for summarization,
// follow-up question generation, and report framing.
package llm

import (
	"context"
	"errors"
)

// ErrTooManyRetries indicates the completion call failed on every attempt.
var ErrTooManyRetries = errors.New("exceeded max retries calling LLM")

// Request is one completion call.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	MaxTokens    int
	// Model overrides the client default when set. Summarization and
	// framing calls use different models.
	Model string
}

// Usage is the token accounting of one completion call.
type Usage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Response is the completion result.
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// Completer is the interface the pipeline depends on; satisfied by *Client
// and by test fakes.
type Completer interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// CompleteJSON performs a completion and decodes the structured payload in
// the response into out, tolerating code fences and surrounding prose. The
// returned usage is valid whenever the completion itself succeeded: tokens
// are billed even when the payload fails to decode.
func CompleteJSON(ctx context.Context, c Completer, req Request, out any) (Usage, error) {
	resp, err := c.Complete(ctx, req)
	if err != nil {
		return Usage{}, err
	}
	return resp.Usage, UnmarshalLenient(resp.Content, out)
}
