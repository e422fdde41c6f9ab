// Package llm wraps the chat-completion backends used for content extraction
// and blueprint generation.
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when a backend answers without any text.
var ErrEmptyResponse = errors.New("llm returned no content")

// CompletionRequest is a single system + user exchange.
type CompletionRequest struct {
	Model       string
	System      string
	User        string
	MaxTokens   int
	Temperature float32
	// JSON asks the backend for a JSON object response where supported.
	JSON bool
}

// Client is implemented by every chat backend.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Name() string
	Close() error
}
