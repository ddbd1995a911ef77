// Package llm is the boundary to the language model that drives the
// assistant.
package llm

import (
	"context"
	"fmt"

	"github.com/xenking/kart-assistant/internal/conversation"
	"github.com/xenking/kart-assistant/internal/tools"
)

// Request is one completion request.
type Request struct {
	System   string
	Messages []conversation.Message
	Tools    []tools.Spec
}

// Model produces the next assistant message for a conversation. The
// returned message either carries text or requests tool calls.
type Model interface {
	Complete(ctx context.Context, req Request) (conversation.Message, error)
}

// APIError is a non-successful response of the model provider.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("model: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("model: status %d: %s: %s", e.StatusCode, e.Type, e.Message)
}
