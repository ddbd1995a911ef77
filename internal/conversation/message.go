// Package conversation holds chat history and the UI events attached to it.
package conversation

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is an operation request issued by the model.
type ToolCall struct {
	ID   string
	Name string
	// Arguments is the raw JSON object produced by the model. It may be
	// malformed; validation happens when the call is executed.
	Arguments []byte
}

// Message is one entry of the history. Its variant follows from Role:
// user text, assistant text, assistant operation request (ToolCalls set) or
// operation result (RoleTool, answering ToolCallID).
type Message struct {
	ID         string
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
	IsError    bool
	CreatedAt  time.Time
}

// RequestsTools reports whether the message asks for operations to run.
func (m Message) RequestsTools() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

func (m Message) clone() Message {
	m.ToolCalls = slices.Clone(m.ToolCalls)
	for i := range m.ToolCalls {
		m.ToolCalls[i].Arguments = slices.Clone(m.ToolCalls[i].Arguments)
	}
	return m
}

func newMessage(role Role) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
}

// UserMessage creates a user text message.
func UserMessage(text string) Message {
	m := newMessage(RoleUser)
	m.Content = text
	return m
}

// AssistantMessage creates an assistant message with optional tool calls.
func AssistantMessage(text string, calls ...ToolCall) Message {
	m := newMessage(RoleAssistant)
	m.Content = text
	m.ToolCalls = calls
	return m
}

// ToolResultMessage creates the result of call. content is the JSON encoded
// result or error.
func ToolResultMessage(call ToolCall, content string, isError bool) Message {
	m := newMessage(RoleTool)
	m.ToolCallID = call.ID
	m.Name = call.Name
	m.Content = content
	m.IsError = isError
	return m
}
