// Package chat implements the conversational tool-call orchestrator: a
// turn-based text conversation with the remote model, streaming partial
// output, detecting structured tool calls and round-tripping their results.
package chat

import (
	"context"
	"strings"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Fragment is one streamed piece of a turn's text.
type Fragment struct {
	Text string `json:"text"`
}

// Turn is one user-or-model contribution to the conversation. A model turn
// is Pending from the moment the send starts until the stream completes;
// a failed send removes it so history never retains an incomplete turn.
type Turn struct {
	Role    Role       `json:"role"`
	Parts   []Fragment `json:"parts"`
	Pending bool       `json:"-"`
}

// Text joins the turn's fragments.
func (t Turn) Text() string {
	var sb strings.Builder
	for _, p := range t.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// NewTurn builds a completed single-fragment turn.
func NewTurn(role Role, text string) Turn {
	return Turn{Role: role, Parts: []Fragment{{Text: text}}}
}

// ToolCall is a structured request from the model to perform a named action.
// ID is the opaque correlation handle that must be echoed back in the
// matching ToolResult.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult acknowledges one ToolCall.
type ToolResult struct {
	ToolCallID string         `json:"toolCallId"`
	Name       string         `json:"name"`
	Payload    map[string]any `json:"payload"`
}

// StreamEvent is one increment of a streamed model turn. Either TextDelta
// is non-empty or ToolCalls is non-nil, never both in practice.
type StreamEvent struct {
	TextDelta string
	ToolCalls []ToolCall
}

// Stream yields StreamEvents in emission order and io.EOF when the turn is
// complete.
type Stream interface {
	Next() (StreamEvent, error)
	Close() error
}

// SessionConfig describes the remote conversation to establish.
type SessionConfig struct {
	Model   string
	Tools   []Declaration
	History []Turn
}

// Remote is an established conversation on the remote service. SendTurn and
// SendToolResult both advance the remote conversation state.
type Remote interface {
	SendTurn(ctx context.Context, text string) (Stream, error)
	SendToolResult(ctx context.Context, res ToolResult) error
}

// Service creates remote conversations. Implemented by the gemini provider.
type Service interface {
	CreateSession(ctx context.Context, cfg SessionConfig) (Remote, error)
}
