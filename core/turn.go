package core

import (
	"encoding/json"
	"time"
)

// TurnStatus is the terminal state of a reasoning-loop execution.
type TurnStatus string

const (
	// TurnStatusCompleted means the loop produced a final natural-language answer.
	TurnStatusCompleted TurnStatus = "completed"
	// TurnStatusLimitExceeded means the iteration cap was hit before a final answer.
	TurnStatusLimitExceeded TurnStatus = "limit_exceeded"
	// TurnStatusUpstreamUnavailable means the model provider failed after retries.
	TurnStatusUpstreamUnavailable TurnStatus = "upstream_unavailable"
	// TurnStatusCancelled means the turn was cancelled cooperatively between iterations.
	TurnStatusCancelled TurnStatus = "cancelled"
)

// ToolCall is a single tool invocation request parsed from a model response.
type ToolCall struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolStatus categorizes the outcome of a tool invocation.
type ToolStatus string

const (
	// ToolStatusOK means the handler completed and produced a payload.
	ToolStatusOK ToolStatus = "ok"
	// ToolStatusError means the handler reported a failure.
	ToolStatusError ToolStatus = "error"
	// ToolStatusTimeout means the handler exceeded its time bound.
	ToolStatusTimeout ToolStatus = "timeout"
	// ToolStatusInvalidArguments means validation rejected the arguments
	// before the handler body ran.
	ToolStatusInvalidArguments ToolStatus = "invalid_arguments"
)

// ToolResult is the structured outcome of exactly one ToolCall. CallID always
// matches the originating call.
type ToolResult struct {
	CallID      string        `json:"call_id"`
	Name        string        `json:"name"`
	Status      ToolStatus    `json:"status"`
	Payload     any           `json:"payload,omitempty"`
	ErrorDetail string        `json:"error_detail,omitempty"`
	Elapsed     time.Duration `json:"elapsed,omitempty"`
}

// OK reports whether the invocation succeeded.
func (r ToolResult) OK() bool { return r.Status == ToolStatusOK }

// Iteration records one model round-trip within a turn: the assistant
// message (which may carry tool calls) and the results gathered for it.
type Iteration struct {
	Response Message      `json:"response"`
	Calls    []ToolCall   `json:"calls,omitempty"`
	Results  []ToolResult `json:"results,omitempty"`
}

// Turn is one reasoning-loop execution triggered by a single inbound
// message. It exists only while the loop runs; the durable record is the
// message history it appends to the session incrementally.
type Turn struct {
	ID         string      `json:"id"`
	SessionKey string      `json:"session_key"`
	Input      Message     `json:"input"`
	Iterations []Iteration `json:"iterations,omitempty"`
	Final      *Message    `json:"final,omitempty"`
	Status     TurnStatus  `json:"status"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// NewTurn creates a turn at loop entry.
func NewTurn(input Message) *Turn {
	return &Turn{
		ID:         NewID(),
		SessionKey: input.SessionKey,
		Input:      input,
		StartedAt:  time.Now().UTC(),
	}
}

// Terminal reports whether the turn has reached a terminal status.
func (t *Turn) Terminal() bool { return t.Status != "" }

// FinalText returns the user-visible final response, or "" if none was set.
func (t *Turn) FinalText() string {
	if t.Final == nil {
		return ""
	}
	return t.Final.Body
}
