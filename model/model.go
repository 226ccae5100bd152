// Package model defines the normalized provider contract the reasoning loop
// drives. Vendor adapters (anthropic, openai) translate Request/Response to
// their SDK shapes; the loop treats every provider as return-on-completion
// even when the adapter streams internally.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hupe1980/concierge/core"
)

// ToolDefinition declaratively exposes a callable tool to the model.
// Parameters is a JSON Schema object (minimal subset expected).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized model input assembled by the loop:
// resolved system instructions, the context window of session messages and
// the declared tool schemas.
type Request struct {
	Instructions string           `json:"instructions"`
	Messages     []core.Message   `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the completed model output: either final text, one or more
// tool calls, or both (text accompanying calls is preserved for history).
type Response struct {
	Text         string          `json:"text,omitempty"`
	ToolCalls    []core.ToolCall `json:"tool_calls,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Usage        *TokenUsage     `json:"usage,omitempty"`
}

// HasToolCalls reports whether the model requested tool execution.
func (r *Response) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// Info contains metadata about a provider implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Provider is the minimal interface the reasoning loop requires. Complete
// blocks until the model finishes; cancellation flows through ctx.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the provider implementation.
	Info() Info
}

// MockProvider is a scriptable in-memory Provider for tests and examples.
// Responses are consumed in FIFO order; once the script is exhausted it
// answers with a canned echo of the last user message.
type MockProvider struct {
	mu       sync.Mutex
	script   []scripted
	requests []Request
	info     Info
}

type scripted struct {
	resp *Response
	err  error
}

// NewMockProvider constructs an empty mock with tool support enabled.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		info: Info{Name: "mock", Provider: "mock", SupportsTools: true},
	}
}

// QueueText enqueues a final text response.
func (m *MockProvider) QueueText(text string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scripted{resp: &Response{Text: text, FinishReason: "stop"}})
	return m
}

// QueueToolCall enqueues a response requesting a single tool call with the
// given JSON arguments.
func (m *MockProvider) QueueToolCall(name, arguments string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scripted{resp: &Response{
		ToolCalls:    []core.ToolCall{{CallID: core.NewID(), Name: name, Arguments: json.RawMessage(arguments)}},
		FinishReason: "tool_calls",
	}})
	return m
}

// QueueResponse enqueues an arbitrary response.
func (m *MockProvider) QueueResponse(resp *Response) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scripted{resp: resp})
	return m
}

// QueueError enqueues a provider failure.
func (m *MockProvider) QueueError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scripted{err: err})
	return m
}

// Requests returns a copy of every request seen, in order.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Complete implements Provider.
func (m *MockProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.script) == 0 {
		var last string
		for _, msg := range req.Messages {
			if msg.Role == core.RoleUser || msg.Role == core.RoleSystem {
				last = msg.Body
			}
		}
		return &Response{Text: fmt.Sprintf("Mock response to: %s", last), FinishReason: "stop"}, nil
	}
	next := m.script[0]
	m.script = m.script[1:]
	if next.err != nil {
		return nil, next.err
	}
	return next.resp, nil
}

// Info implements Provider.
func (m *MockProvider) Info() Info { return m.info }
