package testutil

import (
	"encoding/json"

	"github.com/hupe1980/concierge/core"
)

// MessageBuilder provides a fluent helper for constructing messages in tests.
// Example:
//
//	msg := testutil.NewMessageBuilder().Channel("cli").Chat("alice").Text("hi").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type MessageBuilder struct {
	origin  core.Origin
	role    core.Role
	body    string
	deliver *core.Origin
	calls   []core.ToolCall
	result  *core.ToolResult
}

// NewMessageBuilder creates a builder with default origin cli:test and role user.
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{
		origin: core.Origin{Channel: "cli", ChatID: "test", SenderID: "test"},
		role:   core.RoleUser,
	}
}

// Channel sets the origin channel (chainable).
func (b *MessageBuilder) Channel(name string) *MessageBuilder { b.origin.Channel = name; return b }

// Chat sets the origin chat and sender ids (chainable).
func (b *MessageBuilder) Chat(id string) *MessageBuilder {
	b.origin.ChatID = id
	b.origin.SenderID = id
	return b
}

// Role overrides the message role (chainable).
func (b *MessageBuilder) Role(r core.Role) *MessageBuilder { b.role = r; return b }

// Text sets the message body (chainable).
func (b *MessageBuilder) Text(body string) *MessageBuilder { b.body = body; return b }

// DeliverTo sets an explicit delivery target (chainable).
func (b *MessageBuilder) DeliverTo(channel, chatID string) *MessageBuilder {
	b.deliver = &core.Origin{Channel: channel, ChatID: chatID}
	return b
}

// ToolCall appends a tool call with JSON arguments and sets the assistant
// role (chainable).
func (b *MessageBuilder) ToolCall(callID, name, arguments string) *MessageBuilder {
	b.role = core.RoleAssistant
	b.calls = append(b.calls, core.ToolCall{
		CallID:    callID,
		Name:      name,
		Arguments: json.RawMessage(arguments),
	})
	return b
}

// ToolResult attaches a successful result and sets the tool role (chainable).
func (b *MessageBuilder) ToolResult(callID, name string, payload any) *MessageBuilder {
	b.role = core.RoleTool
	b.result = &core.ToolResult{
		CallID:  callID,
		Name:    name,
		Status:  core.ToolStatusOK,
		Payload: payload,
	}
	return b
}

// Build assembles the message.
func (b *MessageBuilder) Build() core.Message {
	var msg core.Message
	switch b.role {
	case core.RoleSystem:
		msg = core.NewSystemMessage(b.origin.SessionKey(), b.body)
	case core.RoleAssistant:
		if len(b.calls) > 0 {
			msg = core.NewToolCallMessage(b.origin.SessionKey(), b.body, b.calls)
		} else {
			msg = core.NewAssistantMessage(b.origin.SessionKey(), b.body)
		}
	case core.RoleTool:
		msg = core.NewToolResultMessage(b.origin.SessionKey(), *b.result)
	default:
		msg = core.NewUserMessage(b.origin, b.body)
	}
	msg.Deliver = b.deliver
	return msg
}
