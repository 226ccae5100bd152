package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author category of a message within a conversation.
type Role string

const (
	// RoleUser marks a message authored by a human on a chat platform.
	RoleUser Role = "user"
	// RoleSystem marks a synthetic message (cron fires, operator injections).
	RoleSystem Role = "system"
	// RoleAssistant marks a message produced by the reasoning model.
	RoleAssistant Role = "assistant"
	// RoleTool marks a tool result fed back into the reasoning context.
	RoleTool Role = "tool"
)

// ChannelCron is the reserved origin channel for scheduler-synthesized
// messages. No channel adapter may register under this name.
const ChannelCron = "cron"

// Origin identifies where a message entered the system: the channel adapter
// name plus the platform-native chat and sender identifiers.
type Origin struct {
	Channel  string `json:"channel"`
	ChatID   string `json:"chat_id"`
	SenderID string `json:"sender_id,omitempty"`
}

// SessionKey derives the deterministic session identity for this origin.
// One conversational context per distinct channel:chat pair.
func (o Origin) SessionKey() string {
	return fmt.Sprintf("%s:%s", o.Channel, o.ChatID)
}

// IsCron reports whether the origin is the scheduler rather than a channel.
func (o Origin) IsCron() bool { return o.Channel == ChannelCron }

// ParseOrigin parses a "channel:chat_id" pair, the inverse of SessionKey.
// Chat ids may themselves contain colons; only the first separates.
func ParseOrigin(s string) (Origin, error) {
	channel, chatID, ok := strings.Cut(s, ":")
	if !ok || channel == "" || chatID == "" {
		return Origin{}, &ValidationError{Field: "origin", Message: fmt.Sprintf("%q is not channel:chat_id", s)}
	}
	return Origin{Channel: channel, ChatID: chatID}, nil
}

// Message is the normalized unit exchanged between channel adapters, the
// gateway and the reasoning loop. It is immutable once created: mutate by
// constructing a new message, never in place.
//
// Attachments are opaque references produced by channel adapters; the core
// never inspects them. ToolCalls is populated on assistant messages that
// request tool execution; ToolResult is populated on tool-role messages.
type Message struct {
	ID          string            `json:"id"`
	SessionKey  string            `json:"session_key"`
	Origin      Origin            `json:"origin"`
	Role        Role              `json:"role"`
	Body        string            `json:"body"`
	Attachments []string          `json:"attachments,omitempty"`
	ToolCalls   []ToolCall        `json:"tool_calls,omitempty"`
	ToolResult  *ToolResult       `json:"tool_result,omitempty"`
	Deliver     *Origin           `json:"deliver,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// NewID generates a unique identifier for messages, turns, tool calls and
// scheduled tasks.
func NewID() string { return uuid.NewString() }

// NewUserMessage constructs a user message entering through a channel.
func NewUserMessage(origin Origin, body string, attachments ...string) Message {
	return Message{
		ID:          NewID(),
		SessionKey:  origin.SessionKey(),
		Origin:      origin,
		Role:        RoleUser,
		Body:        body,
		Attachments: attachments,
		Timestamp:   time.Now().UTC(),
	}
}

// NewSystemMessage constructs a synthetic message targeting an explicit
// session. Used by the cron scheduler and the administrative surface.
func NewSystemMessage(sessionKey, body string) Message {
	return Message{
		ID:         NewID(),
		SessionKey: sessionKey,
		Origin:     Origin{Channel: ChannelCron, ChatID: sessionKey},
		Role:       RoleSystem,
		Body:       body,
		Timestamp:  time.Now().UTC(),
	}
}

// NewAssistantMessage constructs an assistant reply bound to a session.
func NewAssistantMessage(sessionKey, body string) Message {
	return Message{
		ID:         NewID(),
		SessionKey: sessionKey,
		Role:       RoleAssistant,
		Body:       body,
		Timestamp:  time.Now().UTC(),
	}
}

// NewToolCallMessage constructs the assistant message that carries one or
// more tool call requests, preserving any accompanying text.
func NewToolCallMessage(sessionKey, body string, calls []ToolCall) Message {
	return Message{
		ID:         NewID(),
		SessionKey: sessionKey,
		Role:       RoleAssistant,
		Body:       body,
		ToolCalls:  calls,
		Timestamp:  time.Now().UTC(),
	}
}

// NewToolResultMessage constructs the tool-role message that feeds a result
// back into the same turn. The body is the serialized payload so plain-text
// providers and persisted history remain readable.
func NewToolResultMessage(sessionKey string, result ToolResult) Message {
	body := result.ErrorDetail
	if result.Status == ToolStatusOK {
		if b, err := json.Marshal(result.Payload); err == nil {
			body = string(b)
		}
	}
	r := result
	return Message{
		ID:         NewID(),
		SessionKey: sessionKey,
		Role:       RoleTool,
		Body:       body,
		ToolResult: &r,
		Timestamp:  time.Now().UTC(),
	}
}
