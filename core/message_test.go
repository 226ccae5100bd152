package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserMessage(t *testing.T) {
	origin := Origin{Channel: "discord", ChatID: "42", SenderID: "alice"}
	msg := NewUserMessage(origin, "hello", "ref://img1")

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "discord:42", msg.SessionKey)
	assert.Equal(t, RoleUser, msg.Role)
	assert.Equal(t, []string{"ref://img1"}, msg.Attachments)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestNewSystemMessage(t *testing.T) {
	msg := NewSystemMessage("telegram:7", "time to stretch")
	assert.Equal(t, RoleSystem, msg.Role)
	assert.Equal(t, "telegram:7", msg.SessionKey)
	assert.Equal(t, ChannelCron, msg.Origin.Channel)
}

func TestNewToolResultMessage(t *testing.T) {
	ok := ToolResult{CallID: "c1", Name: "recall", Status: ToolStatusOK, Payload: map[string]any{"value": "Berlin"}}
	msg := NewToolResultMessage("k", ok)
	assert.Equal(t, RoleTool, msg.Role)
	require.NotNil(t, msg.ToolResult)
	assert.Equal(t, "c1", msg.ToolResult.CallID)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(msg.Body), &decoded))
	assert.Equal(t, "Berlin", decoded["value"])

	failed := ToolResult{CallID: "c2", Name: "recall", Status: ToolStatusError, ErrorDetail: "key not found"}
	msg = NewToolResultMessage("k", failed)
	assert.Equal(t, "key not found", msg.Body)
}

func TestTurnLifecycle(t *testing.T) {
	input := NewUserMessage(Origin{Channel: "slack", ChatID: "C1"}, "hi")
	turn := NewTurn(input)

	assert.Equal(t, "slack:C1", turn.SessionKey)
	assert.False(t, turn.Terminal())
	assert.Empty(t, turn.FinalText())

	final := NewAssistantMessage(turn.SessionKey, "hello!")
	turn.Final = &final
	turn.Status = TurnStatusCompleted
	assert.True(t, turn.Terminal())
	assert.Equal(t, "hello!", turn.FinalText())
}

func TestErrorTaxonomy(t *testing.T) {
	bp := &BackpressureError{SessionKey: "s", Depth: 8}
	assert.True(t, IsBackpressure(bp))
	assert.True(t, IsBackpressure(fmt.Errorf("submit: %w", bp)))
	assert.False(t, IsBackpressure(errors.New("other")))

	cause := errors.New("connection refused")
	up := &UpstreamUnavailableError{Attempts: 3, Err: cause}
	assert.ErrorIs(t, up, cause)
	assert.Contains(t, up.Error(), "3 attempts")

	fire := &SchedulerFireError{TaskID: "t1", Attempts: 5, Err: bp}
	assert.True(t, IsBackpressure(fire))

	ve := &ValidationError{Field: "schedule", Message: "empty"}
	assert.Contains(t, ve.Error(), "schedule")
}

func TestParseOrigin(t *testing.T) {
	origin, err := ParseOrigin("telegram:42")
	assert.NoError(t, err)
	assert.Equal(t, Origin{Channel: "telegram", ChatID: "42"}, origin)
	assert.Equal(t, "telegram:42", origin.SessionKey())

	origin, err = ParseOrigin("matrix:!room:example.org")
	assert.NoError(t, err)
	assert.Equal(t, "!room:example.org", origin.ChatID)

	for _, bad := range []string{"", "telegram", "telegram:", ":42"} {
		_, err := ParseOrigin(bad)
		assert.Error(t, err, bad)
	}
}
