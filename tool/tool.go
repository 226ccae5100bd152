// Package tool implements the skill/tool dispatch subsystem: a registry of
// named, schema-validated capabilities the reasoning model may invoke, and a
// time-bounded executor that turns handler outcomes (including panics and
// timeouts) into structured results the model can react to. Retries are
// semantic: a failed result is fed back to the model, which decides whether
// to correct its arguments or choose a different tool.
package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/logging"
)

// Capability tags a tool's effect class for policy gating. Configuration may
// disable whole capabilities regardless of what the model requests.
type Capability string

const (
	// CapabilityNone marks pure computations with no external effect.
	CapabilityNone Capability = "none"
	// CapabilityMemory marks tools reading or writing session memory.
	CapabilityMemory Capability = "memory"
	// CapabilityScheduling marks tools managing cron tasks.
	CapabilityScheduling Capability = "scheduling"
	// CapabilityFilesystemWrite marks tools mutating the filesystem.
	CapabilityFilesystemWrite Capability = "filesystem-write"
	// CapabilityShellExecute marks tools running external commands.
	CapabilityShellExecute Capability = "shell-execute"
	// CapabilityNetworkFetch marks tools reaching out to the network.
	CapabilityNetworkFetch Capability = "network-fetch"
	// CapabilityMediaGeneration marks tools producing images or video.
	CapabilityMediaGeneration Capability = "media-generation"
)

// Tool is a named capability the reasoning model may invoke.
//
// Implementations should provide clear descriptions (shown to the model),
// a JSON schema for Parameters (validated before the handler body runs) and
// be safe for concurrent use. Exclusive tools (e.g. filesystem mutators) are
// serialized within a turn; everything else may run in parallel.
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case).
	Name() string

	// Description tells the model when and how to use the tool.
	Description() string

	// Parameters returns a JSON schema describing the accepted arguments.
	Parameters() map[string]any

	// Capability returns the effect class used for policy gating.
	Capability() Capability

	// Timeout returns the per-invocation bound; zero means the executor default.
	Timeout() time.Duration

	// Exclusive reports whether concurrent execution with other tools in the
	// same turn must be avoided.
	Exclusive() bool

	// Call executes the tool with validated arguments. Cancellation of ctx
	// (timeout or shutdown) must be honored by cancellable handlers; handlers
	// that cannot stop are allowed to finish in the background after their
	// result has already been reported as timed out.
	Call(ctx context.Context, tc *Context, args map[string]any) (any, error)
}

// Context carries the per-call identity a tool needs to act on the right
// session: where the triggering message came from and which turn/call the
// invocation belongs to.
type Context struct {
	SessionKey string
	Origin     core.Origin
	TurnID     string
	CallID     string
	Logger     logging.Logger
}

// NewContext builds a tool context for one call within a turn.
func NewContext(sessionKey string, origin core.Origin, turnID, callID string, logger logging.Logger) *Context {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Context{
		SessionKey: sessionKey,
		Origin:     origin,
		TurnID:     turnID,
		CallID:     callID,
		Logger:     logger,
	}
}

// Error represents a failure reported by a tool handler, with a code for
// categorization so the model (and the operator) can tell validation problems
// from execution problems.
type Error struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewError creates an Error with the given details.
func NewError(tool, message, code string) *Error {
	return &Error{Tool: tool, Message: message, Code: code}
}
