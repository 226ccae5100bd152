package tool

import (
	"context"
	"time"

	"github.com/hupe1980/concierge/internal/util"
)

// Handler is the signature a plain Go function must satisfy to be exposed
// as a tool.
type Handler func(ctx context.Context, tc *Context, args map[string]any) (any, error)

// FunctionToolOptions configures a FunctionTool.
type FunctionToolOptions struct {
	Capability Capability
	Timeout    time.Duration
	Exclusive  bool
}

// WithCapability tags the tool with a gateable capability.
func WithCapability(c Capability) func(o *FunctionToolOptions) {
	return func(o *FunctionToolOptions) { o.Capability = c }
}

// WithTimeout overrides the executor's default time bound for this tool.
func WithTimeout(d time.Duration) func(o *FunctionToolOptions) {
	return func(o *FunctionToolOptions) { o.Timeout = d }
}

// WithExclusive marks the tool as needing serialized execution within a
// batch of calls.
func WithExclusive() func(o *FunctionToolOptions) {
	return func(o *FunctionToolOptions) { o.Exclusive = true }
}

// FunctionTool wraps a Go function together with its JSON Schema so it can
// be registered and surfaced to the model.
type FunctionTool struct {
	name        string
	description string
	parameters  map[string]any
	capability  Capability
	timeout     time.Duration
	exclusive   bool
	handler     Handler
}

var _ Tool = (*FunctionTool)(nil)

// NewFunctionTool creates a tool from an explicit JSON Schema parameter map.
func NewFunctionTool(name, description string, parameters map[string]any, handler Handler, optFns ...func(o *FunctionToolOptions)) *FunctionTool {
	opts := FunctionToolOptions{
		Capability: CapabilityNone,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &FunctionTool{
		name:        name,
		description: description,
		parameters:  parameters,
		capability:  opts.Capability,
		timeout:     opts.Timeout,
		exclusive:   opts.Exclusive,
		handler:     handler,
	}
}

// NewFunctionToolFromStruct derives the parameter schema from a struct's
// json and description tags.
func NewFunctionToolFromStruct(name, description string, paramStruct any, handler Handler, optFns ...func(o *FunctionToolOptions)) *FunctionTool {
	schema := util.CreateSchema(paramStruct)
	return NewFunctionTool(name, description, schema, handler, optFns...)
}

// Name returns the unique name of the tool.
func (t *FunctionTool) Name() string { return t.name }

// Description returns a human readable summary of the tool.
func (t *FunctionTool) Description() string { return t.description }

// Parameters returns the JSON Schema for the tool's arguments.
func (t *FunctionTool) Parameters() map[string]any { return t.parameters }

// Capability returns the capability tag used for policy gating.
func (t *FunctionTool) Capability() Capability { return t.capability }

// Timeout returns the tool's own time bound, or zero for the executor default.
func (t *FunctionTool) Timeout() time.Duration { return t.timeout }

// Exclusive reports whether calls to this tool must be serialized.
func (t *FunctionTool) Exclusive() bool { return t.exclusive }

// Call runs the wrapped handler.
func (t *FunctionTool) Call(ctx context.Context, tc *Context, args map[string]any) (any, error) {
	return t.handler(ctx, tc, args)
}
