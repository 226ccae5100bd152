package tool

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hupe1980/concierge/model"
)

// Registry maps tool names to handlers with their compiled argument schemas
// and applies capability policy. It is read-mostly after startup; the mutex
// exists for administrative registration at runtime.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	disabled map[Capability]bool
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// DisabledCapabilities lists effect classes that may never execute,
	// regardless of what the model requests.
	DisabledCapabilities []Capability
}

// NewRegistry constructs an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	disabled := make(map[Capability]bool, len(opts.DisabledCapabilities))
	for _, c := range opts.DisabledCapabilities {
		disabled[c] = true
	}
	return &Registry{
		entries:  make(map[string]*entry),
		disabled: disabled,
	}
}

// Register adds a tool, compiling its parameter schema eagerly so malformed
// schemas fail at startup rather than at call time. Duplicate names are
// rejected.
func (r *Registry) Register(t Tool) error {
	if t.Name() == "" {
		return fmt.Errorf("tool name must not be empty")
	}

	compiled, err := compileSchema(t.Name(), t.Parameters())
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", t.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[t.Name()]; exists {
		return fmt.Errorf("tool %s already registered", t.Name())
	}
	r.entries[t.Name()] = &entry{tool: t, schema: compiled}
	return nil
}

// RegisterAll registers multiple tools, stopping at the first error.
func (r *Registry) RegisterAll(tools ...Tool) error {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Allowed reports whether the capability is permitted by policy.
func (r *Registry) Allowed(c Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.disabled[c]
}

// Definitions returns the declared tool schemas for the model request,
// excluding tools whose capability is disabled so the model never sees them.
func (r *Registry) Definitions() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]model.ToolDefinition, 0, len(names))
	for _, name := range names {
		e := r.entries[name]
		if r.disabled[e.tool.Capability()] {
			continue
		}
		defs = append(defs, model.ToolDefinition{
			Name:        e.tool.Name(),
			Description: e.tool.Description(),
			Parameters:  e.tool.Parameters(),
		})
	}
	return defs
}

// lookup returns the full entry including the compiled schema.
func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		params = map[string]any{"type": "object"}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return jsonschema.CompileString(name+".schema.json", string(raw))
}
