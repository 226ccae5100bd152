package agent

import (
	"time"

	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/internal/util"
)

// Instruction resolves the system instructions for a turn against the
// session state, so prompts can reference remembered facts.
type Instruction interface {
	Resolve(session *core.Session) (string, error)
}

// StaticInstruction is a fixed prompt string.
type StaticInstruction string

// Resolve implements Instruction.
func (i StaticInstruction) Resolve(_ *core.Session) (string, error) {
	return string(i), nil
}

// InstructionFunc adapts a function to the Instruction interface.
type InstructionFunc func(session *core.Session) (string, error)

// Resolve implements Instruction.
func (f InstructionFunc) Resolve(session *core.Session) (string, error) {
	return f(session)
}

// TemplateInstruction renders a text/template prompt with the session's
// memory exposed as {{.Memory.key}}, plus {{.SessionKey}} and {{.Now}}.
type TemplateInstruction string

// Resolve implements Instruction.
func (i TemplateInstruction) Resolve(session *core.Session) (string, error) {
	return util.RenderTemplate(string(i), map[string]any{
		"Memory":     session.MemorySnapshot(),
		"SessionKey": session.Key,
		"Now":        time.Now().UTC().Format(time.RFC3339),
	})
}

// DefaultInstruction is used when no instruction is configured.
const DefaultInstruction = StaticInstruction(
	"You are a helpful personal assistant. Use the available tools when they " +
		"help, remember facts the user shares, and answer concisely.",
)
