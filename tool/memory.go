package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hupe1980/concierge/core"
)

// NewRememberTool returns a tool that persists a key/value fact in the
// calling session's memory.
func NewRememberTool(store core.SessionStore) *FunctionTool {
	return NewFunctionTool(
		"remember",
		"Store a fact about the user or the conversation under a short key so it can be recalled in later turns.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"key": map[string]any{
					"type":        "string",
					"description": "Short identifier for the fact, e.g. 'timezone' or 'favorite_color'.",
				},
				"value": map[string]any{
					"type":        "string",
					"description": "The fact to store.",
				},
			},
			"required":             []string{"key", "value"},
			"additionalProperties": false,
		},
		func(_ context.Context, tc *Context, args map[string]any) (any, error) {
			key, _ := args["key"].(string)
			value, _ := args["value"].(string)
			if strings.TrimSpace(key) == "" {
				return nil, NewError("remember", "key must not be empty", "EMPTY_KEY")
			}

			if err := store.SetMemory(tc.SessionKey, key, value); err != nil {
				return nil, fmt.Errorf("store memory: %w", err)
			}

			return map[string]any{"stored": true, "key": key}, nil
		},
		WithCapability(CapabilityMemory),
	)
}

// NewRecallTool returns a tool that reads back facts from the calling
// session's memory. Without a key it lists everything stored.
func NewRecallTool(store core.SessionStore) *FunctionTool {
	return NewFunctionTool(
		"recall",
		"Recall a fact previously stored with remember. Omit the key to list all stored facts.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"key": map[string]any{
					"type":        "string",
					"description": "Identifier of the fact to recall. Optional.",
				},
			},
			"additionalProperties": false,
		},
		func(_ context.Context, tc *Context, args map[string]any) (any, error) {
			if key, ok := args["key"].(string); ok && key != "" {
				value, found, err := store.GetMemory(tc.SessionKey, key)
				if err != nil {
					return nil, fmt.Errorf("read memory: %w", err)
				}
				if !found {
					return map[string]any{"found": false, "key": key}, nil
				}

				return map[string]any{"found": true, "key": key, "value": value}, nil
			}

			sess, err := store.Load(tc.SessionKey)
			if err != nil {
				return nil, fmt.Errorf("load session: %w", err)
			}

			snapshot := sess.MemorySnapshot()
			keys := make([]string, 0, len(snapshot))
			for k := range snapshot {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			facts := make([]map[string]string, 0, len(keys))
			for _, k := range keys {
				facts = append(facts, map[string]string{"key": k, "value": snapshot[k]})
			}

			return map[string]any{"found": len(facts) > 0, "facts": facts}, nil
		},
		WithCapability(CapabilityMemory),
	)
}
