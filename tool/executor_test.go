package tool

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/concierge/core"
)

func testContext() *Context {
	return NewContext("cli:alice", core.Origin{Channel: "cli", ChatID: "alice"}, "turn-1", "", nil)
}

func TestExecutorInvoke(t *testing.T) {
	t.Run("success carries call id and payload", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.Register(echoTool("echo")))
		executor := NewExecutor(registry)

		res := executor.Invoke(context.Background(), testContext(), core.ToolCall{
			CallID:    "call-1",
			Name:      "echo",
			Arguments: []byte(`{"text":"hi"}`),
		})

		assert.Equal(t, "call-1", res.CallID)
		assert.Equal(t, core.ToolStatusOK, res.Status)
		assert.Equal(t, "hi", res.Payload)
	})

	t.Run("unknown tool yields error result", func(t *testing.T) {
		executor := NewExecutor(NewRegistry())

		res := executor.Invoke(context.Background(), testContext(), core.ToolCall{
			CallID: "call-1",
			Name:   "ghost",
		})

		assert.Equal(t, core.ToolStatusError, res.Status)
		assert.Contains(t, res.ErrorDetail, "not found")
	})

	t.Run("validation failure skips the handler", func(t *testing.T) {
		var ran atomic.Bool
		registry := NewRegistry()
		strict := NewFunctionTool("strict", "requires text",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string"},
				},
				"required": []string{"text"},
			},
			func(_ context.Context, _ *Context, _ map[string]any) (any, error) {
				ran.Store(true)
				return nil, nil
			},
		)
		require.NoError(t, registry.Register(strict))
		executor := NewExecutor(registry)

		res := executor.Invoke(context.Background(), testContext(), core.ToolCall{
			CallID:    "call-1",
			Name:      "strict",
			Arguments: []byte(`{"text":42}`),
		})

		assert.Equal(t, core.ToolStatusInvalidArguments, res.Status)
		assert.False(t, ran.Load())
	})

	t.Run("handler error becomes structured result", func(t *testing.T) {
		registry := NewRegistry()
		failing := NewFunctionTool("failing", "always fails", nil,
			func(_ context.Context, _ *Context, _ map[string]any) (any, error) {
				return nil, NewError("failing", "backend rejected the request", "BACKEND")
			},
		)
		require.NoError(t, registry.Register(failing))
		executor := NewExecutor(registry)

		res := executor.Invoke(context.Background(), testContext(), core.ToolCall{CallID: "call-1", Name: "failing"})

		assert.Equal(t, core.ToolStatusError, res.Status)
		assert.Contains(t, res.ErrorDetail, "backend rejected")
	})

	t.Run("panic is recovered", func(t *testing.T) {
		registry := NewRegistry()
		panicky := NewFunctionTool("panicky", "panics", nil,
			func(_ context.Context, _ *Context, _ map[string]any) (any, error) {
				panic("boom")
			},
		)
		require.NoError(t, registry.Register(panicky))
		executor := NewExecutor(registry)

		res := executor.Invoke(context.Background(), testContext(), core.ToolCall{CallID: "call-1", Name: "panicky"})

		assert.Equal(t, core.ToolStatusError, res.Status)
		assert.Contains(t, res.ErrorDetail, "panic")
	})

	t.Run("timeout reported while handler finishes in background", func(t *testing.T) {
		release := make(chan struct{})
		var completed atomic.Bool

		registry := NewRegistry()
		slow := NewFunctionTool("slow", "ignores cancellation", nil,
			func(_ context.Context, _ *Context, _ map[string]any) (any, error) {
				<-release
				completed.Store(true)
				return "late", nil
			},
			WithTimeout(20*time.Millisecond),
		)
		require.NoError(t, registry.Register(slow))
		executor := NewExecutor(registry)

		res := executor.Invoke(context.Background(), testContext(), core.ToolCall{CallID: "call-1", Name: "slow"})
		assert.Equal(t, core.ToolStatusTimeout, res.Status)
		assert.False(t, completed.Load())

		close(release)
		executor.WaitBackground()
		assert.True(t, completed.Load())
	})

	t.Run("cancellable handler stops at the deadline", func(t *testing.T) {
		registry := NewRegistry()
		cooperative := NewFunctionTool("cooperative", "honors ctx", nil,
			func(ctx context.Context, _ *Context, _ map[string]any) (any, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
			WithTimeout(20*time.Millisecond),
		)
		require.NoError(t, registry.Register(cooperative))
		executor := NewExecutor(registry)

		res := executor.Invoke(context.Background(), testContext(), core.ToolCall{CallID: "call-1", Name: "cooperative"})
		assert.Equal(t, core.ToolStatusTimeout, res.Status)
		executor.WaitBackground()
	})

	t.Run("disabled capability is refused", func(t *testing.T) {
		registry := NewRegistry(func(o *RegistryOptions) {
			o.DisabledCapabilities = []Capability{CapabilityShellExecute}
		})
		require.NoError(t, registry.Register(echoTool("shell", WithCapability(CapabilityShellExecute))))
		executor := NewExecutor(registry)

		res := executor.Invoke(context.Background(), testContext(), core.ToolCall{
			CallID:    "call-1",
			Name:      "shell",
			Arguments: []byte(`{"text":"rm"}`),
		})

		assert.Equal(t, core.ToolStatusError, res.Status)
		assert.Contains(t, res.ErrorDetail, "disabled by policy")
	})
}

func TestExecutorInvokeAll(t *testing.T) {
	t.Run("results preserve call order", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.Register(echoTool("echo")))
		executor := NewExecutor(registry)

		calls := make([]core.ToolCall, 5)
		for i := range calls {
			calls[i] = core.ToolCall{
				CallID:    fmt.Sprintf("call-%d", i),
				Name:      "echo",
				Arguments: []byte(fmt.Sprintf(`{"text":"msg-%d"}`, i)),
			}
		}

		results := executor.InvokeAll(context.Background(), testContext(), calls)
		require.Len(t, results, 5)
		for i, res := range results {
			assert.Equal(t, fmt.Sprintf("call-%d", i), res.CallID)
			assert.Equal(t, fmt.Sprintf("msg-%d", i), res.Payload)
		}
	})

	t.Run("exclusive tools never overlap", func(t *testing.T) {
		var active, maxActive atomic.Int32

		registry := NewRegistry()
		exclusive := NewFunctionTool("serial", "must not overlap", nil,
			func(_ context.Context, _ *Context, _ map[string]any) (any, error) {
				current := active.Add(1)
				defer active.Add(-1)
				for {
					observed := maxActive.Load()
					if current <= observed || maxActive.CompareAndSwap(observed, current) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				return nil, nil
			},
			WithExclusive(),
		)
		require.NoError(t, registry.Register(exclusive))
		executor := NewExecutor(registry)

		calls := []core.ToolCall{
			{CallID: "call-0", Name: "serial"},
			{CallID: "call-1", Name: "serial"},
			{CallID: "call-2", Name: "serial"},
		}
		results := executor.InvokeAll(context.Background(), testContext(), calls)

		require.Len(t, results, 3)
		for i, res := range results {
			assert.Equal(t, fmt.Sprintf("call-%d", i), res.CallID)
			assert.Equal(t, core.ToolStatusOK, res.Status)
		}
		assert.Equal(t, int32(1), maxActive.Load())
	})

	t.Run("mixed batch keeps one result per call", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.Register(echoTool("echo")))
		executor := NewExecutor(registry)

		calls := []core.ToolCall{
			{CallID: "call-0", Name: "echo", Arguments: []byte(`{"text":"ok"}`)},
			{CallID: "call-1", Name: "ghost"},
			{CallID: "call-2", Name: "echo", Arguments: []byte(`{"text":13}`)},
		}
		results := executor.InvokeAll(context.Background(), testContext(), calls)

		require.Len(t, results, 3)
		assert.Equal(t, core.ToolStatusOK, results[0].Status)
		assert.Equal(t, core.ToolStatusError, results[1].Status)
		assert.Equal(t, core.ToolStatusInvalidArguments, results[2].Status)
	})

	t.Run("empty call id keeps its executed result", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.Register(echoTool("echo")))
		executor := NewExecutor(registry)

		// Some providers omit call ids; the executed result must be kept,
		// not reclassified as cancelled.
		calls := []core.ToolCall{
			{CallID: "", Name: "echo", Arguments: []byte(`{"text":"no-id"}`)},
			{CallID: "call-1", Name: "echo", Arguments: []byte(`{"text":"with-id"}`)},
		}
		results := executor.InvokeAll(context.Background(), testContext(), calls)

		require.Len(t, results, 2)
		assert.Equal(t, core.ToolStatusOK, results[0].Status)
		assert.Equal(t, "no-id", results[0].Payload)
		assert.Equal(t, core.ToolStatusOK, results[1].Status)
		assert.Equal(t, "with-id", results[1].Payload)
	})

	t.Run("calls skipped by a cancelled context report cancellation", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.Register(echoTool("echo")))
		executor := NewExecutor(registry)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		calls := []core.ToolCall{
			{CallID: "call-0", Name: "echo", Arguments: []byte(`{"text":"a"}`)},
			{CallID: "call-1", Name: "echo", Arguments: []byte(`{"text":"b"}`)},
		}
		results := executor.InvokeAll(ctx, testContext(), calls)

		require.Len(t, results, 2)
		for i, res := range results {
			assert.Equal(t, calls[i].CallID, res.CallID)
			assert.NotEqual(t, core.ToolStatusOK, res.Status)
		}
	})
}
