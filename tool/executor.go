package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/logging"
)

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// DefaultTimeout bounds tools that do not declare their own.
	DefaultTimeout time.Duration
	// MaxParallel limits concurrent handler executions within one batch;
	// 0 or less means no explicit limit.
	MaxParallel int
	// Logger receives execution events. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Executor invokes registry handlers with bounded time and structured error
// capture. Handler failures never propagate as raw errors or panics: every
// ToolCall yields exactly one ToolResult whose call id matches the call.
//
// Timeout semantics: the handler's context is cancelled at the bound. A
// cancellable handler stops; one that cannot is abandoned to finish in the
// background while the result is already reported as timed out (at-most-once
// for the user-visible effect). Background completions are tracked and
// logged so the behavior stays auditable, and WaitBackground allows a drain
// on shutdown.
type Executor struct {
	registry       *Registry
	defaultTimeout time.Duration
	maxParallel    int
	logger         logging.Logger

	bg sync.WaitGroup
}

// NewExecutor constructs an executor bound to a registry.
func NewExecutor(registry *Registry, optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{
		DefaultTimeout: 30 * time.Second,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Executor{
		registry:       registry,
		defaultTimeout: opts.DefaultTimeout,
		maxParallel:    opts.MaxParallel,
		logger:         opts.Logger,
	}
}

// Invoke executes a single tool call and returns its structured result.
func (e *Executor) Invoke(ctx context.Context, tc *Context, call core.ToolCall) core.ToolResult {
	start := time.Now()

	entry, ok := e.registry.lookup(call.Name)
	if !ok {
		return errorResult(call, fmt.Sprintf("tool %s not found", call.Name), start)
	}

	if !e.registry.Allowed(entry.tool.Capability()) {
		e.logger.Warn("tool.call.gated", "tool", call.Name, "capability", string(entry.tool.Capability()))
		return errorResult(call, fmt.Sprintf("tool %s is disabled by policy (capability %s)", call.Name, entry.tool.Capability()), start)
	}

	args, err := decodeArguments(call.Arguments)
	if err != nil {
		return invalidResult(call, fmt.Sprintf("arguments are not a JSON object: %v", err), start)
	}
	if err := entry.schema.Validate(args); err != nil {
		e.logger.Warn("tool.call.validation_failed", "tool", call.Name, "error", err.Error())
		return invalidResult(call, fmt.Sprintf("argument validation failed: %v", err), start)
	}

	timeout := entry.tool.Timeout()
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	callTC := &Context{
		SessionKey: tc.SessionKey,
		Origin:     tc.Origin,
		TurnID:     tc.TurnID,
		CallID:     call.CallID,
		Logger:     tc.Logger,
	}

	type outcome struct {
		payload any
		err     error
	}
	done := make(chan outcome, 1)

	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		var out outcome
		func() {
			defer func() {
				if r := recover(); r != nil {
					out.err = NewError(call.Name, fmt.Sprintf("panic: %v", r), "PANIC")
					e.logger.Error("tool.call.panic", "tool", call.Name, "recover", fmt.Sprint(r), "stack", string(debug.Stack()))
				}
			}()
			out.payload, out.err = entry.tool.Call(callCtx, callTC, args)
		}()
		select {
		case done <- out:
		default:
			// Result channel already abandoned by a timeout: the handler
			// finished in the background.
			e.logger.Warn("tool.call.background_complete",
				"tool", call.Name,
				"call_id", call.CallID,
				"error", out.err != nil,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}()

	select {
	case out := <-done:
		if errors.Is(out.err, context.DeadlineExceeded) {
			e.logger.Warn("tool.call.timeout", "tool", call.Name, "timeout", timeout.String())
			return core.ToolResult{
				CallID:      call.CallID,
				Name:        call.Name,
				Status:      core.ToolStatusTimeout,
				ErrorDetail: fmt.Sprintf("tool %s timed out after %s", call.Name, timeout),
				Elapsed:     time.Since(start),
			}
		}
		if out.err != nil {
			e.logger.Error("tool.call.error", "tool", call.Name, "error", out.err.Error())
			return core.ToolResult{
				CallID:      call.CallID,
				Name:        call.Name,
				Status:      core.ToolStatusError,
				ErrorDetail: out.err.Error(),
				Elapsed:     time.Since(start),
			}
		}
		e.logger.Info("tool.call.success", "tool", call.Name, "duration_ms", time.Since(start).Milliseconds())
		return core.ToolResult{
			CallID:  call.CallID,
			Name:    call.Name,
			Status:  core.ToolStatusOK,
			Payload: out.payload,
			Elapsed: time.Since(start),
		}
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			e.logger.Warn("tool.call.timeout", "tool", call.Name, "timeout", timeout.String())
			return core.ToolResult{
				CallID:      call.CallID,
				Name:        call.Name,
				Status:      core.ToolStatusTimeout,
				ErrorDetail: fmt.Sprintf("tool %s timed out after %s", call.Name, timeout),
				Elapsed:     time.Since(start),
			}
		}
		return core.ToolResult{
			CallID:      call.CallID,
			Name:        call.Name,
			Status:      core.ToolStatusError,
			ErrorDetail: "tool execution cancelled",
			Elapsed:     time.Since(start),
		}
	}
}

// InvokeAll executes a batch of calls issued by one model response. Calls
// whose tools declare exclusive-resource needs run serialized, in original
// order; all others run concurrently bounded by MaxParallel. Results come
// back in the original call order, one per call.
func (e *Executor) InvokeAll(ctx context.Context, tc *Context, calls []core.ToolCall) []core.ToolResult {
	n := len(calls)
	results := make([]core.ToolResult, n)
	if n == 0 {
		return results
	}
	if n == 1 {
		results[0] = e.Invoke(ctx, tc, calls[0])
		return results
	}

	var parallel []int
	var serial []int
	for i, call := range calls {
		if entry, ok := e.registry.lookup(call.Name); ok && entry.tool.Exclusive() {
			serial = append(serial, i)
			continue
		}
		parallel = append(parallel, i)
	}

	maxPar := e.maxParallel
	if maxPar <= 0 || maxPar > len(parallel) {
		maxPar = len(parallel)
	}
	sem := make(chan struct{}, max(maxPar, 1))

	ran := make([]bool, n)
	var wg sync.WaitGroup
	for _, idx := range parallel {
		if ctx.Err() != nil {
			break
		}
		ran[idx] = true
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = e.Invoke(ctx, tc, calls[i])
		}(idx)
	}
	wg.Wait()

	for _, idx := range serial {
		ran[idx] = true
		results[idx] = e.Invoke(ctx, tc, calls[idx])
	}

	for i, ok := range ran {
		if !ok { // skipped by the cancellation pre-check
			results[i] = core.ToolResult{
				CallID:      calls[i].CallID,
				Name:        calls[i].Name,
				Status:      core.ToolStatusError,
				ErrorDetail: "tool execution cancelled",
			}
		}
	}
	return results
}

// WaitBackground blocks until every abandoned handler has finished. Intended
// for graceful shutdown and tests.
func (e *Executor) WaitBackground() { e.bg.Wait() }

func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

func errorResult(call core.ToolCall, detail string, start time.Time) core.ToolResult {
	return core.ToolResult{
		CallID:      call.CallID,
		Name:        call.Name,
		Status:      core.ToolStatusError,
		ErrorDetail: detail,
		Elapsed:     time.Since(start),
	}
}

func invalidResult(call core.ToolCall, detail string, start time.Time) core.ToolResult {
	return core.ToolResult{
		CallID:      call.CallID,
		Name:        call.Name,
		Status:      core.ToolStatusInvalidArguments,
		ErrorDetail: detail,
		Elapsed:     time.Since(start),
	}
}
