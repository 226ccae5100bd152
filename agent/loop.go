package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/logging"
	"github.com/hupe1980/concierge/model"
	"github.com/hupe1980/concierge/tool"
)

const (
	limitExceededReply = "I couldn't finish working on that request within my reasoning budget. " +
		"Could you rephrase it or break it into smaller steps?"
	upstreamUnavailableReply = "I'm having trouble reaching my reasoning service right now. " +
		"Please try again in a moment."
)

// LoopOptions configures a Loop.
type LoopOptions struct {
	// MaxIterations caps model round-trips per turn.
	MaxIterations int
	// HistoryWindow is the number of trailing session messages sent to the
	// model. 0 or less sends the full history.
	HistoryWindow int
	// MaxRetries is the number of additional attempts after a failed model
	// call before the turn fails as upstream-unavailable.
	MaxRetries int
	// RetryBaseDelay is the first backoff delay; it doubles per attempt.
	RetryBaseDelay time.Duration
	// Instruction resolves the system prompt per turn. Defaults to
	// DefaultInstruction.
	Instruction Instruction
	// Logger receives turn events. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Loop drives one turn at a time: model call, tool execution, repeat until
// the model answers in plain text or a bound trips. Every step is appended
// to the session store as it happens, so the durable history is complete
// even if the process dies mid-turn.
//
// The caller (normally the gateway) guarantees RunTurn is never invoked
// concurrently for the same session key.
type Loop struct {
	provider model.Provider
	store    core.SessionStore
	registry *tool.Registry
	executor *tool.Executor

	maxIterations  int
	historyWindow  int
	maxRetries     int
	retryBaseDelay time.Duration
	instruction    Instruction
	logger         logging.Logger
}

// NewLoop constructs a reasoning loop.
func NewLoop(provider model.Provider, store core.SessionStore, registry *tool.Registry, executor *tool.Executor, optFns ...func(o *LoopOptions)) *Loop {
	opts := LoopOptions{
		MaxIterations:  10,
		HistoryWindow:  40,
		MaxRetries:     2,
		RetryBaseDelay: 500 * time.Millisecond,
		Instruction:    DefaultInstruction,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Loop{
		provider:       provider,
		store:          store,
		registry:       registry,
		executor:       executor,
		maxIterations:  opts.MaxIterations,
		historyWindow:  opts.HistoryWindow,
		maxRetries:     opts.MaxRetries,
		retryBaseDelay: opts.RetryBaseDelay,
		instruction:    opts.Instruction,
		logger:         opts.Logger,
	}
}

// RunTurn executes the reasoning loop for one inbound message and returns
// the finished turn. Model-side failures are encoded in the turn status with
// a user-facing final message; a non-nil error means the session store
// itself failed and nothing user-facing could be produced.
func (l *Loop) RunTurn(ctx context.Context, input core.Message) (*core.Turn, error) {
	turn := core.NewTurn(input)
	l.logger.Info("turn.started", "turn_id", turn.ID, "session_key", turn.SessionKey, "channel", input.Origin.Channel)

	if err := l.store.Append(turn.SessionKey, input); err != nil {
		return nil, fmt.Errorf("append input message: %w", err)
	}

	for i := 0; i < l.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return l.finish(turn, core.TurnStatusCancelled, nil), nil
		}

		resp, err := l.complete(ctx, turn)
		if err != nil {
			if ctx.Err() != nil {
				return l.finish(turn, core.TurnStatusCancelled, nil), nil
			}
			l.logger.Error("turn.upstream_unavailable", "turn_id", turn.ID, "error", err.Error())
			return l.reply(turn, core.TurnStatusUpstreamUnavailable, upstreamUnavailableReply, input.Deliver)
		}

		if !resp.HasToolCalls() {
			final := core.NewAssistantMessage(turn.SessionKey, resp.Text)
			final.Deliver = input.Deliver
			if err := l.store.Append(turn.SessionKey, final); err != nil {
				return nil, fmt.Errorf("append final message: %w", err)
			}
			turn.Iterations = append(turn.Iterations, core.Iteration{Response: final})
			turn.Final = &final
			l.logger.Info("turn.completed", "turn_id", turn.ID, "iterations", len(turn.Iterations))
			return l.finish(turn, core.TurnStatusCompleted, nil), nil
		}

		callMsg := core.NewToolCallMessage(turn.SessionKey, resp.Text, resp.ToolCalls)
		if err := l.store.Append(turn.SessionKey, callMsg); err != nil {
			return nil, fmt.Errorf("append tool call message: %w", err)
		}

		tc := tool.NewContext(turn.SessionKey, input.Origin, turn.ID, "", l.logger)
		results := l.executor.InvokeAll(ctx, tc, resp.ToolCalls)
		for _, res := range results {
			if err := l.store.Append(turn.SessionKey, core.NewToolResultMessage(turn.SessionKey, res)); err != nil {
				return nil, fmt.Errorf("append tool result message: %w", err)
			}
		}

		turn.Iterations = append(turn.Iterations, core.Iteration{
			Response: callMsg,
			Calls:    resp.ToolCalls,
			Results:  results,
		})
	}

	l.logger.Warn("turn.limit_exceeded", "turn_id", turn.ID, "max_iterations", l.maxIterations)
	return l.reply(turn, core.TurnStatusLimitExceeded, limitExceededReply, input.Deliver)
}

// complete performs one model call with bounded retry and exponential backoff.
func (l *Loop) complete(ctx context.Context, turn *core.Turn) (*model.Response, error) {
	sess, err := l.store.Load(turn.SessionKey)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	instructions, err := l.instruction.Resolve(sess)
	if err != nil {
		return nil, fmt.Errorf("resolve instructions: %w", err)
	}

	req := model.Request{
		Instructions: instructions,
		Messages:     sess.Window(l.historyWindow),
		Tools:        l.registry.Definitions(),
	}

	var lastErr error
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		if attempt > 0 {
			delay := l.retryBaseDelay << (attempt - 1)
			l.logger.Warn("turn.model_retry", "turn_id", turn.ID, "attempt", attempt, "delay", delay.String())
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		resp, err := l.provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, &core.UpstreamUnavailableError{Attempts: l.maxRetries + 1, Err: lastErr}
}

// reply appends a canned user-facing message for a failed turn.
func (l *Loop) reply(turn *core.Turn, status core.TurnStatus, text string, deliver *core.Origin) (*core.Turn, error) {
	final := core.NewAssistantMessage(turn.SessionKey, text)
	final.Deliver = deliver
	if err := l.store.Append(turn.SessionKey, final); err != nil {
		return nil, fmt.Errorf("append failure message: %w", err)
	}
	return l.finish(turn, status, &final), nil
}

func (l *Loop) finish(turn *core.Turn, status core.TurnStatus, final *core.Message) *core.Turn {
	if final != nil {
		turn.Final = final
	}
	turn.Status = status
	turn.FinishedAt = time.Now().UTC()
	return turn
}
