// Package gateway multiplexes inbound messages from channel adapters into
// per-session turn queues, enforces single-flight per session and bounded
// global concurrency, and routes final responses back out. The cron
// scheduler submits through the same admission path as channel adapters.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/logging"
)

// TurnRunner executes one reasoning turn. *agent.Loop is the production
// implementation.
type TurnRunner interface {
	RunTurn(ctx context.Context, input core.Message) (*core.Turn, error)
}

// Options configures a Gateway.
type Options struct {
	// QueueDepth bounds each session's pending-message queue. A submit
	// against a full queue fails fast with a BackpressureError.
	QueueDepth int
	// MaxConcurrentTurns bounds turns running simultaneously across all
	// sessions. Within one session turns are always serialized.
	MaxConcurrentTurns int
	// Logger receives operational events. Defaults to NoOpLogger.
	Logger logging.Logger
}

// OutboundFunc observes every final message the gateway routes out, after
// adapter delivery is attempted. Used for tests and auxiliary sinks.
type OutboundFunc func(msg core.Message, turn *core.Turn)

// Gateway owns the runtime topology: adapters feed Submit, Submit feeds
// per-session queues, one drain goroutine per session feeds the runner, and
// the runner's final message is delivered back through the owning adapter.
type Gateway struct {
	runner     TurnRunner
	logger     logging.Logger
	queueDepth int

	sem chan struct{}

	mu       sync.Mutex
	queues   map[string]chan core.Message
	adapters map[string]core.ChannelAdapter
	outbound []OutboundFunc
	closed   bool

	inflight sync.WaitGroup
	pending  sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	pumps sync.WaitGroup
}

// New constructs a gateway around a turn runner.
func New(runner TurnRunner, optFns ...func(o *Options)) *Gateway {
	opts := Options{
		QueueDepth:         16,
		MaxConcurrentTurns: 4,
		Logger:             logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		runner:     runner,
		logger:     opts.Logger,
		queueDepth: opts.QueueDepth,
		sem:        make(chan struct{}, opts.MaxConcurrentTurns),
		queues:     make(map[string]chan core.Message),
		adapters:   make(map[string]core.ChannelAdapter),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Attach registers a channel adapter. Must be called before Start.
func (g *Gateway) Attach(adapter core.ChannelAdapter) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.adapters[adapter.Name()]; exists {
		return fmt.Errorf("adapter %s already attached", adapter.Name())
	}
	g.adapters[adapter.Name()] = adapter
	return nil
}

// OnOutbound registers an observer for routed final messages.
func (g *Gateway) OnOutbound(fn OutboundFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outbound = append(g.outbound, fn)
}

// Start begins pumping every attached adapter's inbound stream into Submit.
// It returns immediately; message processing happens on gateway goroutines.
func (g *Gateway) Start() {
	g.mu.Lock()
	adapters := make([]core.ChannelAdapter, 0, len(g.adapters))
	for _, a := range g.adapters {
		adapters = append(adapters, a)
	}
	g.mu.Unlock()

	for _, adapter := range adapters {
		g.pumps.Add(1)
		go g.pump(adapter)
	}
}

func (g *Gateway) pump(adapter core.ChannelAdapter) {
	defer g.pumps.Done()
	for {
		select {
		case <-g.ctx.Done():
			return
		case msg, ok := <-adapter.Receive():
			if !ok {
				g.logger.Info("gateway.adapter_closed", "channel", adapter.Name())
				return
			}
			if err := g.Submit(msg); err != nil {
				if core.IsBackpressure(err) {
					g.logger.Warn("gateway.backpressure_drop",
						"channel", adapter.Name(),
						"session_key", msg.SessionKey,
					)
					continue
				}
				g.logger.Error("gateway.submit_failed", "channel", adapter.Name(), "error", err.Error())
			}
		}
	}
}

// Submit admits one inbound message. It fails fast with a BackpressureError
// when the session's queue is full and with ErrGatewayClosed after shutdown
// has begun. Never blocks on turn execution.
func (g *Gateway) Submit(msg core.Message) error {
	if msg.SessionKey == "" {
		msg.SessionKey = msg.Origin.SessionKey()
	}
	if msg.SessionKey == ":" || msg.SessionKey == "" {
		return &core.ValidationError{Field: "session_key", Message: "message has no session identity"}
	}

	// The enqueue happens under the lock so a Submit racing Shutdown either
	// lands before the closed flag is set (and is counted by pending) or
	// observes it and is rejected. Nothing is accepted and then dropped.
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return core.ErrGatewayClosed
	}
	q, ok := g.queues[msg.SessionKey]
	if !ok {
		q = make(chan core.Message, g.queueDepth)
		g.queues[msg.SessionKey] = q
		go g.drain(msg.SessionKey, q)
	}

	g.pending.Add(1)
	select {
	case q <- msg:
		return nil
	default:
		g.pending.Done()
		return &core.BackpressureError{SessionKey: msg.SessionKey, Depth: g.queueDepth}
	}
}

// drain serializes turns for one session: messages run strictly in admission
// order and never overlap.
func (g *Gateway) drain(sessionKey string, q chan core.Message) {
	for {
		select {
		case <-g.ctx.Done():
			return
		case msg := <-q:
			g.logger.Debug("gateway.turn_dequeued", "session_key", sessionKey, "queued", len(q))
			g.runTurn(msg)
			g.pending.Done()
		}
	}
}

func (g *Gateway) runTurn(msg core.Message) {
	select {
	case g.sem <- struct{}{}:
	case <-g.ctx.Done():
		return
	}
	defer func() { <-g.sem }()

	g.inflight.Add(1)
	defer g.inflight.Done()

	turn, err := g.runner.RunTurn(g.ctx, msg)
	if err != nil {
		g.logger.Error("gateway.turn_failed", "session_key", msg.SessionKey, "error", err.Error())
		return
	}
	if turn.Final == nil {
		return
	}

	g.route(msg, turn)
}

// route delivers a final message to its target adapter. Explicit Deliver
// targets win; otherwise the response goes back to the originating channel.
// Cron-origin turns with no Deliver target end in history only.
func (g *Gateway) route(input core.Message, turn *core.Turn) {
	final := *turn.Final
	target := input.Origin
	if final.Deliver != nil {
		target = *final.Deliver
	}

	if target.Channel != "" && target.Channel != core.ChannelCron {
		final.Deliver = &target
		g.mu.Lock()
		adapter, ok := g.adapters[target.Channel]
		g.mu.Unlock()
		if !ok {
			g.logger.Warn("gateway.no_adapter", "channel", target.Channel, "session_key", final.SessionKey)
		} else {
			ctx, cancel := context.WithTimeout(g.ctx, 30*time.Second)
			if err := adapter.Deliver(ctx, final); err != nil {
				g.logger.Error("gateway.delivery_failed",
					"channel", target.Channel,
					"session_key", final.SessionKey,
					"error", err.Error(),
				)
			}
			cancel()
		}
	}

	g.mu.Lock()
	observers := make([]OutboundFunc, len(g.outbound))
	copy(observers, g.outbound)
	g.mu.Unlock()
	for _, fn := range observers {
		fn(final, turn)
	}
}

// Shutdown stops admission, waits for queued and in-flight turns to finish
// within ctx, then stops the pumps and closes every adapter. After Shutdown
// returns, Submit always fails with ErrGatewayClosed.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	adapters := make([]core.ChannelAdapter, 0, len(g.adapters))
	for _, a := range g.adapters {
		adapters = append(adapters, a)
	}
	g.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		g.pending.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = fmt.Errorf("gateway shutdown: %w", ctx.Err())
	}

	g.cancel()
	g.pumps.Wait()
	g.inflight.Wait()

	for _, adapter := range adapters {
		if cerr := adapter.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close adapter %s: %w", adapter.Name(), cerr)
		}
	}
	return err
}
