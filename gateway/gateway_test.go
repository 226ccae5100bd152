package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/concierge/channel"
	"github.com/hupe1980/concierge/core"
	"github.com/hupe1980/concierge/internal/testutil"
)

// stubRunner answers every input with an assistant echo and lets tests hook
// into turn execution.
type stubRunner struct {
	mu      sync.Mutex
	inputs  []core.Message
	onTurn  func(msg core.Message)
	blockCh chan struct{}
}

func (r *stubRunner) RunTurn(ctx context.Context, input core.Message) (*core.Turn, error) {
	r.mu.Lock()
	r.inputs = append(r.inputs, input)
	hook := r.onTurn
	block := r.blockCh
	r.mu.Unlock()

	if hook != nil {
		hook(input)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			turn := core.NewTurn(input)
			turn.Status = core.TurnStatusCancelled
			return turn, nil
		}
	}

	turn := core.NewTurn(input)
	final := core.NewAssistantMessage(input.SessionKey, "echo: "+input.Body)
	final.Deliver = input.Deliver
	turn.Final = &final
	turn.Status = core.TurnStatusCompleted
	return turn, nil
}

func (r *stubRunner) seen() []core.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Message, len(r.inputs))
	copy(out, r.inputs)
	return out
}

func userMsg(channelName, chatID, body string) core.Message {
	return testutil.NewMessageBuilder().Channel(channelName).Chat(chatID).Text(body).Build()
}

func shutdown(t *testing.T, g *Gateway) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.Shutdown(ctx))
}

func TestGatewaySubmit(t *testing.T) {
	t.Run("turns for one session never overlap and keep order", func(t *testing.T) {
		var active, maxActive atomic.Int32
		var order []string
		var orderMu sync.Mutex

		runner := &stubRunner{}
		runner.onTurn = func(msg core.Message) {
			current := active.Add(1)
			defer active.Add(-1)
			for {
				observed := maxActive.Load()
				if current <= observed || maxActive.CompareAndSwap(observed, current) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			orderMu.Lock()
			order = append(order, msg.Body)
			orderMu.Unlock()
		}

		g := New(runner, func(o *Options) { o.MaxConcurrentTurns = 8 })

		for i := 0; i < 6; i++ {
			require.NoError(t, g.Submit(userMsg("cli", "alice", fmt.Sprintf("msg-%d", i))))
		}
		shutdown(t, g)

		assert.Equal(t, int32(1), maxActive.Load())
		orderMu.Lock()
		defer orderMu.Unlock()
		require.Len(t, order, 6)
		for i, body := range order {
			assert.Equal(t, fmt.Sprintf("msg-%d", i), body)
		}
	})

	t.Run("different sessions run concurrently", func(t *testing.T) {
		both := make(chan struct{})
		var started atomic.Int32
		release := make(chan struct{})

		runner := &stubRunner{blockCh: release}
		runner.onTurn = func(core.Message) {
			if started.Add(1) == 2 {
				close(both)
			}
		}

		g := New(runner, func(o *Options) { o.MaxConcurrentTurns = 4 })
		require.NoError(t, g.Submit(userMsg("cli", "alice", "hi")))
		require.NoError(t, g.Submit(userMsg("cli", "bob", "hi")))

		select {
		case <-both:
		case <-time.After(2 * time.Second):
			t.Fatal("sessions did not run concurrently")
		}
		close(release)
		shutdown(t, g)
	})

	t.Run("full queue fails fast with backpressure", func(t *testing.T) {
		started := make(chan struct{}, 8)
		release := make(chan struct{})
		runner := &stubRunner{blockCh: release}
		runner.onTurn = func(core.Message) { started <- struct{}{} }

		g := New(runner, func(o *Options) { o.QueueDepth = 2 })

		// First message is dequeued into the blocked runner.
		require.NoError(t, g.Submit(userMsg("cli", "alice", "running")))
		<-started

		// Queue now has room for exactly QueueDepth more.
		require.NoError(t, g.Submit(userMsg("cli", "alice", "queued-1")))
		require.NoError(t, g.Submit(userMsg("cli", "alice", "queued-2")))

		err := g.Submit(userMsg("cli", "alice", "overflow"))
		require.Error(t, err)
		assert.True(t, core.IsBackpressure(err))

		// Other sessions are unaffected.
		require.NoError(t, g.Submit(userMsg("cli", "bob", "independent")))

		close(release)
		shutdown(t, g)

		for _, msg := range runner.seen() {
			assert.NotEqual(t, "overflow", msg.Body)
		}
	})

	t.Run("message without identity is rejected", func(t *testing.T) {
		g := New(&stubRunner{})
		defer shutdown(t, g)

		err := g.Submit(core.Message{Role: core.RoleUser, Body: "anonymous"})
		require.Error(t, err)
		var verr *core.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestGatewayRouting(t *testing.T) {
	t.Run("response returns to the originating adapter", func(t *testing.T) {
		pipe := channel.NewPipeAdapter("pipe", 8)
		g := New(&stubRunner{})
		require.NoError(t, g.Attach(pipe))
		g.Start()

		pipe.Inject("chat-1", "alice", "hello")

		select {
		case out := <-pipe.Outbound():
			assert.Equal(t, "echo: hello", out.Body)
			assert.Equal(t, core.RoleAssistant, out.Role)
		case <-time.After(2 * time.Second):
			t.Fatal("no response delivered")
		}
		shutdown(t, g)
	})

	t.Run("explicit deliver target overrides the origin", func(t *testing.T) {
		front := channel.NewPipeAdapter("front", 8)
		side := channel.NewPipeAdapter("side", 8)
		g := New(&stubRunner{})
		require.NoError(t, g.Attach(front))
		require.NoError(t, g.Attach(side))

		msg := userMsg("front", "chat-1", "cross-post")
		msg.Deliver = &core.Origin{Channel: "side", ChatID: "chat-9"}
		require.NoError(t, g.Submit(msg))

		select {
		case out := <-side.Outbound():
			assert.Equal(t, "echo: cross-post", out.Body)
		case <-time.After(2 * time.Second):
			t.Fatal("no response on the override channel")
		}
		select {
		case <-front.Outbound():
			t.Fatal("origin channel should not receive the response")
		case <-time.After(50 * time.Millisecond):
		}
		shutdown(t, g)
	})

	t.Run("cron origin without deliver target ends in history only", func(t *testing.T) {
		var observed atomic.Int32
		g := New(&stubRunner{})
		g.OnOutbound(func(_ core.Message, turn *core.Turn) {
			assert.Equal(t, core.TurnStatusCompleted, turn.Status)
			observed.Add(1)
		})

		msg := core.NewSystemMessage("telegram:42", "fire reminder")
		msg.Origin = core.Origin{Channel: core.ChannelCron, ChatID: "task-1"}
		msg.SessionKey = "telegram:42"
		require.NoError(t, g.Submit(msg))

		shutdown(t, g)
		assert.Equal(t, int32(1), observed.Load())
	})

	t.Run("duplicate adapter names are rejected", func(t *testing.T) {
		g := New(&stubRunner{})
		defer shutdown(t, g)

		require.NoError(t, g.Attach(channel.NewPipeAdapter("pipe", 1)))
		require.Error(t, g.Attach(channel.NewPipeAdapter("pipe", 1)))
	})
}

func TestGatewayShutdown(t *testing.T) {
	t.Run("queued turns finish before shutdown returns", func(t *testing.T) {
		runner := &stubRunner{}
		g := New(runner)

		for i := 0; i < 5; i++ {
			require.NoError(t, g.Submit(userMsg("cli", "alice", fmt.Sprintf("msg-%d", i))))
		}
		shutdown(t, g)

		assert.Len(t, runner.seen(), 5)
	})

	t.Run("submit after shutdown fails", func(t *testing.T) {
		g := New(&stubRunner{})
		shutdown(t, g)

		err := g.Submit(userMsg("cli", "alice", "too late"))
		assert.ErrorIs(t, err, core.ErrGatewayClosed)
	})

	t.Run("shutdown is idempotent", func(t *testing.T) {
		g := New(&stubRunner{})
		shutdown(t, g)
		shutdown(t, g)
	})

	t.Run("submits racing shutdown are processed or rejected, never dropped", func(t *testing.T) {
		runner := &stubRunner{}
		g := New(runner, func(o *Options) {
			o.QueueDepth = 64
			o.MaxConcurrentTurns = 8
		})

		var accepted atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				<-start
				for j := 0; j < 20; j++ {
					err := g.Submit(userMsg("cli", fmt.Sprintf("racer-%d", n), fmt.Sprintf("msg-%d", j)))
					switch {
					case err == nil:
						accepted.Add(1)
					case errors.Is(err, core.ErrGatewayClosed):
						return
					}
				}
			}(i)
		}

		close(start)
		shutdown(t, g)
		wg.Wait()

		// Every accepted message must have reached the runner before
		// Shutdown returned; none may be silently dropped.
		assert.Equal(t, int(accepted.Load()), len(runner.seen()))
	})
}
