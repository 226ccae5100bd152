// Package channel provides ChannelAdapter implementations. Adapters own the
// wire protocol of one messaging surface; the gateway stays transport
// agnostic.
package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/concierge/core"
)

// PipeAdapter is an in-process adapter for embedding and tests: inbound
// messages are injected with Inject, delivered messages come out of Outbound.
type PipeAdapter struct {
	name     string
	inbound  chan core.Message
	outbound chan core.Message

	mu     sync.Mutex
	closed bool
}

var _ core.ChannelAdapter = (*PipeAdapter)(nil)

// NewPipeAdapter creates a pipe adapter identified by name.
func NewPipeAdapter(name string, buffer int) *PipeAdapter {
	if buffer <= 0 {
		buffer = 16
	}
	return &PipeAdapter{
		name:     name,
		inbound:  make(chan core.Message, buffer),
		outbound: make(chan core.Message, buffer),
	}
}

// Name implements core.ChannelAdapter.
func (p *PipeAdapter) Name() string { return p.name }

// Receive implements core.ChannelAdapter.
func (p *PipeAdapter) Receive() <-chan core.Message { return p.inbound }

// Deliver implements core.ChannelAdapter.
func (p *PipeAdapter) Deliver(ctx context.Context, msg core.Message) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return fmt.Errorf("pipe adapter %s is closed", p.name)
	}

	select {
	case p.outbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements core.ChannelAdapter. Injecting after Close panics the
// same way a send on a closed channel does; callers own that ordering.
func (p *PipeAdapter) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.inbound)
	return nil
}

// Inject places a user message on the inbound stream as if it arrived from
// the wire.
func (p *PipeAdapter) Inject(chatID, senderID, body string) core.Message {
	msg := core.NewUserMessage(core.Origin{Channel: p.name, ChatID: chatID, SenderID: senderID}, body)
	p.inbound <- msg
	return msg
}

// Outbound exposes the delivered-message stream.
func (p *PipeAdapter) Outbound() <-chan core.Message { return p.outbound }
