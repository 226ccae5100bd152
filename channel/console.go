package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/hupe1980/concierge/core"
)

// ConsoleAdapter is a line-oriented adapter over arbitrary reader/writer
// pairs, normally stdin/stdout. Every line becomes one user message in a
// single chat; responses are printed with an "assistant>" prefix.
type ConsoleAdapter struct {
	chatID  string
	reader  io.Reader
	writer  io.Writer
	inbound chan core.Message

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}
}

var _ core.ChannelAdapter = (*ConsoleAdapter)(nil)

// ConsoleOptions configures a ConsoleAdapter.
type ConsoleOptions struct {
	// ChatID identifies the single console conversation. Defaults to "local".
	ChatID string
}

// NewConsoleAdapter creates a console adapter reading lines from r and
// printing responses to w.
func NewConsoleAdapter(r io.Reader, w io.Writer, optFns ...func(o *ConsoleOptions)) *ConsoleAdapter {
	opts := ConsoleOptions{ChatID: "local"}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &ConsoleAdapter{
		chatID:  opts.ChatID,
		reader:  r,
		writer:  w,
		inbound: make(chan core.Message, 16),
		done:    make(chan struct{}),
	}
}

// Name implements core.ChannelAdapter.
func (c *ConsoleAdapter) Name() string { return "console" }

// Receive implements core.ChannelAdapter. The first call starts the reader
// goroutine; the stream closes when the underlying reader hits EOF.
func (c *ConsoleAdapter) Receive() <-chan core.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		c.started = true
		go c.read()
	}
	return c.inbound
}

func (c *ConsoleAdapter) read() {
	defer close(c.inbound)
	scanner := bufio.NewScanner(c.reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg := core.NewUserMessage(core.Origin{
			Channel:  c.Name(),
			ChatID:   c.chatID,
			SenderID: c.chatID,
		}, line)
		select {
		case c.inbound <- msg:
		case <-c.done:
			return
		}
	}
}

// Deliver implements core.ChannelAdapter.
func (c *ConsoleAdapter) Deliver(_ context.Context, msg core.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("console adapter is closed")
	}
	_, err := fmt.Fprintf(c.writer, "assistant> %s\n", msg.Body)
	return err
}

// Close implements core.ChannelAdapter.
func (c *ConsoleAdapter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.done)
	return nil
}
