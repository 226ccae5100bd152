package core

import "context"

// ChannelAdapter is the narrow contract a platform connector implements. The
// core never parses platform payloads: adapters normalize inbound events to
// Messages (attachments as opaque references) and render outbound Messages
// natively.
//
// Receive returns the same channel on every call; it is closed when the
// platform connection shuts down for good. Adapters own their connection
// lifecycle, including reconnects, and retry their own delivery failures.
type ChannelAdapter interface {
	// Name is the unique channel identifier used in message origins.
	Name() string

	// Receive yields inbound messages for as long as the connection lives.
	Receive() <-chan Message

	// Deliver sends a completed response back to the platform.
	Deliver(ctx context.Context, msg Message) error

	// Close releases the platform connection.
	Close() error
}
