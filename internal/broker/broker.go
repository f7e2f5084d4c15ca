// Package broker publishes accepted telemetry to a durable message
// channel. Delivery is at-least-once; consumers dedup on message ID.
package broker

import (
	"context"
)

// Message is one publish
type Message struct {
	Topic string
	ID    string
	Body  []byte
}

// Publisher hands a message to the broker. An unreachable broker is
// reported as backend.ErrBackendUnavailable.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}
