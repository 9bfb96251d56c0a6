package mqtt

import (
	"context"
)

// MessageHandler processes one received message.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client abstracts the underlying paho implementation.
type Client interface {
	// Start begins connecting in the background and returns immediately.
	Start(ctx context.Context) error

	// Disconnect cleanly closes the connection.
	Disconnect(ctx context.Context)

	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe registers handler for a topic filter and sends SUBSCRIBE.
	// Registered filters are re-subscribed after every reconnection.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	// Unsubscribe removes the handler and sends UNSUBSCRIBE.
	Unsubscribe(ctx context.Context, topic string) error

	// AwaitConnection blocks until the broker link is up or ctx ends.
	AwaitConnection(ctx context.Context) error

	IsConnected() bool
}
