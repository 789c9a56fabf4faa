// Package bus defines the publish/subscribe transport boundary consumed by
// recording and playback, plus an in-process broker implementation.
package bus

// Message is one delivered pub/sub message.
type Message struct {
	// Topic is the topic the message was published on.
	Topic string
	// Type is the payload type tag.
	Type string
	// Payload is the raw payload bytes.
	Payload []byte
}

// Handler receives delivered messages. Handlers for different subscriptions
// may be invoked concurrently; deliveries within one subscription are ordered.
type Handler func(Message)

// Subscription is a live topic subscription.
type Subscription interface {
	// Topic returns the subscribed topic name.
	Topic() string
	// Unsubscribe detaches the subscription. Idempotent.
	Unsubscribe()
}

// Bus is the transport collaborator: topic discovery, subscription, and
// publication. Implementations must be safe for concurrent use.
type Bus interface {
	Subscribe(topic string, fn Handler) (Subscription, error)
	Publish(topic, typeTag string, payload []byte) error
	KnownTopics() []string
}
