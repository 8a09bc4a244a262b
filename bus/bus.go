// Package bus is the change notification fabric behind the memory store.
// A store commit sends one message per touched collection topic; listeners
// subscribe to a topic and re-run their query on every message.
package bus

// Bus is a minimal at-most-once pub/sub surface. Delivery is best effort:
// a subscriber that lags may miss messages, which is acceptable here
// because listeners always re-read the full current state rather than
// consuming deltas.
type Bus interface {
	Send(topic string, v []byte) error

	// Subscribe returns a receive channel for the topic and a cancel
	// function. Cancel is idempotent; after it returns the channel is
	// closed and receives nothing further.
	Subscribe(topic string) (<-chan []byte, func())

	Close()
}
