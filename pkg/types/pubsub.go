package types

import (
	"time"
)

// ConsumedMessage is a single inbound queue item as handed to the trigger workers.
type ConsumedMessage struct {
	// ID is the unique identifier for the message from the source queue.
	ID string
	// Payload is the raw byte content of the message.
	Payload []byte
	// PublishTime is the timestamp when the message was originally published.
	PublishTime time.Time
	// Attributes holds the queue-side metadata. The bridge does not forward it.
	Attributes map[string]string
	// DeliveryAttempt is the queue's redelivery counter, zero when the queue
	// does not track it.
	DeliveryAttempt int
	// Ack is a function to call to acknowledge that the message has been
	// successfully forwarded.
	Ack func()
	// Nack is a function to call to signal that forwarding has failed and the
	// message should be redelivered by the queue.
	Nack func()
}
