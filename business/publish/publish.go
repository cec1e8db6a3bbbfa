// Package publish ships serialized realtime feeds to the downstream trip
// planner over NATS.
package publish

import (
	"errors"
	"fmt"
	logger "log"

	"github.com/nats-io/nats.go"
)

// ErrMessageNotPublished reports a feed that could not be delivered downstream
// within the configured attempts. Ingestors surface it to their caller.
var ErrMessageNotPublished = errors.New("message not published")

// Destination is where feeds are sent after serialization, or an
// implementation for testing
type Destination interface {
	Publish(subject string, feed []byte) error
}

// natsDestination sends feeds over a NATS connection
type natsDestination struct {
	natsConn *nats.Conn
}

func (n *natsDestination) Publish(subject string, feed []byte) error {
	return n.natsConn.Publish(subject, feed)
}

// Publisher pushes binary feeds downstream, retrying transient transport
// failures a bounded number of times
type Publisher struct {
	log         *logger.Logger
	destination Destination
	maxRetries  int
}

// NewPublisher builds a Publisher over an established NATS connection
func NewPublisher(log *logger.Logger, natsConn *nats.Conn, maxRetries int) *Publisher {
	return NewPublisherWithDestination(log, &natsDestination{natsConn: natsConn}, maxRetries)
}

// NewPublisherWithDestination builds a Publisher with a custom destination
func NewPublisherWithDestination(log *logger.Logger, destination Destination, maxRetries int) *Publisher {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Publisher{
		log:         log,
		destination: destination,
		maxRetries:  maxRetries,
	}
}

// Publish sends the feed on the coverage's subject. Delivery is at-least-once,
// downstream consumers rely on idempotent merging.
func (p *Publisher) Publish(coverage string, feed []byte) error {
	subject := fmt.Sprintf("realtime.%s", coverage)
	var err error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		err = p.destination.Publish(subject, feed)
		if err == nil {
			return nil
		}
		p.log.Printf("error publishing feed to %s (attempt %d/%d): %v", subject, attempt+1, p.maxRetries, err)
	}
	return fmt.Errorf("publishing feed to %s: %v: %w", subject, err, ErrMessageNotPublished)
}
