package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// Publisher provides typed methods for publishing events to NATS JetStream.
type Publisher struct {
	js jetstream.JetStream
}

// NewPublisher creates a new Publisher.
func NewPublisher(js jetstream.JetStream) *Publisher {
	return &Publisher{js: js}
}

// PublishRequestCompleted publishes a charged-request event.
func (p *Publisher) PublishRequestCompleted(ctx context.Context, event RequestEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	if _, err := p.js.Publish(ctx, SubjectRequestCompleted, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", SubjectRequestCompleted, err)
	}
	return nil
}
