package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hanjaemi/hanjaemi/internal/events"
)

// inserter is the subset of Repository the consumer needs.
type inserter interface {
	Insert(ctx context.Context, log *RequestLog) error
}

// Consumer listens on the request event subject and persists entries to the
// request_logs table.
type Consumer struct {
	repo        inserter
	consumerMgr *events.ConsumerManager
}

// NewConsumer creates a new request event Consumer.
func NewConsumer(repo *Repository, consumerMgr *events.ConsumerManager) *Consumer {
	return &Consumer{
		repo:        repo,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, events.StreamEvents, "request-log-persister", events.SubjectRequestCompleted)
	if err != nil {
		return err
	}

	slog.Info("audit consumer started", "consumer", "request-log-persister")

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(events.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("audit consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleEvent(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) handleEvent(ctx context.Context, msg jetstream.Msg) {
	var event events.RequestEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		slog.Error("audit consumer: unmarshaling event", "error", err)
		_ = msg.Nak()
		return
	}

	log := logFromEvent(event)

	if err := c.repo.Insert(ctx, log); err != nil {
		slog.Error("audit consumer: persisting request log", "error", err, "kind", event.Kind)
		_ = msg.Nak()
		return
	}

	_ = msg.Ack()

	slog.Debug("audit consumer: persisted event",
		"kind", event.Kind,
		"user", event.UserID,
		"model", event.Model,
	)
}

// logFromEvent converts a published event into a request_logs row.
func logFromEvent(event events.RequestEvent) *RequestLog {
	return &RequestLog{
		ID:               uuid.New(),
		UserID:           event.UserID,
		Kind:             event.Kind,
		Model:            event.Model,
		SessionID:        event.SessionID,
		PromptTokens:     event.PromptTokens,
		CompletionTokens: event.CompletionTokens,
		DurationMs:       event.DurationMs,
		CreatedAt:        event.OccurredAt,
	}
}
