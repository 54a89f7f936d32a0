package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/roster/roster/internal/metrics"
	"github.com/roster/roster/internal/model"
	"github.com/roster/roster/internal/signals"
)

// PublisherStore is the storage the publisher writes deliveries to.
type PublisherStore interface {
	ListActiveEndpointsForEvent(ctx context.Context, eventType model.EventType) ([]*model.WebhookEndpoint, error)
	CreateDelivery(ctx context.Context, delivery *model.WebhookDelivery) error
}

// Publisher creates webhook delivery records when models change.
type Publisher struct {
	store   PublisherStore
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new webhook publisher.
func NewPublisher(store PublisherStore, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		store:   store,
		logger:  logger.With("component", "webhook.publisher"),
		metrics: recorder,
	}
}

// Receiver adapts Publish for connection to post_save and post_delete.
func (p *Publisher) Receiver() signals.Receiver {
	return p.Publish
}

// Publish queues one pending delivery of ev per active endpoint subscribed to
// its event type. Raw saves are not published.
func (p *Publisher) Publish(ctx context.Context, ev signals.Event) error {
	if ev.Raw {
		return nil
	}

	action := ev.Action()
	eventType := model.NewEventType(ev.Sender, action)

	endpoints, err := p.store.ListActiveEndpointsForEvent(ctx, eventType)
	if err != nil {
		return fmt.Errorf("list active endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		return nil
	}

	payload, err := json.Marshal(model.WebhookPayload{
		EventType: eventType,
		EventID:   ev.EventID,
		Timestamp: ev.OccurredAt,
		Data: model.ModelEventData{
			Resource: ev.Sender,
			ID:       ev.ID,
			Action:   action,
			Instance: ev.Instance,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	now := time.Now()
	queued := 0
	for _, endpoint := range endpoints {
		delivery := &model.WebhookDelivery{
			ID:          ulid.Make().String(),
			EndpointID:  endpoint.ID,
			EventID:     ev.EventID,
			EventType:   eventType,
			PayloadJSON: string(payload),
			Status:      model.DeliveryStatusPending,
			MaxAttempts: DefaultMaxAttempts,
			NextRetryAt: now,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if err := p.store.CreateDelivery(ctx, delivery); err != nil {
			p.logger.Warn("failed to create delivery",
				"endpoint_id", endpoint.ID,
				"event_id", ev.EventID,
				"error", err,
			)
			continue
		}
		queued++

		p.logger.Debug("webhook delivery created",
			"delivery_id", delivery.ID,
			"endpoint_id", endpoint.ID,
			"event_type", string(eventType),
		)
	}

	p.metrics.IncWebhookQueued(queued)
	return nil
}
