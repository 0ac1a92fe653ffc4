package effects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox/registry"
)

const (
	notificationConsumer  = "order-notification"
	defaultPublishTimeout = 15 * time.Second
)

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type dedupeStore interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, id string) (bool, error)
	Delete(ctx context.Context, consumer, id string) error
}

type NotifierParams struct {
	Logger *logger.Logger
	// Publisher may be nil, in which case notifications are only logged.
	Publisher *gcppubsub.Publisher
	Dedupe    dedupeStore
	Timeout   time.Duration
}

// NotificationHandler hands order notifications to Pub/Sub. Redis marks each
// outbox row as sent so a redelivered row is not published twice.
type NotificationHandler struct {
	logg      *logger.Logger
	publisher publisher
	dedupe    dedupeStore
	timeout   time.Duration
}

func NewNotificationHandler(p NotifierParams) (*NotificationHandler, error) {
	if p.Logger == nil {
		return nil, errors.New("logger is required")
	}
	h := &NotificationHandler{
		logg:    p.Logger,
		dedupe:  p.Dedupe,
		timeout: p.Timeout,
	}
	if p.Publisher != nil {
		h.publisher = newGCPPublisher(p.Publisher)
	}
	if h.timeout <= 0 {
		h.timeout = defaultPublishTimeout
	}
	return h, nil
}

func (h *NotificationHandler) Handle(ctx context.Context, event models.OutboxEvent, payload any) error {
	p, ok := payload.(*payloads.OrderNotificationEffect)
	if !ok {
		return registry.NewNonRetryableError(fmt.Errorf("unexpected payload %T", payload))
	}
	ctx = h.logg.WithFields(ctx, map[string]any{
		"notification_kind": p.Kind,
		"order_status":      string(p.OrderStatus),
		"customer_id":       p.CustomerID.String(),
	})

	if h.publisher == nil {
		h.logg.Info(ctx, "order notification")
		return nil
	}

	if h.dedupe != nil {
		first, err := h.dedupe.CheckAndMarkProcessed(ctx, notificationConsumer, event.ID.String())
		if err != nil {
			return fmt.Errorf("notification dedupe: %w", err)
		}
		if !first {
			h.logg.Info(ctx, "order notification already published")
			return nil
		}
	}

	if err := h.publish(ctx, event, p); err != nil {
		if h.dedupe != nil {
			if derr := h.dedupe.Delete(ctx, notificationConsumer, event.ID.String()); derr != nil {
				h.logg.Error(ctx, "failed to clear notification dedupe key", derr)
			}
		}
		return err
	}
	return nil
}

func (h *NotificationHandler) publish(ctx context.Context, event models.OutboxEvent, p *payloads.OrderNotificationEffect) error {
	data, err := json.Marshal(p)
	if err != nil {
		return registry.NewNonRetryableError(fmt.Errorf("encode notification: %w", err))
	}
	msg := &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event_id":   event.ID.String(),
			"event_type": string(event.EventType),
			"order_id":   p.OrderID,
			"kind":       p.Kind,
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	result := h.publisher.Publish(publishCtx, msg)
	if result == nil {
		return errors.New("publisher returned no result")
	}
	serverID, err := result.Get(publishCtx)
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	h.logg.Info(h.logg.WithField(ctx, "message_id", serverID), "order notification published")
	return nil
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return &gcpPublisher{Publisher: p}
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
