package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"loyalty-service/internal/models"
	"loyalty-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const notifySink = "kafka"

// ErrMalformedEvent marks a message that cannot be decoded
var ErrMalformedEvent = errors.New("malformed event")

// EventProducer writes a keyed event to the loyalty topic
type EventProducer interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer EventProducer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer EventProducer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishCheckoutCompleted publishes CheckoutCompleted event
func (ep *EventPublisher) PublishCheckoutCompleted(ctx context.Context, event *models.CheckoutCompletedEvent) error {
	key := fmt.Sprintf("customer-merchant-%d", event.CustomerMerchantID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// NotifyCheckout hands a checkout notification to Kafka for the notification worker
func (ep *EventPublisher) NotifyCheckout(ctx context.Context, n *models.CheckoutNotification) error {
	event := &models.CheckoutCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeCheckoutCompleted,
			Timestamp: time.Now(),
		},
		CheckoutNotification: *n,
	}

	if err := ep.PublishCheckoutCompleted(ctx, event); err != nil {
		util.NotificationsFailedTotal.WithLabelValues(notifySink).Inc()
		return err
	}
	util.NotificationsSentTotal.WithLabelValues(notifySink).Inc()
	return nil
}

// EventHandler handles incoming events
type EventHandler struct {
	onCheckoutCompleted func(context.Context, *models.CheckoutCompletedEvent) error
	logger              *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnCheckoutCompleted registers a handler for CheckoutCompleted events
func (eh *EventHandler) OnCheckoutCompleted(handler func(context.Context, *models.CheckoutCompletedEvent) error) {
	eh.onCheckoutCompleted = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: base event: %v", ErrMalformedEvent, err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeCheckoutCompleted:
		if eh.onCheckoutCompleted != nil {
			var event models.CheckoutCompletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: CheckoutCompleted event: %v", ErrMalformedEvent, err)
			}
			return eh.onCheckoutCompleted(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
