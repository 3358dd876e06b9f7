package worker

import (
	"context"
	"fmt"

	"loyalty-service/internal/broker"
	"loyalty-service/internal/models"
	"loyalty-service/internal/service"
	"loyalty-service/internal/util"

	"go.uber.org/zap"
)

// EventLog records which events have already been handled
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// NotificationWorker delivers CheckoutCompleted events to the bot
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	events       EventLog
	sink         service.Notifier
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(
	consumer *broker.Consumer,
	events EventLog,
	sink service.Notifier,
) *NotificationWorker {
	w := &NotificationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		events:       events,
		sink:         sink,
		logger:       util.GetLogger(),
	}

	w.eventHandler.OnCheckoutCompleted(w.HandleCheckoutCompleted)
	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// HandleCheckoutCompleted forwards one event to the sink. Redelivered events
// are skipped once they have been delivered.
func (w *NotificationWorker) HandleCheckoutCompleted(ctx context.Context, event *models.CheckoutCompletedEvent) (err error) {
	ctx, span := util.StartSpan(ctx, "NotificationWorker.HandleCheckoutCompleted")
	defer func() { util.EndSpan(span, err) }()

	processed, err := w.events.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event: %w", err)
	}
	if processed {
		w.logger.Info("Event already processed, skipping", zap.String("event_id", event.EventID))
		return nil
	}

	if err := w.sink.NotifyCheckout(ctx, &event.CheckoutNotification); err != nil {
		w.logger.Warn("Failed to deliver checkout notification",
			zap.String("event_id", event.EventID),
			zap.String("subject_id", event.SubjectID),
			zap.Error(err))
		return err
	}

	if err := w.events.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		w.logger.Error("Failed to mark event processed",
			zap.String("event_id", event.EventID),
			zap.Error(err))
	}
	return nil
}
