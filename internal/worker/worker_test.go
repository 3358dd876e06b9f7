package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"loyalty-service/internal/broker"
	"loyalty-service/internal/models"
	"loyalty-service/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type memoryEventLog struct {
	mu        sync.Mutex
	processed map[string]string
}

func newMemoryEventLog() *memoryEventLog {
	return &memoryEventLog{processed: make(map[string]string)}
}

func (l *memoryEventLog) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.processed[eventID]
	return ok, nil
}

func (l *memoryEventLog) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.processed[eventID] = eventType
	return nil
}

type countingSink struct {
	calls int
	err   error
}

func (s *countingSink) NotifyCheckout(ctx context.Context, n *models.CheckoutNotification) error {
	s.calls++
	return s.err
}

func newTestWorker(events EventLog, sink *countingSink) *NotificationWorker {
	return &NotificationWorker{
		eventHandler: broker.NewEventHandler(),
		events:       events,
		sink:         sink,
		logger:       util.GetLogger(),
	}
}

func checkoutEvent(id string) *models.CheckoutCompletedEvent {
	return &models.CheckoutCompletedEvent{
		BaseEvent: models.BaseEvent{EventID: id, EventType: models.EventTypeCheckoutCompleted},
		CheckoutNotification: models.CheckoutNotification{
			SubjectID:          "42",
			CustomerMerchantID: 9,
		},
	}
}

func TestHandleCheckoutCompletedDeliversOnce(t *testing.T) {
	events := newMemoryEventLog()
	sink := &countingSink{}
	w := newTestWorker(events, sink)

	require.NoError(t, w.HandleCheckoutCompleted(context.Background(), checkoutEvent("evt-1")))
	require.NoError(t, w.HandleCheckoutCompleted(context.Background(), checkoutEvent("evt-1")))

	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, models.EventTypeCheckoutCompleted, events.processed["evt-1"])
}

func TestHandleCheckoutCompletedRetriesAfterFailure(t *testing.T) {
	events := newMemoryEventLog()
	sink := &countingSink{err: errors.New("bot unavailable")}
	w := newTestWorker(events, sink)

	err := w.HandleCheckoutCompleted(context.Background(), checkoutEvent("evt-2"))
	assert.Error(t, err)
	assert.NotContains(t, events.processed, "evt-2")

	sink.err = nil
	require.NoError(t, w.HandleCheckoutCompleted(context.Background(), checkoutEvent("evt-2")))
	assert.Equal(t, 2, sink.calls)
	assert.Contains(t, events.processed, "evt-2")
}

func TestHandleCheckoutCompletedRecordsFailureOnSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	w := newTestWorker(newMemoryEventLog(), &countingSink{err: errors.New("bot unavailable")})
	require.Error(t, w.HandleCheckoutCompleted(context.Background(), checkoutEvent("evt-3")))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "NotificationWorker.HandleCheckoutCompleted", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "bot unavailable", spans[0].Status().Description)
}
