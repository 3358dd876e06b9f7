package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fastRetry = RetryPolicy{Initial: time.Millisecond, Max: 4 * time.Millisecond}

func TestHandleWithRetryRetriesUntilSuccess(t *testing.T) {
	calls := 0
	handler := func(ctx context.Context, msg kafka.Message) error {
		calls++
		if calls < 4 {
			return errors.New("webhook down")
		}
		return nil
	}

	err := handleWithRetry(context.Background(), zap.NewNop(), fastRetry, kafka.Message{Offset: 12}, handler)
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestHandleWithRetrySkipsMalformedEvent(t *testing.T) {
	calls := 0
	eh := NewEventHandler()
	handler := func(ctx context.Context, msg kafka.Message) error {
		calls++
		return eh.HandleMessage(ctx, msg)
	}

	err := handleWithRetry(context.Background(), zap.NewNop(), fastRetry, kafka.Message{Value: []byte("{not json")}, handler)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestHandleWithRetryStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	handler := func(ctx context.Context, msg kafka.Message) error {
		calls++
		cancel()
		return errors.New("webhook down")
	}

	slow := RetryPolicy{Initial: time.Hour, Max: time.Hour}
	err := handleWithRetry(ctx, zap.NewNop(), slow, kafka.Message{}, handler)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
