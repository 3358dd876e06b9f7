package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cachedResult struct {
	ReceiptID string `json:"receiptId"`
	Points    int64  `json:"points"`
}

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb), mr
}

func TestCheckoutResultRoundTrip(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	var got cachedResult
	found, err := c.GetCheckoutResult(ctx, 7, "R-1", &got)
	require.NoError(t, err)
	assert.False(t, found)

	err = c.SaveCheckoutResult(ctx, 7, "R-1", cachedResult{ReceiptID: "R-1", Points: 42}, time.Hour)
	require.NoError(t, err)
	assert.True(t, mr.Exists("idempotency:checkout:7:R-1"))

	found, err = c.GetCheckoutResult(ctx, 7, "R-1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(42), got.Points)

	// receipts are scoped per merchant
	found, err = c.GetCheckoutResult(ctx, 8, "R-1", &got)
	require.NoError(t, err)
	assert.False(t, found)

	mr.FastForward(2 * time.Hour)
	found, err = c.GetCheckoutResult(ctx, 7, "R-1", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGetCheckoutResultCorrupt(t *testing.T) {
	c, mr := newTestClient(t)
	require.NoError(t, mr.Set("idempotency:checkout:1:bad", "{not json"))

	var got cachedResult
	found, err := c.GetCheckoutResult(context.Background(), 1, "bad", &got)
	assert.Error(t, err)
	assert.False(t, found)
}

func TestAllowIssue(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := c.AllowIssue(ctx, "tg-1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}

	allowed, err := c.AllowIssue(ctx, "tg-1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	// other subjects have their own window
	allowed, err = c.AllowIssue(ctx, "tg-2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	mr.FastForward(time.Minute + time.Second)
	allowed, err = c.AllowIssue(ctx, "tg-1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestAllowIssueRedisDown(t *testing.T) {
	c, mr := newTestClient(t)
	mr.Close()

	_, err := c.AllowIssue(context.Background(), "tg-1", 3, time.Minute)
	assert.Error(t, err)
}
