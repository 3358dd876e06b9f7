package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/issue_throttle.lua
var issueThrottleScript string

type Client struct {
	rdb            *redis.Client
	throttleScript *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return New(rdb), nil
}

// New wraps an existing connection
func New(rdb *redis.Client) *Client {
	return &Client{
		rdb:            rdb,
		throttleScript: redis.NewScript(issueThrottleScript),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func checkoutKey(merchantID int64, receiptID string) string {
	return fmt.Sprintf("idempotency:checkout:%d:%s", merchantID, receiptID)
}

// GetCheckoutResult loads a cached checkout result into dest.
// Returns false if nothing is cached for the receipt.
func (c *Client) GetCheckoutResult(ctx context.Context, merchantID int64, receiptID string, dest interface{}) (bool, error) {
	data, err := c.rdb.Get(ctx, checkoutKey(merchantID, receiptID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read checkout result: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to decode checkout result: %w", err)
	}
	return true, nil
}

// SaveCheckoutResult caches a committed checkout result with TTL
func (c *Client) SaveCheckoutResult(ctx context.Context, merchantID int64, receiptID string, result interface{}, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode checkout result: %w", err)
	}
	return c.rdb.Set(ctx, checkoutKey(merchantID, receiptID), data, ttl).Err()
}

// AllowIssue counts a session code request against a fixed window
// Returns true if the subject is still within limit
func (c *Client) AllowIssue(ctx context.Context, subjectID string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf("throttle:session_code:%s", subjectID)

	result, err := c.throttleScript.Run(ctx, c.rdb, []string{key}, limit, window.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("issue throttle script failed: %w", err)
	}

	allowed, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}

	return allowed == 1, nil
}
