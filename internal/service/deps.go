package service

import (
	"context"
	"time"

	"loyalty-service/internal/models"
	"loyalty-service/internal/store"
)

// Storage is the storage handle injected into every core operation
type Storage interface {
	RunInTx(ctx context.Context, fn func(tx store.Tx) error) error
	GetBalance(ctx context.Context, customerMerchantID int64) (*models.Balance, error)
	ListTransactions(ctx context.Context, customerMerchantID int64, limit int) ([]models.Transaction, error)
	FindActiveSessionCode(ctx context.Context, merchantID int64, code string, now time.Time) (*models.SessionCode, error)
	GetEnrollment(ctx context.Context, customerMerchantID int64) (*models.Enrollment, error)
	FindTelegramEnrollment(ctx context.Context, telegramID string) (*models.Enrollment, error)
}

// Notifier delivers a best-effort checkout notification to the originating channel
type Notifier interface {
	NotifyCheckout(ctx context.Context, n *models.CheckoutNotification) error
}

// ReceiptCache remembers committed checkout results by receipt id
type ReceiptCache interface {
	GetCheckoutResult(ctx context.Context, merchantID int64, receiptID string, dest interface{}) (bool, error)
	SaveCheckoutResult(ctx context.Context, merchantID int64, receiptID string, result interface{}, ttl time.Duration) error
}

// IssueLimiter bounds how often one subject may request session codes
type IssueLimiter interface {
	AllowIssue(ctx context.Context, subjectID string, limit int, window time.Duration) (bool, error)
}

// Clock returns the current time
type Clock func() time.Time
