package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeCheckoutCompleted = "CHECKOUT_COMPLETED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// CheckoutSummary carries the per-operation point deltas of one checkout
type CheckoutSummary struct {
	Amount       decimal.Decimal `json:"amount"`
	PointsEarned int64           `json:"pointsEarned"`
	PointsSpent  int64           `json:"pointsSpent"`
}

// CheckoutNotification is what the originating channel is told after a checkout commits
type CheckoutNotification struct {
	SubjectID          string          `json:"telegramUserId"`
	MerchantID         int64           `json:"merchantId"`
	MerchantCode       string          `json:"merchantCode,omitempty"`
	MerchantName       string          `json:"merchantName,omitempty"`
	CustomerMerchantID int64           `json:"customerMerchantId"`
	ReceiptID          string          `json:"receiptId,omitempty"`
	Summary            CheckoutSummary `json:"summary"`
	Balance            Balance         `json:"balance"`
}

// CheckoutCompletedEvent published after a checkout commits
type CheckoutCompletedEvent struct {
	BaseEvent
	CheckoutNotification
}
