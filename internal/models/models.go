package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Merchant represents a merchant together with its loyalty settings
type Merchant struct {
	ID        int64     `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	Status    string    `db:"status" json:"status"`
	Timezone  *string   `db:"timezone" json:"timezone"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`

	LoyaltySettings
}

// LoyaltySettings holds the merchant-configured earn/redeem rules
type LoyaltySettings struct {
	EarnRatePer1000         decimal.Decimal `db:"earn_rate_per_1000" json:"earnRatePer1000"`
	RedeemMaxPercent        *int64          `db:"redeem_max_percent" json:"redeemMaxPercent"`
	MinReceiptAmountForEarn decimal.Decimal `db:"min_receipt_amount_for_earn" json:"minReceiptAmountForEarn"`
	RedeemMinPoints         int64           `db:"redeem_min_points" json:"redeemMinPoints"`
	RedeemStep              int64           `db:"redeem_step" json:"redeemStep"`
	MaxPointsPerReceipt     *int64          `db:"max_points_per_receipt" json:"maxPointsPerReceipt"`
	// MaxPointsPerDay is stored and reported but not enforced.
	MaxPointsPerDay *int64 `db:"max_points_per_day" json:"maxPointsPerDay"`
}

// Enrollment is a resolved customer-merchant link with customer details
type Enrollment struct {
	CustomerID         int64   `db:"customer_id" json:"id"`
	CustomerMerchantID int64   `db:"customer_merchant_id" json:"customerMerchantId"`
	MerchantID         int64   `db:"merchant_id" json:"-"`
	MerchantCode       string  `db:"merchant_code" json:"-"`
	MerchantName       string  `db:"merchant_name" json:"-"`
	ExternalID         *string `db:"external_id" json:"externalId"`
	Phone              *string `db:"phone" json:"phone"`
}

// Balance is the materialized point balance of a customer-merchant link
type Balance struct {
	CustomerMerchantID int64      `db:"customer_merchant_id" json:"customerMerchantId"`
	Points             int64      `db:"points" json:"points"`
	Level              string     `db:"level" json:"level"`
	TotalEarned        int64      `db:"total_earned" json:"totalEarned"`
	TotalSpent         int64      `db:"total_spent" json:"totalSpent"`
	LastActivity       *time.Time `db:"last_activity" json:"lastActivity"`
}

// TransactionType classifies a ledger entry
type TransactionType string

// Transaction types
const (
	TransactionTypePurchase         TransactionType = "purchase"
	TransactionTypePointsRedemption TransactionType = "points_redemption"
	TransactionTypeOperation        TransactionType = "operation"
)

// Transaction statuses
const (
	TransactionStatusCompleted = "completed"
)

// DefaultLevel is assigned to newly created balances
const DefaultLevel = "bronze"

// Transaction is an immutable ledger entry
type Transaction struct {
	ID                 int64           `db:"id" json:"id"`
	CustomerMerchantID int64           `db:"customer_merchant_id" json:"customerMerchantId"`
	Amount             decimal.Decimal `db:"amount" json:"amount"`
	PointsEarned       int64           `db:"points_earned" json:"pointsEarned"`
	PointsSpent        int64           `db:"points_spent" json:"pointsSpent"`
	TransactionType    TransactionType `db:"transaction_type" json:"transactionType"`
	Status             string          `db:"status" json:"status"`
	CreatedAt          time.Time       `db:"created_at" json:"createdAt"`
}

// Session code statuses
const (
	SessionCodeStatusActive  = "active"
	SessionCodeStatusUsed    = "used"
	SessionCodeStatusExpired = "expired"
)

// SessionCode binds a customer to a merchant for a short POS checkout window
type SessionCode struct {
	ID                 int64      `db:"id" json:"id"`
	MerchantID         int64      `db:"merchant_id" json:"merchantId"`
	CustomerMerchantID int64      `db:"customer_merchant_id" json:"customerMerchantId"`
	SubjectID          string     `db:"subject_id" json:"subjectId"`
	Code               string     `db:"session_code" json:"sessionCode"`
	Status             string     `db:"status" json:"status"`
	ExpiresAt          time.Time  `db:"expires_at" json:"expiresAt"`
	UsedAt             *time.Time `db:"used_at" json:"usedAt"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
}

// EffectiveStatus reports the status as observed at now; expiry is not stored.
func (sc *SessionCode) EffectiveStatus(now time.Time) string {
	if sc.Status == SessionCodeStatusActive && !now.Before(sc.ExpiresAt) {
		return SessionCodeStatusExpired
	}
	return sc.Status
}
