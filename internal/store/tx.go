package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"loyalty-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// Tx is the set of operations available inside one atomic unit.
// Locks acquired here are held until the enclosing RunInTx returns.
type Tx interface {
	// LockBalance find-or-creates the balance row and locks it FOR UPDATE.
	LockBalance(ctx context.Context, customerMerchantID int64) (*models.Balance, error)
	UpdateBalance(ctx context.Context, b *models.Balance) error
	InsertTransaction(ctx context.Context, t *models.Transaction) error

	// LockSessionCode locks the most recent instance of (merchant, code).
	LockSessionCode(ctx context.Context, merchantID int64, code string) (*models.SessionCode, error)
	// ReserveCodeValue serializes issuers on (merchant, code) and reports
	// whether no active, unexpired code with that value exists.
	ReserveCodeValue(ctx context.Context, merchantID int64, code string, now time.Time) (bool, error)
	InsertSessionCode(ctx context.Context, sc *models.SessionCode) error
	MarkSessionCodeUsed(ctx context.Context, id int64, usedAt time.Time) error

	GetEnrollment(ctx context.Context, customerMerchantID int64) (*models.Enrollment, error)
	GetOrCreateCustomerMerchant(ctx context.Context, merchantID int64, externalID string, phone *string) (*models.Enrollment, error)
	CustomerMerchantBelongsTo(ctx context.Context, customerMerchantID, merchantID int64) (bool, error)
	FindTelegramEnrollment(ctx context.Context, telegramID string) (*models.Enrollment, error)
}

type sqlTx struct {
	tx *sqlx.Tx
}

// LockBalance inserts a zero row if none exists, then locks it. A concurrent
// inserter blocks on the uncommitted row and falls through to the lock.
func (t *sqlTx) LockBalance(ctx context.Context, customerMerchantID int64) (*models.Balance, error) {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO loyalty_points (customer_merchant_id, points, level, total_earned, total_spent)
		VALUES ($1, 0, $2, 0, 0)
		ON CONFLICT (customer_merchant_id) DO NOTHING`,
		customerMerchantID, models.DefaultLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure balance row: %w", err)
	}

	var b models.Balance
	err = t.tx.GetContext(ctx, &b, `
		SELECT customer_merchant_id, points, level, total_earned, total_spent, last_activity
		FROM loyalty_points
		WHERE customer_merchant_id = $1
		FOR UPDATE`, customerMerchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock balance: %w", err)
	}
	return &b, nil
}

// UpdateBalance writes the new balance values
func (t *sqlTx) UpdateBalance(ctx context.Context, b *models.Balance) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE loyalty_points
		   SET points = $2, total_earned = $3, total_spent = $4, last_activity = $5
		 WHERE customer_merchant_id = $1`,
		b.CustomerMerchantID, b.Points, b.TotalEarned, b.TotalSpent, b.LastActivity)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}

// InsertTransaction appends a ledger entry
func (t *sqlTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	query := `
		INSERT INTO transactions (customer_merchant_id, amount, points_earned, points_spent, transaction_type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := t.tx.GetContext(ctx, &txn.ID, query,
		txn.CustomerMerchantID, txn.Amount, txn.PointsEarned, txn.PointsSpent,
		txn.TransactionType, txn.Status, txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// LockSessionCode locks the latest code row for (merchant, code)
func (t *sqlTx) LockSessionCode(ctx context.Context, merchantID int64, code string) (*models.SessionCode, error) {
	var sc models.SessionCode
	err := t.tx.GetContext(ctx, &sc, `
		SELECT id, merchant_id, customer_merchant_id, subject_id, session_code, status, expires_at, used_at, created_at
		FROM loyalty_session_codes
		WHERE merchant_id = $1 AND session_code = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1
		FOR UPDATE`, merchantID, code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock session code: %w", err)
	}
	return &sc, nil
}

// ReserveCodeValue takes a transaction-scoped advisory lock on the code value
// so two issuers cannot both see it free and both insert it.
func (t *sqlTx) ReserveCodeValue(ctx context.Context, merchantID int64, code string, now time.Time) (bool, error) {
	lockKey := fmt.Sprintf("session_code:%d:%s", merchantID, code)
	if _, err := t.tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", lockKey); err != nil {
		return false, fmt.Errorf("failed to lock code value: %w", err)
	}

	var exists bool
	err := t.tx.GetContext(ctx, &exists, `
		SELECT EXISTS(
			SELECT 1 FROM loyalty_session_codes
			WHERE merchant_id = $1 AND session_code = $2 AND status = 'active' AND expires_at > $3
		)`, merchantID, code, now)
	if err != nil {
		return false, fmt.Errorf("failed to check code value: %w", err)
	}
	return !exists, nil
}

// InsertSessionCode persists a freshly issued code
func (t *sqlTx) InsertSessionCode(ctx context.Context, sc *models.SessionCode) error {
	query := `
		INSERT INTO loyalty_session_codes (merchant_id, customer_merchant_id, subject_id, session_code, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := t.tx.GetContext(ctx, &sc.ID, query,
		sc.MerchantID, sc.CustomerMerchantID, sc.SubjectID, sc.Code, sc.Status, sc.ExpiresAt, sc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session code: %w", err)
	}
	return nil
}

// MarkSessionCodeUsed transitions a code to used
func (t *sqlTx) MarkSessionCodeUsed(ctx context.Context, id int64, usedAt time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE loyalty_session_codes SET status = 'used', used_at = $2 WHERE id = $1",
		id, usedAt)
	if err != nil {
		return fmt.Errorf("failed to mark session code used: %w", err)
	}
	return nil
}

// GetEnrollment loads a customer-merchant link with customer details
func (t *sqlTx) GetEnrollment(ctx context.Context, customerMerchantID int64) (*models.Enrollment, error) {
	return getEnrollment(ctx, t.tx, customerMerchantID)
}

// FindTelegramEnrollment resolves the most recently joined program of a Telegram user
func (t *sqlTx) FindTelegramEnrollment(ctx context.Context, telegramID string) (*models.Enrollment, error) {
	return findTelegramEnrollment(ctx, t.tx, telegramID)
}

// CustomerMerchantBelongsTo checks link ownership
func (t *sqlTx) CustomerMerchantBelongsTo(ctx context.Context, customerMerchantID, merchantID int64) (bool, error) {
	var exists bool
	err := t.tx.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM customer_merchants WHERE id = $1 AND merchant_id = $2)",
		customerMerchantID, merchantID)
	if err != nil {
		return false, fmt.Errorf("failed to check customer merchant: %w", err)
	}
	return exists, nil
}

// GetOrCreateCustomerMerchant find-or-creates the customer by external id and
// its link to the merchant within the caller's transaction.
func (t *sqlTx) GetOrCreateCustomerMerchant(ctx context.Context, merchantID int64, externalID string, phone *string) (*models.Enrollment, error) {
	var customerID int64
	err := t.tx.GetContext(ctx, &customerID, `
		INSERT INTO customers (external_id, phone)
		VALUES ($1, $2)
		ON CONFLICT (external_id) DO UPDATE SET phone = COALESCE(customers.phone, EXCLUDED.phone)
		RETURNING id`, externalID, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert customer: %w", err)
	}

	var customerMerchantID int64
	err = t.tx.GetContext(ctx, &customerMerchantID, `
		INSERT INTO customer_merchants (customer_id, merchant_id)
		VALUES ($1, $2)
		ON CONFLICT (customer_id, merchant_id) DO UPDATE SET customer_id = EXCLUDED.customer_id
		RETURNING id`, customerID, merchantID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert customer merchant: %w", err)
	}

	return getEnrollment(ctx, t.tx, customerMerchantID)
}

const enrollmentColumns = `
		c.id AS customer_id,
		cm.id AS customer_merchant_id,
		m.id AS merchant_id,
		m.code AS merchant_code,
		m.name AS merchant_name,
		c.external_id,
		c.phone`

func getEnrollment(ctx context.Context, q sqlx.QueryerContext, customerMerchantID int64) (*models.Enrollment, error) {
	var e models.Enrollment
	err := sqlx.GetContext(ctx, q, &e, `
		SELECT`+enrollmentColumns+`
		FROM customer_merchants cm
		JOIN customers c ON c.id = cm.customer_id
		JOIN merchants m ON m.id = cm.merchant_id
		WHERE cm.id = $1`, customerMerchantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}
	return &e, nil
}

func findTelegramEnrollment(ctx context.Context, q sqlx.QueryerContext, telegramID string) (*models.Enrollment, error) {
	var e models.Enrollment
	err := sqlx.GetContext(ctx, q, &e, `
		SELECT`+enrollmentColumns+`
		FROM telegram_users tu
		JOIN customer_merchants_telegram cmt ON cmt.telegram_user_id = tu.id
		JOIN customer_merchants cm ON cm.customer_id = cmt.customer_id AND cm.merchant_id = cmt.merchant_id
		JOIN customers c ON c.id = cm.customer_id
		JOIN merchants m ON m.id = cmt.merchant_id
		WHERE tu.telegram_id = $1 AND cmt.joined_at IS NOT NULL
		ORDER BY cmt.joined_at DESC
		LIMIT 1`, telegramID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find telegram enrollment: %w", err)
	}
	return &e, nil
}
