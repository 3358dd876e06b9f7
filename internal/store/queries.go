package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"loyalty-service/internal/models"
)

// GetBalance reads a balance without locking; a missing row reads as zero
func (s *Store) GetBalance(ctx context.Context, customerMerchantID int64) (*models.Balance, error) {
	var b models.Balance
	err := s.db.GetContext(ctx, &b, `
		SELECT customer_merchant_id, points, level, total_earned, total_spent, last_activity
		FROM loyalty_points
		WHERE customer_merchant_id = $1`, customerMerchantID)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Balance{CustomerMerchantID: customerMerchantID, Level: models.DefaultLevel}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return &b, nil
}

// ListTransactions returns the newest ledger entries first
func (s *Store) ListTransactions(ctx context.Context, customerMerchantID int64, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := s.db.SelectContext(ctx, &txns, `
		SELECT id, customer_merchant_id, amount, points_earned, points_spent, transaction_type, status, created_at
		FROM transactions
		WHERE customer_merchant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, customerMerchantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txns, nil
}

// FindActiveSessionCode resolves an active, unexpired code without locking it
func (s *Store) FindActiveSessionCode(ctx context.Context, merchantID int64, code string, now time.Time) (*models.SessionCode, error) {
	var sc models.SessionCode
	err := s.db.GetContext(ctx, &sc, `
		SELECT id, merchant_id, customer_merchant_id, subject_id, session_code, status, expires_at, used_at, created_at
		FROM loyalty_session_codes
		WHERE merchant_id = $1 AND session_code = $2 AND status = 'active' AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT 1`, merchantID, code, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session code: %w", err)
	}
	return &sc, nil
}

// GetEnrollment loads a customer-merchant link with customer details
func (s *Store) GetEnrollment(ctx context.Context, customerMerchantID int64) (*models.Enrollment, error) {
	return getEnrollment(ctx, s.db, customerMerchantID)
}

// FindTelegramEnrollment resolves the most recently joined program of a Telegram user
func (s *Store) FindTelegramEnrollment(ctx context.Context, telegramID string) (*models.Enrollment, error) {
	return findTelegramEnrollment(ctx, s.db, telegramID)
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
