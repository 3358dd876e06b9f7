package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"loyalty-service/internal/models"
)

// Unset loyalty settings fall back to: 1 point per 1000, 100% redeemable,
// no minimum receipt, no minimum redemption, step 1.
const merchantColumns = `
		m.id,
		m.code,
		m.name,
		m.status,
		m.timezone,
		m.created_at,
		COALESCE(m.earn_rate_per_1000, 1) AS earn_rate_per_1000,
		COALESCE(m.redeem_max_percent, 100) AS redeem_max_percent,
		COALESCE(m.min_receipt_amount_for_earn, 0) AS min_receipt_amount_for_earn,
		COALESCE(m.redeem_min_points, 0) AS redeem_min_points,
		COALESCE(m.redeem_step, 1) AS redeem_step,
		m.max_points_per_receipt,
		m.max_points_per_day`

type merchantRow struct {
	models.Merchant
	APIKeyID int64 `db:"api_key_id"`
}

// GetMerchantByAPIKey resolves a merchant from an active API key and records
// key usage. The usage update is best-effort.
func (s *Store) GetMerchantByAPIKey(ctx context.Context, apiKey string) (*models.Merchant, error) {
	var row merchantRow
	err := s.db.GetContext(ctx, &row, `
		SELECT`+merchantColumns+`,
		k.id AS api_key_id
		FROM merchant_api_keys k
		JOIN merchants m ON m.id = k.merchant_id
		WHERE k.api_key = $1 AND k.is_active = TRUE
		LIMIT 1`, apiKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get merchant by api key: %w", err)
	}

	_, _ = s.db.ExecContext(ctx,
		"UPDATE merchant_api_keys SET last_used_at = NOW() WHERE id = $1", row.APIKeyID)

	return &row.Merchant, nil
}
