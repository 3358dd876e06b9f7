package service

import (
	"errors"
	"math"
	"testing"

	"loyalty-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func TestEvaluateRedeem(t *testing.T) {
	cfg := models.LoyaltySettings{
		RedeemMinPoints:  100,
		RedeemStep:       50,
		RedeemMaxPercent: int64Ptr(50),
	}
	receipt := decimal.NewFromInt(1000)

	tests := []struct {
		name    string
		points  int64
		kind    RuleKind
		limit   int64
		allowed bool
	}{
		{name: "aligned within caps", points: 150, allowed: true},
		{name: "exactly at percent cap", points: 500, allowed: true},
		{name: "nothing redeemed", points: 0, allowed: true},
		{name: "below minimum", points: 30, kind: RuleBelowMinimum, limit: 100},
		{name: "not a step multiple", points: 120, kind: RuleNotStepAligned, limit: 50},
		{name: "over percent cap", points: 600, kind: RuleExceedsPercentCap, limit: 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := EvaluateRedeem(cfg, tt.points, receipt)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}

			var rv *RuleViolation
			require.True(t, errors.As(err, &rv))
			assert.Equal(t, tt.kind, rv.Kind)
			assert.Equal(t, tt.limit, rv.Limit)
			assert.Equal(t, tt.points, rv.Requested)
			assert.Equal(t, KindRuleViolation, KindOf(err))
		})
	}
}

func TestEvaluateRedeemChecksMinimumFirst(t *testing.T) {
	cfg := models.LoyaltySettings{RedeemMinPoints: 100, RedeemStep: 50, RedeemMaxPercent: int64Ptr(1)}

	var rv *RuleViolation
	require.True(t, errors.As(EvaluateRedeem(cfg, 30, decimal.NewFromInt(1000)), &rv))
	assert.Equal(t, RuleBelowMinimum, rv.Kind)
}

func TestEvaluateRedeemReceiptCap(t *testing.T) {
	cfg := models.LoyaltySettings{RedeemStep: 1, MaxPointsPerReceipt: int64Ptr(100)}

	assert.NoError(t, EvaluateRedeem(cfg, 100, decimal.NewFromInt(5000)))

	var rv *RuleViolation
	require.True(t, errors.As(EvaluateRedeem(cfg, 150, decimal.NewFromInt(5000)), &rv))
	assert.Equal(t, RuleExceedsReceiptCap, rv.Kind)
	assert.Equal(t, int64(100), rv.Limit)
}

func TestEvaluateRedeemWithoutPercentCap(t *testing.T) {
	cfg := models.LoyaltySettings{RedeemStep: 1}
	assert.NoError(t, EvaluateRedeem(cfg, 1000000, decimal.NewFromInt(10)))
}

func TestPercentCapFloors(t *testing.T) {
	assert.Equal(t, int64(499), PercentCap(decimal.NewFromInt(999), 50))
	assert.Equal(t, int64(0), PercentCap(decimal.NewFromInt(1000), 0))
	assert.Equal(t, int64(1000), PercentCap(decimal.NewFromInt(1000), 100))
}

func TestComputeEarn(t *testing.T) {
	cfg := models.LoyaltySettings{
		EarnRatePer1000:         decimal.NewFromInt(2),
		MinReceiptAmountForEarn: decimal.NewFromInt(500),
	}

	assert.Equal(t, int64(2), ComputeEarn(cfg, decimal.NewFromInt(1200)))
	assert.Equal(t, int64(0), ComputeEarn(cfg, decimal.NewFromInt(400)))
	assert.Equal(t, int64(1), ComputeEarn(cfg, decimal.NewFromInt(500)))
}

func TestComputeEarnWithoutMinimum(t *testing.T) {
	cfg := models.LoyaltySettings{EarnRatePer1000: decimal.NewFromInt(1)}

	assert.Equal(t, int64(1), ComputeEarn(cfg, decimal.RequireFromString("1999.99")))
	assert.Equal(t, int64(0), ComputeEarn(cfg, decimal.NewFromInt(999)))
}

func TestComputeEarnFractionalRate(t *testing.T) {
	cfg := models.LoyaltySettings{EarnRatePer1000: decimal.RequireFromString("1.5")}

	assert.Equal(t, int64(1), ComputeEarn(cfg, decimal.NewFromInt(1000)))
	assert.Equal(t, int64(3), ComputeEarn(cfg, decimal.NewFromInt(2000)))
}

func TestComputeEarnSaturatesHugeReceipt(t *testing.T) {
	cfg := models.LoyaltySettings{EarnRatePer1000: decimal.NewFromInt(1000)}
	assert.Equal(t, int64(math.MaxInt64), ComputeEarn(cfg, decimal.RequireFromString("1e30")))
}

func TestComputeEarnZeroRate(t *testing.T) {
	cfg := models.LoyaltySettings{EarnRatePer1000: decimal.Zero}
	assert.Equal(t, int64(0), ComputeEarn(cfg, decimal.NewFromInt(100000)))
}
