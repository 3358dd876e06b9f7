package service

import (
	"math"

	"loyalty-service/internal/models"

	"github.com/shopspring/decimal"
)

var (
	thousand = decimal.NewFromInt(1000)
	hundred  = decimal.NewFromInt(100)

	maxInt64Decimal = decimal.NewFromInt(math.MaxInt64)
)

// EvaluateRedeem checks a proposed redemption against the merchant's rules and
// returns the first violation as a *RuleViolation. Checks run in a fixed order:
// minimum, step, percentage cap, per-receipt cap.
func EvaluateRedeem(cfg models.LoyaltySettings, points int64, receiptAmount decimal.Decimal) error {
	if points > 0 && points < cfg.RedeemMinPoints {
		return &RuleViolation{Kind: RuleBelowMinimum, Limit: cfg.RedeemMinPoints, Requested: points}
	}

	if cfg.RedeemStep > 1 && points%cfg.RedeemStep != 0 {
		return &RuleViolation{Kind: RuleNotStepAligned, Limit: cfg.RedeemStep, Requested: points}
	}

	if pct := cfg.RedeemMaxPercent; pct != nil && *pct >= 0 && *pct <= 100 {
		maxByPercent := PercentCap(receiptAmount, *pct)
		if points > maxByPercent {
			return &RuleViolation{Kind: RuleExceedsPercentCap, Limit: maxByPercent, Requested: points}
		}
	}

	if capPts := cfg.MaxPointsPerReceipt; capPts != nil && *capPts >= 0 && points > *capPts {
		return &RuleViolation{Kind: RuleExceedsReceiptCap, Limit: *capPts, Requested: points}
	}

	return nil
}

// PercentCap is floor(receiptAmount * percent / 100)
func PercentCap(receiptAmount decimal.Decimal, percent int64) int64 {
	return floorInt64(receiptAmount.Mul(decimal.NewFromInt(percent)).Div(hundred))
}

// ComputeEarn is floor(amount / 1000 * earnRatePer1000) when the receipt reaches
// the merchant's minimum (or no minimum is set), otherwise 0.
func ComputeEarn(cfg models.LoyaltySettings, amount decimal.Decimal) int64 {
	if cfg.MinReceiptAmountForEarn.IsPositive() && amount.LessThan(cfg.MinReceiptAmountForEarn) {
		return 0
	}
	return earnAtRate(amount, cfg.EarnRatePer1000)
}

func earnAtRate(amount, ratePer1000 decimal.Decimal) int64 {
	if !amount.IsPositive() || !ratePer1000.IsPositive() {
		return 0
	}
	return floorInt64(amount.Mul(ratePer1000).Div(thousand))
}

// floorInt64 saturates instead of wrapping for receipts beyond int64
func floorInt64(d decimal.Decimal) int64 {
	d = d.Floor()
	if d.GreaterThan(maxInt64Decimal) {
		return math.MaxInt64
	}
	return d.IntPart()
}
