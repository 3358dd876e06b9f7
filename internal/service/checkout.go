package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"loyalty-service/internal/models"
	"loyalty-service/internal/store"
	"loyalty-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	defaultNotifyTimeout   = 10 * time.Second
	defaultReceiptCacheTTL = 24 * time.Hour
	maxReceiptIDLength     = 128
)

// CheckoutOptions tunes the orchestrator
type CheckoutOptions struct {
	NotifyTimeout   time.Duration
	ReceiptCacheTTL time.Duration
}

// CheckoutOrchestrator composes a redemption and an earn against one session code
type CheckoutOrchestrator struct {
	storage  Storage
	ledger   *LedgerService
	notifier Notifier
	receipts ReceiptCache
	opts     CheckoutOptions
	logger   *zap.Logger
	now      Clock
	wg       sync.WaitGroup
}

// NewCheckoutOrchestrator creates a new orchestrator. notifier and receipts may be nil.
func NewCheckoutOrchestrator(storage Storage, ledger *LedgerService, notifier Notifier, receipts ReceiptCache, opts CheckoutOptions) *CheckoutOrchestrator {
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = defaultNotifyTimeout
	}
	if opts.ReceiptCacheTTL <= 0 {
		opts.ReceiptCacheTTL = defaultReceiptCacheTTL
	}
	return &CheckoutOrchestrator{
		storage:  storage,
		ledger:   ledger,
		notifier: notifier,
		receipts: receipts,
		opts:     opts,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// CheckoutRequest is one POS checkout
type CheckoutRequest struct {
	Merchant      *models.Merchant
	SessionCode   string
	ReceiptAmount decimal.Decimal
	RedeemPoints  int64
	ReceiptID     string
}

// CheckoutResult is returned to the POS after commit
type CheckoutResult struct {
	Transactions []models.Transaction   `json:"transactions"`
	Balance      models.Balance         `json:"balance"`
	Summary      models.CheckoutSummary `json:"summary"`
	Customer     models.Enrollment      `json:"customer"`
	ReceiptID    string                 `json:"receiptId,omitempty"`
	Replayed     bool                   `json:"replayed,omitempty"`
}

// LookupResult describes who an active session code stands for
type LookupResult struct {
	Customer           models.Enrollment      `json:"customer"`
	Balance            models.Balance         `json:"balance"`
	Settings           models.LoyaltySettings `json:"settings"`
	MaxRedeemByBalance int64                  `json:"maxRedeemByBalance"`
	ExpiresAt          time.Time              `json:"expiresAt"`
}

func (o *CheckoutOrchestrator) validate(req *CheckoutRequest) error {
	if req.Merchant == nil || req.Merchant.ID <= 0 {
		return &ValidationError{Field: "merchant", Reason: "required"}
	}
	code, err := NormalizeSessionCode(req.SessionCode)
	if err != nil {
		return err
	}
	req.SessionCode = code
	if !req.ReceiptAmount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "gt=0"}
	}
	if req.RedeemPoints < 0 {
		return &ValidationError{Field: "redeemPoints", Reason: "gte=0"}
	}
	req.ReceiptID = strings.TrimSpace(req.ReceiptID)
	if len(req.ReceiptID) > maxReceiptIDLength {
		return &ValidationError{Field: "receiptId", Reason: "max=128"}
	}
	return nil
}

// Checkout consumes the session code, applies the redemption then the earn as
// two ledger entries, and notifies the customer once everything is committed.
func (o *CheckoutOrchestrator) Checkout(ctx context.Context, req CheckoutRequest) (result *CheckoutResult, err error) {
	ctx, span := util.StartSpan(ctx, "CheckoutOrchestrator.Checkout")
	defer func() { util.EndSpan(span, err) }()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	if err := o.validate(&req); err != nil {
		util.CheckoutsFailedTotal.WithLabelValues(KindValidation.String()).Inc()
		return nil, err
	}

	if cached := o.replay(ctx, req); cached != nil {
		return cached, nil
	}

	var sc *models.SessionCode
	err = o.storage.RunInTx(ctx, func(tx store.Tx) error {
		res, code, err := o.checkoutInTx(ctx, tx, req)
		if err != nil {
			return err
		}
		result, sc = res, code
		return nil
	})
	if err != nil {
		return nil, o.fail(req, err)
	}

	util.CheckoutsTotal.Inc()
	recordCommitted(ledgerResults(result)...)
	o.logger.Info("Checkout completed",
		zap.Int64("merchant_id", req.Merchant.ID),
		zap.Int64("customer_merchant_id", result.Balance.CustomerMerchantID),
		zap.Int64("points_spent", result.Summary.PointsSpent),
		zap.Int64("points_earned", result.Summary.PointsEarned),
		zap.String("receipt_id", req.ReceiptID))

	o.remember(ctx, req, result)
	o.notifyAsync(req, sc, result)
	return result, nil
}

func (o *CheckoutOrchestrator) checkoutInTx(ctx context.Context, tx store.Tx, req CheckoutRequest) (*CheckoutResult, *models.SessionCode, error) {
	now := o.now()

	sc, err := tx.LockSessionCode(ctx, req.Merchant.ID, req.SessionCode)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, nil, storageErr("lock session code", err)
	}
	if sc.EffectiveStatus(now) != models.SessionCodeStatusActive {
		return nil, nil, ErrCodeUsedOrExpired
	}

	result := &CheckoutResult{
		Transactions: make([]models.Transaction, 0, 2),
		Summary:      models.CheckoutSummary{Amount: req.ReceiptAmount},
		ReceiptID:    req.ReceiptID,
	}

	if req.RedeemPoints > 0 {
		if err := EvaluateRedeem(req.Merchant.LoyaltySettings, req.RedeemPoints, req.ReceiptAmount); err != nil {
			return nil, nil, err
		}
		spent, err := o.ledger.applyInTx(ctx, tx, ApplyRequest{
			CustomerMerchantID: sc.CustomerMerchantID,
			Amount:             req.ReceiptAmount,
			PointsSpent:        req.RedeemPoints,
			TransactionType:    models.TransactionTypePointsRedemption,
			Status:             models.TransactionStatusCompleted,
		})
		if err != nil {
			return nil, nil, err
		}
		result.Transactions = append(result.Transactions, spent.Transaction)
		result.Balance = spent.Balance
		result.Summary.PointsSpent = req.RedeemPoints
	}

	earned := ComputeEarn(req.Merchant.LoyaltySettings, req.ReceiptAmount)
	purchase, err := o.ledger.applyInTx(ctx, tx, ApplyRequest{
		CustomerMerchantID: sc.CustomerMerchantID,
		Amount:             req.ReceiptAmount,
		PointsEarned:       earned,
		TransactionType:    models.TransactionTypePurchase,
		Status:             models.TransactionStatusCompleted,
	})
	if err != nil {
		return nil, nil, err
	}
	result.Transactions = append(result.Transactions, purchase.Transaction)
	result.Balance = purchase.Balance
	result.Summary.PointsEarned = earned

	if err := tx.MarkSessionCodeUsed(ctx, sc.ID, now); err != nil {
		return nil, nil, storageErr("mark session code used", err)
	}
	sc.Status = models.SessionCodeStatusUsed
	sc.UsedAt = &now

	enrollment, err := tx.GetEnrollment(ctx, sc.CustomerMerchantID)
	if err != nil {
		return nil, nil, storageErr("get enrollment", err)
	}
	result.Customer = *enrollment

	return result, sc, nil
}

// Lookup reports the customer behind an active code without consuming it
func (o *CheckoutOrchestrator) Lookup(ctx context.Context, merchant *models.Merchant, rawCode string) (result *LookupResult, err error) {
	ctx, span := util.StartSpan(ctx, "CheckoutOrchestrator.Lookup")
	defer func() { util.EndSpan(span, err) }()

	if merchant == nil || merchant.ID <= 0 {
		return nil, &ValidationError{Field: "merchant", Reason: "required"}
	}
	code, err := NormalizeSessionCode(rawCode)
	if err != nil {
		return nil, err
	}

	sc, err := o.storage.FindActiveSessionCode(ctx, merchant.ID, code, o.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCodeNotFound
	}
	if err != nil {
		return nil, storageErr("find session code", err)
	}

	enrollment, err := o.storage.GetEnrollment(ctx, sc.CustomerMerchantID)
	if err != nil {
		return nil, storageErr("get enrollment", err)
	}
	bal, err := o.storage.GetBalance(ctx, sc.CustomerMerchantID)
	if err != nil {
		return nil, storageErr("get balance", err)
	}

	return &LookupResult{
		Customer:           *enrollment,
		Balance:            *bal,
		Settings:           merchant.LoyaltySettings,
		MaxRedeemByBalance: bal.Points,
		ExpiresAt:          sc.ExpiresAt,
	}, nil
}

// Wait blocks until in-flight notifications finish
func (o *CheckoutOrchestrator) Wait() {
	o.wg.Wait()
}

// cachedCheckout pairs a committed result with the request that produced it
type cachedCheckout struct {
	SessionCode   string          `json:"sessionCode"`
	ReceiptAmount decimal.Decimal `json:"receiptAmount"`
	RedeemPoints  int64           `json:"redeemPoints"`
	Result        CheckoutResult  `json:"result"`
}

func (c *cachedCheckout) matches(req CheckoutRequest) bool {
	return c.SessionCode == req.SessionCode &&
		c.ReceiptAmount.Equal(req.ReceiptAmount) &&
		c.RedeemPoints == req.RedeemPoints
}

// replay returns the cached result only for a retry of the same request;
// anything else falls through so the code lock decides.
func (o *CheckoutOrchestrator) replay(ctx context.Context, req CheckoutRequest) *CheckoutResult {
	if o.receipts == nil || req.ReceiptID == "" {
		return nil
	}

	var cached cachedCheckout
	found, err := o.receipts.GetCheckoutResult(ctx, req.Merchant.ID, req.ReceiptID, &cached)
	if err != nil {
		o.logger.Warn("Receipt cache lookup failed",
			zap.Int64("merchant_id", req.Merchant.ID),
			zap.String("receipt_id", req.ReceiptID),
			zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}
	if !cached.matches(req) {
		o.logger.Info("Receipt id reused with a different checkout",
			zap.Int64("merchant_id", req.Merchant.ID),
			zap.String("receipt_id", req.ReceiptID))
		return nil
	}

	util.CheckoutReplaysTotal.Inc()
	o.logger.Info("Replaying committed checkout",
		zap.Int64("merchant_id", req.Merchant.ID),
		zap.String("receipt_id", req.ReceiptID))
	result := cached.Result
	result.Replayed = true
	return &result
}

func (o *CheckoutOrchestrator) remember(ctx context.Context, req CheckoutRequest, result *CheckoutResult) {
	if o.receipts == nil || req.ReceiptID == "" {
		return
	}
	entry := cachedCheckout{
		SessionCode:   req.SessionCode,
		ReceiptAmount: req.ReceiptAmount,
		RedeemPoints:  req.RedeemPoints,
		Result:        *result,
	}
	if err := o.receipts.SaveCheckoutResult(ctx, req.Merchant.ID, req.ReceiptID, entry, o.opts.ReceiptCacheTTL); err != nil {
		o.logger.Warn("Failed to cache checkout result",
			zap.Int64("merchant_id", req.Merchant.ID),
			zap.String("receipt_id", req.ReceiptID),
			zap.Error(err))
	}
}

// notifyAsync runs after commit; its outcome never reaches the caller
func (o *CheckoutOrchestrator) notifyAsync(req CheckoutRequest, sc *models.SessionCode, result *CheckoutResult) {
	if o.notifier == nil || sc == nil || sc.SubjectID == "" {
		return
	}

	n := &models.CheckoutNotification{
		SubjectID:          sc.SubjectID,
		MerchantID:         req.Merchant.ID,
		MerchantCode:       req.Merchant.Code,
		MerchantName:       req.Merchant.Name,
		CustomerMerchantID: sc.CustomerMerchantID,
		ReceiptID:          req.ReceiptID,
		Summary:            result.Summary,
		Balance:            result.Balance,
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), o.opts.NotifyTimeout)
		defer cancel()

		if err := o.notifier.NotifyCheckout(ctx, n); err != nil {
			o.logger.Warn("Checkout notification failed",
				zap.String("subject_id", n.SubjectID),
				zap.Int64("customer_merchant_id", n.CustomerMerchantID),
				zap.Error(err))
		}
	}()
}

func (o *CheckoutOrchestrator) fail(req CheckoutRequest, err error) error {
	err = classify("checkout", err)
	kind := KindOf(err)
	util.CheckoutsFailedTotal.WithLabelValues(kind.String()).Inc()

	fields := []zap.Field{
		zap.Int64("merchant_id", req.Merchant.ID),
		zap.Int64("redeem_points", req.RedeemPoints),
		zap.Stringer("kind", kind),
		zap.Error(err),
	}
	if kind == KindStorage {
		o.logger.Error("Checkout failed", fields...)
	} else {
		o.logger.Info("Checkout rejected", fields...)
	}
	return err
}

func ledgerResults(r *CheckoutResult) []*ApplyResult {
	results := make([]*ApplyResult, 0, len(r.Transactions))
	for _, txn := range r.Transactions {
		results = append(results, &ApplyResult{Transaction: txn})
	}
	return results
}
