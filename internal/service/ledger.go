package service

import (
	"context"
	"errors"
	"math"
	"time"

	"loyalty-service/internal/models"
	"loyalty-service/internal/store"
	"loyalty-service/internal/util"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxHistoryLimit   = 50
	maxPointsPerEntry = 1000000000
)

// LedgerService applies point mutations to customer-merchant balances
type LedgerService struct {
	storage  Storage
	validate *validator.Validate
	logger   *zap.Logger
	now      Clock
}

// NewLedgerService creates a new ledger service
func NewLedgerService(storage Storage) *LedgerService {
	return &LedgerService{
		storage:  storage,
		validate: newValidator(),
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// ApplyRequest describes one ledger mutation
type ApplyRequest struct {
	CustomerMerchantID int64                  `json:"customerMerchantId" validate:"required,gt=0"`
	Amount             decimal.Decimal        `json:"amount"`
	PointsEarned       int64                  `json:"pointsEarned" validate:"gte=0,lte=1000000000"`
	PointsSpent        int64                  `json:"pointsSpent" validate:"gte=0,lte=1000000000"`
	TransactionType    models.TransactionType `json:"transactionType" validate:"omitempty,oneof=purchase points_redemption operation"`
	Status             string                 `json:"status" validate:"omitempty,oneof=completed"`
}

// ApplyResult is the committed transaction and the balance right after it
type ApplyResult struct {
	Transaction models.Transaction `json:"transaction"`
	Balance     models.Balance     `json:"balance"`
}

// CustomerRef addresses a customer either by link id or by external identity
type CustomerRef struct {
	CustomerMerchantID int64
	ExternalID         string
	Phone              *string
}

// OperationResult is an ApplyResult together with the resolved enrollment
type OperationResult struct {
	Enrollment models.Enrollment `json:"customer"`
	ApplyResult
}

func (r ApplyRequest) withDefaults() ApplyRequest {
	if r.TransactionType == "" {
		r.TransactionType = models.TransactionTypeOperation
	}
	if r.Status == "" {
		r.Status = models.TransactionStatusCompleted
	}
	return r
}

func (l *LedgerService) validateApply(req ApplyRequest) error {
	if err := validateStruct(l.validate, req); err != nil {
		return err
	}
	if req.Amount.IsNegative() {
		return &ValidationError{Field: "amount", Reason: "gte=0"}
	}
	return nil
}

// Apply runs one ledger mutation in its own atomic unit
func (l *LedgerService) Apply(ctx context.Context, req ApplyRequest) (result *ApplyResult, err error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.Apply")
	defer func() { util.EndSpan(span, err) }()

	req = req.withDefaults()
	if err := l.validateApply(req); err != nil {
		util.LedgerFailuresTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	err = l.storage.RunInTx(ctx, func(tx store.Tx) error {
		res, err := l.applyInTx(ctx, tx, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, l.fail("apply", err)
	}

	recordCommitted(result)
	return result, nil
}

// ApplyForMerchant applies req after checking the link belongs to merchantID
func (l *LedgerService) ApplyForMerchant(ctx context.Context, merchantID int64, req ApplyRequest) (result *ApplyResult, err error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.ApplyForMerchant")
	defer func() { util.EndSpan(span, err) }()

	req = req.withDefaults()
	if err := l.validateApply(req); err != nil {
		util.LedgerFailuresTotal.WithLabelValues("validation").Inc()
		return nil, err
	}

	err = l.storage.RunInTx(ctx, func(tx store.Tx) error {
		if _, err := l.resolveInTx(ctx, tx, merchantID, CustomerRef{CustomerMerchantID: req.CustomerMerchantID}); err != nil {
			return err
		}
		res, err := l.applyInTx(ctx, tx, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, l.fail("apply", err)
	}

	recordCommitted(result)
	return result, nil
}

// Purchase credits points for a receipt at the merchant's earn rate
func (l *LedgerService) Purchase(ctx context.Context, merchant *models.Merchant, ref CustomerRef, amount decimal.Decimal) (*OperationResult, error) {
	if !amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Reason: "gt=0"}
	}
	return l.operate(ctx, "purchase", merchant.ID, ref, ApplyRequest{
		Amount:          amount,
		PointsEarned:    earnAtRate(amount, merchant.EarnRatePer1000),
		TransactionType: models.TransactionTypePurchase,
	})
}

// Redeem debits points; merchant redeem rules apply only at checkout
func (l *LedgerService) Redeem(ctx context.Context, merchant *models.Merchant, ref CustomerRef, points int64, amount decimal.Decimal) (*OperationResult, error) {
	if points <= 0 {
		return nil, &ValidationError{Field: "points", Reason: "gt=0"}
	}
	return l.operate(ctx, "redeem", merchant.ID, ref, ApplyRequest{
		Amount:          amount,
		PointsSpent:     points,
		TransactionType: models.TransactionTypePointsRedemption,
	})
}

func (l *LedgerService) operate(ctx context.Context, op string, merchantID int64, ref CustomerRef, req ApplyRequest) (result *OperationResult, err error) {
	ctx, span := util.StartSpan(ctx, "LedgerService."+op)
	defer func() { util.EndSpan(span, err) }()

	if ref.CustomerMerchantID <= 0 && ref.ExternalID == "" {
		return nil, &ValidationError{Field: "customer", Reason: "required"}
	}
	req = req.withDefaults()
	if req.Amount.IsNegative() {
		return nil, &ValidationError{Field: "amount", Reason: "gte=0"}
	}

	err = l.storage.RunInTx(ctx, func(tx store.Tx) error {
		enrollment, err := l.resolveInTx(ctx, tx, merchantID, ref)
		if err != nil {
			return err
		}
		req.CustomerMerchantID = enrollment.CustomerMerchantID

		res, err := l.applyInTx(ctx, tx, req)
		if err != nil {
			return err
		}
		result = &OperationResult{Enrollment: *enrollment, ApplyResult: *res}
		return nil
	})
	if err != nil {
		return nil, l.fail(op, err)
	}

	recordCommitted(&result.ApplyResult)
	return result, nil
}

// resolveInTx returns the enrollment for ref, creating it for external identities
func (l *LedgerService) resolveInTx(ctx context.Context, tx store.Tx, merchantID int64, ref CustomerRef) (*models.Enrollment, error) {
	if ref.CustomerMerchantID > 0 {
		ok, err := tx.CustomerMerchantBelongsTo(ctx, ref.CustomerMerchantID, merchantID)
		if err != nil {
			return nil, storageErr("check customer merchant", err)
		}
		if !ok {
			return nil, ErrForbidden
		}
		return &models.Enrollment{CustomerMerchantID: ref.CustomerMerchantID, MerchantID: merchantID}, nil
	}

	enrollment, err := tx.GetOrCreateCustomerMerchant(ctx, merchantID, ref.ExternalID, ref.Phone)
	if err != nil {
		return nil, storageErr("resolve enrollment", err)
	}
	return enrollment, nil
}

// applyInTx is the read-validate-write-record primitive. The balance row stays
// locked until the caller's transaction ends; on error nothing is written.
func (l *LedgerService) applyInTx(ctx context.Context, tx store.Tx, req ApplyRequest) (*ApplyResult, error) {
	bal, err := tx.LockBalance(ctx, req.CustomerMerchantID)
	if err != nil {
		return nil, storageErr("lock balance", err)
	}

	if req.PointsEarned > maxPointsPerEntry {
		return nil, &ValidationError{Field: "pointsEarned", Reason: "lte=1000000000"}
	}
	// TotalEarned never drops below Points, so this bounds both
	if req.PointsEarned > math.MaxInt64-bal.TotalEarned {
		return nil, &ValidationError{Field: "pointsEarned", Reason: "balance overflow"}
	}

	newPoints := bal.Points + req.PointsEarned - req.PointsSpent
	if newPoints < 0 {
		return nil, &InsufficientPointsError{Current: bal.Points, Requested: req.PointsSpent}
	}

	now := l.now()
	txn := &models.Transaction{
		CustomerMerchantID: req.CustomerMerchantID,
		Amount:             req.Amount,
		PointsEarned:       req.PointsEarned,
		PointsSpent:        req.PointsSpent,
		TransactionType:    req.TransactionType,
		Status:             req.Status,
		CreatedAt:          now,
	}
	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return nil, storageErr("insert transaction", err)
	}

	bal.Points = newPoints
	bal.TotalEarned += req.PointsEarned
	bal.TotalSpent += req.PointsSpent
	bal.LastActivity = &now
	if err := tx.UpdateBalance(ctx, bal); err != nil {
		return nil, storageErr("update balance", err)
	}

	return &ApplyResult{Transaction: *txn, Balance: *bal}, nil
}

func (l *LedgerService) fail(op string, err error) error {
	err = classify(op, err)
	kind := KindOf(err)
	util.LedgerFailuresTotal.WithLabelValues(kind.String()).Inc()

	if kind == KindStorage {
		l.logger.Error("Ledger operation failed", zap.String("op", op), zap.Error(err))
	} else {
		l.logger.Info("Ledger operation rejected", zap.String("op", op), zap.Stringer("kind", kind), zap.Error(err))
	}
	return err
}

func recordCommitted(results ...*ApplyResult) {
	for _, r := range results {
		if r == nil {
			continue
		}
		util.LedgerTransactionsTotal.WithLabelValues(string(r.Transaction.TransactionType)).Inc()
		util.PointsEarnedTotal.Add(float64(r.Transaction.PointsEarned))
		util.PointsSpentTotal.Add(float64(r.Transaction.PointsSpent))
	}
}

// GetBalance returns the balance of a link owned by merchantID
func (l *LedgerService) GetBalance(ctx context.Context, merchantID, customerMerchantID int64) (*models.Balance, error) {
	if err := l.ensureOwned(ctx, merchantID, customerMerchantID); err != nil {
		return nil, err
	}
	bal, err := l.storage.GetBalance(ctx, customerMerchantID)
	if err != nil {
		return nil, storageErr("get balance", err)
	}
	return bal, nil
}

// History returns the newest transactions of a link owned by merchantID
func (l *LedgerService) History(ctx context.Context, merchantID, customerMerchantID int64, limit int) ([]models.Transaction, error) {
	if err := l.ensureOwned(ctx, merchantID, customerMerchantID); err != nil {
		return nil, err
	}
	txns, err := l.storage.ListTransactions(ctx, customerMerchantID, clampLimit(limit))
	if err != nil {
		return nil, storageErr("list transactions", err)
	}
	return txns, nil
}

// SubjectBalance resolves a Telegram user's current program and its balance
func (l *LedgerService) SubjectBalance(ctx context.Context, telegramID string) (*models.Enrollment, *models.Balance, error) {
	enrollment, err := l.subjectEnrollment(ctx, telegramID)
	if err != nil {
		return nil, nil, err
	}
	bal, err := l.storage.GetBalance(ctx, enrollment.CustomerMerchantID)
	if err != nil {
		return nil, nil, storageErr("get balance", err)
	}
	return enrollment, bal, nil
}

// SubjectHistory resolves a Telegram user's current program and its newest transactions
func (l *LedgerService) SubjectHistory(ctx context.Context, telegramID string, limit int) (*models.Enrollment, []models.Transaction, error) {
	enrollment, err := l.subjectEnrollment(ctx, telegramID)
	if err != nil {
		return nil, nil, err
	}
	txns, err := l.storage.ListTransactions(ctx, enrollment.CustomerMerchantID, clampLimit(limit))
	if err != nil {
		return nil, nil, storageErr("list transactions", err)
	}
	return enrollment, txns, nil
}

func (l *LedgerService) subjectEnrollment(ctx context.Context, telegramID string) (*models.Enrollment, error) {
	if telegramID == "" {
		return nil, &ValidationError{Field: "telegram_id", Reason: "required"}
	}
	enrollment, err := l.storage.FindTelegramEnrollment(ctx, telegramID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotEnrolled
	}
	if err != nil {
		return nil, storageErr("find enrollment", err)
	}
	return enrollment, nil
}

func (l *LedgerService) ensureOwned(ctx context.Context, merchantID, customerMerchantID int64) error {
	enrollment, err := l.storage.GetEnrollment(ctx, customerMerchantID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrForbidden
	}
	if err != nil {
		return storageErr("get enrollment", err)
	}
	if enrollment.MerchantID != merchantID {
		return ErrForbidden
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 10
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
