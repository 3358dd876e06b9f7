package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"loyalty-service/internal/models"
	"loyalty-service/internal/store"
	"loyalty-service/internal/util"

	"go.uber.org/zap"
)

const (
	SessionCodeLength       = 6
	DefaultSessionCodeTTL   = 3 * time.Minute
	DefaultMaxIssueAttempts = 10
	defaultIssueLimitWindow = time.Minute
	sessionCodeSpace        = 1000000
)

// CodeGenerator produces candidate session code values
type CodeGenerator interface {
	Next() (string, error)
}

// RandomCodeGenerator draws uniformly from 000000-999999
type RandomCodeGenerator struct{}

// Next returns a zero-padded six digit code
func (RandomCodeGenerator) Next() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(sessionCodeSpace))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// NormalizeSessionCode accepts 1-6 digits and left-pads them to six
func NormalizeSessionCode(raw string) (string, error) {
	code := strings.TrimSpace(raw)
	if code == "" || len(code) > SessionCodeLength {
		return "", &ValidationError{Field: "sessionCode", Reason: "must contain 1 to 6 digits"}
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return "", &ValidationError{Field: "sessionCode", Reason: "must contain 1 to 6 digits"}
		}
	}
	return strings.Repeat("0", SessionCodeLength-len(code)) + code, nil
}

// SessionCodeOptions tunes issuing
type SessionCodeOptions struct {
	TTL         time.Duration
	MaxAttempts int
	// IssueLimit is the number of codes one subject may request per minute; 0 disables it.
	IssueLimit int
}

// SessionCodeIssuer issues short-lived codes that identify a customer at the POS
type SessionCodeIssuer struct {
	storage   Storage
	generator CodeGenerator
	limiter   IssueLimiter
	opts      SessionCodeOptions
	logger    *zap.Logger
	now       Clock
}

// NewSessionCodeIssuer creates a new issuer. limiter may be nil.
func NewSessionCodeIssuer(storage Storage, generator CodeGenerator, limiter IssueLimiter, opts SessionCodeOptions) *SessionCodeIssuer {
	if generator == nil {
		generator = RandomCodeGenerator{}
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultSessionCodeTTL
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxIssueAttempts
	}
	return &SessionCodeIssuer{
		storage:   storage,
		generator: generator,
		limiter:   limiter,
		opts:      opts,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// TTL reports how long issued codes stay valid
func (i *SessionCodeIssuer) TTL() time.Duration {
	return i.opts.TTL
}

// IssuedCode is a freshly issued code with the enrollment it stands for
type IssuedCode struct {
	SessionCode models.SessionCode `json:"-"`
	Enrollment  models.Enrollment  `json:"customer"`
}

// Issue reserves a new code binding customerMerchantID at merchantID to subjectID
func (i *SessionCodeIssuer) Issue(ctx context.Context, merchantID, customerMerchantID int64, subjectID string) (sc *models.SessionCode, err error) {
	ctx, span := util.StartSpan(ctx, "SessionCodeIssuer.Issue")
	defer func() { util.EndSpan(span, err) }()

	if merchantID <= 0 {
		return nil, &ValidationError{Field: "merchantId", Reason: "gt=0"}
	}
	if customerMerchantID <= 0 {
		return nil, &ValidationError{Field: "customerMerchantId", Reason: "gt=0"}
	}

	err = i.storage.RunInTx(ctx, func(tx store.Tx) error {
		issued, err := i.issueInTx(ctx, tx, merchantID, customerMerchantID, subjectID)
		if err != nil {
			return err
		}
		sc = issued
		return nil
	})
	if err != nil {
		return nil, i.fail(err)
	}

	util.SessionCodesIssuedTotal.Inc()
	return sc, nil
}

// IssueForSubject resolves the subject's most recent program and issues a code
// for it in the same atomic unit
func (i *SessionCodeIssuer) IssueForSubject(ctx context.Context, telegramID string) (result *IssuedCode, err error) {
	ctx, span := util.StartSpan(ctx, "SessionCodeIssuer.IssueForSubject")
	defer func() { util.EndSpan(span, err) }()

	if strings.TrimSpace(telegramID) == "" {
		return nil, &ValidationError{Field: "telegramUserId", Reason: "required"}
	}

	if i.limiter != nil && i.opts.IssueLimit > 0 {
		allowed, lerr := i.limiter.AllowIssue(ctx, telegramID, i.opts.IssueLimit, defaultIssueLimitWindow)
		if lerr != nil {
			i.logger.Warn("Issue limiter unavailable, allowing request",
				zap.String("subject_id", telegramID), zap.Error(lerr))
		} else if !allowed {
			util.SessionCodesThrottledTotal.Inc()
			return nil, ErrThrottled
		}
	}

	err = i.storage.RunInTx(ctx, func(tx store.Tx) error {
		enrollment, err := tx.FindTelegramEnrollment(ctx, telegramID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotEnrolled
		}
		if err != nil {
			return storageErr("find enrollment", err)
		}

		sc, err := i.issueInTx(ctx, tx, enrollment.MerchantID, enrollment.CustomerMerchantID, telegramID)
		if err != nil {
			return err
		}
		result = &IssuedCode{SessionCode: *sc, Enrollment: *enrollment}
		return nil
	})
	if err != nil {
		return nil, i.fail(err)
	}

	util.SessionCodesIssuedTotal.Inc()
	i.logger.Info("Session code issued",
		zap.Int64("merchant_id", result.SessionCode.MerchantID),
		zap.Int64("customer_merchant_id", result.SessionCode.CustomerMerchantID))
	return result, nil
}

// issueInTx tries at most MaxAttempts candidates; a candidate is taken only if
// no active, unexpired code for the merchant already uses it.
func (i *SessionCodeIssuer) issueInTx(ctx context.Context, tx store.Tx, merchantID, customerMerchantID int64, subjectID string) (*models.SessionCode, error) {
	now := i.now()

	for attempt := 0; attempt < i.opts.MaxAttempts; attempt++ {
		code, err := i.generator.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to generate session code: %w", err)
		}

		free, err := tx.ReserveCodeValue(ctx, merchantID, code, now)
		if err != nil {
			return nil, storageErr("reserve code value", err)
		}
		if !free {
			util.SessionCodeCollisionsTotal.Inc()
			continue
		}

		sc := &models.SessionCode{
			MerchantID:         merchantID,
			CustomerMerchantID: customerMerchantID,
			SubjectID:          subjectID,
			Code:               code,
			Status:             models.SessionCodeStatusActive,
			ExpiresAt:          now.Add(i.opts.TTL),
			CreatedAt:          now,
		}
		if err := tx.InsertSessionCode(ctx, sc); err != nil {
			return nil, storageErr("insert session code", err)
		}
		return sc, nil
	}

	return nil, ErrCodeGenerationExhausted
}

func (i *SessionCodeIssuer) fail(err error) error {
	err = classify("issue session code", err)
	if KindOf(err) == KindStorage {
		i.logger.Error("Session code issue failed", zap.Error(err))
	} else {
		i.logger.Warn("Session code issue rejected", zap.Error(err))
	}
	return err
}
