package service

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure classes reported by the ledger core
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindValidation
	KindRuleViolation
	KindInsufficientPoints
	KindCodeNotFound
	KindCodeUsedOrExpired
	KindCodeGenerationExhausted
	KindNotEnrolled
	KindForbidden
	KindThrottled
	KindStorage
)

var kindNames = map[ErrorKind]string{
	KindUnknown:                 "UNKNOWN",
	KindValidation:              "VALIDATION",
	KindRuleViolation:           "RULE_VIOLATION",
	KindInsufficientPoints:      "INSUFFICIENT_POINTS",
	KindCodeNotFound:            "CODE_NOT_FOUND",
	KindCodeUsedOrExpired:       "CODE_ALREADY_USED_OR_EXPIRED",
	KindCodeGenerationExhausted: "CODE_GENERATION_EXHAUSTED",
	KindNotEnrolled:             "NOT_ENROLLED",
	KindForbidden:               "FORBIDDEN",
	KindThrottled:               "THROTTLED",
	KindStorage:                 "STORAGE_FAILURE",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Session code and enrollment failures
var (
	ErrCodeNotFound            = errors.New("session code not found")
	ErrCodeUsedOrExpired       = errors.New("session code already used or expired")
	ErrCodeGenerationExhausted = errors.New("could not generate a unique session code")
	ErrNotEnrolled             = errors.New("customer is not enrolled in a loyalty program")
	ErrForbidden               = errors.New("customer merchant does not belong to this merchant")
	ErrThrottled               = errors.New("too many session code requests")
)

// ValidationError reports malformed or out-of-range input, detected before any lock
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RuleKind identifies which redeem rule was violated
type RuleKind string

const (
	RuleBelowMinimum      RuleKind = "BELOW_MINIMUM"
	RuleNotStepAligned    RuleKind = "NOT_STEP_ALIGNED"
	RuleExceedsPercentCap RuleKind = "EXCEEDS_PERCENT_CAP"
	RuleExceedsReceiptCap RuleKind = "EXCEEDS_RECEIPT_CAP"
)

// RuleViolation reports a redeem request rejected by merchant configuration.
// Limit is the minimum, step or computed cap that was violated.
type RuleViolation struct {
	Kind      RuleKind
	Limit     int64
	Requested int64
}

func (e *RuleViolation) Error() string {
	switch e.Kind {
	case RuleBelowMinimum:
		return fmt.Sprintf("redeem of %d points is below the minimum of %d", e.Requested, e.Limit)
	case RuleNotStepAligned:
		return fmt.Sprintf("redeem of %d points is not a multiple of %d", e.Requested, e.Limit)
	case RuleExceedsPercentCap:
		return fmt.Sprintf("redeem of %d points exceeds the receipt percentage cap of %d", e.Requested, e.Limit)
	case RuleExceedsReceiptCap:
		return fmt.Sprintf("redeem of %d points exceeds the per-receipt cap of %d", e.Requested, e.Limit)
	}
	return fmt.Sprintf("redeem rule %s violated", e.Kind)
}

// InsufficientPointsError reports a debit the balance cannot cover
type InsufficientPointsError struct {
	Current   int64
	Requested int64
}

func (e *InsufficientPointsError) Error() string {
	return fmt.Sprintf("insufficient points: current=%d, requested=%d", e.Current, e.Requested)
}

// StorageError wraps a backing-store failure
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// KindOf classifies err into exactly one ErrorKind
func KindOf(err error) ErrorKind {
	var (
		validation   *ValidationError
		rule         *RuleViolation
		insufficient *InsufficientPointsError
		storage      *StorageError
	)

	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &validation):
		return KindValidation
	case errors.As(err, &rule):
		return KindRuleViolation
	case errors.As(err, &insufficient):
		return KindInsufficientPoints
	case errors.Is(err, ErrCodeNotFound):
		return KindCodeNotFound
	case errors.Is(err, ErrCodeUsedOrExpired):
		return KindCodeUsedOrExpired
	case errors.Is(err, ErrCodeGenerationExhausted):
		return KindCodeGenerationExhausted
	case errors.Is(err, ErrNotEnrolled):
		return KindNotEnrolled
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrThrottled):
		return KindThrottled
	case errors.As(err, &storage):
		return KindStorage
	}
	return KindStorage
}
