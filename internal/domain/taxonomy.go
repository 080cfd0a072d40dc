package domain

import (
	"errors"
	"fmt"
)

// ErrorKind is one value from the error taxonomy carried through retry and
// circuit-breaker layers. Classification happens once, at the boundary that
// first observes the failure; everything downstream switches on Kind rather
// than re-inspecting the underlying error.
type ErrorKind string

const (
	ErrAuthSignatureInvalid    ErrorKind = "auth/signature_invalid"
	ErrAuthCredentialsInvalid  ErrorKind = "auth/credentials_invalid"
	ErrRateLimitExceeded       ErrorKind = "rate/limit_exceeded"
	ErrRateExchangeThrottled   ErrorKind = "rate/exchange_throttled"
	ErrConfigNoAccount         ErrorKind = "config/no_account"
	ErrConfigAccountInactive   ErrorKind = "config/account_inactive"
	ErrConfigUnsupportedExch   ErrorKind = "config/unsupported_exchange"
	ErrConfigInvalidSize       ErrorKind = "config/invalid_size"
	ErrFundsInsufficient       ErrorKind = "funds/insufficient"
	ErrPriceFeedUnavailable    ErrorKind = "price/feed_unavailable"
	ErrExchangeTransient       ErrorKind = "exchange/transient"
	ErrExchangeLogical         ErrorKind = "exchange/logical"
	ErrCircuitOpen             ErrorKind = "circuit/open"
	ErrInternal                ErrorKind = "internal/unclassified"
)

// Retryable reports whether the queue facade should reschedule a job that
// failed with this kind, per the table in the error taxonomy.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrRateExchangeThrottled, ErrPriceFeedUnavailable, ErrExchangeTransient, ErrCircuitOpen, ErrInternal:
		return true
	default:
		return false
	}
}

// TaxonomyError is a classified failure carrying the taxonomy Kind alongside
// a human-readable reason and the underlying cause, if any.
type TaxonomyError struct {
	Kind   ErrorKind
	Reason string
	Cause  error
}

func (e *TaxonomyError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *TaxonomyError) Unwrap() error { return e.Cause }

// Classify wraps err with the given taxonomy kind and reason. Passing a nil
// err still produces a classified error — Classify is used both to wrap
// failures from dependencies and to construct fresh classified rejections.
func Classify(kind ErrorKind, reason string, cause error) *TaxonomyError {
	return &TaxonomyError{Kind: kind, Reason: reason, Cause: cause}
}

// KindOf extracts the taxonomy kind from err, defaulting to ErrInternal for
// anything that was never classified.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var te *TaxonomyError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ErrInternal
}
