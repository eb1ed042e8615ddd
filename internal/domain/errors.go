package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind is the stable, presentation-facing classification of a failure
type ErrorKind string

const (
	KindDataInsufficient  ErrorKind = "data_insufficient"
	KindMissingPrice      ErrorKind = "missing_price"
	KindIncompleteFactors ErrorKind = "incomplete_factor_set"
	KindSnapshotConflict  ErrorKind = "snapshot_conflict"
	KindProviderRateLimit ErrorKind = "provider_rate_limit"
	KindProviderTimeout   ErrorKind = "provider_timeout"
	KindProviderFailure   ErrorKind = "provider_failure"
	KindNotFound          ErrorKind = "not_found"
	KindInvalidInput      ErrorKind = "invalid_input"
	KindInternal          ErrorKind = "internal"
)

var (
	// ErrNotFound is returned when an entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is returned for malformed requests or configuration
	ErrInvalidInput = errors.New("invalid input")
)

// DataInsufficientError reports too few aligned observations for a regression
type DataInsufficientError struct {
	Symbol       string
	Observations int
	Required     int
}

func (e *DataInsufficientError) Error() string {
	return fmt.Sprintf("insufficient data for %s: %d observations, need %d", e.Symbol, e.Observations, e.Required)
}

// MissingPriceError reports a position with neither last nor entry price
type MissingPriceError struct {
	Symbol string
}

func (e *MissingPriceError) Error() string {
	return fmt.Sprintf("no price available for %s", e.Symbol)
}

// IncompleteFactorSetError reports that not every active factor has a value
type IncompleteFactorSetError struct {
	Date    time.Time
	Missing []FactorID
	Active  int
}

func (e *IncompleteFactorSetError) Error() string {
	names := make([]string, len(e.Missing))
	for i, f := range e.Missing {
		names[i] = f.Name()
	}
	return fmt.Sprintf("factor exposures unavailable for %s: missing %s (%d of %d active factors calculated)",
		e.Date.Format(DateLayout), strings.Join(names, ", "), e.Active-len(e.Missing), e.Active)
}

// SnapshotConflictError reports a claim on an already-claimed (portfolio, date)
type SnapshotConflictError struct {
	PortfolioID string
	Date        time.Time
}

func (e *SnapshotConflictError) Error() string {
	return fmt.Sprintf("snapshot for portfolio %s on %s already claimed", e.PortfolioID, e.Date.Format(DateLayout))
}

// ProviderError wraps an external market-data failure
type ProviderError struct {
	Provider string
	Symbol   string
	Kind     ErrorKind // KindProviderRateLimit, KindProviderTimeout or KindProviderFailure
	Err      error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s provider %s", e.Provider, strings.TrimPrefix(string(e.Kind), "provider_"))
	if e.Symbol != "" {
		msg += " for " + e.Symbol
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed
func (e *ProviderError) Retryable() bool {
	return e.Kind == KindProviderRateLimit || e.Kind == KindProviderTimeout || e.Kind == KindProviderFailure
}

// KindOf classifies any error chain
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var (
		dataErr     *DataInsufficientError
		priceErr    *MissingPriceError
		factorErr   *IncompleteFactorSetError
		conflictErr *SnapshotConflictError
		providerErr *ProviderError
	)
	switch {
	case errors.As(err, &dataErr):
		return KindDataInsufficient
	case errors.As(err, &priceErr):
		return KindMissingPrice
	case errors.As(err, &factorErr):
		return KindIncompleteFactors
	case errors.As(err, &conflictErr):
		return KindSnapshotConflict
	case errors.As(err, &providerErr):
		return providerErr.Kind
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	}
	return KindInternal
}

// ResultError is the structured error carried inside API-facing results
type ResultError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// NewResultError converts err into a ResultError, or nil
func NewResultError(err error) *ResultError {
	if err == nil {
		return nil
	}
	return &ResultError{Kind: KindOf(err), Message: err.Error()}
}
