package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	date := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{name: "nil", err: nil, expected: ""},
		{name: "data insufficient", err: &DataInsufficientError{Symbol: "AAPL", Observations: 10, Required: 30}, expected: KindDataInsufficient},
		{name: "missing price", err: &MissingPriceError{Symbol: "AAPL"}, expected: KindMissingPrice},
		{name: "incomplete factors", err: &IncompleteFactorSetError{Date: date, Missing: []FactorID{FactorShortInterest}, Active: 7}, expected: KindIncompleteFactors},
		{name: "snapshot conflict", err: &SnapshotConflictError{PortfolioID: "p1", Date: date}, expected: KindSnapshotConflict},
		{name: "rate limit", err: &ProviderError{Provider: "fmp", Kind: KindProviderRateLimit}, expected: KindProviderRateLimit},
		{name: "timeout wrapped", err: fmt.Errorf("fetch: %w", &ProviderError{Provider: "fmp", Kind: KindProviderTimeout, Err: context.DeadlineExceeded}), expected: KindProviderTimeout},
		{name: "not found wrapped", err: fmt.Errorf("portfolio p1: %w", ErrNotFound), expected: KindNotFound},
		{name: "invalid input", err: ErrInvalidInput, expected: KindInvalidInput},
		{name: "anything else", err: errors.New("boom"), expected: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
		})
	}
}

func TestIncompleteFactorSetError_Message(t *testing.T) {
	err := &IncompleteFactorSetError{
		Date:    time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Missing: []FactorID{FactorShortInterest},
		Active:  8,
	}
	assert.Equal(t, "factor exposures unavailable for 2024-03-15: missing Short Interest (7 of 8 active factors calculated)", err.Error())
}

func TestProviderError_UnwrapAndRetryable(t *testing.T) {
	err := &ProviderError{Provider: "fmp", Symbol: "AAPL", Kind: KindProviderTimeout, Err: context.DeadlineExceeded}
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, err.Retryable())
	assert.Contains(t, err.Error(), "fmp provider timeout for AAPL")
}

func TestNewResultError(t *testing.T) {
	assert.Nil(t, NewResultError(nil))
	re := NewResultError(&MissingPriceError{Symbol: "TSLA"})
	assert.Equal(t, KindMissingPrice, re.Kind)
	assert.Equal(t, "no price available for TSLA", re.Message)
}
