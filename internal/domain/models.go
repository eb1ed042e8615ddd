// Package domain provides core domain models and types.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the storage and wire layout for calendar dates
const DateLayout = "2006-01-02"

// PositionType represents the direction and instrument of a holding
type PositionType string

const (
	PositionTypeLong      PositionType = "LONG"
	PositionTypeShort     PositionType = "SHORT"
	PositionTypeLongCall  PositionType = "LONG_CALL"
	PositionTypeLongPut   PositionType = "LONG_PUT"
	PositionTypeShortCall PositionType = "SHORT_CALL"
	PositionTypeShortPut  PositionType = "SHORT_PUT"
)

// IsShort reports whether the position carries negative signed value
func (t PositionType) IsShort() bool {
	switch t {
	case PositionTypeShort, PositionTypeShortCall, PositionTypeShortPut:
		return true
	}
	return false
}

// IsOption reports whether the contract multiplier applies
func (t PositionType) IsOption() bool {
	switch t {
	case PositionTypeLongCall, PositionTypeLongPut, PositionTypeShortCall, PositionTypeShortPut:
		return true
	}
	return false
}

// Valid reports whether t is a known position type
func (t PositionType) Valid() bool {
	switch t {
	case PositionTypeLong, PositionTypeShort, PositionTypeLongCall,
		PositionTypeLongPut, PositionTypeShortCall, PositionTypeShortPut:
		return true
	}
	return false
}

// InvestmentClass groups positions by data availability
type InvestmentClass string

const (
	InvestmentClassPublic  InvestmentClass = "PUBLIC"
	InvestmentClassOptions InvestmentClass = "OPTIONS"
	// InvestmentClassPrivate has no market data; excluded from regressions
	InvestmentClassPrivate InvestmentClass = "PRIVATE"
)

// Position represents one holding in a portfolio
type Position struct {
	EntryDate        time.Time           `json:"entry_date"`
	ExitDate         *time.Time          `json:"exit_date,omitempty"` // nil while open
	ID               string              `json:"id"`
	PortfolioID      string              `json:"portfolio_id"`
	Symbol           string              `json:"symbol"`
	UnderlyingSymbol string              `json:"underlying_symbol,omitempty"` // options only
	PositionType     PositionType        `json:"position_type"`
	InvestmentClass  InvestmentClass     `json:"investment_class"`
	Quantity         decimal.Decimal     `json:"quantity"`
	EntryPrice       decimal.Decimal     `json:"entry_price"`
	LastPrice        decimal.NullDecimal `json:"last_price"`
	MarketValue      decimal.NullDecimal `json:"market_value"` // cached, refreshed by price sync
}

// IsOpen reports whether the position is held on the given date
func (p Position) IsOpen(asOf time.Time) bool {
	if p.ExitDate == nil {
		return true
	}
	return p.ExitDate.After(asOf)
}

// ReturnSymbol is the symbol whose price history drives the position's regressions
func (p Position) ReturnSymbol() string {
	if p.PositionType.IsOption() && p.UnderlyingSymbol != "" {
		return p.UnderlyingSymbol
	}
	return p.Symbol
}

// Portfolio is a collection of positions with an equity baseline
type Portfolio struct {
	CreatedAt     time.Time       `json:"created_at"`
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	OwnerID       string          `json:"owner_id"`
	EquityBalance decimal.Decimal `json:"equity_balance"`
}

// PortfolioSnapshot is a persisted daily exposure summary
type PortfolioSnapshot struct {
	SnapshotDate  time.Time       `json:"snapshot_date"`
	ClaimedAt     time.Time       `json:"claimed_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	ID            string          `json:"id"`
	PortfolioID   string          `json:"portfolio_id"`
	NetExposure   decimal.Decimal `json:"net_exposure"`
	GrossExposure decimal.Decimal `json:"gross_exposure"`
	LongExposure  decimal.Decimal `json:"long_exposure"`
	ShortExposure decimal.Decimal `json:"short_exposure"`
	DailyPnL      decimal.Decimal `json:"daily_pnl"`
	EquityBalance decimal.Decimal `json:"equity_balance"`
	PositionCount int             `json:"position_count"`
	IsComplete    bool            `json:"is_complete"`
}

// PricePoint is a single daily close
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// FactorExposure is a factor's beta and dollar exposure for a position or portfolio
type FactorExposure struct {
	CalculationDate time.Time `json:"calculation_date"`
	EntityID        string    `json:"entity_id"`
	Factor          FactorID  `json:"factor"`
	Beta            float64   `json:"beta"`
	DollarExposure  float64   `json:"dollar_exposure"`
	RSquared        float64   `json:"r_squared,omitempty"`
	PValue          float64   `json:"p_value,omitempty"`
	Observations    int       `json:"observations,omitempty"`
}

// DateOnly truncates t to midnight UTC
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns whole calendar days from a to b
func DaysBetween(a, b time.Time) int {
	return int(DateOnly(b).Sub(DateOnly(a)).Hours() / 24)
}
