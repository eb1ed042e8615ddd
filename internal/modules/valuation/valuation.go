// Package valuation is the single place where a position's market value is derived.
// Sign conventions and the option contract multiplier live here and nowhere else.
package valuation

import (
	"github.com/aristath/riskboard/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// OptionsMultiplier is the fixed equity option contract size
const OptionsMultiplier = 100

var optionsMultiplier = decimal.NewFromInt(OptionsMultiplier)

// Multiplier returns the contract multiplier for a position type
func Multiplier(t domain.PositionType) decimal.Decimal {
	if t.IsOption() {
		return optionsMultiplier
	}
	return decimal.NewFromInt(1)
}

// Sign returns -1 for short-type positions and +1 otherwise
func Sign(t domain.PositionType) int {
	if t.IsShort() {
		return -1
	}
	return 1
}

// ResolvePrice returns the last price, falling back to the entry price.
// A zero price counts as missing.
func ResolvePrice(p domain.Position) (decimal.Decimal, error) {
	if p.LastPrice.Valid && !p.LastPrice.Decimal.IsZero() {
		return p.LastPrice.Decimal, nil
	}
	if !p.EntryPrice.IsZero() {
		return p.EntryPrice, nil
	}
	return decimal.Zero, &domain.MissingPriceError{Symbol: p.Symbol}
}

// GetPositionValue returns the position's market value, signed (shorts negative) or absolute.
// A cached market value is used unless recalculate is set. A position without any price
// is worth zero; this is logged, never returned as an error.
func GetPositionValue(p domain.Position, signed, recalculate bool) decimal.Decimal {
	if !recalculate && p.MarketValue.Valid {
		// The cached value may have been stored with either sign; direction comes from the type.
		return applySign(p.PositionType, p.MarketValue.Decimal.Abs(), signed)
	}

	price, err := ResolvePrice(p)
	if err != nil {
		log.Warn().
			Str("position_id", p.ID).
			Str("symbol", p.Symbol).
			Msg("No price available for position, valuing at zero")
		return decimal.Zero
	}

	return ValueAtPrice(p, price, signed)
}

// ValueAtPrice values the position at an explicit price. Quantity is taken as a magnitude;
// direction comes only from the position type.
func ValueAtPrice(p domain.Position, price decimal.Decimal, signed bool) decimal.Decimal {
	magnitude := p.Quantity.Abs().Mul(price.Abs()).Mul(Multiplier(p.PositionType))
	return applySign(p.PositionType, magnitude, signed)
}

func applySign(t domain.PositionType, magnitude decimal.Decimal, signed bool) decimal.Decimal {
	if signed && t.IsShort() {
		return magnitude.Neg()
	}
	return magnitude
}
