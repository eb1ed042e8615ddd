package valuation

import (
	"testing"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allTypes = []domain.PositionType{
	domain.PositionTypeLong,
	domain.PositionTypeShort,
	domain.PositionTypeLongCall,
	domain.PositionTypeLongPut,
	domain.PositionTypeShortCall,
	domain.PositionTypeShortPut,
}

func position(t domain.PositionType, qty, last int64) domain.Position {
	return domain.Position{
		ID:           "pos-1",
		Symbol:       "TEST",
		PositionType: t,
		Quantity:     decimal.NewFromInt(qty),
		EntryPrice:   decimal.NewFromInt(1),
		LastPrice:    decimal.NewNullDecimal(decimal.NewFromInt(last)),
	}
}

func TestGetPositionValue_SignConvention(t *testing.T) {
	for _, typ := range allTypes {
		for _, qty := range []int64{7, -7} {
			p := position(typ, qty, 12)
			signed := GetPositionValue(p, true, true)
			abs := GetPositionValue(p, false, true)

			if typ.IsShort() {
				assert.True(t, signed.IsNegative(), "%s qty %d should be negative", typ, qty)
			} else {
				assert.True(t, signed.IsPositive(), "%s qty %d should be positive", typ, qty)
			}
			assert.True(t, abs.Equal(signed.Abs()), "%s: abs must equal |signed|", typ)
		}
	}
}

func TestGetPositionValue_OptionsMultiplier(t *testing.T) {
	for _, typ := range allTypes {
		if !typ.IsOption() {
			continue
		}
		p := domain.Position{
			Symbol:       "OPT",
			PositionType: typ,
			Quantity:     decimal.NewFromInt(10),
			LastPrice:    decimal.NewNullDecimal(decimal.RequireFromString("5.00")),
		}
		v := GetPositionValue(p, true, true)
		assert.True(t, v.Abs().Equal(decimal.NewFromInt(5000)), "%s: got %s", typ, v)
	}

	stock := position(domain.PositionTypeLong, 10, 5)
	assert.True(t, GetPositionValue(stock, true, true).Equal(decimal.NewFromInt(50)))
}

func TestGetPositionValue_CachedMarketValue(t *testing.T) {
	p := position(domain.PositionTypeShort, 50, 200)
	p.MarketValue = decimal.NewNullDecimal(decimal.NewFromInt(9500))

	assert.True(t, GetPositionValue(p, true, false).Equal(decimal.NewFromInt(-9500)))
	assert.True(t, GetPositionValue(p, false, false).Equal(decimal.NewFromInt(9500)))
	// recalculate ignores the cache
	assert.True(t, GetPositionValue(p, true, true).Equal(decimal.NewFromInt(-10000)))

	// a negatively stored cache still follows the type
	p.PositionType = domain.PositionTypeLong
	p.MarketValue = decimal.NewNullDecimal(decimal.NewFromInt(-9500))
	assert.True(t, GetPositionValue(p, true, false).Equal(decimal.NewFromInt(9500)))
}

func TestGetPositionValue_PriceFallback(t *testing.T) {
	p := domain.Position{
		Symbol:       "AAPL",
		PositionType: domain.PositionTypeLong,
		Quantity:     decimal.NewFromInt(100),
		EntryPrice:   decimal.NewFromInt(140),
	}
	assert.True(t, GetPositionValue(p, true, true).Equal(decimal.NewFromInt(14000)))

	p.LastPrice = decimal.NewNullDecimal(decimal.Zero)
	assert.True(t, GetPositionValue(p, true, true).Equal(decimal.NewFromInt(14000)))
}

func TestGetPositionValue_NoPriceIsZero(t *testing.T) {
	p := domain.Position{
		Symbol:       "GONE",
		PositionType: domain.PositionTypeShort,
		Quantity:     decimal.NewFromInt(100),
	}
	assert.True(t, GetPositionValue(p, true, true).IsZero())
	assert.True(t, GetPositionValue(p, false, false).IsZero())

	_, err := ResolvePrice(p)
	var missing *domain.MissingPriceError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "GONE", missing.Symbol)
}

func TestValueAtPrice(t *testing.T) {
	p := position(domain.PositionTypeShortPut, 3, 0)
	v := ValueAtPrice(p, decimal.RequireFromString("2.5"), true)
	assert.True(t, v.Equal(decimal.NewFromInt(-750)))
	assert.Equal(t, -1, Sign(domain.PositionTypeShortPut))
	assert.Equal(t, 1, Sign(domain.PositionTypeLongPut))
}
