package returns

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	testingpkg "github.com/aristath/riskboard/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func without(points []domain.PricePoint, idx int) []domain.PricePoint {
	out := append([]domain.PricePoint(nil), points[:idx]...)
	return append(out, points[idx+1:]...)
}

func TestCompute_AlignedDropsDatesMissingForAnySymbol(t *testing.T) {
	days := testingpkg.TradingDays(testingpkg.FixtureDate, 11)
	a := testingpkg.PricesFromReturns(days, 100, testingpkg.RandomReturns(1, 10, 0.01))
	b := testingpkg.PricesFromReturns(days, 50, testingpkg.RandomReturns(2, 10, 0.01))

	// Each symbol has a trading day the other lacks
	prices := map[string][]domain.PricePoint{
		"A": without(a, 7),
		"B": without(b, 3),
	}

	aligned := Compute(prices, []string{"A", "B"}, true)
	aOnly := Compute(prices, []string{"A"}, true)
	bOnly := Compute(prices, []string{"B"}, true)

	// 9 common closes -> 8 returns
	assert.Equal(t, 8, aligned.Len())
	assert.Less(t, aligned.Len(), aOnly.Len())
	assert.Less(t, aligned.Len(), bOnly.Len())

	for _, s := range []string{"A", "B"} {
		col, ok := aligned.Column(s)
		require.True(t, ok)
		require.Len(t, col, aligned.Len())
		for _, v := range col {
			assert.False(t, math.IsNaN(v))
		}
	}
	for _, d := range aligned.Dates {
		assert.NotEqual(t, days[3], d)
		assert.NotEqual(t, days[7], d)
	}
}

func TestCompute_AlignedReturnsSpanSameDays(t *testing.T) {
	days := testingpkg.TradingDays(testingpkg.FixtureDate, 4)
	prices := map[string][]domain.PricePoint{
		"A": {{Date: days[0], Close: 100}, {Date: days[1], Close: 110}, {Date: days[2], Close: 121}, {Date: days[3], Close: 121}},
		"B": {{Date: days[0], Close: 10}, {Date: days[2], Close: 12}, {Date: days[3], Close: 6}},
	}

	tbl := Compute(prices, []string{"A", "B"}, true)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, days[2], tbl.Dates[0])

	a, _ := tbl.Column("A")
	b, _ := tbl.Column("B")
	assert.InDelta(t, 0.21, a[0], 1e-12, "A return spans days[0]..days[2]")
	assert.InDelta(t, 0.2, b[0], 1e-12)
	assert.InDelta(t, -0.5, b[1], 1e-12)
}

func TestCompute_UnalignedKeepsAllDates(t *testing.T) {
	days := testingpkg.TradingDays(testingpkg.FixtureDate, 6)
	a := testingpkg.PricesFromReturns(days, 100, testingpkg.RandomReturns(1, 5, 0.01))
	b := testingpkg.PricesFromReturns(days, 50, testingpkg.RandomReturns(2, 5, 0.01))

	tbl := Compute(map[string][]domain.PricePoint{"A": a, "B": without(b, 2)}, []string{"A", "B"}, false)
	require.Equal(t, 5, tbl.Len())
	assert.False(t, tbl.Aligned)

	col, _ := tbl.Column("B")
	missing := 0
	for _, v := range col {
		if math.IsNaN(v) {
			missing++
		}
	}
	assert.Equal(t, 1, missing)

	row := tbl.Row(1) // days[2] is absent for B
	assert.Contains(t, row, "A")
	assert.NotContains(t, row, "B")
}

func TestCompute_EmptyWhenNoData(t *testing.T) {
	tbl := Compute(map[string][]domain.PricePoint{}, []string{"A", "B"}, true)
	assert.True(t, tbl.IsEmpty())

	days := testingpkg.TradingDays(testingpkg.FixtureDate, 5)
	tbl = Compute(map[string][]domain.PricePoint{
		"A": testingpkg.PricesFromReturns(days, 100, testingpkg.RandomReturns(1, 4, 0.01)),
	}, []string{"A", "B"}, true)
	assert.True(t, tbl.IsEmpty(), "aligned table is empty when one symbol has no prices")
}

func TestTable_Tail(t *testing.T) {
	days := testingpkg.TradingDays(testingpkg.FixtureDate, 11)
	tbl := Compute(map[string][]domain.PricePoint{
		"A": testingpkg.PricesFromReturns(days, 100, testingpkg.RandomReturns(1, 10, 0.01)),
	}, []string{"A"}, true)

	tail := tbl.Tail(4)
	assert.Equal(t, 4, tail.Len())
	assert.Equal(t, days[10], tail.Dates[3])
	col, _ := tail.Column("A")
	assert.Len(t, col, 4)
	assert.Same(t, tbl, tbl.Tail(100))
}

type stubPrices struct {
	data map[string][]domain.PricePoint
	err  error
}

func (s stubPrices) GetPriceHistory(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.PricePoint, error) {
	return s.data, s.err
}

func TestRetriever_GetReturns(t *testing.T) {
	days := testingpkg.TradingDays(testingpkg.FixtureDate, 5)
	r := NewRetriever(stubPrices{data: map[string][]domain.PricePoint{
		"A": testingpkg.PricesFromReturns(days, 100, []float64{0.01, 0.02, -0.01, 0}),
	}}, zerolog.Nop())

	tbl, err := r.GetReturns(context.Background(), []string{"A"}, days[0], days[4], true)
	require.NoError(t, err)
	assert.Equal(t, 4, tbl.Len())

	_, err = r.GetReturns(context.Background(), []string{"A"}, days[4], days[0], true)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	failing := NewRetriever(stubPrices{err: errors.New("db closed")}, zerolog.Nop())
	_, err = failing.GetReturns(context.Background(), []string{"A"}, days[0], days[4], true)
	assert.Error(t, err)
}

func TestWindowStart(t *testing.T) {
	end := testingpkg.FixtureDate
	start := WindowStart(end, 90)
	assert.Equal(t, 136, domain.DaysBetween(start, end))
}
