package history

import (
	"context"
	"errors"
	"testing"

	testingpkg "github.com/aristath/riskboard/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceService_FillsGapsFromProviderOnce(t *testing.T) {
	db := testingpkg.NewMemoryDB(t, "history")
	repo := NewPriceRepository(db, zerolog.Nop())
	provider := testingpkg.NewMockMarketDataProvider()
	svc := NewPriceService(repo, provider, zerolog.Nop())
	ctx := context.Background()

	days := testingpkg.TradingDays(testingpkg.FixtureDate, 30)
	aapl := testingpkg.PricesFromReturns(days, 100, testingpkg.RandomReturns(1, 29, 0.01))
	spy := testingpkg.PricesFromReturns(days, 500, testingpkg.RandomReturns(2, 29, 0.01))
	testingpkg.SeedPrices(t, db, "AAPL", aapl)
	provider.SetHistory("SPY", spy)

	out, err := svc.GetPriceHistory(ctx, []string{"AAPL", "SPY", "AAPL"}, days[0], days[29])
	require.NoError(t, err)
	assert.Len(t, out["AAPL"], 30)
	assert.Len(t, out["SPY"], 30)

	reqs := provider.HistoryRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, []string{"SPY"}, reqs[0], "only the uncovered symbol is fetched")

	// Second call is served entirely from the store
	_, err = svc.GetPriceHistory(ctx, []string{"AAPL", "SPY"}, days[0], days[29])
	require.NoError(t, err)
	assert.Len(t, provider.HistoryRequests(), 1)
}

func TestPriceService_ProviderFailureDegradesToStore(t *testing.T) {
	db := testingpkg.NewMemoryDB(t, "history")
	repo := NewPriceRepository(db, zerolog.Nop())
	provider := testingpkg.NewMockMarketDataProvider()
	provider.SetError(errors.New("provider down"))
	svc := NewPriceService(repo, provider, zerolog.Nop())

	days := testingpkg.TradingDays(testingpkg.FixtureDate, 10)
	testingpkg.SeedPrices(t, db, "AAPL", testingpkg.PricesFromReturns(days, 100, testingpkg.RandomReturns(1, 9, 0.01)))

	out, err := svc.GetPriceHistory(context.Background(), []string{"AAPL", "SPY"}, days[0], days[9])
	require.NoError(t, err)
	assert.Len(t, out["AAPL"], 10)
	assert.NotContains(t, out, "SPY")
}

func TestCovers(t *testing.T) {
	days := testingpkg.TradingDays(testingpkg.FixtureDate, 20)
	points := testingpkg.PricesFromReturns(days, 100, testingpkg.RandomReturns(1, 19, 0.01))

	assert.True(t, covers(points, days[0], days[19]))
	assert.False(t, covers(nil, days[0], days[19]))
	assert.False(t, covers(points[:10], days[0], days[19]), "ends more than the tolerance before end")
}
