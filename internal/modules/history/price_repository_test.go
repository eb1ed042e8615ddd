package history

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	testingpkg "github.com/aristath/riskboard/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceRepository_GetPricesMultiSymbol(t *testing.T) {
	db := testingpkg.NewMemoryDB(t, "history")
	repo := NewPriceRepository(db, zerolog.Nop())
	ctx := context.Background()

	days := testingpkg.TradingDays(testingpkg.FixtureDate, 10)
	testingpkg.SeedPrices(t, db, "AAPL", testingpkg.PricesFromReturns(days, 100, testingpkg.RandomReturns(1, 9, 0.01)))
	testingpkg.SeedPrices(t, db, "SPY", testingpkg.PricesFromReturns(days, 500, testingpkg.RandomReturns(2, 9, 0.01)))

	out, err := repo.GetPrices(ctx, []string{"AAPL", "SPY", "MSFT"}, days[5], days[9])
	require.NoError(t, err)

	assert.Len(t, out, 2)
	assert.Len(t, out["AAPL"], 5)
	assert.Len(t, out["SPY"], 5)
	assert.True(t, out["AAPL"][0].Date.Before(out["AAPL"][4].Date))
	assert.NotContains(t, out, "MSFT")
}

func TestPriceRepository_UpsertReplaces(t *testing.T) {
	db := testingpkg.NewMemoryDB(t, "history")
	repo := NewPriceRepository(db, zerolog.Nop())
	ctx := context.Background()
	d := testingpkg.FixtureDate

	require.NoError(t, repo.UpsertPrices(ctx, "AAPL", []domain.PricePoint{{Date: d, Close: 100}}, "test"))
	require.NoError(t, repo.UpsertPrices(ctx, "AAPL", []domain.PricePoint{{Date: d, Close: 101}}, "test"))

	c, err := repo.GetClose(ctx, "AAPL", d)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, 101.0, *c)

	missing, err := repo.GetClose(ctx, "AAPL", d.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRetentionJob(t *testing.T) {
	db := testingpkg.NewMemoryDB(t, "history")
	repo := NewPriceRepository(db, zerolog.Nop())
	ctx := context.Background()

	testingpkg.SeedPrices(t, db, "AAPL", []domain.PricePoint{
		{Date: testingpkg.FixtureDate.AddDate(-4, 0, 0), Close: 90},
		{Date: testingpkg.FixtureDate, Close: 150},
	})

	job := NewRetentionJob(repo, 3*365*24*time.Hour, zerolog.Nop())
	job.now = func() time.Time { return testingpkg.FixtureDate }
	require.NoError(t, job.Run(ctx))
	assert.Equal(t, "price_retention", job.Name())

	out, err := repo.GetPrices(ctx, []string{"AAPL"}, time.Time{}, testingpkg.FixtureDate)
	require.NoError(t, err)
	assert.Len(t, out["AAPL"], 1)
}
