package snapshots

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/aristath/riskboard/internal/modules/history"
	"github.com/aristath/riskboard/internal/modules/portfolio"
	testingpkg "github.com/aristath/riskboard/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	db         *sql.DB
	repo       *Repository
	portfolios *portfolio.PortfolioRepository
	prices     *history.PriceRepository
	service    *Service
}

func newServiceFixture(t *testing.T, equity EquityUpdater) *serviceFixture {
	t.Helper()
	db := testingpkg.NewMemoryDB(t, "portfolio")
	testingpkg.SeedPortfolio(t, db, testingpkg.NewPortfolioFixture("p1"))

	historyDB := testingpkg.NewMemoryDB(t, "history")
	yesterday := testingpkg.FixtureDate.AddDate(0, 0, -1)
	testingpkg.SeedPrices(t, historyDB, "AAPL", []domain.PricePoint{{Date: yesterday, Close: 148}, {Date: testingpkg.FixtureDate, Close: 150}})
	testingpkg.SeedPrices(t, historyDB, "TSLA", []domain.PricePoint{{Date: yesterday, Close: 204}, {Date: testingpkg.FixtureDate, Close: 200}})

	reader := testingpkg.NewMockPositionReader()
	reader.SetPositions("p1", testingpkg.NewPositionFixtures("p1"))

	f := &serviceFixture{
		db:         db,
		repo:       NewRepository(db, zerolog.Nop()),
		portfolios: portfolio.NewPortfolioRepository(db, zerolog.Nop()),
		prices:     history.NewPriceRepository(historyDB, zerolog.Nop()),
	}
	if equity == nil {
		equity = f.portfolios
	}
	f.service = NewService(db, f.repo, reader, equity, f.prices, nil, zerolog.Nop())
	return f
}

func (f *serviceFixture) equity(t *testing.T) decimal.Decimal {
	t.Helper()
	p, err := f.portfolios.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	return p.EquityBalance
}

func TestCreateDailySnapshot_AppliesPnLOnce(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	snap, err := f.service.CreateDailySnapshot(ctx, "p1", testingpkg.FixtureDate)
	require.NoError(t, err)

	// AAPL +2 × 100, TSLA short -4 × 50; the call has no stored closes
	assert.True(t, snap.DailyPnL.Equal(decimal.NewFromInt(400)), "pnl %s", snap.DailyPnL)
	assert.True(t, snap.EquityBalance.Equal(decimal.NewFromInt(100400)))
	assert.True(t, snap.NetExposure.Equal(decimal.NewFromInt(10000)))
	assert.True(t, snap.GrossExposure.Equal(decimal.NewFromInt(30000)))
	assert.True(t, snap.LongExposure.Equal(decimal.NewFromInt(20000)))
	assert.True(t, snap.ShortExposure.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, 3, snap.PositionCount)
	assert.True(t, snap.IsComplete)

	_, err = f.service.CreateDailySnapshot(ctx, "p1", testingpkg.FixtureDate)
	var conflict *domain.SnapshotConflictError
	require.True(t, errors.As(err, &conflict))
	assert.True(t, f.equity(t).Equal(decimal.NewFromInt(100400)), "equity moved on a repeated run")
}

func TestCreateDailySnapshot_ConcurrentRunsApplyPnLOnce(t *testing.T) {
	f := newServiceFixture(t, nil)
	ctx := context.Background()

	const runs = 4
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		skipped   int
	)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.CreateDailySnapshot(ctx, "p1", testingpkg.FixtureDate)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				completed++
			} else if domain.KindOf(err) == domain.KindSnapshotConflict {
				skipped++
			} else {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, completed)
	assert.Equal(t, runs-1, skipped)
	assert.True(t, f.equity(t).Equal(decimal.NewFromInt(100400)))
}

type failingEquity struct{}

func (failingEquity) ApplyEquityDeltaTx(ctx context.Context, tx *sql.Tx, portfolioID string, delta decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, portfolio.ErrEquityChanged
}

func TestCreateDailySnapshot_FailureReleasesClaim(t *testing.T) {
	f := newServiceFixture(t, failingEquity{})
	ctx := context.Background()

	_, err := f.service.CreateDailySnapshot(ctx, "p1", testingpkg.FixtureDate)
	require.ErrorIs(t, err, portfolio.ErrEquityChanged)

	row, err := f.repo.GetByDate(ctx, "p1", testingpkg.FixtureDate)
	require.NoError(t, err)
	assert.Nil(t, row, "failed run must not leave a claim behind")
	assert.True(t, f.equity(t).Equal(decimal.NewFromInt(100000)))
}

func TestCreateDailySnapshot_NewPositionMarkedFromEntry(t *testing.T) {
	f := newServiceFixture(t, nil)
	reader := testingpkg.NewMockPositionReader()
	reader.SetPositions("p1", []domain.Position{{
		ID: "p1-new", PortfolioID: "p1", Symbol: "AAPL",
		PositionType: domain.PositionTypeLong, InvestmentClass: domain.InvestmentClassPublic,
		Quantity: decimal.NewFromInt(10), EntryPrice: decimal.NewFromInt(149),
		EntryDate: testingpkg.FixtureDate,
	}})
	f.service.positions = reader

	snap, err := f.service.CreateDailySnapshot(context.Background(), "p1", testingpkg.FixtureDate)
	require.NoError(t, err)
	assert.True(t, snap.DailyPnL.Equal(decimal.NewFromInt(10)), "pnl %s", snap.DailyPnL)
}

type countingCloses struct {
	CloseLookup
	calls   int
	symbols []string
}

func (c *countingCloses) GetPrices(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.PricePoint, error) {
	c.calls++
	c.symbols = append(c.symbols, symbols...)
	return c.CloseLookup.GetPrices(ctx, symbols, start, end)
}

func TestCreateDailySnapshot_LoadsClosesInOneQuery(t *testing.T) {
	f := newServiceFixture(t, nil)
	reader := testingpkg.NewMockPositionReader()
	reader.SetPositions("p1", testingpkg.NewPositionFixtures("p1"))
	closes := &countingCloses{CloseLookup: f.prices}
	svc := NewService(f.db, f.repo, reader, f.portfolios, closes, nil, zerolog.Nop())

	snap, err := svc.CreateDailySnapshot(context.Background(), "p1", testingpkg.FixtureDate)
	require.NoError(t, err)
	assert.True(t, snap.DailyPnL.Equal(decimal.NewFromInt(400)), "pnl %s", snap.DailyPnL)
	assert.Equal(t, 1, closes.calls)
	assert.ElementsMatch(t, []string{"AAPL", "TSLA", "SPY240920C00550000"}, closes.symbols)
}

func TestClosesAround(t *testing.T) {
	day := testingpkg.FixtureDate
	series := []domain.PricePoint{
		{Date: day.AddDate(0, 0, -3), Close: 10},
		{Date: day.AddDate(0, 0, -1), Close: 11},
		{Date: day, Close: 12},
	}

	today, prev := closesAround(series, day)
	require.NotNil(t, today)
	require.NotNil(t, prev)
	assert.Equal(t, 12.0, today.Close)
	assert.Equal(t, 11.0, prev.Close)

	today, prev = closesAround(series[:2], day)
	assert.Nil(t, today)
	require.NotNil(t, prev)
	assert.Equal(t, 11.0, prev.Close)

	today, prev = closesAround(nil, day)
	assert.Nil(t, today)
	assert.Nil(t, prev)
}
