package portfolio

import (
	"context"
	"testing"

	"github.com/aristath/riskboard/internal/domain"
	testingpkg "github.com/aristath/riskboard/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

func setupPositions(t *testing.T) (*PositionRepository, []domain.Position) {
	t.Helper()
	db := testingpkg.NewMemoryDB(t, "portfolio")
	testingpkg.SeedPortfolio(t, db, testingpkg.NewPortfolioFixture("p1"))

	repo := NewPositionRepository(db, zerolog.Nop())
	fixtures := testingpkg.NewPositionFixtures("p1")
	for _, p := range fixtures {
		require.NoError(t, repo.Create(context.Background(), p))
	}
	return repo, fixtures
}

func TestPositionRepository_GetOpenPositions(t *testing.T) {
	repo, fixtures := setupPositions(t)
	ctx := context.Background()

	open, err := repo.GetOpenPositions(ctx, "p1", testingpkg.FixtureDate)
	require.NoError(t, err)
	require.Len(t, open, 3)

	byID := make(map[string]domain.Position)
	for _, p := range open {
		byID[p.ID] = p
	}
	call := byID[fixtures[2].ID]
	assert.Equal(t, domain.PositionTypeLongCall, call.PositionType)
	assert.Equal(t, domain.InvestmentClassOptions, call.InvestmentClass)
	assert.Equal(t, "SPY", call.UnderlyingSymbol)
	assert.True(t, call.LastPrice.Valid)
	assert.True(t, call.LastPrice.Decimal.Equal(decimal.NewFromInt(5)))
	assert.False(t, call.MarketValue.Valid)
	assert.Nil(t, call.ExitDate)

	// closed positions drop out from the exit date on
	require.NoError(t, repo.Close(ctx, fixtures[1].ID, testingpkg.FixtureDate))
	open, err = repo.GetOpenPositions(ctx, "p1", testingpkg.FixtureDate)
	require.NoError(t, err)
	assert.Len(t, open, 2)

	// ...but remain visible historically
	open, err = repo.GetOpenPositions(ctx, "p1", testingpkg.FixtureDate.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Len(t, open, 3)

	// not yet entered
	open, err = repo.GetOpenPositions(ctx, "p1", testingpkg.FixtureDate.AddDate(-1, 0, 0))
	require.NoError(t, err)
	assert.Empty(t, open)

	assert.ErrorIs(t, repo.Close(ctx, fixtures[1].ID, testingpkg.FixtureDate), domain.ErrNotFound)
}

func TestPositionRepository_UpdateMarketData(t *testing.T) {
	repo, fixtures := setupPositions(t)
	ctx := context.Background()

	require.NoError(t, repo.UpdateMarketData(ctx, fixtures[0].ID, decimal.NewFromInt(155), decimal.NewFromInt(15500)))

	p, err := repo.GetByID(ctx, fixtures[0].ID)
	require.NoError(t, err)
	assert.True(t, p.LastPrice.Decimal.Equal(decimal.NewFromInt(155)))
	assert.True(t, p.MarketValue.Decimal.Equal(decimal.NewFromInt(15500)))

	assert.ErrorIs(t, repo.UpdateMarketData(ctx, "nope", decimal.NewFromInt(1), decimal.NewFromInt(1)), domain.ErrNotFound)
}

func TestPositionRepository_CreateRejectsUnknownType(t *testing.T) {
	repo, _ := setupPositions(t)
	err := repo.Create(context.Background(), domain.Position{ID: "x", PortfolioID: "p1", Symbol: "X", PositionType: "FUTURE"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
