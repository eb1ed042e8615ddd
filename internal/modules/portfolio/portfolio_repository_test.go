package portfolio

import (
	"context"
	"database/sql"
	"testing"

	"github.com/aristath/riskboard/internal/database"
	"github.com/aristath/riskboard/internal/domain"
	testingpkg "github.com/aristath/riskboard/internal/testing"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortfolioRepository_CreateGetList(t *testing.T) {
	db := testingpkg.NewMemoryDB(t, "portfolio")
	repo := NewPortfolioRepository(db, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testingpkg.NewPortfolioFixture("b")))
	require.NoError(t, repo.Create(ctx, testingpkg.NewPortfolioFixture("a")))

	p, err := repo.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Fixture a", p.Name)
	assert.True(t, p.EquityBalance.Equal(decimal.NewFromInt(100000)))

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPortfolioRepository_ApplyEquityDeltaTx(t *testing.T) {
	db := testingpkg.NewMemoryDB(t, "portfolio")
	repo := NewPortfolioRepository(db, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, testingpkg.NewPortfolioFixture("p1")))

	var updated decimal.Decimal
	err := database.WithTransaction(db, func(tx *sql.Tx) error {
		var err error
		updated, err = repo.ApplyEquityDeltaTx(ctx, tx, "p1", decimal.RequireFromString("-1250.75"))
		return err
	})
	require.NoError(t, err)
	assert.True(t, updated.Equal(decimal.RequireFromString("98749.25")))

	p, err := repo.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, p.EquityBalance.Equal(updated))

	err = database.WithTransaction(db, func(tx *sql.Tx) error {
		_, err := repo.ApplyEquityDeltaTx(ctx, tx, "nope", decimal.NewFromInt(1))
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPortfolioRepository_ApplyEquityDeltaTx_NonCanonicalBalance(t *testing.T) {
	db := testingpkg.NewMemoryDB(t, "portfolio")
	repo := NewPortfolioRepository(db, zerolog.Nop())
	ctx := context.Background()
	_, err := db.Exec(`INSERT INTO portfolios (id, name, owner_id, equity_balance, created_at, updated_at)
		VALUES ('p1', 'Onboarded', '', '100000.00', 0, 0)`)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		err = database.WithTransaction(db, func(tx *sql.Tx) error {
			_, err := repo.ApplyEquityDeltaTx(ctx, tx, "p1", decimal.NewFromInt(10))
			return err
		})
		require.NoError(t, err)
	}

	p, err := repo.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, p.EquityBalance.Equal(decimal.NewFromInt(100020)))
}
