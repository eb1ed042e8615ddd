package factors

import (
	"context"
	"errors"
	"testing"

	"github.com/aristath/riskboard/internal/domain"
	testingpkg "github.com/aristath/riskboard/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func portfolioRow(factor domain.FactorID, beta float64, daysAgo int) PortfolioExposureRecord {
	return PortfolioExposureRecord{
		FactorExposure: domain.FactorExposure{
			CalculationDate: testingpkg.FixtureDate.AddDate(0, 0, -daysAgo),
			EntityID:        "p1",
			Factor:          factor,
			Beta:            beta,
			DollarExposure:  beta * 10000,
		},
		PositionsIncluded: 3,
	}
}

func newExposureRepo(t *testing.T) *Repository {
	db := testingpkg.NewMemoryDB(t, "portfolio")
	testingpkg.SeedPortfolio(t, db, testingpkg.NewPortfolioFixture("p1"))
	return NewRepository(db, zerolog.Nop())
}

func TestGetCompleteExposures_AllActivePresent(t *testing.T) {
	repo := newExposureRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, nil, []PortfolioExposureRecord{
		portfolioRow(domain.FactorMarket, 0.3, 1),
		portfolioRow(domain.FactorValue, 0.5, 1),
		// Stored before short interest was switched off
		portfolioRow(domain.FactorShortInterest, 0.1, 1),
	}))

	svc := NewExposureService(repo, domain.NewFactorConfig([]domain.FactorID{domain.FactorMarket, domain.FactorValue}, nil), zerolog.Nop())
	set, err := svc.GetCompleteExposures(ctx, "p1", testingpkg.FixtureDate)
	require.NoError(t, err)

	assert.True(t, set.CalculationDate.Equal(testingpkg.FixtureDate.AddDate(0, 0, -1)))
	assert.Len(t, set.Exposures, 2)
	assert.Equal(t, 3, set.PositionsIncluded)
	by := set.ByFactor()
	assert.InDelta(t, 3000, by[domain.FactorMarket].DollarExposure, 1e-9)
	assert.NotContains(t, by, domain.FactorShortInterest)
}

func TestGetCompleteExposures_MissingFactorIsAnError(t *testing.T) {
	repo := newExposureRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, nil, []PortfolioExposureRecord{
		portfolioRow(domain.FactorMarket, 0.3, 0),
		portfolioRow(domain.FactorValue, 0.5, 0),
	}))

	active := []domain.FactorID{domain.FactorMarket, domain.FactorValue, domain.FactorGrowth}
	svc := NewExposureService(repo, domain.NewFactorConfig(active, nil), zerolog.Nop())
	set, err := svc.GetCompleteExposures(ctx, "p1", testingpkg.FixtureDate)
	assert.Nil(t, set)

	var incomplete *domain.IncompleteFactorSetError
	require.True(t, errors.As(err, &incomplete))
	assert.Equal(t, []domain.FactorID{domain.FactorGrowth}, incomplete.Missing)
	assert.Equal(t, 3, incomplete.Active)
	assert.Equal(t, domain.KindIncompleteFactors, domain.KindOf(err))
}

func TestGetCompleteExposures_NothingStored(t *testing.T) {
	svc := NewExposureService(newExposureRepo(t), domain.NewFactorConfig([]domain.FactorID{domain.FactorMarket}, nil), zerolog.Nop())
	_, err := svc.GetCompleteExposures(context.Background(), "p1", testingpkg.FixtureDate)

	var incomplete *domain.IncompleteFactorSetError
	require.True(t, errors.As(err, &incomplete))
	assert.Equal(t, []domain.FactorID{domain.FactorMarket}, incomplete.Missing)
}

func TestGetCompleteExposures_IgnoresLaterDates(t *testing.T) {
	repo := newExposureRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, nil, []PortfolioExposureRecord{
		portfolioRow(domain.FactorMarket, 0.3, 3),
		portfolioRow(domain.FactorMarket, 0.9, -2),
	}))

	svc := NewExposureService(repo, domain.NewFactorConfig([]domain.FactorID{domain.FactorMarket}, nil), zerolog.Nop())
	set, err := svc.GetCompleteExposures(ctx, "p1", testingpkg.FixtureDate)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, set.Exposures[0].Beta, 1e-12)
}
