package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	testingpkg "github.com/aristath/riskboard/internal/testing"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPortfolios struct{}

func (stubPortfolios) GetByID(ctx context.Context, id string) (*domain.Portfolio, error) {
	if id != "p1" {
		return nil, fmt.Errorf("portfolio %s: %w", id, domain.ErrNotFound)
	}
	p := testingpkg.NewPortfolioFixture(id)
	return &p, nil
}

func (stubPortfolios) List(ctx context.Context) ([]domain.Portfolio, error) {
	return []domain.Portfolio{testingpkg.NewPortfolioFixture("p1")}, nil
}

// stubSnapshots holds one complete snapshot on 2024-06-13 and a pending claim on the fixture date
type stubSnapshots struct{}

func (stubSnapshots) GetByDate(ctx context.Context, portfolioID string, date time.Time) (*domain.PortfolioSnapshot, error) {
	switch date.Format(domain.DateLayout) {
	case "2024-06-13":
		return completeSnapshot(), nil
	case "2024-06-14":
		return &domain.PortfolioSnapshot{ID: "s2", PortfolioID: portfolioID, SnapshotDate: date}, nil
	}
	return nil, nil
}

func (stubSnapshots) GetLatestComplete(ctx context.Context, portfolioID string, onOrBefore time.Time) (*domain.PortfolioSnapshot, error) {
	if onOrBefore.Before(time.Date(2024, 6, 13, 0, 0, 0, 0, time.UTC)) {
		return nil, nil
	}
	return completeSnapshot(), nil
}

func completeSnapshot() *domain.PortfolioSnapshot {
	return &domain.PortfolioSnapshot{
		ID:            "s1",
		PortfolioID:   "p1",
		SnapshotDate:  time.Date(2024, 6, 13, 0, 0, 0, 0, time.UTC),
		NetExposure:   decimal.NewFromInt(10000),
		GrossExposure: decimal.NewFromInt(30000),
		IsComplete:    true,
	}
}

type envelope struct {
	Data  *domain.PortfolioSnapshot `json:"data"`
	Error *domain.ResultError       `json:"error"`
}

func do(t *testing.T, path string) (int, envelope) {
	t.Helper()
	h := NewHandler(stubPortfolios{}, stubSnapshots{}, zerolog.Nop())
	h.now = func() time.Time { return testingpkg.FixtureDate.Add(9 * time.Hour) }
	r := chi.NewRouter()
	r.Route("/api", h.RegisterRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHandleGetLatest(t *testing.T) {
	code, body := do(t, "/api/portfolios/p1/snapshots/latest")

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "s1", body.Data.ID)
	assert.True(t, body.Data.IsComplete)
	assert.True(t, body.Data.NetExposure.Equal(decimal.NewFromInt(10000)))
}

func TestHandleGetLatest_NoneBeforeDate(t *testing.T) {
	code, body := do(t, "/api/portfolios/p1/snapshots/latest?date=2024-06-01")

	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, domain.KindNotFound, body.Error.Kind)
}

func TestHandleGetByDate(t *testing.T) {
	code, body := do(t, "/api/portfolios/p1/snapshots/2024-06-14")

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "s2", body.Data.ID)
	assert.False(t, body.Data.IsComplete)
}

func TestHandleGetByDate_Errors(t *testing.T) {
	tests := []struct {
		path string
		code int
	}{
		{"/api/portfolios/p1/snapshots/2024-05-01", http.StatusNotFound},
		{"/api/portfolios/p1/snapshots/yesterday", http.StatusBadRequest},
		{"/api/portfolios/p9/snapshots/2024-06-13", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			code, _ := do(t, tt.path)
			assert.Equal(t, tt.code, code)
		})
	}
}
