package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aristath/riskboard/internal/batch"
	"github.com/aristath/riskboard/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDB struct {
	name string
	err  error
}

func (f fakeDB) Name() string                          { return f.name }
func (f fakeDB) HealthCheck(ctx context.Context) error { return f.err }

type fakeTrigger struct {
	date time.Time
	ids  []string
	err  error
}

func (f *fakeTrigger) Run(ctx context.Context, date time.Time) (*batch.RunSummary, error) {
	return f.RunPortfolios(ctx, nil, date)
}

func (f *fakeTrigger) RunPortfolios(ctx context.Context, ids []string, date time.Time) (*batch.RunSummary, error) {
	f.date, f.ids = date, ids
	if f.err != nil {
		return nil, f.err
	}
	return &batch.RunSummary{RunID: "run-1", Date: date, Completed: len(ids)}, nil
}

var now = time.Date(2024, 6, 14, 22, 0, 0, 0, time.UTC)

type pingModule struct{}

func (pingModule) RegisterRoutes(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
}

func newTestServer(dbs []HealthChecker, trigger BatchTrigger) http.Handler {
	system := NewSystemHandlers(dbs, trigger, zerolog.Nop())
	system.now = func() time.Time { return now }
	system.startupTime = now.Add(-time.Hour)
	system.hostStats = func() (float64, float64) { return 12.5, 40 }

	return New(Config{
		Log:     zerolog.Nop(),
		Port:    0,
		DevMode: true,
		Modules: []RouteRegistrar{pingModule{}},
		System:  system,
		Metrics: metrics.NewRegistry().Handler(),
	}).Handler()
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := newTestServer([]HealthChecker{fakeDB{name: "portfolio"}, fakeDB{name: "history"}}, &fakeTrigger{})

	rec := serve(h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, int64(3600), resp.UptimeSeconds)
	assert.Len(t, resp.Databases, 2)
}

func TestHealth_Degraded(t *testing.T) {
	h := newTestServer([]HealthChecker{fakeDB{name: "cache", err: errors.New("database disk image is malformed")}}, &fakeTrigger{})

	rec := serve(h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.False(t, resp.Databases[0].Healthy)
}

func TestSystemStatus(t *testing.T) {
	h := newTestServer(nil, &fakeTrigger{})

	rec := serve(h, http.MethodGet, "/api/system/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var env struct {
		Data SystemStatusResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, 12.5, env.Data.CPUPercent)
	assert.Equal(t, 40.0, env.Data.MemoryPercent)
}

func TestRunBatch(t *testing.T) {
	trigger := &fakeTrigger{}
	h := newTestServer(nil, trigger)

	rec := serve(h, http.MethodPost, "/api/batch/run", `{"date":"2024-06-13","portfolio_ids":["p1","p2"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2024-06-13", trigger.date.Format("2006-01-02"))
	assert.Equal(t, []string{"p1", "p2"}, trigger.ids)

	var env struct {
		Data batch.RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "run-1", env.Data.RunID)
	assert.Equal(t, 2, env.Data.Completed)

	rec = serve(h, http.MethodPost, "/api/batch/run", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2024-06-14", trigger.date.Format("2006-01-02"))
	assert.Empty(t, trigger.ids)
}

func TestRunBatch_Errors(t *testing.T) {
	trigger := &fakeTrigger{}
	h := newTestServer(nil, trigger)

	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodPost, "/api/batch/run", `{"date":"June 14"}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodPost, "/api/batch/run", `{`).Code)

	trigger.err = batch.ErrAlreadyRunning
	assert.Equal(t, http.StatusConflict, serve(h, http.MethodPost, "/api/batch/run", "").Code)

	trigger.err = errors.New("failed to list portfolios: database is locked")
	assert.Equal(t, http.StatusInternalServerError, serve(h, http.MethodPost, "/api/batch/run", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(nil, &fakeTrigger{})

	rec := serve(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestModuleRoutesMountedUnderAPI(t *testing.T) {
	h := newTestServer(nil, &fakeTrigger{})

	assert.Equal(t, http.StatusTeapot, serve(h, http.MethodGet, "/api/ping", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/ping", "").Code)
}
