package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Recorders(t *testing.T) {
	r := NewRegistry()

	r.RecordSnapshotClaim(true)
	r.RecordSnapshotClaim(false)
	r.RecordSnapshotClaim(false)
	r.RecordProviderRequest("fmp", "ok")
	r.RecordExcluded("market_beta", "insufficient_data", 3)
	r.RecordExcluded("market_beta", "insufficient_data", 0)
	r.RecordBatchRun("completed")
	r.RecordStressClipped()
	r.RecordCache("current_prices", "hit")
	r.ObserveStage("valuation", time.Now(), nil)
	r.ObserveStage("valuation", time.Now(), errors.New("x"))

	assert.Equal(t, 1.0, counterValue(t, r, "riskboard_snapshot_claims_total", "claimed"))
	assert.Equal(t, 2.0, counterValue(t, r, "riskboard_snapshot_claims_total", "conflict"))
	assert.Equal(t, 3.0, counterValue(t, r, "riskboard_positions_excluded_total", "insufficient_data"))
	assert.Equal(t, 1.0, counterValue(t, r, "riskboard_stress_clipped_total", ""))
	assert.Equal(t, 2, seriesCount(t, r, "riskboard_stage_duration_seconds"))
}

// counterValue returns the counter series carrying label value, or the unlabelled series
// when label is empty
func counterValue(t *testing.T, r *Registry, name, label string) float64 {
	t.Helper()
	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" && len(m.GetLabel()) == 0 {
				return m.GetCounter().GetValue()
			}
			for _, lp := range m.GetLabel() {
				if lp.GetValue() == label {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func seriesCount(t *testing.T, r *Registry, name string) int {
	t.Helper()
	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return len(mf.GetMetric())
		}
	}
	return 0
}

func TestRegistry_NilSafe(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.RecordSnapshotClaim(true)
		r.RecordProviderRequest("fmp", "ok")
		r.RecordExcluded("x", "y", 1)
		r.RecordBatchRun("failed")
		r.RecordStressClipped()
		r.RecordCache("t", "miss")
		r.ObserveStage("s", time.Now(), nil)
	})
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	r.RecordBatchRun("completed")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `riskboard_batch_portfolio_runs_total{status="completed"} 1`)
}
