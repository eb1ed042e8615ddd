package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/aristath/riskboard/internal/batch"
	"github.com/aristath/riskboard/internal/domain"
	overviewhandlers "github.com/aristath/riskboard/internal/modules/overview/handlers"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HealthChecker is a database that can report its health
type HealthChecker interface {
	Name() string
	HealthCheck(ctx context.Context) error
}

// BatchTrigger runs the daily pipeline on demand
type BatchTrigger interface {
	Run(ctx context.Context, date time.Time) (*batch.RunSummary, error)
	RunPortfolios(ctx context.Context, portfolioIDs []string, date time.Time) (*batch.RunSummary, error)
}

// DatabaseStatus is the health of one database
type DatabaseStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is served by /health
type HealthResponse struct {
	Status        string           `json:"status"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Databases     []DatabaseStatus `json:"databases"`
}

// SystemStatusResponse adds host statistics to the health report
type SystemStatusResponse struct {
	HealthResponse
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// BatchRequest selects the date and portfolios of a manual batch run
type BatchRequest struct {
	Date         string   `json:"date,omitempty"`
	PortfolioIDs []string `json:"portfolio_ids,omitempty"`
}

// SystemHandlers handles health, status and operational endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	startupTime time.Time
	databases   []HealthChecker
	batch       BatchTrigger
	now         func() time.Time
	hostStats   func() (cpuPercent, memPercent float64)
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(databases []HealthChecker, batch BatchTrigger, log zerolog.Logger) *SystemHandlers {
	h := &SystemHandlers{
		log:         log.With().Str("component", "system_handlers").Logger(),
		startupTime: time.Now(),
		databases:   databases,
		batch:       batch,
		now:         time.Now,
	}
	h.hostStats = h.getSystemStats
	return h
}

// HandleHealth reports database health; 503 when any database is unhealthy
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := h.health(r.Context())
	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

// HandleSystemStatus reports health plus CPU and memory usage
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.hostStats()
	h.writeData(w, http.StatusOK, SystemStatusResponse{
		HealthResponse: h.health(r.Context()),
		CPUPercent:     cpuPercent,
		MemoryPercent:  memPercent,
	})
}

func (h *SystemHandlers) health(ctx context.Context) HealthResponse {
	resp := HealthResponse{
		Status:        "healthy",
		UptimeSeconds: int64(h.now().Sub(h.startupTime).Seconds()),
		Databases:     make([]DatabaseStatus, 0, len(h.databases)),
	}
	for _, db := range h.databases {
		ds := DatabaseStatus{Name: db.Name(), Healthy: true}
		if err := db.HealthCheck(ctx); err != nil {
			ds.Healthy = false
			ds.Error = err.Error()
			resp.Status = "degraded"
		}
		resp.Databases = append(resp.Databases, ds)
	}
	return resp
}

// HandleRunBatch runs the daily pipeline and returns its summary
// POST /api/batch/run
func (h *SystemHandlers) HandleRunBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, domain.KindInvalidInput, "invalid request body")
		return
	}

	date := domain.DateOnly(h.now())
	if req.Date != "" {
		d, err := time.Parse(domain.DateLayout, req.Date)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, domain.KindInvalidInput, "date must be YYYY-MM-DD")
			return
		}
		date = d
	}

	// A run outlives the server's default write deadline
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.log.Debug().Err(err).Msg("Could not clear write deadline")
	}

	ctx := r.Context()
	var (
		summary *batch.RunSummary
		err     error
	)
	if len(req.PortfolioIDs) > 0 {
		summary, err = h.batch.RunPortfolios(ctx, req.PortfolioIDs, date)
	} else {
		summary, err = h.batch.Run(ctx, date)
	}

	switch {
	case errors.Is(err, batch.ErrAlreadyRunning):
		h.writeError(w, http.StatusConflict, domain.KindSnapshotConflict, err.Error())
	case err != nil && summary == nil:
		kind := domain.KindOf(err)
		h.log.Error().Err(err).Msg("Batch run failed")
		h.writeError(w, overviewhandlers.StatusForKind(kind), kind, err.Error())
	default:
		h.writeData(w, http.StatusOK, summary)
	}
}

// getSystemStats returns CPU and RAM usage percentages.
// The 100ms CPU sample keeps the endpoint responsive.
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPercent[0], 0
	}
	return cpuPercent[0], memStat.UsedPercent
}

func (h *SystemHandlers) writeData(w http.ResponseWriter, status int, data interface{}) {
	h.writeJSON(w, status, map[string]interface{}{
		"data": data,
		"metadata": map[string]interface{}{
			"timestamp": h.now().UTC().Format(time.RFC3339),
		},
	})
}

func (h *SystemHandlers) writeError(w http.ResponseWriter, status int, kind domain.ErrorKind, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": domain.ResultError{Kind: kind, Message: message},
	})
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
