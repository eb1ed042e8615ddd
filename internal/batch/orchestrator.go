// Package batch runs the daily risk pipeline for every portfolio.
//
// Each portfolio runs its stages strictly in order:
// market-data sync, factor calculation, exposure aggregation, stress scenarios and the
// daily snapshot. Portfolios run concurrently up to a configured limit and a failure in
// one portfolio never affects another.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/aristath/riskboard/internal/metrics"
	"github.com/aristath/riskboard/internal/modules/exposure"
	"github.com/aristath/riskboard/internal/modules/factors"
	"github.com/aristath/riskboard/internal/modules/portfolio"
	"github.com/aristath/riskboard/internal/modules/stress"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Stage names, also used as metric labels
const (
	StageSync      = "market_data_sync"
	StageFactors   = "factor_calculation"
	StageExposure  = "exposure_aggregation"
	StageStress    = "stress_scenarios"
	StageSnapshot  = "snapshot"
	StagePortfolio = "portfolio_pipeline"
)

const defaultConcurrency = 4

// Status is the outcome of one portfolio's pipeline
type Status string

const (
	StatusCompleted Status = "completed"
	StatusDegraded  Status = "degraded" // snapshot written, a factor or stress stage failed
	StatusSkipped   Status = "skipped"  // snapshot for the day already claimed
	StatusFailed    Status = "failed"
)

// MarketDataSyncer refreshes position prices
type MarketDataSyncer interface {
	SyncPortfolio(ctx context.Context, portfolioID string, asOf time.Time) (portfolio.SyncResult, error)
}

// SingleFactorCalculator computes one persisted single-factor beta
type SingleFactorCalculator interface {
	Factor() domain.FactorID
	CalculatePortfolio(ctx context.Context, portfolioID string, date time.Time, persist bool) (*factors.SingleFactorResult, error)
}

// MultiFactorCalculator computes persisted style-factor exposures
type MultiFactorCalculator interface {
	CalculatePortfolio(ctx context.Context, portfolioID string, date time.Time, persist bool) (*factors.MultiFactorResult, error)
}

// ExposureComputer aggregates exposures from current positions
type ExposureComputer interface {
	ComputeRealTime(ctx context.Context, portfolioID string, date time.Time) (*exposure.Exposures, error)
}

// StressRunner runs scenarios against a portfolio
type StressRunner interface {
	RunAll(ctx context.Context, portfolioID string, scenarios []stress.Scenario, date time.Time, persist bool) ([]*stress.Result, error)
}

// SnapshotCreator writes the exactly-once daily snapshot
type SnapshotCreator interface {
	CreateDailySnapshot(ctx context.Context, portfolioID string, date time.Time) (*domain.PortfolioSnapshot, error)
}

// StageResult records one stage of one portfolio
type StageResult struct {
	Stage    string        `json:"stage"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
	Kind     string        `json:"kind,omitempty"`
}

// PortfolioResult is the outcome of one portfolio's pipeline
type PortfolioResult struct {
	PortfolioID string        `json:"portfolio_id"`
	Status      Status        `json:"status"`
	Stages      []StageResult `json:"stages"`
	SnapshotID  string        `json:"snapshot_id,omitempty"`

	// Exposures gates the stress and snapshot stages; they read positions themselves
	Exposures *exposure.Exposures `json:"exposures,omitempty"`
	Duration  time.Duration       `json:"duration_ns"`
	Error     string              `json:"error,omitempty"`
}

// RunSummary summarizes one batch run
type RunSummary struct {
	RunID      string            `json:"run_id"`
	Date       time.Time         `json:"date"`
	StartedAt  time.Time         `json:"started_at"`
	Duration   time.Duration     `json:"duration_ns"`
	Completed  int               `json:"completed"`
	Degraded   int               `json:"degraded"`
	Skipped    int               `json:"skipped"`
	Failed     int               `json:"failed"`
	Portfolios []PortfolioResult `json:"portfolios"`
}

// Config holds orchestrator settings
type Config struct {
	Concurrency int
}

// Deps are the pipeline stages
type Deps struct {
	Portfolios  domain.PortfolioReader
	Sync        MarketDataSyncer
	Calculators []SingleFactorCalculator
	MultiFactor MultiFactorCalculator
	Exposures   ExposureComputer
	Stress      StressRunner
	Scenarios   []stress.Scenario
	Snapshots   SnapshotCreator
}

// Orchestrator runs the daily pipeline
type Orchestrator struct {
	cfg     Config
	deps    Deps
	metrics *metrics.Registry
	log     zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	running bool
}

// ErrAlreadyRunning is returned when a run is requested while another is in progress
var ErrAlreadyRunning = errors.New("batch run already in progress")

// NewOrchestrator creates the batch orchestrator; reg may be nil
func NewOrchestrator(cfg Config, deps Deps, reg *metrics.Registry, log zerolog.Logger) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Orchestrator{
		cfg:     cfg,
		deps:    deps,
		metrics: reg,
		log:     log.With().Str("component", "batch").Logger(),
		now:     time.Now,
	}
}

// Run executes the pipeline for every portfolio for date
func (o *Orchestrator) Run(ctx context.Context, date time.Time) (*RunSummary, error) {
	list, err := o.deps.Portfolios.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}
	ids := make([]string, len(list))
	for i, p := range list {
		ids[i] = p.ID
	}
	return o.RunPortfolios(ctx, ids, date)
}

// RunPortfolios executes the pipeline for the given portfolios for date.
// Only one run executes at a time per orchestrator; same-day re-runs are safe because
// the snapshot stage is claim-guarded.
func (o *Orchestrator) RunPortfolios(ctx context.Context, portfolioIDs []string, date time.Time) (*RunSummary, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	o.running = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	date = domain.DateOnly(date)
	summary := &RunSummary{
		RunID:      uuid.New().String(),
		Date:       date,
		StartedAt:  o.now(),
		Portfolios: make([]PortfolioResult, len(portfolioIDs)),
	}
	log := o.log.With().Str("run_id", summary.RunID).Str("date", date.Format(domain.DateLayout)).Logger()
	log.Info().Int("portfolios", len(portfolioIDs)).Int("concurrency", o.cfg.Concurrency).Msg("Starting batch run")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)
	for i, id := range portfolioIDs {
		g.Go(func() error {
			// Per-portfolio errors are recorded in the result, never returned,
			// so one failing portfolio does not cancel the others.
			summary.Portfolios[i] = o.runPortfolio(gctx, id, date, log)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range summary.Portfolios {
		switch r.Status {
		case StatusCompleted:
			summary.Completed++
		case StatusDegraded:
			summary.Degraded++
		case StatusSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
	}
	summary.Duration = time.Since(summary.StartedAt)

	log.Info().
		Int("completed", summary.Completed).
		Int("degraded", summary.Degraded).
		Int("skipped", summary.Skipped).
		Int("failed", summary.Failed).
		Dur("duration", summary.Duration).
		Msg("Batch run finished")

	return summary, ctx.Err()
}

func (o *Orchestrator) runPortfolio(ctx context.Context, portfolioID string, date time.Time, runLog zerolog.Logger) PortfolioResult {
	started := time.Now()
	log := runLog.With().Str("portfolio_id", portfolioID).Logger()
	res := PortfolioResult{PortfolioID: portfolioID}

	degraded := false
	finish := func(status Status, err error) PortfolioResult {
		res.Status = status
		res.Duration = time.Since(started)
		if err != nil {
			res.Error = err.Error()
		}
		o.metrics.ObserveStage(StagePortfolio, started, err)
		o.metrics.RecordBatchRun(string(status))
		return res
	}

	// Valuation must precede aggregation: a sync that cannot read positions aborts the portfolio
	if err := o.stage(ctx, &res, StageSync, func(ctx context.Context) error {
		sr, err := o.deps.Sync.SyncPortfolio(ctx, portfolioID, date)
		if err == nil && (len(sr.Missing) > 0 || len(sr.Failed) > 0) {
			log.Warn().Strs("missing", sr.Missing).Strs("failed", sr.Failed).Msg("Some positions kept their cached prices")
		}
		return err
	}); err != nil {
		log.Error().Err(err).Msg("Market data sync failed")
		return finish(StatusFailed, err)
	}

	if err := o.stage(ctx, &res, StageFactors, func(ctx context.Context) error {
		return o.calculateFactors(ctx, portfolioID, date, log)
	}); err != nil {
		degraded = true
	}

	// Positions that cannot be aggregated after the sync fail the portfolio before stress and snapshot run
	if err := o.stage(ctx, &res, StageExposure, func(ctx context.Context) error {
		e, err := o.deps.Exposures.ComputeRealTime(ctx, portfolioID, date)
		if err != nil {
			return err
		}
		res.Exposures = e
		log.Debug().
			Str("net", e.NetExposure.StringFixed(2)).
			Str("gross", e.GrossExposure.StringFixed(2)).
			Int("positions", e.PositionCount).
			Msg("Exposures aggregated")
		return nil
	}); err != nil {
		log.Error().Err(err).Msg("Exposure aggregation failed")
		return finish(StatusFailed, err)
	}

	if err := o.stage(ctx, &res, StageStress, func(ctx context.Context) error {
		if len(o.deps.Scenarios) == 0 {
			return nil
		}
		_, err := o.deps.Stress.RunAll(ctx, portfolioID, o.deps.Scenarios, date, true)
		return err
	}); err != nil {
		var incomplete *domain.IncompleteFactorSetError
		if errors.As(err, &incomplete) {
			log.Warn().Err(err).Msg("Stress scenarios skipped")
		} else {
			log.Error().Err(err).Msg("Stress scenarios failed")
		}
		degraded = true
	}

	var snap *domain.PortfolioSnapshot
	err := o.stage(ctx, &res, StageSnapshot, func(ctx context.Context) error {
		var err error
		snap, err = o.deps.Snapshots.CreateDailySnapshot(ctx, portfolioID, date)
		return err
	})
	var conflict *domain.SnapshotConflictError
	switch {
	case errors.As(err, &conflict):
		return finish(StatusSkipped, nil)
	case err != nil:
		log.Error().Err(err).Msg("Snapshot failed")
		return finish(StatusFailed, err)
	}
	res.SnapshotID = snap.ID

	if degraded {
		return finish(StatusDegraded, nil)
	}
	return finish(StatusCompleted, nil)
}

// calculateFactors runs every calculator; one failing calculator does not stop the others
func (o *Orchestrator) calculateFactors(ctx context.Context, portfolioID string, date time.Time, log zerolog.Logger) error {
	var errs []error
	for _, c := range o.deps.Calculators {
		r, err := c.CalculatePortfolio(ctx, portfolioID, date, true)
		if err != nil {
			log.Error().Err(err).Str("factor", c.Factor().String()).Msg("Factor calculation failed")
			errs = append(errs, fmt.Errorf("%s: %w", c.Factor(), err))
			continue
		}
		log.Debug().
			Str("factor", c.Factor().String()).
			Float64("beta", r.Beta).
			Int("included", r.DataQuality.PositionsIncluded).
			Int("excluded", r.DataQuality.PositionsExcluded).
			Msg("Factor calculated")
	}

	if o.deps.MultiFactor != nil {
		r, err := o.deps.MultiFactor.CalculatePortfolio(ctx, portfolioID, date, true)
		if err != nil {
			log.Error().Err(err).Msg("Multi-factor calculation failed")
			errs = append(errs, fmt.Errorf("multi_factor: %w", err))
		} else if len(r.Unavailable) > 0 {
			log.Warn().Int("unavailable", len(r.Unavailable)).Msg("Some style factors have no proxy data")
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) stage(ctx context.Context, res *PortfolioResult, name string, fn func(context.Context) error) error {
	started := time.Now()
	err := ctx.Err()
	if err == nil {
		err = fn(ctx)
	}

	sr := StageResult{Stage: name, Duration: time.Since(started)}
	if err != nil {
		sr.Error = err.Error()
		sr.Kind = string(domain.KindOf(err))
	}
	res.Stages = append(res.Stages, sr)

	var conflict *domain.SnapshotConflictError
	if errors.As(err, &conflict) {
		o.metrics.ObserveStage(name, started, nil)
	} else {
		o.metrics.ObserveStage(name, started, err)
	}
	return err
}
