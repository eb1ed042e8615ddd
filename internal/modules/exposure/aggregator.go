// Package exposure aggregates position values into portfolio net, gross, long and short
// exposure. It is the only place these totals are computed.
package exposure

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/aristath/riskboard/internal/metrics"
	"github.com/aristath/riskboard/internal/modules/valuation"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Source says where an exposure summary came from
type Source string

const (
	SourceSnapshot Source = "snapshot"
	SourceRealTime Source = "real_time"
)

// Exposures is a portfolio exposure summary
type Exposures struct {
	PortfolioID     string          `json:"portfolio_id"`
	CalculationDate time.Time       `json:"calculation_date"`
	SnapshotDate    *time.Time      `json:"snapshot_date,omitempty"`
	NetExposure     decimal.Decimal `json:"net_exposure"`
	GrossExposure   decimal.Decimal `json:"gross_exposure"`
	LongExposure    decimal.Decimal `json:"long_exposure"`
	ShortExposure   decimal.Decimal `json:"short_exposure"`
	PositionCount   int             `json:"position_count"`
	Source          Source          `json:"source"`
}

// Leverage is gross exposure over equity; zero equity yields zero
func (e Exposures) Leverage(equity decimal.Decimal) decimal.Decimal {
	if equity.IsZero() {
		return decimal.Zero
	}
	return e.GrossExposure.Div(equity)
}

// AggregatePositions sums signed position values. Short exposure is reported as a
// positive magnitude.
func AggregatePositions(positions []domain.Position) Exposures {
	e := Exposures{
		NetExposure:   decimal.Zero,
		GrossExposure: decimal.Zero,
		LongExposure:  decimal.Zero,
		ShortExposure: decimal.Zero,
		PositionCount: len(positions),
		Source:        SourceRealTime,
	}
	for _, p := range positions {
		signed := valuation.GetPositionValue(p, true, false)
		e.NetExposure = e.NetExposure.Add(signed)
		e.GrossExposure = e.GrossExposure.Add(signed.Abs())
		switch signed.Sign() {
		case 1:
			e.LongExposure = e.LongExposure.Add(signed)
		case -1:
			e.ShortExposure = e.ShortExposure.Add(signed.Abs())
		}
	}
	return e
}

// SnapshotReader reads the latest completed daily snapshot
type SnapshotReader interface {
	GetLatestComplete(ctx context.Context, portfolioID string, onOrBefore time.Time) (*domain.PortfolioSnapshot, error)
}

// Aggregator serves portfolio exposures, preferring a recent completed snapshot
type Aggregator struct {
	positions domain.PositionReader
	snapshots SnapshotReader
	metrics   *metrics.Registry
	log       zerolog.Logger
}

// NewAggregator creates an aggregator; snapshots and reg may be nil
func NewAggregator(positions domain.PositionReader, snapshots SnapshotReader, reg *metrics.Registry, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		positions: positions,
		snapshots: snapshots,
		metrics:   reg,
		log:       log.With().Str("component", "exposure_aggregator").Logger(),
	}
}

// GetPortfolioExposures returns the latest completed snapshot on or before date when it is at
// most maxStalenessDays old, otherwise recomputes from open positions.
// A negative maxStalenessDays always recomputes.
func (a *Aggregator) GetPortfolioExposures(ctx context.Context, portfolioID string, date time.Time, maxStalenessDays int) (*Exposures, error) {
	date = domain.DateOnly(date)

	if a.snapshots != nil && maxStalenessDays >= 0 {
		snap, err := a.snapshots.GetLatestComplete(ctx, portfolioID, date)
		if err != nil {
			// A broken snapshot read must not hide live exposures
			a.log.Warn().Err(err).Str("portfolio_id", portfolioID).Msg("Snapshot lookup failed, recomputing")
		} else if snap != nil {
			age := domain.DaysBetween(snap.SnapshotDate, date)
			if age <= maxStalenessDays {
				a.metrics.RecordCache("portfolio_snapshots", "hit")
				return fromSnapshot(snap, date), nil
			}
			a.log.Debug().
				Str("portfolio_id", portfolioID).
				Int("age_days", age).
				Int("max_staleness_days", maxStalenessDays).
				Msg("Snapshot too old, recomputing")
		}
		a.metrics.RecordCache("portfolio_snapshots", "miss")
	}

	return a.ComputeRealTime(ctx, portfolioID, date)
}

// ComputeRealTime aggregates the portfolio's open positions as of date
func (a *Aggregator) ComputeRealTime(ctx context.Context, portfolioID string, date time.Time) (*Exposures, error) {
	date = domain.DateOnly(date)
	open, err := a.positions.GetOpenPositions(ctx, portfolioID, date)
	if err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}
	e := AggregatePositions(open)
	e.PortfolioID = portfolioID
	e.CalculationDate = date
	return &e, nil
}

func fromSnapshot(s *domain.PortfolioSnapshot, date time.Time) *Exposures {
	snapDate := s.SnapshotDate
	return &Exposures{
		PortfolioID:     s.PortfolioID,
		CalculationDate: date,
		SnapshotDate:    &snapDate,
		NetExposure:     s.NetExposure,
		GrossExposure:   s.GrossExposure,
		LongExposure:    s.LongExposure,
		ShortExposure:   s.ShortExposure,
		PositionCount:   s.PositionCount,
		Source:          SourceSnapshot,
	}
}
