package snapshots

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/riskboard/internal/database"
	"github.com/aristath/riskboard/internal/domain"
	"github.com/aristath/riskboard/internal/metrics"
	"github.com/aristath/riskboard/internal/modules/exposure"
	"github.com/aristath/riskboard/internal/modules/valuation"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CloseLookup reads stored daily closes for many symbols in one query
type CloseLookup interface {
	GetPrices(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.PricePoint, error)
}

// pnlLookbackDays bounds the search for a previous close; it spans long holiday weekends
const pnlLookbackDays = 10

// EquityUpdater applies a P&L delta to a portfolio's equity inside a transaction
type EquityUpdater interface {
	ApplyEquityDeltaTx(ctx context.Context, tx *sql.Tx, portfolioID string, delta decimal.Decimal) (decimal.Decimal, error)
}

// Service creates daily snapshots. Equity is only mutated after the day's claim is won,
// and in the same transaction that marks the snapshot complete.
type Service struct {
	db        *sql.DB
	repo      *Repository
	positions domain.PositionReader
	equity    EquityUpdater
	closes    CloseLookup
	metrics   *metrics.Registry
	log       zerolog.Logger
}

// NewService creates the snapshot service; db must be the database repo writes to
func NewService(db *sql.DB, repo *Repository, positions domain.PositionReader, equity EquityUpdater, closes CloseLookup, reg *metrics.Registry, log zerolog.Logger) *Service {
	return &Service{
		db:        db,
		repo:      repo,
		positions: positions,
		equity:    equity,
		closes:    closes,
		metrics:   reg,
		log:       log.With().Str("service", "snapshots").Logger(),
	}
}

// CreateDailySnapshot claims (portfolioID, date), computes exposures and daily P&L,
// applies the P&L to equity and completes the snapshot.
// A lost claim returns *domain.SnapshotConflictError and changes nothing.
func (s *Service) CreateDailySnapshot(ctx context.Context, portfolioID string, date time.Time) (*domain.PortfolioSnapshot, error) {
	date = domain.DateOnly(date)

	snap, err := s.repo.Claim(ctx, portfolioID, date)
	var conflict *domain.SnapshotConflictError
	if errors.As(err, &conflict) {
		s.metrics.RecordSnapshotClaim(false)
		s.log.Info().
			Str("portfolio_id", portfolioID).
			Str("date", date.Format(domain.DateLayout)).
			Msg("Snapshot already claimed, skipping")
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	s.metrics.RecordSnapshotClaim(true)

	if err := s.fill(ctx, snap); err != nil {
		// Free the day for a retry; a crash instead leaves the claim for the cleanup job
		if relErr := s.repo.Release(context.WithoutCancel(ctx), snap.ID); relErr != nil {
			s.log.Error().Err(relErr).Str("snapshot_id", snap.ID).Msg("Failed to release snapshot claim")
		}
		return nil, err
	}

	s.log.Info().
		Str("portfolio_id", portfolioID).
		Str("date", date.Format(domain.DateLayout)).
		Str("net_exposure", snap.NetExposure.StringFixed(2)).
		Str("daily_pnl", snap.DailyPnL.StringFixed(2)).
		Str("equity", snap.EquityBalance.StringFixed(2)).
		Msg("Daily snapshot complete")
	return snap, nil
}

func (s *Service) fill(ctx context.Context, snap *domain.PortfolioSnapshot) error {
	open, err := s.positions.GetOpenPositions(ctx, snap.PortfolioID, snap.SnapshotDate)
	if err != nil {
		return fmt.Errorf("failed to load positions: %w", err)
	}

	e := exposure.AggregatePositions(open)
	snap.NetExposure = e.NetExposure
	snap.GrossExposure = e.GrossExposure
	snap.LongExposure = e.LongExposure
	snap.ShortExposure = e.ShortExposure
	snap.PositionCount = e.PositionCount

	snap.DailyPnL, err = s.dailyPnL(ctx, open, snap.SnapshotDate)
	if err != nil {
		return err
	}

	return database.WithTransactionContext(ctx, s.db, func(tx *sql.Tx) error {
		equity, err := s.equity.ApplyEquityDeltaTx(ctx, tx, snap.PortfolioID, snap.DailyPnL)
		if err != nil {
			return fmt.Errorf("failed to apply daily P&L: %w", err)
		}
		snap.EquityBalance = equity
		return s.repo.CompleteTx(ctx, tx, snap)
	})
}

// dailyPnL marks each open position from its previous close to the close on date.
// A position entered on date is marked from its entry price. Positions without a close
// on date, or without a previous close in the lookback window, contribute nothing.
func (s *Service) dailyPnL(ctx context.Context, open []domain.Position, date time.Time) (decimal.Decimal, error) {
	total := decimal.Zero
	if len(open) == 0 {
		return total, nil
	}

	seen := make(map[string]bool, len(open))
	symbols := make([]string, 0, len(open))
	for _, p := range open {
		if !seen[p.Symbol] {
			seen[p.Symbol] = true
			symbols = append(symbols, p.Symbol)
		}
	}
	prices, err := s.closes.GetPrices(ctx, symbols, date.AddDate(0, 0, -pnlLookbackDays), date)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to load closes: %w", err)
	}

	for _, p := range open {
		today, prev := closesAround(prices[p.Symbol], date)
		if today == nil {
			continue
		}

		var prevPrice decimal.Decimal
		if !p.EntryDate.Before(date) {
			prevPrice = p.EntryPrice
		} else {
			if prev == nil {
				continue
			}
			prevPrice = decimal.NewFromFloat(prev.Close)
		}

		current := valuation.ValueAtPrice(p, decimal.NewFromFloat(today.Close), true)
		previous := valuation.ValueAtPrice(p, prevPrice, true)
		total = total.Add(current.Sub(previous))
	}
	return total, nil
}

// closesAround returns the close on date and the latest close before it from an ascending series
func closesAround(series []domain.PricePoint, date time.Time) (today, prev *domain.PricePoint) {
	for i := range series {
		switch {
		case series[i].Date.Equal(date):
			today = &series[i]
		case series[i].Date.Before(date):
			prev = &series[i]
		}
	}
	return today, prev
}
