// Package snapshots owns the daily portfolio snapshot and its exactly-once claim.
package snapshots

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ErrNotClaimed is returned when completing a row that is not an open claim
var ErrNotClaimed = errors.New("snapshot is not an open claim")

// Repository persists portfolio snapshots.
// The UNIQUE (portfolio_id, snapshot_date) constraint is the only arbiter of who owns a day.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// NewRepository creates a snapshot repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "snapshots").Logger(),
		now: time.Now,
	}
}

// Claim inserts an incomplete placeholder for (portfolioID, date).
// If any row already exists for the key the insert affects nothing and
// *domain.SnapshotConflictError is returned. There is no prior SELECT.
func (r *Repository) Claim(ctx context.Context, portfolioID string, date time.Time) (*domain.PortfolioSnapshot, error) {
	date = domain.DateOnly(date)
	snap := &domain.PortfolioSnapshot{
		ID:           uuid.New().String(),
		PortfolioID:  portfolioID,
		SnapshotDate: date,
		ClaimedAt:    r.now().UTC(),
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO portfolio_snapshots (id, portfolio_id, snapshot_date, is_complete, claimed_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(portfolio_id, snapshot_date) DO NOTHING
	`, snap.ID, portfolioID, date.Format(domain.DateLayout), snap.ClaimedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to claim snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return nil, &domain.SnapshotConflictError{PortfolioID: portfolioID, Date: date}
	}
	return snap, nil
}

// CompleteTx fills a claimed row and marks it complete inside tx
func (r *Repository) CompleteTx(ctx context.Context, tx *sql.Tx, snap *domain.PortfolioSnapshot) error {
	completed := r.now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE portfolio_snapshots SET
			net_exposure = ?, gross_exposure = ?, long_exposure = ?, short_exposure = ?,
			daily_pnl = ?, equity_balance = ?, position_count = ?,
			is_complete = 1, completed_at = ?
		WHERE id = ? AND is_complete = 0
	`,
		snap.NetExposure.String(), snap.GrossExposure.String(), snap.LongExposure.String(), snap.ShortExposure.String(),
		snap.DailyPnL.String(), snap.EquityBalance.String(), snap.PositionCount,
		completed.Unix(), snap.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("snapshot %s: %w", snap.ID, ErrNotClaimed)
	}
	snap.IsComplete = true
	snap.CompletedAt = &completed
	return nil
}

// Release deletes an incomplete claim so the day can be claimed again
func (r *Repository) Release(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM portfolio_snapshots WHERE id = ? AND is_complete = 0`, id)
	if err != nil {
		return fmt.Errorf("failed to release snapshot claim: %w", err)
	}
	return nil
}

// GetLatestComplete returns the newest complete snapshot on or before date, or nil
func (r *Repository) GetLatestComplete(ctx context.Context, portfolioID string, onOrBefore time.Time) (*domain.PortfolioSnapshot, error) {
	row := r.db.QueryRowContext(ctx, selectSnapshot+`
		WHERE portfolio_id = ? AND is_complete = 1 AND snapshot_date <= ?
		ORDER BY snapshot_date DESC
		LIMIT 1
	`, portfolioID, onOrBefore.Format(domain.DateLayout))

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return snap, nil
}

// GetByDate returns the row for (portfolioID, date) in any state, or nil
func (r *Repository) GetByDate(ctx context.Context, portfolioID string, date time.Time) (*domain.PortfolioSnapshot, error) {
	row := r.db.QueryRowContext(ctx, selectSnapshot+`
		WHERE portfolio_id = ? AND snapshot_date = ?
	`, portfolioID, domain.DateOnly(date).Format(domain.DateLayout))

	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	return snap, nil
}

// DeleteStaleIncomplete removes claims older than the cutoff that never completed.
// Complete rows are never touched.
func (r *Repository) DeleteStaleIncomplete(ctx context.Context, claimedBefore time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM portfolio_snapshots WHERE is_complete = 0 AND claimed_at < ?
	`, claimedBefore.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

const selectSnapshot = `
	SELECT id, portfolio_id, snapshot_date, net_exposure, gross_exposure, long_exposure, short_exposure,
		daily_pnl, equity_balance, position_count, is_complete, claimed_at, completed_at
	FROM portfolio_snapshots`

func scanSnapshot(row interface{ Scan(...interface{}) error }) (*domain.PortfolioSnapshot, error) {
	var (
		s         domain.PortfolioSnapshot
		date      string
		claimedAt int64
		completed sql.NullInt64
	)
	err := row.Scan(&s.ID, &s.PortfolioID, &date, &s.NetExposure, &s.GrossExposure, &s.LongExposure, &s.ShortExposure,
		&s.DailyPnL, &s.EquityBalance, &s.PositionCount, &s.IsComplete, &claimedAt, &completed)
	if err != nil {
		return nil, err
	}
	s.SnapshotDate, err = time.Parse(domain.DateLayout, date)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot date %q: %w", date, err)
	}
	s.ClaimedAt = time.Unix(claimedAt, 0).UTC()
	if completed.Valid {
		t := time.Unix(completed.Int64, 0).UTC()
		s.CompletedAt = &t
	}
	return &s, nil
}
