package factors

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/riskboard/internal/database"
	"github.com/aristath/riskboard/internal/domain"
	"github.com/rs/zerolog"
)

// PositionExposureRecord is a persisted position-level factor beta
type PositionExposureRecord struct {
	domain.FactorExposure
	PortfolioID string
	RawBeta     float64
	Capped      bool
}

// PortfolioExposureRecord is a persisted portfolio-level factor exposure
type PortfolioExposureRecord struct {
	domain.FactorExposure
	PositionsIncluded int
	PositionsExcluded int
}

// Repository persists factor exposures in portfolio.db.
// Rows are keyed by calculation date so re-running a day replaces that day's values.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a factor exposure repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "factor_exposures").Logger(),
	}
}

// Save upserts position and portfolio rows in one transaction
func (r *Repository) Save(ctx context.Context, positions []PositionExposureRecord, portfolio []PortfolioExposureRecord) error {
	if len(positions) == 0 && len(portfolio) == 0 {
		return nil
	}

	now := time.Now().Unix()
	return database.WithTransactionContext(ctx, r.db, func(tx *sql.Tx) error {
		for _, p := range positions {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO position_factor_exposures
				(position_id, portfolio_id, factor, calculation_date, beta, raw_beta, dollar_exposure,
				 r_squared, p_value, observations, capped, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(position_id, factor, calculation_date) DO UPDATE SET
					beta = excluded.beta,
					raw_beta = excluded.raw_beta,
					dollar_exposure = excluded.dollar_exposure,
					r_squared = excluded.r_squared,
					p_value = excluded.p_value,
					observations = excluded.observations,
					capped = excluded.capped,
					created_at = excluded.created_at
			`,
				p.EntityID, p.PortfolioID, p.Factor.String(), p.CalculationDate.Format(domain.DateLayout),
				p.Beta, p.RawBeta, p.DollarExposure, p.RSquared, p.PValue, p.Observations,
				boolToInt(p.Capped), now,
			)
			if err != nil {
				return fmt.Errorf("failed to save %s exposure for position %s: %w", p.Factor, p.EntityID, err)
			}
		}

		for _, p := range portfolio {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO portfolio_factor_exposures
				(portfolio_id, factor, calculation_date, beta, dollar_exposure,
				 positions_included, positions_excluded, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(portfolio_id, factor, calculation_date) DO UPDATE SET
					beta = excluded.beta,
					dollar_exposure = excluded.dollar_exposure,
					positions_included = excluded.positions_included,
					positions_excluded = excluded.positions_excluded,
					created_at = excluded.created_at
			`,
				p.EntityID, p.Factor.String(), p.CalculationDate.Format(domain.DateLayout),
				p.Beta, p.DollarExposure, p.PositionsIncluded, p.PositionsExcluded, now,
			)
			if err != nil {
				return fmt.Errorf("failed to save %s exposure for portfolio %s: %w", p.Factor, p.EntityID, err)
			}
		}
		return nil
	})
}

// LatestCalculationDate returns the newest calculation date on or before date, or nil
func (r *Repository) LatestCalculationDate(ctx context.Context, portfolioID string, onOrBefore time.Time) (*time.Time, error) {
	var d sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(calculation_date) FROM portfolio_factor_exposures
		WHERE portfolio_id = ? AND calculation_date <= ?
	`, portfolioID, onOrBefore.Format(domain.DateLayout)).Scan(&d)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest calculation date: %w", err)
	}
	if !d.Valid {
		return nil, nil
	}
	t, err := time.Parse(domain.DateLayout, d.String)
	if err != nil {
		return nil, fmt.Errorf("invalid calculation date %q: %w", d.String, err)
	}
	return &t, nil
}

// GetPortfolioExposures returns the portfolio rows of one calculation date.
// Rows whose factor key is no longer known are skipped.
func (r *Repository) GetPortfolioExposures(ctx context.Context, portfolioID string, date time.Time) ([]PortfolioExposureRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT factor, beta, dollar_exposure, positions_included, positions_excluded
		FROM portfolio_factor_exposures
		WHERE portfolio_id = ? AND calculation_date = ?
		ORDER BY factor
	`, portfolioID, date.Format(domain.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolio factor exposures: %w", err)
	}
	defer rows.Close()

	var out []PortfolioExposureRecord
	for rows.Next() {
		var (
			key string
			rec PortfolioExposureRecord
		)
		if err := rows.Scan(&key, &rec.Beta, &rec.DollarExposure, &rec.PositionsIncluded, &rec.PositionsExcluded); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio factor exposure: %w", err)
		}
		id, err := domain.ParseFactorID(key)
		if err != nil {
			r.log.Warn().Str("factor", key).Msg("Skipping stored exposure with unknown factor key")
			continue
		}
		rec.EntityID = portfolioID
		rec.Factor = id
		rec.CalculationDate = date
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolio factor exposures: %w", err)
	}
	return out, nil
}

// GetPositionExposures returns the position rows of a portfolio on one calculation date
func (r *Repository) GetPositionExposures(ctx context.Context, portfolioID string, date time.Time) ([]PositionExposureRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT position_id, factor, beta, raw_beta, dollar_exposure, r_squared, p_value, observations, capped
		FROM position_factor_exposures
		WHERE portfolio_id = ? AND calculation_date = ?
		ORDER BY position_id, factor
	`, portfolioID, date.Format(domain.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query position factor exposures: %w", err)
	}
	defer rows.Close()

	var out []PositionExposureRecord
	for rows.Next() {
		var (
			key    string
			capped int
			rec    PositionExposureRecord
		)
		if err := rows.Scan(&rec.EntityID, &key, &rec.Beta, &rec.RawBeta, &rec.DollarExposure,
			&rec.RSquared, &rec.PValue, &rec.Observations, &capped); err != nil {
			return nil, fmt.Errorf("failed to scan position factor exposure: %w", err)
		}
		id, err := domain.ParseFactorID(key)
		if err != nil {
			continue
		}
		rec.Factor = id
		rec.PortfolioID = portfolioID
		rec.CalculationDate = date
		rec.Capped = capped == 1
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position factor exposures: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
