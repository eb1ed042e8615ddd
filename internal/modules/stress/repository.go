package stress

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ResultRepository persists stress results, one row per portfolio, scenario and date
type ResultRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewResultRepository creates a stress result repository
func NewResultRepository(db *sql.DB, log zerolog.Logger) *ResultRepository {
	return &ResultRepository{
		db:  db,
		log: log.With().Str("repo", "stress_results").Logger(),
	}
}

// Save upserts a result
func (r *ResultRepository) Save(ctx context.Context, res *Result) error {
	details, err := json.Marshal(res.Factors)
	if err != nil {
		return fmt.Errorf("failed to encode stress details: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO stress_test_results
		(portfolio_id, scenario_id, calculation_date, net_exposure, direct_impact, correlated_impact, clipped, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(portfolio_id, scenario_id, calculation_date) DO UPDATE SET
			net_exposure = excluded.net_exposure,
			direct_impact = excluded.direct_impact,
			correlated_impact = excluded.correlated_impact,
			clipped = excluded.clipped,
			details = excluded.details,
			created_at = excluded.created_at
	`,
		res.PortfolioID, res.ScenarioID, res.CalculationDate.Format(domain.DateLayout),
		res.NetExposure.String(), res.DirectImpact, res.CorrelatedImpact, res.Clipped,
		details, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save stress result %s: %w", res.ScenarioID, err)
	}
	return nil
}

// GetForDate returns the stored results of a portfolio for one date, by scenario id
func (r *ResultRepository) GetForDate(ctx context.Context, portfolioID string, date time.Time) ([]Result, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT scenario_id, net_exposure, direct_impact, correlated_impact, clipped, details
		FROM stress_test_results
		WHERE portfolio_id = ? AND calculation_date = ?
		ORDER BY scenario_id
	`, portfolioID, date.Format(domain.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query stress results: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var (
			res     Result
			net     string
			details []byte
		)
		if err := rows.Scan(&res.ScenarioID, &net, &res.DirectImpact, &res.CorrelatedImpact, &res.Clipped, &details); err != nil {
			return nil, fmt.Errorf("failed to scan stress result: %w", err)
		}
		res.NetExposure, err = decimal.NewFromString(net)
		if err != nil {
			return nil, fmt.Errorf("invalid net exposure %q: %w", net, err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &res.Factors); err != nil {
				r.log.Warn().Err(err).Str("scenario", res.ScenarioID).Msg("Unreadable stress details")
			}
		}
		res.PortfolioID = portfolioID
		res.CalculationDate = date
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stress results: %w", err)
	}
	return out, nil
}
