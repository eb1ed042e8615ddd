// Package portfolio provides persistence for portfolios and their positions.
package portfolio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrEquityChanged is returned when equity was modified between read and write
var ErrEquityChanged = errors.New("equity balance changed concurrently")

// PortfolioRepository handles portfolio database operations
type PortfolioRepository struct {
	db  *sql.DB // portfolio.db
	log zerolog.Logger
}

// NewPortfolioRepository creates a new portfolio repository
func NewPortfolioRepository(db *sql.DB, log zerolog.Logger) *PortfolioRepository {
	return &PortfolioRepository{
		db:  db,
		log: log.With().Str("repo", "portfolio").Logger(),
	}
}

// GetByID returns a portfolio or an error wrapping domain.ErrNotFound
func (r *PortfolioRepository) GetByID(ctx context.Context, id string) (*domain.Portfolio, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, owner_id, equity_balance, created_at
		FROM portfolios WHERE id = ?`, id)

	p, err := scanPortfolio(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("portfolio %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio %s: %w", id, err)
	}
	return &p, nil
}

// List returns all portfolios ordered by id
func (r *PortfolioRepository) List(ctx context.Context) ([]domain.Portfolio, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, owner_id, equity_balance, created_at
		FROM portfolios ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query portfolios: %w", err)
	}
	defer rows.Close()

	var portfolios []domain.Portfolio
	for rows.Next() {
		p, err := scanPortfolio(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan portfolio: %w", err)
		}
		portfolios = append(portfolios, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating portfolios: %w", err)
	}
	return portfolios, nil
}

// Create inserts a portfolio
func (r *PortfolioRepository) Create(ctx context.Context, p domain.Portfolio) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO portfolios (id, name, owner_id, equity_balance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.OwnerID, p.EquityBalance.String(), p.CreatedAt.Unix(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to create portfolio %s: %w", p.ID, err)
	}
	r.log.Info().Str("portfolio_id", p.ID).Msg("Portfolio created")
	return nil
}

// ApplyEquityDeltaTx adds delta to the portfolio's equity balance inside tx and returns the new balance.
// The write is conditional on the balance read, so a concurrent modification fails with ErrEquityChanged
// instead of being silently overwritten.
func (r *PortfolioRepository) ApplyEquityDeltaTx(ctx context.Context, tx *sql.Tx, portfolioID string, delta decimal.Decimal) (decimal.Decimal, error) {
	// The stored text is matched verbatim; other writers may not use canonical decimal form.
	var raw string
	err := tx.QueryRowContext(ctx, `SELECT equity_balance FROM portfolios WHERE id = ?`, portfolioID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("portfolio %s: %w", portfolioID, domain.ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read equity for %s: %w", portfolioID, err)
	}
	current, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid equity balance %q for %s: %w", raw, portfolioID, err)
	}

	updated := current.Add(delta)
	res, err := tx.ExecContext(ctx, `UPDATE portfolios SET equity_balance = ?, updated_at = ?
		WHERE id = ? AND equity_balance = ?`,
		updated.String(), time.Now().Unix(), portfolioID, raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to update equity for %s: %w", portfolioID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return decimal.Zero, fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return decimal.Zero, ErrEquityChanged
	}

	return updated, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPortfolio(row rowScanner) (domain.Portfolio, error) {
	var (
		p         domain.Portfolio
		createdAt int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.OwnerID, &p.EquityBalance, &createdAt); err != nil {
		return domain.Portfolio{}, err
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	return p, nil
}
