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

const positionColumns = `id, portfolio_id, symbol, underlying_symbol, position_type, investment_class,
	quantity, entry_price, last_price, market_value, entry_date, exit_date`

// PositionRepository handles position database operations
type PositionRepository struct {
	db  *sql.DB // portfolio.db
	log zerolog.Logger
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *sql.DB, log zerolog.Logger) *PositionRepository {
	return &PositionRepository{
		db:  db,
		log: log.With().Str("repo", "position").Logger(),
	}
}

// GetOpenPositions returns positions of a portfolio held on asOf: entered on or before it
// and not exited by it.
func (r *PositionRepository) GetOpenPositions(ctx context.Context, portfolioID string, asOf time.Time) ([]domain.Position, error) {
	date := asOf.Format(domain.DateLayout)
	rows, err := r.db.QueryContext(ctx, `SELECT `+positionColumns+`
		FROM positions
		WHERE portfolio_id = ?
		  AND entry_date <= ?
		  AND (exit_date IS NULL OR exit_date > ?)
		ORDER BY symbol, id`, portfolioID, date, date)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}

	return positions, nil
}

// GetByID returns a single position
func (r *PositionRepository) GetByID(ctx context.Context, id string) (*domain.Position, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	pos, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("position %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position %s: %w", id, err)
	}
	return &pos, nil
}

// Create inserts a position
func (r *PositionRepository) Create(ctx context.Context, p domain.Position) error {
	if !p.PositionType.Valid() {
		return fmt.Errorf("%w: position type %q", domain.ErrInvalidInput, p.PositionType)
	}
	if p.InvestmentClass == "" {
		p.InvestmentClass = domain.InvestmentClassPublic
		if p.PositionType.IsOption() {
			p.InvestmentClass = domain.InvestmentClassOptions
		}
	}

	var exit interface{}
	if p.ExitDate != nil {
		exit = p.ExitDate.Format(domain.DateLayout)
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO positions (`+positionColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.PortfolioID, p.Symbol, p.UnderlyingSymbol, string(p.PositionType), string(p.InvestmentClass),
		p.Quantity.String(), p.EntryPrice.String(), p.LastPrice, p.MarketValue,
		p.EntryDate.Format(domain.DateLayout), exit, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to create position %s: %w", p.ID, err)
	}
	return nil
}

// UpdateMarketData refreshes the last price and cached market value of a position
func (r *PositionRepository) UpdateMarketData(ctx context.Context, id string, lastPrice, marketValue decimal.Decimal) error {
	res, err := r.db.ExecContext(ctx, `UPDATE positions SET last_price = ?, market_value = ?, updated_at = ? WHERE id = ?`,
		lastPrice.String(), marketValue.String(), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update market data for position %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("position %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Close logically closes a position; rows are kept for history
func (r *PositionRepository) Close(ctx context.Context, id string, exitDate time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE positions SET exit_date = ?, updated_at = ? WHERE id = ? AND exit_date IS NULL`,
		exitDate.Format(domain.DateLayout), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to close position %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("open position %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanPosition(row rowScanner) (domain.Position, error) {
	var (
		p            domain.Position
		positionType string
		class        string
		entryDate    string
		exitDate     sql.NullString
	)

	err := row.Scan(&p.ID, &p.PortfolioID, &p.Symbol, &p.UnderlyingSymbol, &positionType, &class,
		&p.Quantity, &p.EntryPrice, &p.LastPrice, &p.MarketValue, &entryDate, &exitDate)
	if err != nil {
		return domain.Position{}, err
	}

	p.PositionType = domain.PositionType(positionType)
	p.InvestmentClass = domain.InvestmentClass(class)

	if p.EntryDate, err = time.Parse(domain.DateLayout, entryDate); err != nil {
		return domain.Position{}, fmt.Errorf("invalid entry_date %q for position %s: %w", entryDate, p.ID, err)
	}
	if exitDate.Valid {
		t, err := time.Parse(domain.DateLayout, exitDate.String)
		if err != nil {
			return domain.Position{}, fmt.Errorf("invalid exit_date %q for position %s: %w", exitDate.String, p.ID, err)
		}
		p.ExitDate = &t
	}

	return p, nil
}
