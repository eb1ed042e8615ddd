// Package history stores daily close prices and serves them with provider fill-through.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/rs/zerolog"
)

// PriceRepository provides access to the daily_prices table in history.db
type PriceRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewPriceRepository creates a new price repository
func NewPriceRepository(db *sql.DB, log zerolog.Logger) *PriceRepository {
	return &PriceRepository{
		db:  db,
		log: log.With().Str("repo", "prices").Logger(),
	}
}

// GetPrices returns closes for every symbol within [start, end] using a single query.
// Series are ordered by date ascending; symbols without rows are absent.
func (r *PriceRepository) GetPrices(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.PricePoint, error) {
	out := make(map[string][]domain.PricePoint, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(symbols)), ",")
	query := fmt.Sprintf(`
		SELECT symbol, date, close
		FROM daily_prices
		WHERE symbol IN (%s) AND date >= ? AND date <= ?
		ORDER BY symbol, date ASC
	`, placeholders)

	args := make([]interface{}, 0, len(symbols)+2)
	for _, s := range symbols {
		args = append(args, s)
	}
	args = append(args, start.Format(domain.DateLayout), end.Format(domain.DateLayout))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			symbol, date string
			close        float64
		)
		if err := rows.Scan(&symbol, &date, &close); err != nil {
			return nil, fmt.Errorf("failed to scan daily price: %w", err)
		}
		d, err := time.Parse(domain.DateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("invalid stored date %q for %s: %w", date, symbol, err)
		}
		out[symbol] = append(out[symbol], domain.PricePoint{Date: d, Close: close})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily prices: %w", err)
	}

	return out, nil
}

// UpsertPrices inserts or replaces closes for one symbol in a single transaction
func (r *PriceRepository) UpsertPrices(ctx context.Context, symbol string, points []domain.PricePoint, source string) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Will be no-op if Commit succeeds

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_prices (symbol, date, close, source, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol, date) DO UPDATE SET
			close = excluded.close,
			source = excluded.source,
			fetched_at = excluded.fetched_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, p := range points {
		if _, err := stmt.ExecContext(ctx, symbol, p.Date.Format(domain.DateLayout), p.Close, source, now); err != nil {
			return fmt.Errorf("failed to upsert price for %s on %s: %w", symbol, p.Date.Format(domain.DateLayout), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.log.Debug().Str("symbol", symbol).Int("count", len(points)).Msg("Upserted daily prices")
	return nil
}

// GetClose returns the close of symbol on date, or nil when not stored
func (r *PriceRepository) GetClose(ctx context.Context, symbol string, date time.Time) (*float64, error) {
	var close float64
	err := r.db.QueryRowContext(ctx,
		"SELECT close FROM daily_prices WHERE symbol = ? AND date = ?",
		symbol, date.Format(domain.DateLayout),
	).Scan(&close)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get close for %s: %w", symbol, err)
	}
	return &close, nil
}

// DeleteBefore removes closes older than cutoff and returns the count
func (r *PriceRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM daily_prices WHERE date < ?", cutoff.Format(domain.DateLayout))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old prices: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}
