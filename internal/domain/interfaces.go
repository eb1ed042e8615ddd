package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MarketDataProvider abstracts the external market-data collaborator.
// Implementations may return partial results: symbols that failed are absent
// from the map rather than failing the whole call.
type MarketDataProvider interface {
	FetchHistoricalPrices(ctx context.Context, symbols []string, start, end time.Time) (map[string][]PricePoint, error)
	// FetchLatestPrice returns nil when the provider has no quote
	FetchLatestPrice(ctx context.Context, symbol string) (*decimal.Decimal, error)
}

// PositionReader reads open positions of a portfolio
type PositionReader interface {
	GetOpenPositions(ctx context.Context, portfolioID string, asOf time.Time) ([]Position, error)
}

// PortfolioReader reads portfolios
type PortfolioReader interface {
	GetByID(ctx context.Context, id string) (*Portfolio, error)
	List(ctx context.Context) ([]Portfolio, error)
}
