package portfolio

import (
	"context"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/aristath/riskboard/internal/modules/valuation"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// LatestPriceSource supplies current quotes
type LatestPriceSource interface {
	FetchLatestPrice(ctx context.Context, symbol string) (*decimal.Decimal, error)
}

// PositionStore is the subset of PositionRepository the sync needs
type PositionStore interface {
	domain.PositionReader
	UpdateMarketData(ctx context.Context, id string, lastPrice, marketValue decimal.Decimal) error
}

// SyncResult summarizes one market-data refresh
type SyncResult struct {
	Updated int      `json:"updated"`
	Missing []string `json:"missing,omitempty"` // symbols without a quote; cached values kept
	Failed  []string `json:"failed,omitempty"`
}

// MarketDataSync refreshes last_price and the cached market value of open positions
type MarketDataSync struct {
	positions PositionStore
	prices    LatestPriceSource
	log       zerolog.Logger
}

// NewMarketDataSync creates a new market-data sync service
func NewMarketDataSync(positions PositionStore, prices LatestPriceSource, log zerolog.Logger) *MarketDataSync {
	return &MarketDataSync{
		positions: positions,
		prices:    prices,
		log:       log.With().Str("service", "market_data_sync").Logger(),
	}
}

// SyncPortfolio refreshes every open position of a portfolio. Missing quotes leave the
// stored price untouched and are reported, never fatal.
func (s *MarketDataSync) SyncPortfolio(ctx context.Context, portfolioID string, asOf time.Time) (SyncResult, error) {
	positions, err := s.positions.GetOpenPositions(ctx, portfolioID, asOf)
	if err != nil {
		return SyncResult{}, err
	}

	var result SyncResult
	for _, pos := range positions {
		if pos.InvestmentClass == domain.InvestmentClassPrivate {
			continue
		}

		price, err := s.prices.FetchLatestPrice(ctx, pos.Symbol)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Failed to fetch latest price")
			result.Failed = append(result.Failed, pos.Symbol)
			continue
		}
		if price == nil || price.IsZero() {
			result.Missing = append(result.Missing, pos.Symbol)
			continue
		}

		pos.LastPrice = decimal.NewNullDecimal(*price)
		marketValue := valuation.GetPositionValue(pos, true, true)
		if err := s.positions.UpdateMarketData(ctx, pos.ID, *price, marketValue); err != nil {
			return result, err
		}
		result.Updated++
	}

	s.log.Debug().
		Str("portfolio_id", portfolioID).
		Int("updated", result.Updated).
		Int("missing", len(result.Missing)).
		Int("failed", len(result.Failed)).
		Msg("Market data sync complete")

	return result, nil
}
