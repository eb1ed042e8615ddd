package testing

import (
	"database/sql"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/shopspring/decimal"
)

// FixtureDate is the calculation date used across fixtures
var FixtureDate = time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC)

// NewPortfolioFixture returns a portfolio with a 100k equity baseline
func NewPortfolioFixture(id string) domain.Portfolio {
	return domain.Portfolio{
		ID:            id,
		Name:          "Fixture " + id,
		OwnerID:       "owner-1",
		EquityBalance: decimal.NewFromInt(100000),
		CreatedAt:     FixtureDate.AddDate(-1, 0, 0),
	}
}

// NewPositionFixtures returns the canonical three-position book:
// long 100 AAPL @150, short 50 TSLA @200, long 10 SPY calls @5.
// Net 10000, gross 30000, long 20000, short 10000.
func NewPositionFixtures(portfolioID string) []domain.Position {
	entry := FixtureDate.AddDate(0, -3, 0)
	return []domain.Position{
		{
			ID:              portfolioID + "-aapl",
			PortfolioID:     portfolioID,
			Symbol:          "AAPL",
			PositionType:    domain.PositionTypeLong,
			InvestmentClass: domain.InvestmentClassPublic,
			Quantity:        decimal.NewFromInt(100),
			EntryPrice:      decimal.NewFromInt(140),
			LastPrice:       decimal.NewNullDecimal(decimal.NewFromInt(150)),
			EntryDate:       entry,
		},
		{
			ID:              portfolioID + "-tsla",
			PortfolioID:     portfolioID,
			Symbol:          "TSLA",
			PositionType:    domain.PositionTypeShort,
			InvestmentClass: domain.InvestmentClassPublic,
			Quantity:        decimal.NewFromInt(50),
			EntryPrice:      decimal.NewFromInt(210),
			LastPrice:       decimal.NewNullDecimal(decimal.NewFromInt(200)),
			EntryDate:       entry,
		},
		{
			ID:               portfolioID + "-spyc",
			PortfolioID:      portfolioID,
			Symbol:           "SPY240920C00550000",
			UnderlyingSymbol: "SPY",
			PositionType:     domain.PositionTypeLongCall,
			InvestmentClass:  domain.InvestmentClassOptions,
			Quantity:         decimal.NewFromInt(10),
			EntryPrice:       decimal.NewFromInt(4),
			LastPrice:        decimal.NewNullDecimal(decimal.NewFromInt(5)),
			EntryDate:        entry,
		},
	}
}

// TradingDays returns n weekdays ending on or before end, oldest first
func TradingDays(end time.Time, n int) []time.Time {
	days := make([]time.Time, 0, n)
	d := domain.DateOnly(end)
	for len(days) < n {
		if d.Weekday() != time.Saturday && d.Weekday() != time.Sunday {
			days = append(days, d)
		}
		d = d.AddDate(0, 0, -1)
	}
	for i, j := 0, len(days)-1; i < j; i, j = i+1, j-1 {
		days[i], days[j] = days[j], days[i]
	}
	return days
}

// RandomReturns returns n deterministic normal returns with the given volatility
func RandomReturns(seed int64, n int, vol float64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64() * vol
	}
	return out
}

// LinearReturns builds y = alpha + beta*x + noise
func LinearReturns(x []float64, alpha, beta float64, noise []float64) []float64 {
	y := make([]float64, len(x))
	for i := range x {
		y[i] = alpha + beta*x[i]
		if noise != nil {
			y[i] += noise[i]
		}
	}
	return y
}

// PricesFromReturns compounds returns from a starting price onto dates.
// dates must have len(returns)+1 entries; the first date carries the start price.
func PricesFromReturns(dates []time.Time, start float64, returns []float64) []domain.PricePoint {
	points := make([]domain.PricePoint, 0, len(dates))
	price := start
	points = append(points, domain.PricePoint{Date: dates[0], Close: price})
	for i, r := range returns {
		price *= 1 + r
		points = append(points, domain.PricePoint{Date: dates[i+1], Close: math.Round(price*1e6) / 1e6})
	}
	return points
}

// SeedPortfolio inserts a portfolio row
func SeedPortfolio(t *testing.T, db *sql.DB, p domain.Portfolio) {
	t.Helper()
	now := time.Now().Unix()
	_, err := db.Exec(`INSERT INTO portfolios (id, name, owner_id, equity_balance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`, p.ID, p.Name, p.OwnerID, p.EquityBalance.String(), p.CreatedAt.Unix(), now)
	if err != nil {
		t.Fatalf("Failed to seed portfolio %s: %v", p.ID, err)
	}
}

// SeedPositions inserts position rows
func SeedPositions(t *testing.T, db *sql.DB, positions []domain.Position) {
	t.Helper()
	for _, p := range positions {
		var exit interface{}
		if p.ExitDate != nil {
			exit = p.ExitDate.Format(domain.DateLayout)
		}
		_, err := db.Exec(`INSERT INTO positions (id, portfolio_id, symbol, underlying_symbol, position_type,
			investment_class, quantity, entry_price, last_price, market_value, entry_date, exit_date, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.PortfolioID, p.Symbol, p.UnderlyingSymbol, string(p.PositionType), string(p.InvestmentClass),
			p.Quantity.String(), p.EntryPrice.String(), p.LastPrice, p.MarketValue,
			p.EntryDate.Format(domain.DateLayout), exit, time.Now().Unix())
		if err != nil {
			t.Fatalf("Failed to seed position %s: %v", p.ID, err)
		}
	}
}

// SeedPrices inserts daily closes into the history database
func SeedPrices(t *testing.T, db *sql.DB, symbol string, points []domain.PricePoint) {
	t.Helper()
	for _, p := range points {
		_, err := db.Exec(`INSERT OR REPLACE INTO daily_prices (symbol, date, close, source, fetched_at) VALUES (?, ?, ?, 'fixture', ?)`,
			symbol, p.Date.Format(domain.DateLayout), p.Close, time.Now().Unix())
		if err != nil {
			t.Fatalf("Failed to seed price %s %s: %v", symbol, p.Date.Format(domain.DateLayout), err)
		}
	}
}
