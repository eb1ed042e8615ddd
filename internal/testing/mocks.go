package testing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/shopspring/decimal"
)

// MockMarketDataProvider is an in-memory market-data provider for tests
type MockMarketDataProvider struct {
	mu          sync.RWMutex
	history     map[string][]domain.PricePoint
	latest      map[string]decimal.Decimal
	err         error
	historyReqs [][]string
}

// NewMockMarketDataProvider creates an empty mock provider
func NewMockMarketDataProvider() *MockMarketDataProvider {
	return &MockMarketDataProvider{
		history: make(map[string][]domain.PricePoint),
		latest:  make(map[string]decimal.Decimal),
	}
}

// SetHistory sets the price history returned for symbol
func (m *MockMarketDataProvider) SetHistory(symbol string, points []domain.PricePoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[symbol] = points
}

// SetLatest sets the latest quote for symbol
func (m *MockMarketDataProvider) SetLatest(symbol string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[symbol] = price
}

// SetError makes every call fail with err
func (m *MockMarketDataProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// HistoryRequests returns the symbol lists passed to FetchHistoricalPrices
func (m *MockMarketDataProvider) HistoryRequests() [][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]string, len(m.historyReqs))
	copy(out, m.historyReqs)
	return out
}

// FetchHistoricalPrices returns configured history within [start, end]; unknown symbols are absent
func (m *MockMarketDataProvider) FetchHistoricalPrices(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.PricePoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req := append([]string(nil), symbols...)
	sort.Strings(req)
	m.historyReqs = append(m.historyReqs, req)

	if m.err != nil {
		return nil, m.err
	}

	out := make(map[string][]domain.PricePoint)
	for _, s := range symbols {
		for _, p := range m.history[s] {
			if !p.Date.Before(start) && !p.Date.After(end) {
				out[s] = append(out[s], p)
			}
		}
	}
	return out, nil
}

// FetchLatestPrice returns the configured quote or nil
func (m *MockMarketDataProvider) FetchLatestPrice(ctx context.Context, symbol string) (*decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	if p, ok := m.latest[symbol]; ok {
		return &p, nil
	}
	return nil, nil
}

// MockPositionReader serves fixed positions
type MockPositionReader struct {
	mu        sync.RWMutex
	positions map[string][]domain.Position
	err       error
	calls     int
}

// NewMockPositionReader creates an empty position reader
func NewMockPositionReader() *MockPositionReader {
	return &MockPositionReader{positions: make(map[string][]domain.Position)}
}

// SetPositions sets the positions of a portfolio
func (m *MockPositionReader) SetPositions(portfolioID string, positions []domain.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[portfolioID] = positions
}

// SetError sets the error to return
func (m *MockPositionReader) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times GetOpenPositions was invoked
func (m *MockPositionReader) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

// GetOpenPositions returns positions open on asOf
func (m *MockPositionReader) GetOpenPositions(ctx context.Context, portfolioID string, asOf time.Time) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var open []domain.Position
	for _, p := range m.positions[portfolioID] {
		if p.IsOpen(asOf) {
			open = append(open, p)
		}
	}
	return open, nil
}
