package factors

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	testingpkg "github.com/aristath/riskboard/internal/testing"
)

// stubLoader serves fixed close series filtered to the requested window
type stubLoader struct {
	mu    sync.Mutex
	data  map[string][]domain.PricePoint
	calls int
}

func newStubLoader() *stubLoader {
	return &stubLoader{data: make(map[string][]domain.PricePoint)}
}

func (s *stubLoader) GetPrices(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	out := make(map[string][]domain.PricePoint)
	for _, sym := range symbols {
		for _, p := range s.data[sym] {
			if !p.Date.Before(start) && !p.Date.After(end) {
				out[sym] = append(out[sym], p)
			}
		}
	}
	return out, nil
}

// GetPriceHistory lets the stub back a returns.Retriever too
func (s *stubLoader) GetPriceHistory(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.PricePoint, error) {
	return s.GetPrices(ctx, symbols, start, end)
}

const fixtureSessions = 200

func fixtureDays() []time.Time {
	return testingpkg.TradingDays(testingpkg.FixtureDate, fixtureSessions)
}

// marketFixture returns SPY plus AAPL (beta 1.2) and TSLA (beta 2.0) closes
func marketFixture() *stubLoader {
	days := fixtureDays()
	n := fixtureSessions - 1
	spy := testingpkg.RandomReturns(1, n, 0.01)
	loader := newStubLoader()
	loader.data["SPY"] = testingpkg.PricesFromReturns(days, 500, spy)
	loader.data["AAPL"] = testingpkg.PricesFromReturns(days, 150, testingpkg.LinearReturns(spy, 0, 1.2, testingpkg.RandomReturns(2, n, 0.0005)))
	loader.data["TSLA"] = testingpkg.PricesFromReturns(days, 200, testingpkg.LinearReturns(spy, 0, 2.0, testingpkg.RandomReturns(3, n, 0.0005)))
	return loader
}
