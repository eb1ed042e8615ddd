// Package marketdata provides the HTTP client for the external daily-price provider.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aristath/riskboard/internal/clientdata"
	"github.com/aristath/riskboard/internal/domain"
	"github.com/aristath/riskboard/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ProviderName labels errors and metrics produced by this client
const ProviderName = "fmp"

// Config configures the provider client
type Config struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	RateLimit    float64 // requests per second
	RateBurst    int
	PriceTTL     time.Duration
}

// Client talks to a FinancialModelingPrep-style REST API.
// Every request passes the rate limiter and the circuit breaker; 429, 5xx and
// timeouts are retried with exponential backoff.
type Client struct {
	cfg       Config
	client    *http.Client
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	cacheRepo *clientdata.Repository
	metrics   *metrics.Registry
	log       zerolog.Logger
}

var _ domain.MarketDataProvider = (*Client)(nil)

// NewClient creates a provider client.
// cacheRepo and reg are optional.
func NewClient(cfg Config, cacheRepo *clientdata.Repository, reg *metrics.Registry, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	if cfg.PriceTTL <= 0 {
		cfg.PriceTTL = clientdata.TTLCurrentPrice
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	c := &Client{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(limit, burst),
		cacheRepo: cacheRepo,
		metrics:   reg,
		log:       log.With().Str("client", ProviderName).Logger(),
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        ProviderName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return c
}

type historicalResponse struct {
	Symbol     string `json:"symbol"`
	Historical []struct {
		Date  string  `json:"date"`
		Close float64 `json:"close"`
	} `json:"historical"`
}

type quoteShort struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// cachedQuote is the structure stored in the current_prices cache
type cachedQuote struct {
	Price     string    `msgpack:"price"`
	FetchedAt time.Time `msgpack:"fetched_at"`
}

// FetchHistoricalPrices fetches daily closes for each symbol within [start, end].
// Symbols the provider has no data for are absent from the result. Per-symbol
// failures are logged and skipped; an error is returned only when every symbol failed.
func (c *Client) FetchHistoricalPrices(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.PricePoint, error) {
	out := make(map[string][]domain.PricePoint, len(symbols))
	if len(symbols) == 0 {
		return out, nil
	}

	unique := dedupe(symbols)
	var firstErr error
	failed := 0
	for _, symbol := range unique {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		points, err := c.fetchHistory(ctx, symbol, start, end)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			failed++
			if firstErr == nil {
				firstErr = err
			}
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to fetch price history")
			continue
		}
		if len(points) > 0 {
			out[symbol] = points
		}
	}

	if failed > 0 && failed == len(unique) {
		return out, firstErr
	}

	c.log.Debug().
		Int("requested", len(symbols)).
		Int("returned", len(out)).
		Int("failed", failed).
		Msg("Fetched price history")
	return out, nil
}

func (c *Client) fetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]domain.PricePoint, error) {
	q := url.Values{}
	q.Set("from", start.Format(domain.DateLayout))
	q.Set("to", end.Format(domain.DateLayout))

	body, err := c.get(ctx, "historical-price-full/"+url.PathEscape(symbol), q, symbol)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var resp historicalResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &domain.ProviderError{Provider: ProviderName, Symbol: symbol, Kind: domain.KindProviderFailure,
			Err: fmt.Errorf("failed to parse history: %w", err)}
	}

	startDay, endDay := domain.DateOnly(start), domain.DateOnly(end)
	points := make([]domain.PricePoint, 0, len(resp.Historical))
	for _, h := range resp.Historical {
		d, err := time.Parse(domain.DateLayout, h.Date)
		if err != nil {
			c.log.Debug().Str("symbol", symbol).Str("date", h.Date).Msg("Skipping unparseable date")
			continue
		}
		if d.Before(startDay) || d.After(endDay) || h.Close <= 0 {
			continue
		}
		points = append(points, domain.PricePoint{Date: d, Close: h.Close})
	}

	// Provider returns newest first
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points, nil
}

// FetchLatestPrice returns the latest quote for symbol, or nil when the provider has none.
// Fresh cache entries are served without a request; when the request fails a stale
// cache entry is returned instead.
func (c *Client) FetchLatestPrice(ctx context.Context, symbol string) (*decimal.Decimal, error) {
	if p, ok := c.cachedPrice(ctx, symbol, true); ok {
		c.metrics.RecordCache(clientdata.TableCurrentPrices, "hit")
		return &p, nil
	}
	c.metrics.RecordCache(clientdata.TableCurrentPrices, "miss")

	price, err := c.fetchQuote(ctx, symbol)
	if err != nil {
		if stale, ok := c.cachedPrice(ctx, symbol, false); ok {
			c.metrics.RecordCache(clientdata.TableCurrentPrices, "stale")
			c.log.Warn().
				Err(err).
				Str("symbol", symbol).
				Str("price", stale.String()).
				Msg("Quote request failed, using stale cached price")
			return &stale, nil
		}
		return nil, err
	}
	if price == nil {
		return nil, nil
	}

	if c.cacheRepo != nil {
		cached := cachedQuote{Price: price.String(), FetchedAt: time.Now().UTC()}
		if err := c.cacheRepo.Store(ctx, clientdata.TableCurrentPrices, symbol, cached, c.cfg.PriceTTL); err != nil {
			c.log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache quote")
		}
	}
	return price, nil
}

func (c *Client) fetchQuote(ctx context.Context, symbol string) (*decimal.Decimal, error) {
	body, err := c.get(ctx, "quote-short/"+url.PathEscape(symbol), url.Values{}, symbol)
	if err != nil {
		return nil, err
	}
	if body == nil {
		return nil, nil
	}

	var quotes []quoteShort
	if err := json.Unmarshal(body, &quotes); err != nil {
		return nil, &domain.ProviderError{Provider: ProviderName, Symbol: symbol, Kind: domain.KindProviderFailure,
			Err: fmt.Errorf("failed to parse quote: %w", err)}
	}
	for _, q := range quotes {
		if strings.EqualFold(q.Symbol, symbol) && q.Price > 0 {
			p := decimal.NewFromFloat(q.Price)
			return &p, nil
		}
	}
	return nil, nil
}

func (c *Client) cachedPrice(ctx context.Context, symbol string, freshOnly bool) (decimal.Decimal, bool) {
	if c.cacheRepo == nil {
		return decimal.Zero, false
	}

	var cached cachedQuote
	var (
		found bool
		err   error
	)
	if freshOnly {
		found, err = c.cacheRepo.GetIfFresh(ctx, clientdata.TableCurrentPrices, symbol, &cached)
	} else {
		found, err = c.cacheRepo.Get(ctx, clientdata.TableCurrentPrices, symbol, &cached)
	}
	if err != nil {
		c.log.Debug().Err(err).Str("symbol", symbol).Msg("Quote cache read failed")
		return decimal.Zero, false
	}
	if !found {
		return decimal.Zero, false
	}
	p, err := decimal.NewFromString(cached.Price)
	if err != nil {
		return decimal.Zero, false
	}
	return p, true
}

// get performs a GET with rate limiting, circuit breaking and retries.
// Returns a nil body when the provider reports no data (404).
func (c *Client) get(ctx context.Context, path string, q url.Values, symbol string) ([]byte, error) {
	if c.cfg.APIKey != "" {
		q.Set("apikey", c.cfg.APIKey)
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + path
	if encoded := q.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			c.log.Debug().
				Str("symbol", symbol).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying provider request")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.do(ctx, endpoint, symbol)
		if err == nil {
			c.metrics.RecordProviderRequest(ProviderName, "ok")
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		if !retryable(err) {
			c.metrics.RecordProviderRequest(ProviderName, "failed")
			return nil, err
		}
		c.metrics.RecordProviderRequest(ProviderName, string(domain.KindOf(err)))
	}

	return nil, lastErr
}

// statusError is returned for non-retryable HTTP statuses
type statusError struct {
	status int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API returned status %d", e.status)
}

func (c *Client) do(ctx context.Context, endpoint, symbol string) ([]byte, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return []byte(nil), nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil, &statusError{status: resp.StatusCode}
		case resp.StatusCode != http.StatusOK:
			// Client errors are not provider health problems
			return &statusError{status: resp.StatusCode}, nil
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return body, nil
	})

	if err != nil {
		return nil, c.classify(err, symbol)
	}
	if se, ok := result.(*statusError); ok {
		return nil, &domain.ProviderError{Provider: ProviderName, Symbol: symbol, Kind: domain.KindProviderFailure, Err: nonRetryable{se}}
	}
	body, _ := result.([]byte)
	return body, nil
}

// nonRetryable marks a failure that another attempt cannot fix
type nonRetryable struct{ error }

func (e nonRetryable) Unwrap() error { return e.error }

func retryable(err error) bool {
	var perr *domain.ProviderError
	if !errors.As(err, &perr) || !perr.Retryable() {
		return false
	}
	var nr nonRetryable
	return !errors.As(err, &nr)
}

func (c *Client) classify(err error, symbol string) error {
	kind := domain.KindProviderFailure

	var se *statusError
	var netErr net.Error
	switch {
	case errors.As(err, &se) && se.status == http.StatusTooManyRequests:
		kind = domain.KindProviderRateLimit
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		kind = domain.KindProviderTimeout
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return &domain.ProviderError{Provider: ProviderName, Symbol: symbol, Kind: domain.KindProviderFailure, Err: nonRetryable{err}}
	}
	return &domain.ProviderError{Provider: ProviderName, Symbol: symbol, Kind: kind, Err: err}
}

func dedupe(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
