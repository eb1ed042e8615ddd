package factors

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/aristath/riskboard/internal/clientdata"
	"github.com/aristath/riskboard/internal/domain"
	"github.com/aristath/riskboard/internal/modules/returns"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// CorrelationMatrix holds pairwise correlations between factor return series.
// Pairs involving a factor without data are 0 off the diagonal and 1 on it.
type CorrelationMatrix struct {
	Factors      []domain.FactorID `msgpack:"factors" json:"factors"`
	Values       []float64         `msgpack:"values" json:"values"` // row-major len(Factors)²
	Observations int               `msgpack:"observations" json:"observations"`
}

// At returns ρ(f, g)
func (m *CorrelationMatrix) At(f, g domain.FactorID) float64 {
	if f == g {
		return 1
	}
	if m == nil {
		return 0
	}
	i, j := m.index(f), m.index(g)
	if i < 0 || j < 0 {
		return 0
	}
	return m.Values[i*len(m.Factors)+j]
}

func (m *CorrelationMatrix) index(f domain.FactorID) int {
	for i, x := range m.Factors {
		if x == f {
			return i
		}
	}
	return -1
}

// IdentityMatrix has no cross-factor correlation
func IdentityMatrix(factors []domain.FactorID) *CorrelationMatrix {
	n := len(factors)
	m := &CorrelationMatrix{Factors: append([]domain.FactorID(nil), factors...), Values: make([]float64, n*n)}
	for i := 0; i < n; i++ {
		m.Values[i*n+i] = 1
	}
	return m
}

// CorrelationProvider builds factor correlation matrices from proxy returns and caches
// them for a day, since they only change with the daily close.
type CorrelationProvider struct {
	factors      domain.FactorConfig
	returns      *returns.Retriever
	cache        *clientdata.Repository
	lookbackDays int
	minObs       int
	cacheTTL     time.Duration
	log          zerolog.Logger
}

// NewCorrelationProvider creates a provider; cache may be nil
func NewCorrelationProvider(factors domain.FactorConfig, retriever *returns.Retriever, cache *clientdata.Repository, lookbackDays, minObs int, log zerolog.Logger) *CorrelationProvider {
	return &CorrelationProvider{
		factors:      factors,
		returns:      retriever,
		cache:        cache,
		lookbackDays: lookbackDays,
		minObs:       minObs,
		cacheTTL:     clientdata.TTLFactorCorrelations,
		log:          log.With().Str("component", "factor_correlations").Logger(),
	}
}

// SetCacheTTL overrides how long computed matrices stay fresh
func (p *CorrelationProvider) SetCacheTTL(ttl time.Duration) {
	if ttl > 0 {
		p.cacheTTL = ttl
	}
}

// GetMatrix returns the correlation matrix of factors as of date
func (p *CorrelationProvider) GetMatrix(ctx context.Context, factors []domain.FactorID, date time.Time) (*CorrelationMatrix, error) {
	date = domain.DateOnly(date)
	sorted := append([]domain.FactorID(nil), factors...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	key := p.cacheKey(sorted, date)

	if p.cache != nil {
		var cached CorrelationMatrix
		found, err := p.cache.GetIfFresh(ctx, clientdata.TableFactorCorrelations, key, &cached)
		if err != nil {
			p.log.Debug().Err(err).Str("key", key).Msg("Correlation cache read failed")
		} else if found {
			return &cached, nil
		}
	}

	m, err := p.compute(ctx, sorted, date)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		if err := p.cache.Store(ctx, clientdata.TableFactorCorrelations, key, m, p.cacheTTL); err != nil {
			p.log.Warn().Err(err).Str("key", key).Msg("Failed to cache correlation matrix")
		}
	}
	return m, nil
}

func (p *CorrelationProvider) compute(ctx context.Context, factors []domain.FactorID, date time.Time) (*CorrelationMatrix, error) {
	m := IdentityMatrix(factors)

	var (
		withProxy []domain.FactorID
		proxies   []string
	)
	for _, f := range factors {
		if proxy, ok := p.factors.Proxy(f); ok {
			withProxy = append(withProxy, f)
			proxies = append(proxies, proxy)
		}
	}
	if len(withProxy) < 2 {
		return m, nil
	}

	prices, err := p.returns.GetPrices(ctx, proxies, returns.WindowStart(date, p.lookbackDays), date)
	if err != nil {
		return nil, fmt.Errorf("failed to load factor proxy prices: %w", err)
	}

	var (
		usable        []domain.FactorID
		usableProxies []string
	)
	for i, f := range withProxy {
		if len(prices[proxies[i]]) > 0 {
			usable = append(usable, f)
			usableProxies = append(usableProxies, proxies[i])
		}
	}
	if len(usable) < 2 {
		return m, nil
	}

	tbl := returns.Compute(prices, usableProxies, true).Tail(p.lookbackDays)
	if tbl.Len() < p.minObs {
		p.log.Warn().
			Int("observations", tbl.Len()).
			Int("required", p.minObs).
			Msg("Too few aligned factor returns, using identity correlations")
		return m, nil
	}

	n, k := tbl.Len(), len(usableProxies)
	data := mat.NewDense(n, k, nil)
	for j, proxy := range usableProxies {
		col, _ := tbl.Column(proxy)
		for i, v := range col {
			data.Set(i, j, v)
		}
	}
	var corr mat.SymDense
	stat.CorrelationMatrix(&corr, data, nil)

	size := len(factors)
	for a, fa := range usable {
		for b, fb := range usable {
			v := corr.At(a, b)
			switch {
			case a == b:
				v = 1
			case math.IsNaN(v): // constant series
				v = 0
			}
			m.Values[m.index(fa)*size+m.index(fb)] = v
		}
	}
	m.Observations = n
	return m, nil
}

func (p *CorrelationProvider) cacheKey(factors []domain.FactorID, date time.Time) string {
	keys := make([]string, len(factors))
	for i, f := range factors {
		keys[i] = f.String()
	}
	return fmt.Sprintf("%s:%d:%s", date.Format(domain.DateLayout), p.lookbackDays, strings.Join(keys, ","))
}
