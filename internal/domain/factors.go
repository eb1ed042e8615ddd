package domain

import (
	"fmt"
	"sort"
	"strings"
)

// FactorID is the stable identifier of a named risk factor.
// Keys are resolved to FactorID once at configuration load; nothing downstream
// compares factor names as strings.
type FactorID int

const (
	FactorUnknown FactorID = iota
	FactorMarket
	FactorInterestRate
	FactorValue
	FactorGrowth
	FactorMomentum
	FactorQuality
	FactorSize
	FactorLowVolatility
	FactorShortInterest
)

// FactorKind selects which calculator produces a factor
type FactorKind string

const (
	FactorKindMarket FactorKind = "market" // single-factor OLS vs broad market
	FactorKindRates  FactorKind = "rates"  // single-factor OLS vs bond proxy
	FactorKindStyle  FactorKind = "style"  // multi-factor ridge
)

// FactorDefinition describes a known factor
type FactorDefinition struct {
	ID           FactorID
	Key          string
	Name         string
	Kind         FactorKind
	DefaultProxy string
}

var factorDefinitions = []FactorDefinition{
	{ID: FactorMarket, Key: "market", Name: "Market Beta", Kind: FactorKindMarket, DefaultProxy: "SPY"},
	{ID: FactorInterestRate, Key: "interest_rate", Name: "Interest Rate Beta", Kind: FactorKindRates, DefaultProxy: "TLT"},
	{ID: FactorValue, Key: "value", Name: "Value", Kind: FactorKindStyle, DefaultProxy: "VTV"},
	{ID: FactorGrowth, Key: "growth", Name: "Growth", Kind: FactorKindStyle, DefaultProxy: "VUG"},
	{ID: FactorMomentum, Key: "momentum", Name: "Momentum", Kind: FactorKindStyle, DefaultProxy: "MTUM"},
	{ID: FactorQuality, Key: "quality", Name: "Quality", Kind: FactorKindStyle, DefaultProxy: "QUAL"},
	{ID: FactorSize, Key: "size", Name: "Size", Kind: FactorKindStyle, DefaultProxy: "IWM"},
	{ID: FactorLowVolatility, Key: "low_volatility", Name: "Low Volatility", Kind: FactorKindStyle, DefaultProxy: "USMV"},
	// No reliable proxy series; known so it can be configured, inactive by default
	{ID: FactorShortInterest, Key: "short_interest", Name: "Short Interest", Kind: FactorKindStyle},
}

// DefaultActiveFactors is used when ACTIVE_FACTORS is unset
var DefaultActiveFactors = []FactorID{
	FactorMarket, FactorValue, FactorGrowth, FactorMomentum,
	FactorQuality, FactorSize, FactorLowVolatility,
}

// Definition returns the factor's definition
func (f FactorID) Definition() (FactorDefinition, bool) {
	for _, d := range factorDefinitions {
		if d.ID == f {
			return d, true
		}
	}
	return FactorDefinition{}, false
}

// String returns the factor's stable key
func (f FactorID) String() string {
	if d, ok := f.Definition(); ok {
		return d.Key
	}
	return fmt.Sprintf("factor(%d)", int(f))
}

// Name returns the human-readable factor name
func (f FactorID) Name() string {
	if d, ok := f.Definition(); ok {
		return d.Name
	}
	return f.String()
}

// Kind returns the calculator family for the factor
func (f FactorID) Kind() FactorKind {
	d, _ := f.Definition()
	return d.Kind
}

// MarshalText encodes the factor as its key (JSON map keys, YAML)
func (f FactorID) MarshalText() ([]byte, error) {
	if _, ok := f.Definition(); !ok {
		return nil, fmt.Errorf("unknown factor id %d", int(f))
	}
	return []byte(f.String()), nil
}

// UnmarshalText decodes a factor key
func (f *FactorID) UnmarshalText(text []byte) error {
	id, err := ParseFactorID(string(text))
	if err != nil {
		return err
	}
	*f = id
	return nil
}

// ParseFactorID resolves an exact factor key
func ParseFactorID(key string) (FactorID, error) {
	key = strings.TrimSpace(key)
	for _, d := range factorDefinitions {
		if d.Key == key {
			return d.ID, nil
		}
	}
	return FactorUnknown, fmt.Errorf("%w: unknown factor key %q", ErrInvalidInput, key)
}

// ParseFactorList resolves a comma-separated list of factor keys, rejecting duplicates
func ParseFactorList(csv string) ([]FactorID, error) {
	var ids []FactorID
	seen := make(map[FactorID]bool)
	for _, part := range strings.Split(csv, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := ParseFactorID(part)
		if err != nil {
			return nil, err
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: duplicate factor key %q", ErrInvalidInput, part)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// AllFactors returns every known factor definition
func AllFactors() []FactorDefinition {
	out := make([]FactorDefinition, len(factorDefinitions))
	copy(out, factorDefinitions)
	return out
}

// FactorConfig is the resolved factor setup: which factors are active and their proxy symbols
type FactorConfig struct {
	Active  []FactorID
	Proxies map[FactorID]string
}

// NewFactorConfig builds a config with default proxies overridden by the given map
func NewFactorConfig(active []FactorID, overrides map[FactorID]string) FactorConfig {
	proxies := make(map[FactorID]string)
	for _, d := range factorDefinitions {
		if d.DefaultProxy != "" {
			proxies[d.ID] = d.DefaultProxy
		}
	}
	for id, symbol := range overrides {
		proxies[id] = symbol
	}
	return FactorConfig{Active: active, Proxies: proxies}
}

// Proxy returns the proxy symbol for a factor
func (c FactorConfig) Proxy(f FactorID) (string, bool) {
	s, ok := c.Proxies[f]
	return s, ok && s != ""
}

// IsActive reports whether f is in the active set
func (c FactorConfig) IsActive(f FactorID) bool {
	for _, a := range c.Active {
		if a == f {
			return true
		}
	}
	return false
}

// ActiveOfKind returns active factors of one calculator family, in stable order
func (c FactorConfig) ActiveOfKind(kind FactorKind) []FactorID {
	var out []FactorID
	for _, a := range c.Active {
		if a.Kind() == kind {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MissingFactors returns the active factors absent from present
func (c FactorConfig) MissingFactors(present map[FactorID]bool) []FactorID {
	var missing []FactorID
	for _, a := range c.Active {
		if !present[a] {
			missing = append(missing, a)
		}
	}
	return missing
}
