package stress

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLibrary_BuiltIn(t *testing.T) {
	lib, err := LoadLibrary("")
	require.NoError(t, err)

	assert.NotEmpty(t, lib.List())
	sc, ok := lib.Get("market_crash_2008")
	require.True(t, ok)
	assert.Equal(t, -0.45, sc.Shocks[domain.FactorMarket])
	assert.Equal(t, "historical", sc.Category)

	_, ok = lib.Get("nope")
	assert.False(t, ok)
}

func TestLoadLibrary_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenarios.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scenarios:
  - id: taper
    shocks:
      interest_rate: -0.08
      growth: -0.05
`), 0o644))

	lib, err := LoadLibrary(path)
	require.NoError(t, err)
	require.Len(t, lib.List(), 1)
	sc, _ := lib.Get("taper")
	assert.Equal(t, "taper", sc.Name)
	assert.Equal(t, []domain.FactorID{domain.FactorInterestRate, domain.FactorGrowth}, sc.ShockedFactors())
}

func TestParseLibrary_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown factor", "scenarios:\n  - id: a\n    shocks:\n      Market Beta (90D): -0.1\n"},
		{"duplicate id", "scenarios:\n  - id: a\n    shocks: {market: -0.1}\n  - id: a\n    shocks: {market: -0.2}\n"},
		{"no shocks", "scenarios:\n  - id: a\n"},
		{"below -100%", "scenarios:\n  - id: a\n    shocks: {market: -1.5}\n"},
		{"malformed", "scenarios: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLibrary([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
