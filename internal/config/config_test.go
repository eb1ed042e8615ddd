package config

import (
	"testing"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("RISK_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 120*time.Second, cfg.MarketData.Timeout)
	assert.Equal(t, 3, cfg.MarketData.MaxRetries)
	assert.Equal(t, 90, cfg.Risk.BetaLookbackDays)
	assert.Equal(t, 1.0, cfg.Risk.RidgeAlpha)
	assert.Equal(t, 0.99, cfg.Risk.StressLossCeiling)
	assert.Equal(t, 40, cfg.Database.MaxOpenConns())
	assert.Equal(t, domain.DefaultActiveFactors, cfg.Factors.Active)
	assert.Equal(t, []float64{0.1, 0.3, 1, 3, 10}, cfg.Risk.RidgeAlphaGrid)
	assert.False(t, cfg.Backup.Enabled())

	proxy, ok := cfg.Factors.Proxy(domain.FactorMarket)
	assert.True(t, ok)
	assert.Equal(t, "SPY", proxy)
}

func TestLoad_FactorOverrides(t *testing.T) {
	t.Setenv("RISK_DATA_DIR", t.TempDir())
	t.Setenv("ACTIVE_FACTORS", "market,interest_rate,value")
	t.Setenv("FACTOR_PROXIES", "value=iwd, interest_rate=IEF")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []domain.FactorID{domain.FactorMarket, domain.FactorInterestRate, domain.FactorValue}, cfg.Factors.Active)
	proxy, _ := cfg.Factors.Proxy(domain.FactorValue)
	assert.Equal(t, "IWD", proxy)
	proxy, _ = cfg.Factors.Proxy(domain.FactorInterestRate)
	assert.Equal(t, "IEF", proxy)
}

func TestLoad_RejectsUnknownFactor(t *testing.T) {
	t.Setenv("RISK_DATA_DIR", t.TempDir())
	t.Setenv("ACTIVE_FACTORS", "market,Market Beta (90D)")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsMalformedProxy(t *testing.T) {
	t.Setenv("RISK_DATA_DIR", t.TempDir())
	t.Setenv("FACTOR_PROXIES", "value")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Setenv("RISK_DATA_DIR", t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)

	bad := *cfg
	bad.Risk.StressLossCeiling = 1.5
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Risk.QualityGood = 0.8
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Risk.MinObservations = 500
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Factors.Active = nil
	assert.Error(t, bad.Validate())
}
