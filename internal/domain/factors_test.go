package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFactorID(t *testing.T) {
	id, err := ParseFactorID("market")
	require.NoError(t, err)
	assert.Equal(t, FactorMarket, id)

	id, err = ParseFactorID(" low_volatility ")
	require.NoError(t, err)
	assert.Equal(t, FactorLowVolatility, id)

	// display names are not keys
	_, err = ParseFactorID("Market Beta (90D)")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestParseFactorList(t *testing.T) {
	ids, err := ParseFactorList("market, value,growth")
	require.NoError(t, err)
	assert.Equal(t, []FactorID{FactorMarket, FactorValue, FactorGrowth}, ids)

	_, err = ParseFactorList("market,market")
	assert.Error(t, err)

	_, err = ParseFactorList("market,bogus")
	assert.Error(t, err)

	ids, err = ParseFactorList("")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFactorID_TextRoundTripInJSONMapKeys(t *testing.T) {
	in := map[FactorID]float64{FactorValue: 0.4, FactorMarket: 1.1}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"market":1.1,"value":0.4}`, string(data))

	var out map[FactorID]float64
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestFactorConfig(t *testing.T) {
	cfg := NewFactorConfig(
		[]FactorID{FactorMarket, FactorMomentum, FactorValue, FactorShortInterest},
		map[FactorID]string{FactorValue: "IWD"},
	)

	proxy, ok := cfg.Proxy(FactorValue)
	assert.True(t, ok)
	assert.Equal(t, "IWD", proxy)

	proxy, ok = cfg.Proxy(FactorMarket)
	assert.True(t, ok)
	assert.Equal(t, "SPY", proxy)

	_, ok = cfg.Proxy(FactorShortInterest)
	assert.False(t, ok)

	assert.Equal(t, []FactorID{FactorValue, FactorMomentum, FactorShortInterest}, cfg.ActiveOfKind(FactorKindStyle))
	assert.Equal(t, []FactorID{FactorMarket}, cfg.ActiveOfKind(FactorKindMarket))
	assert.True(t, cfg.IsActive(FactorMomentum))
	assert.False(t, cfg.IsActive(FactorGrowth))

	missing := cfg.MissingFactors(map[FactorID]bool{FactorMarket: true, FactorValue: true, FactorMomentum: true})
	assert.Equal(t, []FactorID{FactorShortInterest}, missing)
}
