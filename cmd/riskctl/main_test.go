package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/aristath/riskboard/internal/batch"
	"github.com/aristath/riskboard/internal/modules/exposure"
	"github.com/aristath/riskboard/internal/modules/stress"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := parseDate("2024-06-14")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC), d)

	_, err = parseDate("14/06/2024")
	assert.Error(t, err)

	d, err = parseDate("")
	require.NoError(t, err)
	assert.Equal(t, 0, d.Hour())
}

func TestWriteSummary_Table(t *testing.T) {
	outputFormat = "table"
	summary := &batch.RunSummary{
		RunID:     "run-1",
		Date:      time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC),
		Completed: 1,
		Failed:    1,
		Portfolios: []batch.PortfolioResult{
			{PortfolioID: "p1", Status: batch.StatusCompleted, Exposures: &exposure.Exposures{
				NetExposure:   decimal.NewFromInt(10000),
				GrossExposure: decimal.NewFromInt(30000),
			}},
			{PortfolioID: "p2", Status: batch.StatusFailed, Error: "boom"},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, writeSummary(&buf, summary))
	out := buf.String()
	assert.Contains(t, out, "10000.00")
	assert.Contains(t, out, "30000.00")
	assert.Contains(t, out, "p2")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "1 completed, 0 degraded, 0 skipped, 1 failed")
}

func TestWriteScenarios(t *testing.T) {
	library, err := stress.LoadLibrary("")
	require.NoError(t, err)

	outputFormat = "table"
	var buf bytes.Buffer
	require.NoError(t, writeScenarios(&buf, library.List()))
	assert.Contains(t, buf.String(), "market_crash_2008")
	assert.Contains(t, buf.String(), "market=-0.45")

	outputFormat = "json"
	buf.Reset()
	require.NoError(t, writeScenarios(&buf, library.List()))
	assert.Contains(t, buf.String(), `"market": -0.45`)
}
