// Package di wires databases, repositories, services and jobs into one container.
package di

import (
	"github.com/aristath/riskboard/internal/batch"
	"github.com/aristath/riskboard/internal/clientdata"
	"github.com/aristath/riskboard/internal/clients/marketdata"
	"github.com/aristath/riskboard/internal/database"
	"github.com/aristath/riskboard/internal/metrics"
	"github.com/aristath/riskboard/internal/modules/exposure"
	"github.com/aristath/riskboard/internal/modules/factors"
	"github.com/aristath/riskboard/internal/modules/history"
	"github.com/aristath/riskboard/internal/modules/overview"
	"github.com/aristath/riskboard/internal/modules/portfolio"
	"github.com/aristath/riskboard/internal/modules/returns"
	"github.com/aristath/riskboard/internal/modules/snapshots"
	"github.com/aristath/riskboard/internal/modules/stress"
	"github.com/aristath/riskboard/internal/reliability"
)

// Container holds all application dependencies. It is created by Wire and is the
// single source of truth for service instances.
type Container struct {
	// Databases
	PortfolioDB *database.DB // portfolios, positions, snapshots, factor exposures, stress results
	HistoryDB   *database.DB // daily prices
	CacheDB     *database.DB // TTL cache entries

	Metrics *metrics.Registry

	// Repositories
	PortfolioRepo    *portfolio.PortfolioRepository
	PositionRepo     *portfolio.PositionRepository
	PriceRepo        *history.PriceRepository
	CacheRepo        *clientdata.Repository
	FactorRepo       *factors.Repository
	SnapshotRepo     *snapshots.Repository
	StressResultRepo *stress.ResultRepository

	// Clients
	MarketData *marketdata.Client

	// Services
	PriceService      *history.PriceService
	Returns           *returns.Retriever
	MarketDataSync    *portfolio.MarketDataSync
	MarketBeta        *factors.SingleFactorCalculator
	RateBeta          *factors.SingleFactorCalculator
	MultiFactor       *factors.MultiFactorCalculator
	FactorExposures   *factors.ExposureService
	Correlations      *factors.CorrelationProvider
	Exposures         *exposure.Aggregator
	ScenarioLibrary   *stress.Library
	StressEngine      *stress.Engine
	SnapshotService   *snapshots.Service
	OverviewService   *overview.Service
	BatchOrchestrator *batch.Orchestrator
	BackupService     *reliability.BackupService // nil when backups are not configured
}

// Databases returns the open databases in a fixed order
func (c *Container) Databases() []*database.DB {
	var out []*database.DB
	for _, db := range []*database.DB{c.PortfolioDB, c.HistoryDB, c.CacheDB} {
		if db != nil {
			out = append(out, db)
		}
	}
	return out
}

// Close closes every database
func (c *Container) Close() {
	for _, db := range c.Databases() {
		db.Close()
	}
}
