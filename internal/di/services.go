package di

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aristath/riskboard/internal/batch"
	"github.com/aristath/riskboard/internal/clientdata"
	"github.com/aristath/riskboard/internal/clients/marketdata"
	"github.com/aristath/riskboard/internal/config"
	"github.com/aristath/riskboard/internal/domain"
	"github.com/aristath/riskboard/internal/metrics"
	"github.com/aristath/riskboard/internal/modules/exposure"
	"github.com/aristath/riskboard/internal/modules/factors"
	"github.com/aristath/riskboard/internal/modules/history"
	"github.com/aristath/riskboard/internal/modules/overview"
	"github.com/aristath/riskboard/internal/modules/portfolio"
	"github.com/aristath/riskboard/internal/modules/regression"
	"github.com/aristath/riskboard/internal/modules/returns"
	"github.com/aristath/riskboard/internal/modules/snapshots"
	"github.com/aristath/riskboard/internal/modules/stress"
	"github.com/aristath/riskboard/internal/reliability"
	"github.com/rs/zerolog"
)

// InitializeRepositories creates the repositories over the open databases
func InitializeRepositories(c *Container, log zerolog.Logger) {
	c.PortfolioRepo = portfolio.NewPortfolioRepository(c.PortfolioDB.Conn(), log)
	c.PositionRepo = portfolio.NewPositionRepository(c.PortfolioDB.Conn(), log)
	c.FactorRepo = factors.NewRepository(c.PortfolioDB.Conn(), log)
	c.SnapshotRepo = snapshots.NewRepository(c.PortfolioDB.Conn(), log)
	c.StressResultRepo = stress.NewResultRepository(c.PortfolioDB.Conn(), log)
	c.PriceRepo = history.NewPriceRepository(c.HistoryDB.Conn(), log)
	c.CacheRepo = clientdata.NewRepository(c.CacheDB.Conn())
}

// InitializeServices creates clients and services. Order follows the data flow:
// prices, returns, factor calculators, exposures, stress, snapshots, then the batch.
func InitializeServices(ctx context.Context, c *Container, cfg *config.Config, log zerolog.Logger) error {
	if c.Metrics == nil {
		c.Metrics = metrics.NewRegistry()
	}
	r := cfg.Risk

	c.MarketData = marketdata.NewClient(marketdata.Config{
		BaseURL:      cfg.MarketData.BaseURL,
		APIKey:       cfg.MarketData.APIKey,
		Timeout:      cfg.MarketData.Timeout,
		MaxRetries:   cfg.MarketData.MaxRetries,
		RetryBackoff: cfg.MarketData.RetryBackoff,
		RateLimit:    cfg.MarketData.RateLimit,
		RateBurst:    cfg.MarketData.RateBurst,
		PriceTTL:     cfg.MarketData.PriceTTL,
	}, c.CacheRepo, c.Metrics, log)

	c.PriceService = history.NewPriceService(c.PriceRepo, c.MarketData, log)
	c.Returns = returns.NewRetriever(c.PriceService, log)
	c.MarketDataSync = portfolio.NewMarketDataSync(c.PositionRepo, c.MarketData, log)

	engine := regression.NewEngine(regression.Thresholds{
		MinObservations: r.MinObservations,
		Quality: regression.QualityCutpoints{
			Excellent: r.QualityExcellent,
			Good:      r.QualityGood,
			Fair:      r.QualityFair,
			Poor:      r.QualityPoor,
		},
		StrictSignificance:  r.StrictSignificance,
		RelaxedSignificance: r.RelaxedSignificance,
	})

	c.MarketBeta = factors.NewSingleFactorCalculator(
		factors.SingleFactorConfig{
			Factor:       domain.FactorMarket,
			LookbackDays: r.BetaLookbackDays,
			BetaCap:      r.MarketBetaCap,
			Significance: r.RelaxedSignificance,
		},
		cfg.Factors, c.PositionRepo, c.Returns, engine, c.FactorRepo, c.Metrics, log,
	)
	c.RateBeta = factors.NewSingleFactorCalculator(
		factors.SingleFactorConfig{
			Factor:       domain.FactorInterestRate,
			LookbackDays: r.BetaLookbackDays,
			BetaCap:      r.RateBetaCap,
			Significance: r.StrictSignificance,
		},
		cfg.Factors, c.PositionRepo, c.Returns, engine, c.FactorRepo, c.Metrics, log,
	)
	c.MultiFactor = factors.NewMultiFactorCalculator(
		factors.MultiFactorConfig{
			LookbackDays:  r.MultiFactorLookbackDays,
			BetaCap:       r.FactorBetaCap,
			RidgeAlpha:    r.RidgeAlpha,
			CrossValidate: r.RidgeCrossValidate,
			AlphaGrid:     r.RidgeAlphaGrid,
			Folds:         r.RidgeFolds,
		},
		cfg.Factors, c.PositionRepo, c.Returns, engine, c.FactorRepo, c.Metrics, log,
	)
	c.FactorExposures = factors.NewExposureService(c.FactorRepo, cfg.Factors, log)
	c.Correlations = factors.NewCorrelationProvider(cfg.Factors, c.Returns, c.CacheRepo, r.MultiFactorLookbackDays, r.MinObservations, log)
	c.Correlations.SetCacheTTL(r.CorrelationCacheTTL)

	c.Exposures = exposure.NewAggregator(c.PositionRepo, c.SnapshotRepo, c.Metrics, log)

	library, err := stress.LoadLibrary(cfg.StressScenariosPath)
	if err != nil {
		return fmt.Errorf("failed to load stress scenarios: %w", err)
	}
	c.ScenarioLibrary = library
	c.StressEngine = stress.NewEngine(
		stress.EngineConfig{LossCeiling: r.StressLossCeiling, MaxStalenessDays: r.MaxStalenessDays},
		c.Exposures, c.FactorExposures, c.Correlations, c.StressResultRepo, c.Metrics, log,
	)

	c.SnapshotService = snapshots.NewService(c.PortfolioDB.Conn(), c.SnapshotRepo, c.PositionRepo, c.PortfolioRepo, c.PriceRepo, c.Metrics, log)

	c.OverviewService = overview.NewService(
		c.PortfolioRepo, c.PositionRepo, c.Exposures, c.FactorExposures, c.StressEngine,
		c.ScenarioLibrary, cfg.Factors, r.MaxStalenessDays, log,
	)

	c.BatchOrchestrator = batch.NewOrchestrator(batch.Config{Concurrency: cfg.Batch.Concurrency}, batch.Deps{
		Portfolios:  c.PortfolioRepo,
		Sync:        c.MarketDataSync,
		Calculators: singleFactorCalculators(cfg.Factors, c.MarketBeta, c.RateBeta),
		MultiFactor: c.MultiFactor,
		Exposures:   c.Exposures,
		Stress:      c.StressEngine,
		Scenarios:   c.ScenarioLibrary.List(),
		Snapshots:   c.SnapshotService,
	}, c.Metrics, log)

	if cfg.Backup.Enabled() {
		store, err := reliability.NewS3Client(ctx, cfg.Backup, log)
		if err != nil {
			return fmt.Errorf("failed to create backup store: %w", err)
		}
		dbs := make([]reliability.Snapshotter, 0, 3)
		for _, db := range c.Databases() {
			dbs = append(dbs, db)
		}
		c.BackupService = reliability.NewBackupService(store, dbs, filepath.Join(cfg.DataDir, "backup-staging"), cfg.Backup.RetentionDays, log)
	}

	return nil
}

// singleFactorCalculators returns the calculators whose factor is active
func singleFactorCalculators(fc domain.FactorConfig, calcs ...*factors.SingleFactorCalculator) []batch.SingleFactorCalculator {
	var out []batch.SingleFactorCalculator
	for _, c := range calcs {
		if fc.IsActive(c.Factor()) {
			out = append(out, c)
		}
	}
	return out
}
