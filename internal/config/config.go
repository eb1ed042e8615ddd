// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/riskboard/internal/domain"
	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	MarketData MarketDataConfig
	Factors    domain.FactorConfig
	Risk       RiskConfig
	Database   DatabaseConfig
	Batch      BatchConfig
	Backup     BackupConfig

	StressScenariosPath string // Empty uses the built-in scenario library
}

// MarketDataConfig configures the external price provider
type MarketDataConfig struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	RateLimit    float64 // requests per second
	RateBurst    int
	PriceTTL     time.Duration // latest-price cache lifetime
}

// RiskConfig holds the numeric knobs of the factor and stress engines
type RiskConfig struct {
	BetaLookbackDays        int
	MultiFactorLookbackDays int
	MinObservations         int
	MarketBetaCap           float64
	RateBetaCap             float64
	FactorBetaCap           float64
	RelaxedSignificance     float64
	StrictSignificance      float64
	QualityExcellent        float64
	QualityGood             float64
	QualityFair             float64
	QualityPoor             float64
	RidgeAlpha              float64
	RidgeCrossValidate      bool
	RidgeAlphaGrid          []float64
	RidgeFolds              int
	MaxStalenessDays        int
	StressLossCeiling       float64
	CorrelationCacheTTL     time.Duration
}

// DatabaseConfig sizes the connection pool
type DatabaseConfig struct {
	PoolSize     int
	PoolOverflow int
}

// MaxOpenConns is the base pool plus overflow
func (d DatabaseConfig) MaxOpenConns() int {
	return d.PoolSize + d.PoolOverflow
}

// BatchConfig controls the daily pipeline
type BatchConfig struct {
	Schedule            string // cron spec, empty disables the scheduled run
	Concurrency         int
	ClaimGrace          time.Duration
	CleanupSchedule     string
	MaintenanceSchedule string // cache cleanup and price retention
	PriceRetention      time.Duration
}

// BackupConfig holds S3-compatible backup settings; empty Bucket disables backups
type BackupConfig struct {
	Bucket        string
	Prefix        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Schedule      string
	RetentionDays int // 0 keeps every backup
}

// Enabled reports whether backups are configured
func (b BackupConfig) Enabled() bool {
	return b.Bucket != ""
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("RISK_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	factors, err := loadFactorConfig()
	if err != nil {
		return nil, err
	}

	alphaGrid, err := parseFloatList(getEnv("RIDGE_ALPHA_GRID", "0.1,0.3,1,3,10"))
	if err != nil {
		return nil, fmt.Errorf("invalid RIDGE_ALPHA_GRID: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8001),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		MarketData: MarketDataConfig{
			BaseURL:      getEnv("MARKET_DATA_URL", "https://financialmodelingprep.com/api/v3"),
			APIKey:       getEnv("MARKET_DATA_API_KEY", ""),
			Timeout:      getEnvAsDuration("MARKET_DATA_TIMEOUT", 120*time.Second),
			MaxRetries:   getEnvAsInt("MARKET_DATA_MAX_RETRIES", 3),
			RetryBackoff: getEnvAsDuration("MARKET_DATA_RETRY_BACKOFF", 2*time.Second),
			RateLimit:    getEnvAsFloat("MARKET_DATA_RATE_LIMIT", 5),
			RateBurst:    getEnvAsInt("MARKET_DATA_RATE_BURST", 5),
			PriceTTL:     getEnvAsDuration("MARKET_DATA_PRICE_TTL", 10*time.Minute),
		},
		Factors: factors,
		Risk: RiskConfig{
			BetaLookbackDays:        getEnvAsInt("BETA_LOOKBACK_DAYS", 90),
			MultiFactorLookbackDays: getEnvAsInt("MULTI_FACTOR_LOOKBACK_DAYS", 252),
			MinObservations:         getEnvAsInt("MIN_REGRESSION_OBSERVATIONS", 30),
			MarketBetaCap:           getEnvAsFloat("MARKET_BETA_CAP", 5.0),
			RateBetaCap:             getEnvAsFloat("RATE_BETA_CAP", 3.0),
			FactorBetaCap:           getEnvAsFloat("FACTOR_BETA_CAP", 5.0),
			RelaxedSignificance:     getEnvAsFloat("SIGNIFICANCE_RELAXED", 0.10),
			StrictSignificance:      getEnvAsFloat("SIGNIFICANCE_STRICT", 0.05),
			QualityExcellent:        getEnvAsFloat("R2_EXCELLENT", 0.7),
			QualityGood:             getEnvAsFloat("R2_GOOD", 0.5),
			QualityFair:             getEnvAsFloat("R2_FAIR", 0.3),
			QualityPoor:             getEnvAsFloat("R2_POOR", 0.1),
			RidgeAlpha:              getEnvAsFloat("RIDGE_ALPHA", 1.0),
			RidgeCrossValidate:      getEnvAsBool("RIDGE_CV", false),
			RidgeAlphaGrid:          alphaGrid,
			RidgeFolds:              getEnvAsInt("RIDGE_CV_FOLDS", 5),
			MaxStalenessDays:        getEnvAsInt("MAX_STALENESS_DAYS", 1),
			StressLossCeiling:       getEnvAsFloat("STRESS_LOSS_CEILING", 0.99),
			CorrelationCacheTTL:     getEnvAsDuration("CORRELATION_CACHE_TTL", 24*time.Hour),
		},
		Database: DatabaseConfig{
			PoolSize:     getEnvAsInt("DB_POOL_SIZE", 20),
			PoolOverflow: getEnvAsInt("DB_POOL_OVERFLOW", 20),
		},
		Batch: BatchConfig{
			Schedule:            getEnv("BATCH_SCHEDULE", "30 21 * * 1-5"),
			Concurrency:         getEnvAsInt("BATCH_CONCURRENCY", 4),
			ClaimGrace:          getEnvAsDuration("SNAPSHOT_CLAIM_GRACE", 2*time.Hour),
			CleanupSchedule:     getEnv("SNAPSHOT_CLEANUP_SCHEDULE", "15 * * * *"),
			MaintenanceSchedule: getEnv("MAINTENANCE_SCHEDULE", "0 4 * * *"),
			PriceRetention:      time.Duration(getEnvAsInt("PRICE_RETENTION_DAYS", 1095)) * 24 * time.Hour,
		},
		Backup: BackupConfig{
			Bucket:        getEnv("BACKUP_S3_BUCKET", ""),
			Prefix:        getEnv("BACKUP_S3_PREFIX", "riskboard"),
			Region:        getEnv("BACKUP_S3_REGION", "auto"),
			Endpoint:      getEnv("BACKUP_S3_ENDPOINT", ""),
			AccessKey:     getEnv("BACKUP_S3_ACCESS_KEY", ""),
			SecretKey:     getEnv("BACKUP_S3_SECRET_KEY", ""),
			Schedule:      getEnv("BACKUP_SCHEDULE", "0 3 * * *"),
			RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
		},
		StressScenariosPath: getEnv("STRESS_SCENARIOS_PATH", ""),
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that configuration values are usable
func (c *Config) Validate() error {
	r := c.Risk
	if r.MinObservations < 3 {
		return fmt.Errorf("MIN_REGRESSION_OBSERVATIONS must be at least 3, got %d", r.MinObservations)
	}
	if r.BetaLookbackDays < r.MinObservations || r.MultiFactorLookbackDays < r.MinObservations {
		return fmt.Errorf("lookback windows must cover MIN_REGRESSION_OBSERVATIONS (%d)", r.MinObservations)
	}
	if !(r.QualityExcellent > r.QualityGood && r.QualityGood > r.QualityFair && r.QualityFair > r.QualityPoor) {
		return fmt.Errorf("R² quality cutpoints must be strictly decreasing")
	}
	if r.RidgeAlpha < 0 {
		return fmt.Errorf("RIDGE_ALPHA must be non-negative")
	}
	if r.StressLossCeiling <= 0 || r.StressLossCeiling > 1 {
		return fmt.Errorf("STRESS_LOSS_CEILING must be in (0, 1], got %v", r.StressLossCeiling)
	}
	if r.MaxStalenessDays < 0 {
		return fmt.Errorf("MAX_STALENESS_DAYS must be non-negative")
	}
	if c.Database.PoolSize < 1 {
		return fmt.Errorf("DB_POOL_SIZE must be positive")
	}
	if c.Batch.Concurrency < 1 {
		return fmt.Errorf("BATCH_CONCURRENCY must be positive")
	}
	if len(c.Factors.Active) == 0 {
		return fmt.Errorf("ACTIVE_FACTORS must name at least one factor")
	}
	return nil
}

// loadFactorConfig resolves ACTIVE_FACTORS and FACTOR_PROXIES into factor identifiers
func loadFactorConfig() (domain.FactorConfig, error) {
	active := domain.DefaultActiveFactors
	if raw := getEnv("ACTIVE_FACTORS", ""); raw != "" {
		ids, err := domain.ParseFactorList(raw)
		if err != nil {
			return domain.FactorConfig{}, fmt.Errorf("invalid ACTIVE_FACTORS: %w", err)
		}
		active = ids
	}

	overrides := make(map[domain.FactorID]string)
	// FACTOR_PROXIES format: "market=SPY,value=IWD"
	for _, pair := range strings.Split(getEnv("FACTOR_PROXIES", ""), ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, symbol, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(symbol) == "" {
			return domain.FactorConfig{}, fmt.Errorf("invalid FACTOR_PROXIES entry %q", pair)
		}
		id, err := domain.ParseFactorID(key)
		if err != nil {
			return domain.FactorConfig{}, fmt.Errorf("invalid FACTOR_PROXIES: %w", err)
		}
		overrides[id] = strings.ToUpper(strings.TrimSpace(symbol))
	}

	return domain.NewFactorConfig(active, overrides), nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func parseFloatList(raw string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
