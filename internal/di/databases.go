package di

import (
	"fmt"
	"path/filepath"

	"github.com/aristath/riskboard/internal/config"
	"github.com/aristath/riskboard/internal/database"
	"github.com/rs/zerolog"
)

// InitializeDatabases opens the three databases and applies their schemas
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	specs := []struct {
		name    string
		profile database.DatabaseProfile
		target  **database.DB
	}{
		// portfolio.db - positions, equity and exactly-once snapshots
		{"portfolio", database.ProfileLedger, &container.PortfolioDB},
		// history.db - daily closes
		{"history", database.ProfileStandard, &container.HistoryDB},
		// cache.db - TTL cache for quotes and correlation matrices
		{"cache", database.ProfileCache, &container.CacheDB},
	}

	for _, spec := range specs {
		db, err := database.New(database.Config{
			Path:         filepath.Join(cfg.DataDir, spec.name+".db"),
			Profile:      spec.profile,
			Name:         spec.name,
			MaxOpenConns: cfg.Database.MaxOpenConns(),
			MaxIdleConns: cfg.Database.PoolSize,
		})
		if err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to initialize %s database: %w", spec.name, err)
		}
		*spec.target = db

		if err := db.Migrate(); err != nil {
			container.Close()
			return nil, fmt.Errorf("failed to migrate %s database: %w", spec.name, err)
		}
		log.Debug().Str("database", spec.name).Msg("Database ready")
	}

	return container, nil
}
