package clientdata

import "time"

// TTL constants for cached data.
// These are added to time.Now() when storing to calculate expires_at.
const (
	// TTLCurrentPrice - latest quotes reused within one batch run
	TTLCurrentPrice = 10 * time.Minute
	// TTLFactorCorrelations - factor correlation matrices change with the daily close only
	TTLFactorCorrelations = 24 * time.Hour
)
