// Package clientdata provides the process-wide cache service for provider responses
// and derived calculation results. Values are stored as msgpack blobs with expiration
// timestamps for cache-first behavior with stale fallback.
package clientdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache tables in cache.db
const (
	TableCurrentPrices      = "current_prices"
	TableFactorCorrelations = "factor_correlations"
)

// AllTables lists all cache tables for cleanup operations.
var AllTables = []string{
	TableCurrentPrices,
	TableFactorCorrelations,
}

// validTables is a set for O(1) table name validation.
var validTables = func() map[string]bool {
	m := make(map[string]bool, len(AllTables))
	for _, t := range AllTables {
		m[t] = true
	}
	return m
}()

// InvalidationHook is called after entries are invalidated. key is empty when a
// whole prefix was dropped.
type InvalidationHook func(table, key string)

// Repository is the cache service. Construct one per process and pass it by reference.
type Repository struct {
	db    *sql.DB
	now   func() time.Time
	mu    sync.RWMutex
	hooks []InvalidationHook
}

// NewRepository creates a new cache repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// OnInvalidate registers a hook run after Delete and InvalidatePrefix
func (r *Repository) OnInvalidate(hook InvalidationHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// validateTable ensures the table name is in our allowed list.
// This prevents SQL injection through table names.
func validateTable(table string) error {
	if !validTables[table] {
		return fmt.Errorf("invalid table name: %s", table)
	}
	return nil
}

// Store saves value with expiration = now + ttl.
func (r *Repository) Store(ctx context.Context, table, key string, value interface{}, ttl time.Duration) error {
	if err := validateTable(table); err != nil {
		return err
	}

	data, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (key, data, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, expires_at = excluded.expires_at`, table)

	if _, err := r.db.ExecContext(ctx, query, key, data, r.now().Add(ttl).Unix()); err != nil {
		return fmt.Errorf("failed to store data in %s: %w", table, err)
	}
	return nil
}

// GetIfFresh decodes the entry into dest only if it has not expired.
// Returns false when the key is absent or expired.
func (r *Repository) GetIfFresh(ctx context.Context, table, key string, dest interface{}) (bool, error) {
	return r.get(ctx, table, key, dest, true)
}

// Get decodes the entry regardless of expiration.
// Use as a fallback when a provider call fails: stale data is better than no data.
func (r *Repository) Get(ctx context.Context, table, key string, dest interface{}) (bool, error) {
	return r.get(ctx, table, key, dest, false)
}

func (r *Repository) get(ctx context.Context, table, key string, dest interface{}, freshOnly bool) (bool, error) {
	if err := validateTable(table); err != nil {
		return false, err
	}

	query := fmt.Sprintf("SELECT data FROM %s WHERE key = ?", table)
	args := []interface{}{key}
	if freshOnly {
		query += " AND expires_at > ?"
		args = append(args, r.now().Unix())
	}

	var data []byte
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get data from %s: %w", table, err)
	}

	if err := msgpack.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s/%s: %w", table, key, err)
	}
	return true, nil
}

// Delete removes a specific entry.
func (r *Repository) Delete(ctx context.Context, table, key string) error {
	if err := validateTable(table); err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE key = ?", table)
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}

	r.notify(table, key)
	return nil
}

// InvalidatePrefix removes every entry whose key starts with prefix.
func (r *Repository) InvalidatePrefix(ctx context.Context, table, prefix string) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}

	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	query := fmt.Sprintf(`DELETE FROM %s WHERE key LIKE ? ESCAPE '\'`, table)
	result, err := r.db.ExecContext(ctx, query, escaped+"%")
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate %s/%s*: %w", table, prefix, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for %s: %w", table, err)
	}

	r.notify(table, "")
	return deleted, nil
}

// DeleteExpired removes all rows where expires_at < now.
// Returns the number of rows deleted.
func (r *Repository) DeleteExpired(ctx context.Context, table string) (int64, error) {
	if err := validateTable(table); err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE expires_at < ?", table)
	result, err := r.db.ExecContext(ctx, query, r.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired from %s: %w", table, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for %s: %w", table, err)
	}
	return deleted, nil
}

// DeleteAllExpired removes all expired entries from all tables.
// Returns a map of table name to number of rows deleted.
func (r *Repository) DeleteAllExpired(ctx context.Context) (map[string]int64, error) {
	results := make(map[string]int64)

	for _, table := range AllTables {
		deleted, err := r.DeleteExpired(ctx, table)
		if err != nil {
			return results, err
		}
		results[table] = deleted
	}

	return results, nil
}

func (r *Repository) notify(table, key string) {
	r.mu.RLock()
	hooks := make([]InvalidationHook, len(r.hooks))
	copy(hooks, r.hooks)
	r.mu.RUnlock()

	for _, h := range hooks {
		h(table, key)
	}
}
