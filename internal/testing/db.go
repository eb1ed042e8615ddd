// Package testing provides testing utilities and helpers for the riskboard project.
package testing

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/aristath/riskboard/internal/database"
	_ "github.com/mattn/go-sqlite3"
)

// NewTestDB creates a temporary-file SQLite database with the named schema applied.
// Returns the database instance and a cleanup function that closes and removes it.
//
// Supported schema names: "portfolio", "history", "cache". Unknown names create an
// empty database.
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	// Temporary files rather than :memory: so every pooled connection sees the same data
	tmpFile, err := os.CreateTemp("", fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	if err := db.Migrate(); err != nil {
		_ = db.Close()
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
		for _, suffix := range []string{"", "-wal", "-shm"} {
			_ = os.Remove(tmpPath + suffix)
		}
	}
}

// GetRawConnection returns the underlying *sql.DB of a test database
func GetRawConnection(db *database.DB) *sql.DB {
	return db.Conn()
}

// LoadTestSchema returns the SQL of a named schema (e.g. "portfolio")
func LoadTestSchema(schemaName string) (string, error) {
	dir, err := findSchemasDir()
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(filepath.Join(dir, schemaName+"_schema.sql"))
	if err != nil {
		return "", fmt.Errorf("failed to read schema %s: %w", schemaName, err)
	}
	return string(content), nil
}

// NewMemoryDB opens a single-connection in-memory go-sqlite3 database with the named schema applied
func NewMemoryDB(t *testing.T, schemaName string) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	// Every connection to :memory: is a fresh database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	schema, err := LoadTestSchema(schemaName)
	if err != nil {
		t.Fatalf("%v", err)
	}
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("Failed to apply schema %s: %v", schemaName, err)
	}
	return db
}

// findSchemasDir locates internal/database/schemas relative to this file
func findSchemasDir() (string, error) {
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to get caller information")
	}
	dir := filepath.Join(filepath.Dir(currentFile), "..", "database", "schemas")
	if _, err := os.Stat(dir); err != nil {
		return "", fmt.Errorf("schemas directory not found at %s: %w", dir, err)
	}
	return dir, nil
}
