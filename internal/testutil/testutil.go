// Package testutil provides a migrated SQLite database and seed helpers for
// package tests.
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-grow/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-grow/migrations" // registers embedded migrations
)

// OpenDB opens a file-backed database in t.TempDir with every migration applied.
// A file is used instead of :memory: so the pooled connection always sees the same schema.
func OpenDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "grow.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db.DB
}

// SeedGreenhouse inserts a greenhouse row.
func SeedGreenhouse(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	now := database.FormatTime(time.Now())
	exec(t, db, `INSERT INTO greenhouses (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, "Greenhouse "+id, now, now)
}

// SeedZone inserts a zone (and its greenhouse when missing).
func SeedZone(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	now := database.FormatTime(time.Now())
	exec(t, db, `INSERT OR IGNORE INTO greenhouses (id, name, created_at, updated_at) VALUES ('gh-test', 'Test house', ?, ?)`,
		now, now)
	exec(t, db, `INSERT INTO zones (id, greenhouse_id, name, created_at, updated_at) VALUES (?, 'gh-test', ?, ?, ?)`,
		id, "Zone "+id, now, now)
}

// SeedPlant inserts a plant row.
func SeedPlant(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	exec(t, db, `INSERT INTO plants (id, name, created_at) VALUES (?, ?, ?)`,
		id, "Plant "+id, database.FormatTime(time.Now()))
}

// SeedCycle inserts a grow cycle in zoneID with the given status, backed by
// its own plant, recipe and published revision. The cycle has no current phase.
func SeedCycle(t *testing.T, db *sql.DB, id, zoneID, status string) {
	t.Helper()
	now := database.FormatTime(time.Now())
	exec(t, db, `INSERT INTO plants (id, name, created_at) VALUES (?, ?, ?)`,
		"plant-"+id, "Plant for "+id, now)
	exec(t, db, `INSERT INTO recipes (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		"recipe-"+id, "Recipe for "+id, now, now)
	exec(t, db, `INSERT INTO recipe_revisions (id, recipe_id, revision_number, status, published_at, created_at, updated_at)
		VALUES (?, ?, 1, 'PUBLISHED', ?, ?, ?)`,
		"rev-"+id, "recipe-"+id, now, now, now)
	exec(t, db, `INSERT INTO grow_cycles (id, zone_id, plant_id, recipe_revision_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, zoneID, "plant-"+id, "rev-"+id, status, now, now)
}

// Count returns the number of rows in table matching where (may be empty).
func Count(t *testing.T, db *sql.DB, table, where string, args ...any) int {
	t.Helper()
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	if err := db.QueryRowContext(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return n
}

func exec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.ExecContext(context.Background(), query, args...); err != nil {
		t.Fatalf("seeding: %v", err)
	}
}
