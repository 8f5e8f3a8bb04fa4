package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/promptorg/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// FileName is the database file inside the base directory.
const FileName = "promptorg.db"

// defaultCategories are seeded by migration 1. "other" must stay: the
// organizer falls back to it for unknown category ids.
var defaultCategories = [][2]string{
	{"other", "Other"},
	{"writing", "Writing"},
	{"coding", "Coding"},
	{"research", "Research"},
	{"analysis", "Analysis"},
	{"communication", "Communication"},
}

// Init initializes the SQLite database at baseDir/promptorg.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.promptorg.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	_ = os.Chmod(baseDir, 0700)

	// Pragmas in the connection string apply to every pooled connection
	dbPath := filepath.Join(baseDir, FileName)
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: library, templates, key-value state
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS prompts (
		  id                     TEXT PRIMARY KEY,
		  name                   TEXT NOT NULL,
		  content                TEXT NOT NULL,
		  execution_count        INTEGER NOT NULL DEFAULT 0,
		  last_executed_at       INTEGER,
		  exclude_from_organizer INTEGER NOT NULL DEFAULT 0,
		  created_at             INTEGER NOT NULL,
		  updated_at             INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_prompts_organizer
		ON prompts(execution_count DESC, last_executed_at DESC)
		WHERE exclude_from_organizer = 0;

		CREATE TABLE IF NOT EXISTS categories (
		  id       TEXT PRIMARY KEY,
		  name     TEXT NOT NULL,
		  position INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS templates (
		  id                  TEXT PRIMARY KEY,
		  title               TEXT NOT NULL,
		  content             TEXT NOT NULL,
		  use_case            TEXT NOT NULL,
		  category_id         TEXT NOT NULL,
		  variables_json      TEXT NOT NULL,
		  pinned              INTEGER NOT NULL DEFAULT 0,
		  source_candidate_id TEXT UNIQUE,
		  source_prompts_json TEXT,
		  created_at          INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_templates_pinned_created
		ON templates(pinned DESC, created_at DESC);

		CREATE TABLE IF NOT EXISTS kv (
		  namespace  TEXT NOT NULL,
		  key        TEXT NOT NULL,
		  value      TEXT NOT NULL,
		  updated_at INTEGER NOT NULL,
		  PRIMARY KEY (namespace, key)
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		for i, c := range defaultCategories {
			if _, err := db.Exec(
				`INSERT INTO categories (id, name, position) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`,
				c[0], c[1], i,
			); err != nil {
				return fmt.Errorf("migration 1 failed: seed category %s: %w", c[0], err)
			}
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
