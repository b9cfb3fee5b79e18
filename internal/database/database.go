package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/gnemet/PromptDeck/internal/config"
)

// Migration is one schema step. Statements must run on SQLite and PostgreSQL.
type Migration struct {
	Version     int
	Description string
	Up          string
}

func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create generation_runs table",
			Up: `
				CREATE TABLE IF NOT EXISTS generation_runs (
					id TEXT PRIMARY KEY,
					prompt TEXT NOT NULL,
					provider TEXT NOT NULL DEFAULT '',
					status TEXT NOT NULL,
					message TEXT NOT NULL DEFAULT '',
					script_path TEXT NOT NULL DEFAULT '',
					exit_code INTEGER,
					stdout TEXT NOT NULL DEFAULT '',
					stderr TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL,
					finished_at TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_runs_created ON generation_runs(created_at);
			`,
		},
		{
			Version:     2,
			Description: "Create presentation_files and presentation_slides tables",
			Up: `
				CREATE TABLE IF NOT EXISTS presentation_files (
					id TEXT PRIMARY KEY,
					run_id TEXT NOT NULL DEFAULT '',
					filename TEXT NOT NULL,
					file_path TEXT NOT NULL UNIQUE,
					checksum TEXT NOT NULL,
					slide_count INTEGER NOT NULL DEFAULT 0,
					title TEXT NOT NULL DEFAULT '',
					thumbnail_dir TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_files_run ON presentation_files(run_id);
				CREATE TABLE IF NOT EXISTS presentation_slides (
					id TEXT PRIMARY KEY,
					file_id TEXT NOT NULL,
					slide_number INTEGER NOT NULL,
					title TEXT NOT NULL DEFAULT '',
					content TEXT NOT NULL DEFAULT '',
					png_path TEXT NOT NULL DEFAULT ''
				);
				CREATE INDEX IF NOT EXISTS idx_slides_file ON presentation_slides(file_id);
			`,
		},
	}
}

// NewConnection opens the configured backend and applies pending migrations.
func NewConnection(cfg config.DatabaseConfig) (*sql.DB, error) {
	driver := "sqlite"
	dsn := cfg.GetConnectStr()

	if cfg.Driver == "postgres" {
		driver = "postgres"
	} else {
		if dsn == "" {
			return nil, fmt.Errorf("database.path is empty")
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	if driver == "sqlite" {
		// One writer at a time; avoids SQLITE_BUSY between the observer and handlers.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("Database connection established", "driver", driver)
	return db, nil
}

// Migrate applies every migration not yet recorded in schema_migrations.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range GetMigrations() {
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = $1", m.Version).Scan(&count); err != nil {
			return fmt.Errorf("failed to check migration status for version %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, description) VALUES ($1, $2)", m.Version, m.Description); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
		slog.Debug("database.Migrate: applied", "version", m.Version, "description", m.Description)
	}
	return nil
}
