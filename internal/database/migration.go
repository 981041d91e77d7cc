package database

import (
	"embed"
	"fmt"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// RunMigrations executes schema migrations
// 001_init.sql runs only once (on fresh install)
// Upgrade statements run every time for existing installations
func (db *DB) RunMigrations() error {
	// Create migrations tracking table (for version tracking only)
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var exists bool
	err = db.QueryRow(`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = '001_init')`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check migration status: %w", err)
	}

	if !exists {
		content, err := migrationFS.ReadFile("migrations/001_init.sql")
		if err != nil {
			return fmt.Errorf("failed to read 001_init.sql: %w", err)
		}

		db.logger.Info().Msg("running initial schema migration (001_init.sql)")
		if _, err = db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to apply schema migration: %w", err)
		}

		if _, err = db.Exec(`INSERT INTO schema_migrations (version) VALUES ('001_init')`); err != nil {
			return fmt.Errorf("failed to update migration version: %w", err)
		}
		db.logger.Info().Msg("initial schema migration completed")
	} else {
		db.logger.Info().Msg("schema already initialized, running upgrades only")
	}

	upgradeSQL := `
		ALTER TABLE public.managed_sites ADD COLUMN IF NOT EXISTS date_renewed timestamp with time zone;
		ALTER TABLE public.managed_sites ADD COLUMN IF NOT EXISTS date_expiry timestamp with time zone;
	`
	if _, err = db.Exec(upgradeSQL); err != nil {
		db.logger.Warn().Err(err).Msg("upgrade statements had errors (may be already applied)")
	}

	db.logger.Info().Msg("schema migration completed")
	return nil
}
