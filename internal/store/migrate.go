package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"
)

// Migration is one schema migration file.
type Migration struct {
	Version     int
	Description string
	SQL         string
	Filename    string
}

// Migrator applies ordered SQL migrations from a directory. It runs over
// database/sql rather than the pgx pool because migrations execute
// multi-statement files which the pool's hot path never does.
type Migrator struct {
	db  *sql.DB
	dir string
}

// NewMigrator creates a migration runner over db reading from dir.
func NewMigrator(db *sql.DB, dir string) *Migrator {
	return &Migrator{db: db, dir: dir}
}

// OpenMigrator connects to the database with lib/pq and returns a runner.
// The caller owns the returned *sql.DB.
func OpenMigrator(databaseURL, dir string) (*Migrator, *sql.DB, error) {
	if databaseURL == "" {
		return nil, nil, fmt.Errorf("database URL is not set")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return NewMigrator(db, dir), db, nil
}

func (m *Migrator) ensureSchemaVersionTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW(),
			description TEXT
		);
	`
	_, err := m.db.ExecContext(ctx, query)
	return err
}

func (m *Migrator) currentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to get current version: %w", err)
	}
	return version, nil
}

// loadMigrations reads NNN_description.sql files from the directory,
// skipping _down.sql counterparts, ordered by version.
func (m *Migrator) loadMigrations() ([]Migration, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		if strings.HasSuffix(entry.Name(), "_down.sql") {
			continue
		}

		path := filepath.Clean(filepath.Join(m.dir, entry.Name()))
		if !strings.HasPrefix(path, filepath.Clean(m.dir)) {
			return nil, fmt.Errorf("invalid migration file path: %s", entry.Name())
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		var version int
		var description string
		if _, err := fmt.Sscanf(entry.Name(), "%d_%s", &version, &description); err != nil {
			return nil, fmt.Errorf("invalid migration filename %s (expected NNN_description.sql)", entry.Name())
		}
		description = strings.TrimSuffix(description, ".sql")
		description = strings.ReplaceAll(description, "_", " ")

		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			SQL:         string(content),
			Filename:    entry.Name(),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

// Migrate applies every pending migration in order.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.ensureSchemaVersionTable(ctx); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	current, err := m.currentVersion(ctx)
	if err != nil {
		return err
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return err
	}
	if len(migrations) == 0 {
		fmt.Println("No migrations found")
		return nil
	}

	var pending []Migration
	for _, migration := range migrations {
		if migration.Version > current {
			pending = append(pending, migration)
		}
	}
	if len(pending) == 0 {
		fmt.Printf("Database is up to date (version %d)\n", current)
		return nil
	}

	fmt.Printf("Current schema version: %d\n", current)
	fmt.Printf("Found %d pending migration(s)\n", len(pending))

	for _, migration := range pending {
		if err := m.apply(ctx, migration); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
	}

	final, _ := m.currentVersion(ctx)
	fmt.Printf("Migration complete. Current version: %d\n", final)

	return nil
}

// apply runs one migration file and records it, atomically.
func (m *Migrator) apply(ctx context.Context, migration Migration) error {
	fmt.Printf("Applying migration %d: %s\n", migration.Version, migration.Description)

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO schema_version (version, description) VALUES ($1, $2) ON CONFLICT (version) DO NOTHING",
		migration.Version,
		migration.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to record migration version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	fmt.Printf("Migration %d applied\n", migration.Version)

	return nil
}

// Status prints the applied/pending state of every known migration.
func (m *Migrator) Status(ctx context.Context) error {
	if err := m.ensureSchemaVersionTable(ctx); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	current, err := m.currentVersion(ctx)
	if err != nil {
		return err
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return err
	}

	fmt.Printf("Current schema version: %d\n", current)
	fmt.Printf("Available migrations: %d\n", len(migrations))
	fmt.Println("\nVERSION | STATUS  | DESCRIPTION")
	fmt.Println("--------|---------|-----------------------------------")
	for _, migration := range migrations {
		status := "pending"
		if migration.Version <= current {
			status = "applied"
		}
		fmt.Printf("%-7d | %-7s | %s\n", migration.Version, status, migration.Description)
	}

	return nil
}
