package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/lgulliver/chunkup/pkg/config"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"
)

// Migration is one numbered schema change
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// Load reads every NNN_name.sql file in dir, ordered by version
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}

		migration, err := Parse(entry.Name(), string(content))
		if err != nil {
			return nil, err
		}
		if other, dup := seen[migration.Version]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, entry.Name(), migration.Version)
		}
		seen[migration.Version] = entry.Name()
		migrations = append(migrations, migration)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// Parse splits a migration file into its up and down sections
func Parse(filename, content string) (Migration, error) {
	prefix, name, ok := strings.Cut(strings.TrimSuffix(filename, ".sql"), "_")
	if !ok || name == "" {
		return Migration{}, fmt.Errorf("invalid migration filename %s: want NNN_name.sql", filename)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil {
		return Migration{}, fmt.Errorf("invalid migration version in %s: %w", filename, err)
	}

	var up, down []string
	var current *[]string
	for _, line := range strings.Split(content, "\n") {
		switch strings.TrimSpace(line) {
		case upMarker:
			current = &up
			continue
		case downMarker:
			current = &down
			continue
		}
		if current != nil {
			*current = append(*current, line)
		}
	}

	m := Migration{
		Version: version,
		Name:    name,
		Up:      strings.TrimSpace(strings.Join(up, "\n")),
		Down:    strings.TrimSpace(strings.Join(down, "\n")),
	}
	if m.Up == "" {
		return Migration{}, fmt.Errorf("migration %s has no %q section", filename, upMarker)
	}
	return m, nil
}

// Migrator applies migrations to a PostgreSQL database and records them in schema_migrations
type Migrator struct {
	db         *sql.DB
	migrations []Migration
}

// NewMigrator connects to the configured database and loads migrations from fsys
func NewMigrator(cfg *config.DatabaseConfig, fsys fs.FS, dir string) (*Migrator, error) {
	if cfg.Driver != "" && cfg.Driver != "postgres" {
		return nil, fmt.Errorf("SQL migrations target postgres, got driver %s", cfg.Driver)
	}

	migrations, err := Load(fsys, dir)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(db, migrations), nil
}

// New creates a migrator over an open connection
func New(db *sql.DB, migrations []Migration) *Migrator {
	return &Migrator{db: db, migrations: migrations}
}

func (m *Migrator) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]bool, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	versions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		versions[version] = true
	}
	return versions, rows.Err()
}

// Pending returns the migrations not yet applied, in order
func (m *Migrator) Pending(ctx context.Context) ([]Migration, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	return pending(m.migrations, applied), nil
}

func pending(migrations []Migration, applied map[int]bool) []Migration {
	var out []Migration
	for _, migration := range migrations {
		if !applied[migration.Version] {
			out = append(out, migration)
		}
	}
	return out
}

// Up applies every pending migration, each in its own transaction
func (m *Migrator) Up(ctx context.Context) error {
	todo, err := m.Pending(ctx)
	if err != nil {
		return err
	}
	if len(todo) == 0 {
		log.Info().Msg("no pending migrations")
		return nil
	}

	log.Info().Int("count", len(todo)).Msg("running pending migrations")
	for _, migration := range todo {
		err := m.inTx(ctx, migration.Up, "INSERT INTO schema_migrations (version, name) VALUES ($1, $2)", migration.Version, migration.Name)
		if err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
		}
		log.Info().Int("version", migration.Version).Str("name", migration.Name).Msg("applied migration")
	}
	return nil
}

// Down rolls back the most recently applied migration
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for i := len(m.migrations) - 1; i >= 0; i-- {
		migration := m.migrations[i]
		if !applied[migration.Version] {
			continue
		}
		if migration.Down == "" {
			return fmt.Errorf("migration %d (%s) cannot be rolled back", migration.Version, migration.Name)
		}
		if err := m.inTx(ctx, migration.Down, "DELETE FROM schema_migrations WHERE version = $1", migration.Version); err != nil {
			return fmt.Errorf("failed to roll back migration %d (%s): %w", migration.Version, migration.Name, err)
		}
		log.Info().Int("version", migration.Version).Str("name", migration.Name).Msg("rolled back migration")
		return nil
	}

	log.Info().Msg("no migrations to roll back")
	return nil
}

// inTx runs a schema statement and its bookkeeping statement atomically
func (m *Migrator) inTx(ctx context.Context, schemaSQL, recordSQL string, args ...interface{}) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx, recordSQL, args...); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}

// Close closes the database connection
func (m *Migrator) Close() error {
	return m.db.Close()
}
