package db

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/anstrom/gvmscan/internal/errors"
	"github.com/anstrom/gvmscan/internal/logging"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration is a row of the migrations tracking table.
type Migration struct {
	ID        int       `db:"id"`
	Name      string    `db:"name"`
	AppliedAt time.Time `db:"applied_at"`
	Checksum  string    `db:"checksum"`
}

// MigrationStatus pairs a bundled migration with its applied row, if any.
type MigrationStatus struct {
	Name      string
	Applied   bool
	AppliedAt time.Time
	// Drifted is set when the applied checksum differs from the bundled file.
	Drifted bool
}

// Migrator handles database migrations.
type Migrator struct {
	db     *sqlx.DB
	files  fs.FS
	logger *logging.Logger
}

// NewMigrator creates a migrator over the bundled migrations.
func NewMigrator(db *sqlx.DB, logger *logging.Logger) *Migrator {
	if logger == nil {
		logger = logging.Default()
	}
	sub, _ := fs.Sub(migrationFiles, "migrations")
	return &Migrator{db: db, files: sub, logger: logger.WithComponent("migrate")}
}

func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ DEFAULT NOW(),
			checksum VARCHAR(64) NOT NULL
		)`

	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return errors.WrapDatabaseError(errors.CodeDatabaseMigration, "create migrations table", err)
	}
	return nil
}

func (m *Migrator) appliedMigrations(ctx context.Context) (map[string]Migration, error) {
	var migrations []Migration
	query := `SELECT id, name, applied_at, checksum FROM schema_migrations ORDER BY id`

	if err := m.db.SelectContext(ctx, &migrations, query); err != nil {
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseMigration, "list applied migrations", err)
	}

	applied := make(map[string]Migration, len(migrations))
	for _, migration := range migrations {
		applied[migration.Name] = migration
	}
	return applied, nil
}

// migrationNames returns the bundled migration names in apply order.
func (m *Migrator) migrationNames() ([]string, error) {
	files, err := fs.Glob(m.files, "*.sql")
	if err != nil {
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseMigration, "read migration files", err)
	}
	sort.Strings(files)

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, strings.TrimSuffix(path.Base(f), ".sql"))
	}
	return names, nil
}

func (m *Migrator) content(name string) (string, string, error) {
	data, err := fs.ReadFile(m.files, name+".sql")
	if err != nil {
		return "", "", errors.WrapDatabaseError(errors.CodeDatabaseMigration, "read migration "+name, err)
	}
	sum := sha256.Sum256(data)
	return string(data), hex.EncodeToString(sum[:]), nil
}

func (m *Migrator) apply(ctx context.Context, name string) error {
	content, checksum, err := m.content(name)
	if err != nil {
		return err
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WrapDatabaseError(errors.CodeDatabaseMigration, "begin migration "+name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, content); err != nil {
		return errors.WrapDatabaseError(errors.CodeDatabaseMigration, "execute migration "+name, err)
	}

	insertQuery := `INSERT INTO schema_migrations (name, checksum) VALUES ($1, $2)`
	if _, err := tx.ExecContext(ctx, insertQuery, name, checksum); err != nil {
		return errors.WrapDatabaseError(errors.CodeDatabaseMigration, "record migration "+name, err)
	}

	if err := tx.Commit(); err != nil {
		return errors.WrapDatabaseError(errors.CodeDatabaseMigration, "commit migration "+name, err)
	}
	return nil
}

// Up applies all pending migrations and returns the names it applied.
func (m *Migrator) Up(ctx context.Context) ([]string, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	names, err := m.migrationNames()
	if err != nil {
		return nil, err
	}

	var done []string
	for _, name := range names {
		if _, ok := applied[name]; ok {
			m.logger.Debug("Migration already applied", "migration", name)
			continue
		}

		m.logger.Info("Applying migration", "migration", name)
		if err := m.apply(ctx, name); err != nil {
			return done, err
		}
		done = append(done, name)
	}
	return done, nil
}

// Status reports every bundled migration and whether it has been applied.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	names, err := m.migrationNames()
	if err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, 0, len(names))
	for _, name := range names {
		st := MigrationStatus{Name: name}
		if row, ok := applied[name]; ok {
			_, checksum, err := m.content(name)
			if err != nil {
				return nil, err
			}
			st.Applied = true
			st.AppliedAt = row.AppliedAt
			st.Drifted = row.Checksum != checksum
		}
		out = append(out, st)
	}
	return out, nil
}

func (s MigrationStatus) String() string {
	switch {
	case !s.Applied:
		return fmt.Sprintf("%s (pending)", s.Name)
	case s.Drifted:
		return fmt.Sprintf("%s (applied at %s, checksum differs)", s.Name, s.AppliedAt.Format(time.DateTime))
	default:
		return fmt.Sprintf("%s (applied at %s)", s.Name, s.AppliedAt.Format(time.DateTime))
	}
}
