// Package migrate applies the embedded SQL schema with goose.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var migrations embed.FS

const migrationsDir = "sql"

// Seams for tests; goose itself needs a live database.
var (
	gooseUpContext   = goose.UpContext
	gooseDownContext = goose.DownContext
	gooseVersion     = goose.GetDBVersionContext
)

// Manager executes the embedded migrations against db.
type Manager struct {
	db *sql.DB
}

// NewManager configures goose for PostgreSQL and the embedded files.
func NewManager(db *sql.DB) (*Manager, error) {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("goose dialect: %w", err)
	}
	return &Manager{db: db}, nil
}

// Up applies all pending migrations.
func (m *Manager) Up(ctx context.Context) error {
	if err := gooseUpContext(ctx, m.db, migrationsDir); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down rolls back the most recent applied migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := gooseDownContext(ctx, m.db, migrationsDir); err != nil {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Status lists every embedded migration with its applied state.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	current, err := gooseVersion(ctx, m.db)
	if err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	all, err := Files()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for _, f := range all {
		state := "pending"
		if f.Version <= current {
			state = "applied"
		}
		out = append(out, fmt.Sprintf("%05d %-8s %s", f.Version, state, f.Name))
	}
	return out, nil
}

// File is one embedded migration.
type File struct {
	Version int64
	Name    string
}

// Files returns the embedded migrations in version order.
func Files() ([]File, error) {
	entries, err := migrations.ReadDir(migrationsDir)
	if err != nil {
		return nil, err
	}
	var out []File
	for _, e := range entries {
		v, err := goose.NumericComponent(e.Name())
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", e.Name(), err)
		}
		out = append(out, File{Version: v, Name: e.Name()})
	}
	return out, nil
}
