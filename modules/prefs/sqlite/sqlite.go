// Package sqlite implements a persistent SQLite-backed preference store.
// It uses modernc.org/sqlite (pure Go, no CGO) with WAL mode.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/clawdis/bridge/internal/core"
	"github.com/clawdis/bridge/internal/prefs"

	_ "modernc.org/sqlite" // SQLite driver registration
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ prefs.Store       = (*store)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module provides the prefs.store service backed by a single database.
type Module struct {
	config Config
	db     *sql.DB
	logger *slog.Logger
	store  *store
}

// store implements prefs.Store backed by SQLite.
type store struct {
	db *sql.DB
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "prefs.sqlite",
		New: func() core.Module { return new(Module) },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if node == nil {
		return nil
	}
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	if dir := filepath.Dir(m.config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", m.config.Path)
	if err != nil {
		return fmt.Errorf("sqlite: open %s: %w", m.config.Path, err)
	}

	// SQLite handles one writer at a time; limit pool to 1 connection
	// so PRAGMAs apply consistently.
	db.SetMaxOpenConns(1)

	if m.config.walEnabled() {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return fmt.Errorf("sqlite: enable WAL: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d", m.config.BusyTimeout)); err != nil {
		_ = db.Close()
		return fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return err
	}

	m.db = db
	m.store = &store{db: db}

	ctx.RegisterService(prefs.ServiceName, m.store)

	m.logger.Info("prefs store ready", "path", m.config.Path)
	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// migrate creates the schema if it does not exist.
func migrate(db *sql.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS node_prefs (
	node_id    TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (node_id, key)
);`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("sqlite: migrate schema: %w", err)
	}
	return nil
}

// Get implements prefs.Store.
func (s *store) Get(ctx context.Context, nodeID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM node_prefs WHERE node_id = ? AND key = ?`,
		nodeID, key).Scan(&value)
	switch {
	case err == sql.ErrNoRows:
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("sqlite: get pref %s/%s: %w", nodeID, key, err)
	}
	return value, true, nil
}

// Set implements prefs.Store.
func (s *store) Set(ctx context.Context, nodeID, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO node_prefs (node_id, key, value, updated_at)
		 VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (node_id, key) DO UPDATE SET
		   value = excluded.value,
		   updated_at = CURRENT_TIMESTAMP`,
		nodeID, key, value)
	if err != nil {
		return fmt.Errorf("sqlite: set pref %s/%s: %w", nodeID, key, err)
	}
	return nil
}

// Delete implements prefs.Store.
func (s *store) Delete(ctx context.Context, nodeID, key string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM node_prefs WHERE node_id = ? AND key = ?`,
		nodeID, key); err != nil {
		return fmt.Errorf("sqlite: delete pref %s/%s: %w", nodeID, key, err)
	}
	return nil
}
