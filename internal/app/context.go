package app

import (
	"context"
	"database/sql"
	"fmt"

	"dealguard/internal/config"
	"dealguard/internal/db"
	"dealguard/internal/migrate"
)

// Workspace is an opened, migrated store plus the configuration it was
// opened with.
type Workspace struct {
	Dir     string
	Config  *config.Config
	DB      *sql.DB
	Dialect db.Dialect
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}

// Open loads <dir>/dealguard.yml (or the defaults when it is absent), applies
// the driver and dsn overrides, opens the store and brings its schema up to
// date.
func Open(ctx context.Context, dir, driver, dsn string) (*Workspace, error) {
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		return nil, err
	}
	if driver != "" {
		cfg.Store.Driver = driver
	}
	if dsn != "" {
		cfg.Store.DSN = dsn
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dbCfg := db.Config{Workspace: dir, Driver: cfg.Store.Driver, DSN: cfg.Store.DSN}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connect %s store: %w", cfg.Store.Driver, err)
	}
	if err := migrate.Migrate(conn, dbCfg.Dialect()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Workspace{Dir: dir, Config: cfg, DB: conn, Dialect: dbCfg.Dialect()}, nil
}
