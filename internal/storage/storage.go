// Package storage selects the persistence backend.
package storage

import (
	"fmt"

	"github.com/polything/phoenix-template/internal/core/ports"
	"github.com/polything/phoenix-template/internal/storage/memory"
	"github.com/polything/phoenix-template/internal/storage/sqldb"
)

// Config selects a backend. Driver is memory, sqlite or postgres.
type Config struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

// Open returns the configured store.
func Open(cfg Config) (ports.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.New(), nil
	case "sqlite", "sqlite3", "postgres", "postgresql":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("storage.dsn is required for driver %q", cfg.Driver)
		}
		store, err := sqldb.New(sqldb.Config{Driver: cfg.Driver, DSN: cfg.DSN})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", cfg.Driver)
	}
}
