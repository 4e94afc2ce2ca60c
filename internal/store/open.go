package store

import (
	"context"
	"fmt"

	"supplychain-orchestrator/internal/config"
)

// Open connects the configured driver and applies migrations.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.StoreDriver {
	case "postgres":
		st, err = NewPostgres(ctx, cfg.PostgresDSN)
	case "sqlite":
		st, err = NewSQLite(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.StoreDriver, err)
	}
	if err := st.RunMigrations(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return st, nil
}
