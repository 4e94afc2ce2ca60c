package store

import (
	"context"
	"path/filepath"
	"testing"

	"supplychain-orchestrator/internal/config"
)

func TestOpenSQLiteRunsMigrations(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{StoreDriver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "open.db")}
	st, err := Open(ctx, cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()
	if _, err := st.ListSubjects(ctx, "shipment", nil); err != nil {
		t.Fatalf("schema missing after open: %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), config.Config{StoreDriver: "mysql"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
