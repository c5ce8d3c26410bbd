package database

import (
	"context"
	"testing"

	"frameworks/bosun/pkg/logging"
)

func TestConnectRequiresURL(t *testing.T) {
	if _, err := Connect(context.Background(), Config{}, logging.NewDiscardLogger()); err == nil {
		t.Fatal("expected error for empty URL")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("postgres://localhost/bosun")
	if cfg.URL != "postgres://localhost/bosun" || cfg.MaxOpenConns == 0 || cfg.ConnMaxLifetime == 0 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
