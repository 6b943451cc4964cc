package database

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

// resetPool clears the process-wide pool; pool tests share it and do not run in parallel.
func resetPool(t *testing.T) {
	t.Helper()
	poolMutex.Lock()
	if globalPool != nil && globalPool.instance != nil {
		_ = globalPool.instance.Close()
	}
	globalPool = nil
	poolMutex.Unlock()
	t.Cleanup(func() {
		poolMutex.Lock()
		if globalPool != nil && globalPool.instance != nil {
			_ = globalPool.instance.Close()
		}
		globalPool = nil
		poolNow = time.Now
		poolMutex.Unlock()
	})
}

func TestGetDatabaseReusesHealthyStore(t *testing.T) {
	resetPool(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := DatabaseConfig{SQLitePath: filepath.Join(t.TempDir(), "pool.sqlite")}

	first, err := GetDatabase(cfg, logger)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := GetDatabase(cfg, logger)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first != second {
		t.Fatal("healthy store was recreated")
	}
	if got := GetConnectionStats()["status"]; got != "connected" {
		t.Fatalf("stats status = %v", got)
	}
}

func TestGetDatabaseReconnects(t *testing.T) {
	resetPool(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()
	cfg := DatabaseConfig{SQLitePath: filepath.Join(dir, "a.sqlite")}

	original, err := GetDatabase(cfg, logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	// a dead connection fails the health check
	_ = original.Close()
	revived, err := GetDatabase(cfg, logger)
	if err != nil {
		t.Fatalf("after close: %v", err)
	}
	if revived == original {
		t.Fatal("closed store was handed out again")
	}
	if err := revived.HealthCheck(context.Background()); err != nil {
		t.Fatalf("revived store unhealthy: %v", err)
	}

	// an idle store past the max age is replaced and closed
	start := time.Now()
	poolNow = func() time.Time { return start.Add(poolMaxAge + time.Minute) }
	aged, err := GetDatabase(cfg, logger)
	if err != nil {
		t.Fatalf("after max age: %v", err)
	}
	if aged == revived {
		t.Fatal("expired store was reused")
	}
	if err := revived.HealthCheck(context.Background()); err == nil {
		t.Fatal("replaced store was left open")
	}

	// a config change switches stores
	moved, err := GetDatabase(DatabaseConfig{SQLitePath: filepath.Join(dir, "b.sqlite")}, logger)
	if err != nil {
		t.Fatalf("new config: %v", err)
	}
	if moved == aged {
		t.Fatal("config change kept the old store")
	}
}
