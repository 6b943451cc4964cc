package database

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DatabasePool caches one store across warm serverless invocations
type DatabasePool struct {
	instance DatabaseInterface
	config   DatabaseConfig
	mu       sync.RWMutex
	lastUsed time.Time
}

const (
	poolMaxAge    = 30 * time.Minute
	healthTimeout = 3 * time.Second
)

var (
	globalPool *DatabasePool
	poolMutex  sync.Mutex
	// poolNow is swapped in tests
	poolNow = time.Now
)

// GetDatabase returns the cached store, reconnecting when the config
// changed, the connection aged out, or a health check fails.
func GetDatabase(config DatabaseConfig, logger *slog.Logger) (DatabaseInterface, error) {
	if logger == nil {
		logger = slog.Default()
	}
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool != nil && !shouldRecreateConnection(globalPool, config, logger) {
		globalPool.mu.Lock()
		globalPool.lastUsed = poolNow()
		globalPool.mu.Unlock()
		logger.Debug("reusing database connection")
		return globalPool.instance, nil
	}

	logger.Info("creating database connection")
	if globalPool != nil && globalPool.instance != nil {
		_ = globalPool.instance.Close()
		globalPool = nil
	}

	instance, err := NewDatabase(config, logger)
	if err != nil {
		return nil, err
	}
	globalPool = &DatabasePool{
		instance: instance,
		config:   config,
		lastUsed: poolNow(),
	}
	return instance, nil
}

func shouldRecreateConnection(pool *DatabasePool, newConfig DatabaseConfig, logger *slog.Logger) bool {
	if pool == nil || pool.instance == nil {
		return true
	}
	if !configEquals(pool.config, newConfig) {
		logger.Info("database configuration changed, recreating connection")
		return true
	}

	pool.mu.RLock()
	expired := poolNow().Sub(pool.lastUsed) > poolMaxAge
	pool.mu.RUnlock()
	if expired {
		logger.Info("database connection expired, recreating")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthTimeout)
	defer cancel()
	if err := pool.instance.HealthCheck(ctx); err != nil {
		logger.Warn("database health check failed, recreating", "error", err)
		return true
	}
	return false
}

func configEquals(a, b DatabaseConfig) bool {
	return a.PostgresDSN == b.PostgresDSN &&
		a.SupabaseURL == b.SupabaseURL &&
		a.SupabaseKey == b.SupabaseKey &&
		a.SQLitePath == b.SQLitePath
}

// GetConnectionStats is exposed on the health endpoint
func GetConnectionStats() map[string]interface{} {
	poolMutex.Lock()
	defer poolMutex.Unlock()

	if globalPool == nil {
		return map[string]interface{}{
			"status":    "no_connection",
			"last_used": nil,
		}
	}

	globalPool.mu.RLock()
	lastUsed := globalPool.lastUsed
	globalPool.mu.RUnlock()

	return map[string]interface{}{
		"status":    "connected",
		"last_used": lastUsed.Format(time.RFC3339),
		"age":       poolNow().Sub(lastUsed).String(),
		"config": map[string]interface{}{
			"has_postgres": globalPool.config.PostgresDSN != "",
			"has_supabase": globalPool.config.SupabaseURL != "",
			"has_sqlite":   globalPool.config.SQLitePath != "",
		},
	}
}
