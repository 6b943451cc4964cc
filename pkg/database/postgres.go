package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

var postgresDialect = dialect{
	name:              "postgres",
	rebind:            rebindDollar,
	timeArg:           func(t time.Time) interface{} { return t.UTC() },
	isUniqueViolation: isPostgresUniqueViolation,
}

// NewPostgresDatabase connects to PostgreSQL, trying a few DSN variants
// because serverless runtimes often fail on the first (IPv6, TLS) attempt.
func NewPostgresDatabase(dsn string, logger *slog.Logger) (*SQLDatabase, error) {
	if logger == nil {
		logger = slog.Default()
	}
	// env values sometimes carry stray CR/LF
	dsn = strings.TrimSpace(dsn)
	strategies := []string{
		addConnectionParams(dsn, "connect_timeout=10"),
		addConnectionParams(dsn, "sslmode=require&connect_timeout=10"),
		dsn,
	}

	var lastErr error
	for i, strategy := range strategies {
		db, err := sql.Open("postgres", strategy)
		if err != nil {
			logger.Warn("postgres open failed", "strategy", i+1, "error", err)
			lastErr = err
			continue
		}

		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err = db.Ping(); err != nil {
			logger.Warn("postgres ping failed", "strategy", i+1, "error", err)
			db.Close()
			lastErr = err
			continue
		}

		logger.Info("postgres connection established", "strategy", i+1)
		return &SQLDatabase{db: db, d: postgresDialect}, nil
	}
	return nil, fmt.Errorf("connect to postgres with all strategies: %w", lastErr)
}

// addConnectionParams appends query parameters to a DSN
func addConnectionParams(dsn, params string) string {
	if params == "" {
		return dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + params
}

// rebindDollar turns ? placeholders into $1, $2, ...
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func isPostgresUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
