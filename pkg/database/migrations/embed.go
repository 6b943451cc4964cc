// Package migrations embeds the schema for each SQL backend.
package migrations

import "embed"

// SQLite holds migrations applied by the embedded SQLite store.
//
//go:embed sqlite/*.sql
var SQLite embed.FS

// Postgres holds migrations applied by scripts/setup_db.go.
//
//go:embed postgres/*.sql
var Postgres embed.FS
