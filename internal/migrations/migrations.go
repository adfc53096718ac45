// Package migrations embeds the goose SQL migrations for every supported
// SQL dialect.
package migrations

import "embed"

// SQLite holds the migrations applied by the sqlite repository manager,
// under the "sqlite" directory.
//
//go:embed sqlite/*.sql
var SQLite embed.FS

// Postgres holds the migrations applied by the postgres repository manager,
// under the "postgres" directory.
//
//go:embed postgres/*.sql
var Postgres embed.FS
