// Package migrations embeds the SQL needed to stand up a Postgres instance
// for the Persistence Port (§4.C). Schema ownership is described as an
// external concern (§1), but the core still ships enough DDL to run a
// standalone process and its own integration tests against a real database.
package migrations

import "embed"

// PostgresFS embeds all PostgreSQL migration files.
//
//go:embed postgres/*.sql
var PostgresFS embed.FS
