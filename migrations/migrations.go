// Package migrations embeds the PostgreSQL schema applied by
// postgresql.Client.Migrate.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
