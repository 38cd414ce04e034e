// Package migrations embeds the goose SQL migrations shared by the Postgres
// backend and cmd/migrate.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
