// Package migrations embeds the SQL schema for the sqlite storage backend.
package migrations

import "embed"

// FS holds every *.up.sql file in this directory. Pass it to
// (*database.DB).Migrate.
//
//go:embed *.sql
var FS embed.FS
