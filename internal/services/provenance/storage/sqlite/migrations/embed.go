package migrations

import "embed"

// FS contains embedded SQLite migrations for provenance storage.
//
//go:embed *.sql
var FS embed.FS
