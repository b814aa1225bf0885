// Package migrations embeds the SQLite schema so the binary can migrate
// without the .sql files on disk.
package migrations

import "embed"

// FS holds every migration at its root.
//
//go:embed *.sql
var FS embed.FS
