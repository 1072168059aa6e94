// Package migrations embeds the SQL schema files.
package migrations

import "embed"

// Files holds every migration, applied in file name order.
//
//go:embed *.sql
var Files embed.FS
