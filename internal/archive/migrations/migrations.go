// Package migrations embeds the archive schema migrations.
package migrations

import "embed"

// FS holds the versioned archive schema files.
//
//go:embed *.sql
var FS embed.FS
