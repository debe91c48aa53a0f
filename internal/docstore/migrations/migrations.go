// Package migrations embeds the document store schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
