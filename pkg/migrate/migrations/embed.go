// Package migrations embeds the goose SQL files so binaries carry their schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
