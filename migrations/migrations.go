// Package migrations embeds the goose SQL migrations for the history and
// metadata databases.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
