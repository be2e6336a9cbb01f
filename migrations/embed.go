// Package migrations embeds the profile schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
