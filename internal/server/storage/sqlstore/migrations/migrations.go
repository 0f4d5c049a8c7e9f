// Package migrations embeds the goose migrations for every SQL dialect the
// key-value store supports, one directory per dialect.
package migrations

import "embed"

//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
