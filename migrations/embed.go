// Package migrations embeds the SQL migrations so binaries can run them
// at startup without shipping loose files.
package migrations

import "embed"

//go:embed *.sql
var MigrationsFS embed.FS
