package postgres

import "embed"

// MigrationsFS embeds the goose migration files so the server binary can
// migrate without a checkout of the source tree.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
