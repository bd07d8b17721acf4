package postgres

import "embed"

// Migrations holds the embedded goose migrations for the notification
// schema. Apply them with pg.Migrate(ctx, pool, postgres.Migrations,
// "migrations", cfg, log).
//
//go:embed migrations/*.sql
var Migrations embed.FS
