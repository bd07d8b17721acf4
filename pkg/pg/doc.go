// Package pg provides PostgreSQL pool setup, error classification and
// migration helpers shared by the Postgres-backed stores.
//
//	cfg := config.Load[pg.Config]()
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil { ... }
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, postgres.Migrations, "migrations", cfg, slog.Default()); err != nil { ... }
//
// Error classifiers (IsNotFoundError, IsDuplicateKeyError,
// IsForeignKeyViolationError) let storage implementations translate
// driver errors into domain sentinels without importing pgconn.
package pg
