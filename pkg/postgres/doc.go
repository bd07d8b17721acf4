// Package postgres implements the notification, delivery and
// preference storage interfaces on PostgreSQL via pgx.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil { ... }
//	if err := pg.Migrate(ctx, pool, postgres.Migrations, "migrations", cfg, slog.Default()); err != nil { ... }
//
//	records := notification.NewService(postgres.NewNotificationStorage(pool))
//	tracker := delivery.NewTracker(postgres.NewDeliveryStorage(pool), records)
//	prefs := postgres.NewPreferenceStore(pool)
//
// Attempt updates use a version predicate for optimistic concurrency;
// the channel rollup on notifications is applied with jsonb_set so
// concurrent per-channel transitions never lose updates. Uniqueness of
// (notification, channel) and of (provider, provider_message_id) is
// enforced by the schema.
package postgres
