// Package redis provides Redis connection setup for the shared
// send-counter store.
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil { ... }
//	store, err := sendlimit.NewRedisStore(client)
package redis
