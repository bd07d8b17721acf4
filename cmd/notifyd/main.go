// Command notifyd runs the notification service: the HTTP API and the
// background dispatcher, backed by Postgres with optional Redis-backed
// rate limiting.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opsbase/notify/pkg/bridge"
	"github.com/opsbase/notify/pkg/config"
	"github.com/opsbase/notify/pkg/delivery"
	"github.com/opsbase/notify/pkg/dispatch"
	"github.com/opsbase/notify/pkg/fanout"
	"github.com/opsbase/notify/pkg/httpapi"
	"github.com/opsbase/notify/pkg/httpserver"
	"github.com/opsbase/notify/pkg/logger"
	"github.com/opsbase/notify/pkg/metrics"
	"github.com/opsbase/notify/pkg/notification"
	"github.com/opsbase/notify/pkg/pg"
	"github.com/opsbase/notify/pkg/postgres"
	"github.com/opsbase/notify/pkg/redis"
	"github.com/opsbase/notify/pkg/requestid"
	"github.com/opsbase/notify/pkg/resolver"
	"github.com/opsbase/notify/pkg/sendlimit"
)

type appConfig struct {
	LogLevel  slog.Level    `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat logger.Format `env:"LOG_FORMAT" envDefault:"json"`

	PG       pg.Config
	Redis    redis.Config
	HTTP     httpserver.Config
	Dispatch dispatch.Config
}

func main() {
	ctx := context.Background()

	var cfg appConfig
	config.MustLoad(&cfg)

	log := logger.New(
		logger.WithLevel(cfg.LogLevel),
		logger.WithFormat(cfg.LogFormat),
		logger.WithAttr(slog.String("service", "notifyd")),
	)
	slog.SetDefault(log)

	if err := run(ctx, cfg, log); err != nil {
		log.ErrorContext(ctx, "notifyd exited", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, postgres.Migrations, "migrations", cfg.PG, log); err != nil {
		return err
	}

	notifStore := postgres.NewNotificationStorage(pool)
	records := notification.NewService(notifStore,
		notification.WithServiceLogger(log))
	attempts := postgres.NewDeliveryStorage(pool)
	tracker := delivery.NewTracker(attempts, records,
		delivery.WithTrackerLogger(log))
	prefs := postgres.NewPreferenceStore(pool)

	checks := []func(context.Context) error{pg.Healthcheck(pool)}

	// Rate limiting degrades to disabled when Redis is unreachable;
	// notifications must not be blocked on a limiter outage.
	resolverOpts := []resolver.ResolverOption{resolver.WithResolverLogger(log)}
	if rdb, err := redis.Connect(ctx, cfg.Redis); err != nil {
		log.WarnContext(ctx, "redis unavailable, rate limiting disabled", logger.Error(err))
	} else {
		defer rdb.Close()
		store, err := sendlimit.NewRedisStore(rdb)
		if err != nil {
			return err
		}
		limiter, err := sendlimit.NewLimiter(store)
		if err != nil {
			return err
		}
		resolverOpts = append(resolverOpts, resolver.WithLimiter(limiter))
		checks = append(checks, redis.Healthcheck(rdb))
	}

	// Role membership stays with the platform's authorization store; a
	// deployment plugs its RoleDirectory in here to turn the persisted
	// rules into auto_role fan-out.
	res := resolver.New(prefs, postgres.NewRuleSource(pool), nil, resolverOpts...)
	engine := fanout.New(res, records, tracker, fanout.WithEngineLogger(log))
	reporter := metrics.NewReporter(attempts)

	dispatcher, err := dispatch.NewDispatcher(tracker, notifStore,
		dispatch.WithDispatcherLogger(log),
		dispatch.WithConfig(cfg.Dispatch))
	if err != nil {
		return err
	}
	if err := dispatcher.RegisterTransport(notification.ChannelInApp, dispatch.NewInAppTransport()); err != nil {
		return err
	}
	if err := dispatcher.Start(ctx); err != nil {
		return err
	}
	defer dispatcher.Stop()

	api := httpapi.NewHandler(records, tracker, prefs, reporter,
		httpapi.WithEngine(engine),
		httpapi.WithBridge(bridge.New(records, bridge.WithBridgeLogger(log))),
		httpapi.WithHandlerLogger(log))

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", httpserver.HealthCheckHandler(ctx, log))
	r.Get("/readyz", httpserver.HealthCheckHandler(ctx, log, checks...))
	r.Mount("/v1", api.Router())

	srv := httpserver.New(cfg.HTTP, httpserver.WithLogger(log))
	return srv.Run(ctx, r)
}
