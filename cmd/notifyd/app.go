package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/notifykit/pkg/api"
	"github.com/dmitrymomot/notifykit/pkg/channels"
	"github.com/dmitrymomot/notifykit/pkg/delivery"
	"github.com/dmitrymomot/notifykit/pkg/delivery/pgstore"
	"github.com/dmitrymomot/notifykit/pkg/delivery/redisstore"
	"github.com/dmitrymomot/notifykit/pkg/email"
	"github.com/dmitrymomot/notifykit/pkg/eventbus"
	"github.com/dmitrymomot/notifykit/pkg/httpserver"
	"github.com/dmitrymomot/notifykit/pkg/inbox"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/pg"
	"github.com/dmitrymomot/notifykit/pkg/ratelimiter"
	"github.com/dmitrymomot/notifykit/pkg/redis"
	"github.com/dmitrymomot/notifykit/pkg/webhook"
)

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgstore.Migrations, pgstore.MigrationsDir, cfg.Postgres, log); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	store := pgstore.New(pool, pgstore.WithSelectLease(cfg.SelectLease))
	directory := pgstore.NewDirectory(pool)
	stores := store.Stores()
	checks := []httpserver.Check{{Name: "postgres", Fn: pg.Healthcheck(pool)}}

	if cfg.RedisLimits {
		client, err := redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() { _ = client.Close() }()

		stores = redisstore.New(client, redisstore.WithKeyPrefix(cfg.Redis.KeyPrefix)).Overlay(stores)
		checks = append(checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
	}

	// Items persist in Postgres; live streams only see deliveries made by
	// this process.
	box := inbox.New(pgstore.NewInbox(pool),
		inbox.WithHub(inbox.NewHub(cfg.InboxBuffer)),
		inbox.WithLogger(log.With(logger.Component("inbox"))))
	defer box.Close()

	adapters, err := buildAdapters(ctx, cfg, box, log)
	if err != nil {
		return err
	}

	engineOpts := []delivery.Option{
		delivery.WithConfig(cfg.Delivery),
		delivery.WithLogger(log),
	}
	if cfg.BounceOptOut {
		engineOpts = append(engineOpts, delivery.WithBounceOptOut(store))
	}
	if cfg.EventBus.Enabled() {
		bus, err := eventbus.Dial(ctx, cfg.EventBus, log.With(logger.Component("eventbus")))
		if err != nil {
			return fmt.Errorf("connect event bus: %w", err)
		}
		defer func() { _ = bus.Close() }()

		engineOpts = append(engineOpts, delivery.WithEventStream(bus))
		checks = append(checks, httpserver.Check{Name: "amqp", Fn: bus.Healthcheck})
	}

	engine, err := delivery.NewEngine(stores, directory, adapters, engineOpts...)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	apiOpts := []api.Option{
		api.WithInbox(box),
		api.WithPreferences(store),
		api.WithContacts(directory),
		api.WithHealthChecks(checks...),
		api.WithLogger(log.With(logger.Component("api"))),
	}
	if limit, ok := cfg.API.IngressLimit(); ok {
		buckets := ratelimiter.NewMemoryStore()
		defer buckets.Close()

		ingress, err := ratelimiter.NewBucket(buckets, limit)
		if err != nil {
			return fmt.Errorf("ingress limiter: %w", err)
		}
		apiOpts = append(apiOpts, api.WithIngressLimiter(ingress))
	}

	handlers, err := api.New(cfg.API, engine, apiOpts...)
	if err != nil {
		return fmt.Errorf("build api: %w", err)
	}
	server := httpserver.New(cfg.HTTP, httpserver.WithLogger(log.With(logger.Component("http"))))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(engine.Dispatcher().Run(ctx))
	g.Go(func() error {
		return server.Run(ctx, handlers.Handler())
	})
	g.Go(purgeLoop(ctx, store, cfg.PurgeInterval, cfg.WindowRetention, log))
	g.Go(func() error {
		// inbox streams never finish on their own and would hold up shutdown
		<-ctx.Done()
		box.Close()
		return nil
	})

	return g.Wait()
}

func buildAdapters(ctx context.Context, cfg appConfig, box *inbox.Inbox, log *slog.Logger) (delivery.Adapters, error) {
	sender, err := email.NewSender(cfg.Email)
	if err != nil {
		return nil, fmt.Errorf("email sender: %w", err)
	}
	list := []delivery.Adapter{
		channels.NewEmail(sender),
		channels.NewInApp(box),
	}

	if cfg.SMSEnabled {
		sms, err := channels.NewSMS(ctx, cfg.SMS)
		if err != nil {
			return nil, fmt.Errorf("sms adapter: %w", err)
		}
		list = append(list, sms)
	}

	if cfg.Push.GatewayURL != "" {
		push, err := channels.NewPush(cfg.Push, webhook.NewSender())
		if err != nil {
			return nil, fmt.Errorf("push adapter: %w", err)
		}
		list = append(list, push)
	}

	names := make([]string, len(list))
	for i, a := range list {
		names[i] = string(a.Channel())
	}
	log.InfoContext(ctx, "channel adapters ready",
		slog.Any("channels", names),
		slog.String("email_provider", string(cfg.Email.Provider)))

	return delivery.NewAdapters(list...), nil
}

// purgeLoop drops ended rate windows and expired dedup keys from Postgres.
func purgeLoop(ctx context.Context, store *pgstore.Store, every, retain time.Duration, log *slog.Logger) func() error {
	return func() error {
		if every <= 0 {
			return nil
		}
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				n, err := store.Purge(ctx, time.Now(), retain)
				if err != nil {
					log.LogAttrs(ctx, slog.LevelError, "purge failed", logger.Error(err))
					continue
				}
				log.LogAttrs(ctx, slog.LevelDebug, "expired windows and dedup keys purged", logger.Count(int(n)))
			}
		}
	}
}
