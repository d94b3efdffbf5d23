// Command server runs the match reservation API: the HTTP and WebSocket surface over the
// reservation engine, plus the background lock expiry sweep.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/rs/zerolog"

	"github.com/trentd187/match-reservations/internal/cache"
	"github.com/trentd187/match-reservations/internal/config"
	"github.com/trentd187/match-reservations/internal/conflict"
	"github.com/trentd187/match-reservations/internal/database"
	"github.com/trentd187/match-reservations/internal/events"
	"github.com/trentd187/match-reservations/internal/handlers"
	"github.com/trentd187/match-reservations/internal/lockstore"
	"github.com/trentd187/match-reservations/internal/logging"
	"github.com/trentd187/match-reservations/internal/metrics"
	"github.com/trentd187/match-reservations/internal/middleware"
	"github.com/trentd187/match-reservations/internal/models"
	"github.com/trentd187/match-reservations/internal/notify"
	"github.com/trentd187/match-reservations/internal/reservations"
	"github.com/trentd187/match-reservations/internal/scheduler"
	"github.com/trentd187/match-reservations/internal/store"
	"github.com/trentd187/match-reservations/internal/websocket"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.IsDevelopment())

	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is required")
	}

	db, err := database.Connect(cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Migrations run on every start so the schema always matches the binary.
	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		// Locks and the cache are advisory; the engine runs on the database alone.
		log.Warn().Err(err).Msg("redis unreachable at startup, continuing without it")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := websocket.NewHub()
	go hub.Run(ctx)

	collector := metrics.NewCollector("reservations")
	matchCache := cache.NewMatchCache(rdb, cfg.MatchCacheTTL)

	dispatcher := events.NewDispatcher(events.Sinks{
		Notifier:    notifier(cfg, log),
		Chat:        chat(cfg, log),
		Broadcaster: hub,
		Cache:       matchCache,
	}, log, events.Options{
		Workers:   cfg.DispatchWorkers,
		QueueSize: cfg.DispatchQueue,
		Observer:  collector,
	})

	st := store.New(db)
	engine := reservations.New(reservations.Deps{
		Store:     st,
		Locks:     lockstore.New(rdb),
		Conflicts: conflict.NewDetector(st),
		Events:    dispatcher,
		Cache:     matchCache,
		Metrics:   collector,
	}, reservations.Options{
		LockTTL:       cfg.LockTTL,
		OverlapBuffer: cfg.OverlapBuffer,
	}, log)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, log)

	sweeper, err := scheduler.NewSweeper(engine, cfg.SweepInterval, collector, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create lock sweeper")
	}
	if err := sweeper.Every("ratelimit-cleanup", 5*time.Minute, func() {
		n := limiter.Cleanup(time.Now())
		log.Debug().Int("buckets", n).Msg("idle rate limit buckets pruned")
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule rate limiter cleanup")
	}
	sweeper.Start()

	app := fiber.New(fiber.Config{
		AppName:      "Match Reservations API",
		ErrorHandler: handlers.ErrorHandler(log),
	})

	app.Use(logger.New())
	// In production, lock this down to the app's own origins.
	app.Use(cors.New())

	app.Get("/health", handlers.HealthCheck(db, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}))
	app.Get("/metrics", collector.Handler())

	api := app.Group("/api/v1", middleware.Auth(cfg, db), limiter.Handler())

	// Matches
	api.Post("/matches", handlers.CreateMatch(engine))
	api.Get("/matches/:id", handlers.GetMatch(engine))
	api.Post("/matches/:id/cancel", handlers.CancelMatch(engine))
	api.Post("/matches/:id/complete", handlers.CompleteMatch(engine))

	// Slots
	api.Post("/slots/:id/applications", handlers.Apply(engine))
	api.Post("/slots/:id/lock", handlers.LockSlot(engine))
	api.Delete("/slots/:id/lock", handlers.ReleaseSlot(engine))

	// Applications
	api.Post("/applications/:id/confirm", handlers.Confirm(engine))
	api.Post("/applications/:id/reject", handlers.Reject(engine))
	api.Post("/applications/:id/approve", handlers.ApproveFromWaitlist(engine))
	api.Delete("/applications/:id", handlers.Withdraw(engine))

	admin := api.Group("/admin", middleware.RequireRole(models.UserRoleAdmin))
	admin.Post("/locks/expire", handlers.ExpireLocks(sweeper, log))

	// Browsers cannot set headers on upgrades, so Auth also accepts ?token= here.
	ws := app.Group("/ws", handlers.UpgradeGuard, middleware.Auth(cfg, db))
	ws.Get("/matches/:id", handlers.WatchMatch(hub, log))
	ws.Get("/me", handlers.WatchMe(hub, log))

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		if err := sweeper.Stop(); err != nil {
			log.Error().Err(err).Msg("lock sweeper shutdown")
		}
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("starting server")
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Error().Err(err).Msg("server stopped")
	}

	// Requests have drained; flush side effects they queued before exiting.
	dispatcher.Close()
}

func notifier(cfg *config.Config, log zerolog.Logger) events.Notifier {
	if cfg.NotifyWebhookURL == "" {
		return notify.LogNotifier{Log: log.With().Str("component", "notify").Logger()}
	}
	return notify.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.ServiceToken)
}

func chat(cfg *config.Config, log zerolog.Logger) events.Chat {
	if cfg.ChatServiceURL == "" {
		return notify.LogChat{Log: log.With().Str("component", "chat").Logger()}
	}
	return notify.NewChatClient(cfg.ChatServiceURL, cfg.ServiceToken)
}
