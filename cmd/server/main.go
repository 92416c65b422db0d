package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/newworldstrategiesai/m10dj-sub029/internal/admission"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/changefeed"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/config"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/database"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/hub"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/logging"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/middleware"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/queue"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/router"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/sentry"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/services"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/store"
	"github.com/newworldstrategiesai/m10dj-sub029/internal/trigger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	// Initialize structured logging (reads LOGGING_LEVEL env var)
	logging.Initialize()

	if err := run(); err != nil {
		slog.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	sentryEnabled, err := sentry.Init(cfg.SentryDSN, cfg.SentryEnvironment)
	if err != nil {
		return logging.WrapError(err, "initialize sentry")
	}
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	sqlDB, err := database.New(cfg.DatabasePath)
	if err != nil {
		return logging.WrapError(err, "connect to database")
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB); err != nil {
		return logging.WrapError(err, "run migrations")
	}

	st, err := store.New(ctx, sqlDB)
	if err != nil {
		return logging.WrapError(err, "open store")
	}

	feed, closeFeed, err := openFeed(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFeed()

	engine := queue.NewEngine(st, admission.NewEvaluator(st), feed, cfg.SongDuration, origin())
	liveHub := hub.New(engine, hub.Config{HeartbeatInterval: cfg.HeartbeatInterval, Buffer: cfg.SubscriberBuffer})
	tr := trigger.New(engine, liveHub, cfg.DebounceWindow)
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)

	handler := router.New(cfg, router.Deps{
		Engine:        engine,
		Records:       st,
		Rules:         st,
		Hub:           liveHub,
		Broadcaster:   tr,
		Auth:          services.NewAuthService(cfg.JWTSecret, cfg.OperatorTokenDuration),
		RateLimiter:   limiter,
		SentryEnabled: sentryEnabled,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return liveHub.Run(gctx) })
	g.Go(func() error { return tr.Run(gctx, feed) })
	g.Go(func() error { return limiter.Run(gctx) })
	g.Go(func() error {
		slog.Info("starting server",
			slog.String("addr", srv.Addr),
			slog.String("change_feed", cfg.ChangeFeed))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openFeed connects the configured change feed.
func openFeed(ctx context.Context, cfg *config.Config) (changefeed.Feed, func(), error) {
	switch cfg.ChangeFeed {
	case config.FeedLocal:
		return changefeed.NewLocal(cfg.SubscriberBuffer * 16), func() {}, nil
	case config.FeedRedis:
		client, err := changefeed.Dial(ctx, changefeed.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, logging.WrapError(err, "connect change feed")
		}
		return changefeed.NewRedis(client, cfg.RedisChannel), func() { client.Close() }, nil
	default:
		return nil, nil, errors.New("unknown CHANGE_FEED " + cfg.ChangeFeed + ", want local or redis")
	}
}

// origin names this process in published changes.
func origin() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "karaoke"
	}
	return host + "-" + uuid.NewString()[:8]
}
