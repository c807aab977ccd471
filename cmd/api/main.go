package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"github.com/angelmondragon/carline-backend/api/routes"
	"github.com/angelmondragon/carline-backend/internal/broadcast"
	"github.com/angelmondragon/carline-backend/internal/cars"
	"github.com/angelmondragon/carline-backend/internal/history"
	"github.com/angelmondragon/carline-backend/pkg/config"
	"github.com/angelmondragon/carline-backend/pkg/db"
	"github.com/angelmondragon/carline-backend/pkg/instance"
	"github.com/angelmondragon/carline-backend/pkg/logger"
	"github.com/angelmondragon/carline-backend/pkg/metrics"
	"github.com/angelmondragon/carline-backend/pkg/migrate"
	"github.com/angelmondragon/carline-backend/pkg/pubsub"
	"github.com/angelmondragon/carline-backend/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "carline-api", Instance: instance.GetID()})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "carline-api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Instance:    instance.GetID(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled() {
		redisClient, err = redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap redis", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(ctx, "redis not configured; idempotency replay disabled")
	}

	sqlDB, err := dbClient.SQL()
	if err != nil {
		logg.Error(ctx, "failed to read sql handle", err)
		os.Exit(1)
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(sqlDB, "carline"),
	)

	backplane, pubsubClient, err := buildBackplane(ctx, cfg, logg, redisClient)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap hub backplane", err)
		os.Exit(1)
	}

	hub, err := broadcast.NewHub(broadcast.Options{
		Logger:          logg,
		Backplane:       backplane,
		Metrics:         metrics.NewHubMetrics(registry),
		OutboundQueue:   cfg.Hub.OutboundQueue,
		ClientBuffer:    cfg.Hub.ClientBuffer,
		WriteTimeout:    cfg.Hub.WriteTimeout,
		PongWait:        cfg.Hub.PongWait,
		PingPeriod:      cfg.Hub.PingPeriod,
		MaxMessageBytes: cfg.Hub.MaxMessageBytes,
	})
	if err != nil {
		logg.Error(ctx, "failed to create broadcast hub", err)
		os.Exit(1)
	}
	if err := hub.Start(ctx); err != nil {
		logg.Error(ctx, "failed to start broadcast hub", err)
		os.Exit(1)
	}

	historyRepo := history.NewRepository(dbClient.DB())
	historyService, err := history.NewService(historyRepo, logg)
	if err != nil {
		logg.Error(ctx, "failed to create history service", err)
		os.Exit(1)
	}

	carService, err := cars.NewService(cars.ServiceParams{
		Repo:        cars.NewRepository(dbClient.DB()),
		Ledger:      historyRepo,
		DB:          dbClient,
		Broadcaster: hub,
		Logger:      logg,
		Metrics:     metrics.NewTransitionMetrics(registry),
	})
	if err != nil {
		logg.Error(ctx, "failed to create car service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	serverCtx := logg.WithFields(ctx, map[string]any{
		"env":       cfg.App.Env,
		"addr":      addr,
		"backplane": cfg.Hub.BackplaneKind(),
	})
	logg.Info(serverCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, carService, historyService, hub,
			promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		logg.Info(serverCtx, "shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logg.Error(serverCtx, "api server stopped unexpectedly", err)
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown; the hub
	// closes them with 1001 so observers reconnect elsewhere.
	shutdownErr := multierr.Combine(
		wrapShutdown("http server", server.Shutdown(shutdownCtx)),
		wrapShutdown("broadcast hub", hub.Stop(shutdownCtx)),
		wrapShutdown("database", dbClient.Close()),
	)
	if pubsubClient != nil {
		shutdownErr = multierr.Append(shutdownErr, wrapShutdown("pubsub", pubsubClient.Close()))
	}
	if redisClient != nil {
		shutdownErr = multierr.Append(shutdownErr, wrapShutdown("redis", redisClient.Close()))
	}
	if shutdownErr != nil {
		logg.Error(serverCtx, "unclean shutdown", shutdownErr)
		exitCode = 1
	}

	logg.Info(serverCtx, "api server stopped")
	os.Exit(exitCode)
}

// buildBackplane selects the cross-instance relay for the hub. With "none"
// the hub only fans out to observers connected to this process.
func buildBackplane(ctx context.Context, cfg *config.Config, logg *logger.Logger, redisClient *redis.Client) (broadcast.Backplane, *pubsub.Client, error) {
	switch cfg.Hub.BackplaneKind() {
	case config.BackplaneRedis:
		if redisClient == nil {
			return nil, nil, fmt.Errorf("redis backplane requires a redis connection")
		}
		bp, err := broadcast.NewRedisBackplane(redisClient, cfg.Hub.Channel)
		if err != nil {
			return nil, nil, err
		}
		logg.Info(logg.WithField(ctx, "channel", bp.Channel()), "hub backplane: redis")
		return bp, nil, nil

	case config.BackplanePubSub:
		client, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			return nil, nil, err
		}
		bp, err := broadcast.NewPubSubBackplane(client.BroadcastPublisher(), client.BroadcastSubscription())
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		logg.Info(logg.WithField(ctx, "subscription", client.SubscriptionName()), "hub backplane: pubsub")
		return bp, client, nil

	default:
		return nil, nil, nil
	}
}

func wrapShutdown(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}
