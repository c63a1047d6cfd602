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

	"motion-event-backend/internal/api"
	"motion-event-backend/internal/cache"
	"motion-event-backend/internal/config"
	"motion-event-backend/internal/db"
	"motion-event-backend/internal/fanout"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	cfg := config.Load()
	slog.InfoContext(ctx, "Starting service...", "port", cfg.Port)

	database, err := db.Init(ctx, &db.Config{
		ConnString:     cfg.PostgresDSN,
		MigrationsPath: cfg.MigrationsPath,
	})
	if err != nil {
		panic(err)
	}
	defer database.Close()

	states := cache.New()
	if err := states.Hydrate(ctx, database); err != nil {
		panic(err)
	}
	states.Dump()

	subs, err := fanout.LoadSubscriptions(cfg.SubscriptionsPath)
	if err != nil {
		panic(err)
	}
	stopWatch, err := subs.Watch()
	if err != nil {
		panic(err)
	}
	defer stopWatch()

	kafkaChannel := fanout.NewKafkaChannel(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer kafkaChannel.Close()
	channels := map[string]fanout.Channel{
		"webhook": fanout.NewWebhookChannel(cfg.WebhookTimeout),
		"kafka":   kafkaChannel,
	}

	dispatcher := fanout.New(&fanout.Config{
		QueueSize:     cfg.FanoutQueueSize,
		Workers:       cfg.FanoutWorkers,
		MaxAttempts:   cfg.DeliveryMaxAttempts,
		BackoffBase:   cfg.DeliveryBackoffBase,
		SweepInterval: cfg.SweepInterval,
		Topic:         cfg.NotificationTopic,
		Subscriptions: subs,
		Channels:      channels,
		Store:         database,
	})
	dispatcher.Start(ctx)

	a := api.New(api.Config{
		DB:           database,
		Dispatcher:   dispatcher,
		States:       states,
		DefaultLimit: cfg.QueryDefaultLimit,
		MaxLimit:     cfg.QueryMaxLimit,
		ClockSkew:    cfg.ClockSkew,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.InfoContext(ctx, "HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "HTTP server error", "error", err)
			cancel()
		}
	}()

	select {
	case <-sigs:
	case <-ctx.Done():
	}
	slog.InfoContext(ctx, "Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(ctx, "HTTP shutdown error", "error", err)
	}

	cancel()
	dispatcher.Shutdown()
	slog.InfoContext(context.Background(), "Stopped")
}
