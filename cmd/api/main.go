// The api binary serves webhook ingestion, the read API, admin operations,
// metrics and the live WebSocket feed. Alert processing itself happens in
// the worker binary; the two share Postgres and the Redis broker.
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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/soarkit/backend/internal/api"
	"github.com/soarkit/backend/internal/config"
	"github.com/soarkit/backend/internal/live"
	"github.com/soarkit/backend/internal/metrics"
	"github.com/soarkit/backend/internal/queue"
	"github.com/soarkit/backend/internal/report"
	"github.com/soarkit/backend/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "soar-api")
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewPostgresStore(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer st.Close()

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := st.InitSchema(initCtx); err != nil {
		return err
	}

	broker, err := queue.NewRedisBroker(cfg.Broker.URL, cfg.Broker.ResultBackendURL)
	if err != nil {
		return err
	}
	defer broker.Close()

	hub := live.NewHub(logger)
	go hub.Run()
	defer hub.Close()

	relay, err := live.NewRelay(cfg.Broker.URL, hub, logger)
	if err != nil {
		return err
	}
	defer relay.Close()

	server := api.NewServer(api.Config{
		Store:      st,
		Tasks:      queue.NewClient(broker),
		Metrics:    metrics.NewAPI(),
		Reports:    report.NewBuilder(st, cfg.Reports.Dir, cfg.Reports.GeneratePDF),
		Live:       hub,
		WebhookKey: cfg.Auth.WebhookKey,
		AdminKey:   cfg.Auth.AdminKey,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
