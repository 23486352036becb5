// The worker binary consumes process_alert and run_action tasks from the
// Redis broker, runs the playbooks and response actions, and pushes its
// metrics to the pushgateway.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/soarkit/backend/internal/actions"
	"github.com/soarkit/backend/internal/blocklist"
	"github.com/soarkit/backend/internal/config"
	"github.com/soarkit/backend/internal/enrich"
	"github.com/soarkit/backend/internal/live"
	"github.com/soarkit/backend/internal/metrics"
	"github.com/soarkit/backend/internal/playbook"
	"github.com/soarkit/backend/internal/queue"
	"github.com/soarkit/backend/internal/store"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", "soar-worker")
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

	sink, err := live.NewPublisher(cfg.Broker.URL, logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	domainFeed := enrich.NewFeedCache(cfg.Enrichment.ThreatFeedDomains, true, logger)
	defer domainFeed.Close()
	ipFeed := enrich.NewFeedCache(cfg.Enrichment.ThreatFeedIPs, false, logger)
	defer ipFeed.Close()

	blocks := blocklist.NewWriter(cfg.Response.BlocklistPath)
	defer blocks.Close()

	m := metrics.NewWorker(cfg.Metrics.PushgatewayURL, logger)

	orch := playbook.NewOrchestrator(
		st,
		enrich.NewDNSEnricher(),
		enrich.NewRDAPClient(cfg.Enrichment.RDAPBaseURL),
		domainFeed,
		ipFeed,
		queue.NewClient(broker),
		m,
		sink,
		logger,
	)
	exec := actions.NewExecutor(st, blocks, m, sink, logger)

	pool := queue.NewPool(broker, cfg.Worker.Concurrency, logger)
	pool.Register(queue.TaskProcessAlert, orch.Handler())
	pool.Register(queue.TaskRunAction, exec.Handler())

	// Periodic housekeeping: keep the pushgateway current even when the
	// queue is idle, and keep the feed caches warm.
	sched := cron.New()
	if _, err := sched.AddFunc("@every 1m", m.Push); err != nil {
		return err
	}
	if _, err := sched.AddFunc("@every 5m", func() {
		logger.Debug("threat feeds refreshed",
			"domains", len(domainFeed.Entries()),
			"ips", len(ipFeed.Entries()))
	}); err != nil {
		return err
	}
	sched.Start()
	defer sched.Stop()

	logger.Info("worker started", "concurrency", cfg.Worker.Concurrency)
	if err := pool.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("worker stopped")
	return nil
}
