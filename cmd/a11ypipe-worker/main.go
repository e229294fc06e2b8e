// Package main provides the entry point for the a11ypipe worker daemon.
// The worker consumes the report generation and notification queues and
// prunes expired notification log rows.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/avickers/a11ypipe/internal/blob"
	"github.com/avickers/a11ypipe/internal/checkpoint"
	"github.com/avickers/a11ypipe/internal/config"
	"github.com/avickers/a11ypipe/internal/db"
	"github.com/avickers/a11ypipe/internal/export"
	"github.com/avickers/a11ypipe/internal/metrics"
	"github.com/avickers/a11ypipe/internal/notify"
	"github.com/avickers/a11ypipe/internal/queue"
	"github.com/avickers/a11ypipe/internal/verify"
)

const version = "0.1.0"

// Retention for sent and skipped notification log rows. Failed rows are
// kept indefinitely.
const notifyLogRetention = 24 * time.Hour

func main() {
	// Load configuration
	cfg := config.Load()

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	logger.Info("a11ypipe worker starting",
		"version", version,
		"surrealdb_url", cfg.SurrealDBURL,
		"nats_url", cfg.NATSURL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	dbCfg := db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}

	dbClient, err := db.NewClient(ctx, dbCfg, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("closing database connection")
		_ = dbClient.Close(ctx)
	}()

	if err := dbClient.InitSchema(ctx); err != nil {
		logger.Error("failed to initialize database schema", "error", err)
		os.Exit(1)
	}

	// Connect to the job queues
	jobs, err := queue.Connect(cfg.NATSURL, logger)
	if err != nil {
		logger.Error("failed to connect to queue", "error", err)
		os.Exit(1)
	}
	defer jobs.Close()

	// Report blob store
	blobs, err := blob.NewS3Store(ctx, blob.S3Config{
		Bucket:   cfg.S3Bucket,
		Region:   cfg.S3Region,
		Endpoint: cfg.S3Endpoint,
	})
	if err != nil {
		logger.Error("failed to connect to blob store", "error", err)
		os.Exit(1)
	}

	// Notification routing table. A bad table is fatal at startup, never
	// discovered at send time.
	routes, err := config.LoadRoutes(cfg.RoutesFile)
	if err != nil {
		logger.Error("failed to load notification routes", "error", err)
		os.Exit(1)
	}
	providers, err := notify.BuildProviders(routes, &cfg, logger)
	if err != nil {
		logger.Error("failed to build notification providers", "error", err)
		os.Exit(1)
	}
	logger.Info("notification routing loaded",
		"providers", len(providers), "default", routes.DefaultProvider)

	collector := metrics.NewCollector()

	// Report generation consumer: single delivery, failures become the
	// record's terminal state.
	generator := export.NewGenerator(dbClient, blobs, collector, logger)
	err = jobs.Consume(ctx, queue.ConsumeOpts{
		Stream:      queue.ExportStream,
		Subject:     queue.ExportSubject,
		Durable:     "export-workers",
		MaxAttempts: 1,
		JobTimeout:  5 * time.Minute,
	}, generator.Handle)
	if err != nil {
		logger.Error("failed to start export consumer", "error", err)
		os.Exit(1)
	}

	// Notification consumer: retried with backoff up to the attempt budget.
	dispatcher := notify.NewDispatcher(dbClient, notify.NewRouter(routes), providers,
		cfg.NotifyMinDuration, collector, logger)
	err = jobs.Consume(ctx, queue.ConsumeOpts{
		Stream:      queue.NotifyStream,
		Subject:     queue.NotifySubject,
		Durable:     "notify-workers",
		MaxAttempts: queue.NotifyMaxAttempts,
		JobTimeout:  time.Minute,
	}, dispatcher.Handle)
	if err != nil {
		logger.Error("failed to start notify consumer", "error", err)
		os.Exit(1)
	}

	// Verification orchestrator: polls for completed scans lacking a
	// coverage summary, runs checkpointed verification, then enqueues the
	// completion notification.
	checkpoints, err := checkpoint.NewStore(cfg.CheckpointDir, logger)
	if err != nil {
		logger.Error("failed to open checkpoint store", "error", err)
		os.Exit(1)
	}
	verifier, err := verify.NewVerifier(ctx, cfg)
	if err != nil {
		logger.Error("failed to init verifier", "error", err)
		os.Exit(1)
	}
	processor := verify.NewProcessor(checkpoints, verifier, dbClient, cfg.BatchSize, collector, logger)
	orchestrator := verify.NewOrchestrator(dbClient, processor, jobs, cfg.VerifyInterval, logger)
	go orchestrator.Run(ctx)

	// Hourly retention sweep over the notification log.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := dbClient.PruneNotificationLog(ctx, notifyLogRetention); err != nil {
					logger.Error("notification log prune failed", "error", err)
				}
			}
		}
	}()

	logger.Info("worker ready, consuming queues")
	<-ctx.Done()

	snap := collector.Snapshot()
	logger.Info("worker shutting down",
		"uptime_seconds", snap.UptimeSeconds,
		"verify_batches", opCount(snap.VerifyBatch),
		"exports_generated", opCount(snap.ExportGenerate),
		"notifications_sent", opCount(snap.NotifySend),
	)
}

func opCount(op *metrics.OperationSnapshot) int64 {
	if op == nil {
		return 0
	}
	return op.Count
}
