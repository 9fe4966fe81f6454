package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/pnrfill-worker/internal/config"
	"github.com/adverant/nexus/pnrfill-worker/internal/executor"
	"github.com/adverant/nexus/pnrfill-worker/internal/logging"
	"github.com/adverant/nexus/pnrfill-worker/internal/metrics"
	"github.com/adverant/nexus/pnrfill-worker/internal/pipeline"
	"github.com/adverant/nexus/pnrfill-worker/internal/queue"
	"github.com/adverant/nexus/pnrfill-worker/internal/server"
	"github.com/adverant/nexus/pnrfill-worker/internal/storage"
)

// queueConsumer is either queue backend.
type queueConsumer interface {
	Start(ctx context.Context) error
	Stop() error
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume queued captures and serve the HTTP trigger",
		RunE: func(cmd *cobra.Command, args []string) error {
			noQueue, _ := cmd.Flags().GetBool("no-queue")
			return runWorker(cmd, !noQueue)
		},
	}
	cmd.Flags().Bool("no-queue", false, "Serve the HTTP trigger only")
	return cmd
}

func runWorker(cmd *cobra.Command, consume bool) error {
	log := logging.NewLogger("Worker")
	ctx := cmd.Context()

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	cfg := a.cfg
	log.Info("Starting pnrfill worker",
		"environment", cfg.Environment,
		"queueBackend", cfg.QueueBackend,
		"auditDriver", cfg.AuditDriver)

	// Step 1: Form agent
	log.Info("[Step 1] Connecting to form agent", "url", cfg.FormAgentURL)
	driver, err := a.driver(ctx, false)
	if err != nil {
		return err
	}

	// Step 2: Audit trail
	log.Info("[Step 2] Opening audit trail", "driver", cfg.AuditDriver)
	recorder, err := storage.NewRecorder(cfg.AuditDriver, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return err
	}
	if recorder != nil {
		defer recorder.Close()
	}

	// Step 3: Redis events
	log.Info("[Step 3] Connecting to Redis", "queue", cfg.QueueName)
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	// Step 4: Pipeline
	pcfg := pipeline.Config{
		Filler: executor.New(driver, cfg.FillPacing),
		Events: queue.NewRedisPublisher(rdb, cfg.QueueName),
	}
	if recorder != nil {
		pcfg.Recorder = recorder
	}
	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
		pcfg.Metrics = m
	}
	controller, err := a.controller(pcfg)
	if err != nil {
		return err
	}
	log.Info("[Step 4] Pipeline ready", "runTimeout", cfg.RunTimeout)

	// Step 5: Queue consumer
	var consumer queueConsumer
	if consume {
		consumer, err = newQueueConsumer(cfg, controller, a)
		if err != nil {
			return err
		}
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start consumer: %w", err)
		}
		log.Info("[Step 5] Consuming captures", "backend", cfg.QueueBackend, "queue", cfg.QueueName)
	}

	// Step 6: HTTP trigger
	scfg := server.Config{Pipeline: controller, Loader: a.loader}
	if recorder != nil {
		scfg.Store = recorder
	}
	if m != nil {
		scfg.MetricsHandler = m.Handler()
	}
	srv, err := server.New(scfg)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx, cfg.HTTPAddr) }()
	log.Info("[Step 6] HTTP trigger started", "addr", cfg.HTTPAddr)
	log.Info("Worker is running. Press Ctrl+C to stop.")

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown signal received, stopping gracefully...")
		serveErr = <-errCh
	case serveErr = <-errCh:
	}

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			log.Error("Error stopping consumer", "error", err.Error())
		}
	}
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("HTTP trigger failed: %w", serveErr)
	}
	log.Info("Worker stopped")
	return nil
}

func newQueueConsumer(cfg *config.Config, runner queue.Runner, a *app) (queueConsumer, error) {
	switch cfg.QueueBackend {
	case config.QueueBackendAsynq:
		return queue.NewConsumer(&queue.ConsumerConfig{
			RedisURL:  cfg.RedisURL,
			QueueName: cfg.QueueName,
			Runner:    runner,
			Loader:    a.loader,
		})
	default:
		return queue.NewRedisConsumer(&queue.RedisConsumerConfig{
			RedisURL:  cfg.RedisURL,
			QueueName: cfg.QueueName,
			Runner:    runner,
			Loader:    a.loader,
		})
	}
}
