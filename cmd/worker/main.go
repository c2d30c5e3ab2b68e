package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/owntube/owntube/internal/app"
	"github.com/owntube/owntube/internal/config"
	"github.com/owntube/owntube/internal/logging"
	"github.com/owntube/owntube/internal/metrics"
	"github.com/owntube/owntube/internal/queue"
	"github.com/owntube/owntube/internal/tracing"
	"github.com/owntube/owntube/pkg/models"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	closer, err := tracing.InitTracer(cfg.Tracing)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize tracing")
	}
	defer closer.Close()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	if err := a.Migrate(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to migrate database")
	}

	// Initialize queue
	q, err := a.OpenQueue()
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to queue")
	}
	defer q.Close()

	metricsServer := metrics.NewServer(cfg.Metrics.Port)
	go func() {
		if err := metricsServer.Start(); err != nil {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()
	defer metricsServer.Shutdown(context.Background())

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully...")
		cancel()
	}()

	// Job handler
	jobHandler := func(ctx context.Context, job *models.Job) error {
		jobLogger := logger.WithJobID(job.ID).WithField("type", job.Type)
		jobLogger.Info("Processing job")

		if err := a.HandleJob(ctx, job); err != nil {
			jobLogger.WithError(err).Warn("Job failed")
			return err
		}

		jobLogger.Info("Job finished")
		return nil
	}

	// Start consuming jobs
	logger.Info("Worker started, waiting for jobs...")
	prefetch := cfg.Library.ChannelWorkers
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := q.ConsumeJobs(ctx, prefetch, jobHandler); err != nil {
		logger.WithError(err).Fatal("Failed to consume jobs")
	}

	go reportQueueDepth(ctx, q, logger)

	// Wait for shutdown
	<-ctx.Done()
	logger.Info("Worker stopped")
}

// reportQueueDepth exports the job queue depth until ctx is done
func reportQueueDepth(ctx context.Context, q *queue.Queue, logger *logging.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth, err := q.GetQueueDepth()
			if err != nil {
				logger.WithError(err).Warn("Failed to read queue depth")
				continue
			}
			metrics.SetQueueDepth(depth)
		}
	}
}
