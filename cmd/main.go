package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jittakal/kafs3sink/internal/config"
	"github.com/jittakal/kafs3sink/internal/kafka"
	"github.com/jittakal/kafs3sink/internal/observability"
	"github.com/jittakal/kafs3sink/internal/server"
	"github.com/jittakal/kafs3sink/internal/storage"
	"github.com/jittakal/kafs3sink/internal/task"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}

func run() error {
	// Parse command-line flags
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Load configuration
	// Priority: CLI flag > CONFIG_PATH env var > default path
	var cfgPath string
	if *configPath != "" {
		cfgPath = *configPath
	} else if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		cfgPath = envPath
	} else {
		cfgPath = "config/application.yaml"
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize observability
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cfg.Observability.Logging.Output,
	})
	logger.Info("starting kafka s3 sink",
		"version", cfg.Application.Version,
		"environment", cfg.Application.Environment,
	)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Track cleanup functions
	var cleanupFuncs []func() error
	addCleanup := func(name string, fn func() error) {
		cleanupFuncs = append(cleanupFuncs, fn)
		logger.Debug("registered cleanup", "component", name)
	}
	runCleanup := func() {
		for i := len(cleanupFuncs) - 1; i >= 0; i-- {
			if err := cleanupFuncs[i](); err != nil {
				logger.Error("cleanup failed", "error", err)
			}
		}
	}
	defer runCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Build the sink task. The default backend is S3, configured through
	// the connector properties; alternate backends inject a store client.
	var taskOpts []task.Option
	switch cfg.Storage.Backend {
	case "s3", "":
	case "gcs":
		client, err := storage.NewGCSClient(ctx, storage.GCSConfig{
			Bucket:               cfg.Storage.GCS.Bucket,
			ProjectID:            cfg.Storage.GCS.ProjectID,
			CredentialsFile:      cfg.Storage.GCS.CredentialsFile,
			UseDefaultCredential: cfg.Storage.GCS.UseDefaultCredential,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create GCS client: %w", err)
		}
		taskOpts = append(taskOpts, task.WithStoreClient(client))
	case "azure":
		client, err := storage.NewAzureClient(storage.AzureConfig{
			AccountName:   cfg.Storage.Azure.AccountName,
			AccountKey:    os.Getenv("AZURE_STORAGE_ACCOUNT_KEY"),
			ContainerName: cfg.Storage.Azure.Container,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create Azure client: %w", err)
		}
		taskOpts = append(taskOpts, task.WithStoreClient(client))
	case "file":
		client, err := storage.NewFileClient(storage.FileConfig{
			BasePath: cfg.Storage.File.BasePath,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create filesystem client: %w", err)
		}
		taskOpts = append(taskOpts, task.WithStoreClient(client))
	default:
		return fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
	}

	consumerConfig := kafka.ConsumerConfig{
		BootstrapServers:    cfg.Kafka.BootstrapServers,
		GroupID:             cfg.Kafka.Consumer.GroupID,
		SecurityProtocol:    cfg.Kafka.SecurityProtocol,
		SASLMechanism:       cfg.Kafka.SASLMechanism,
		SASLUsername:        cfg.Kafka.SASLUsername,
		SASLPassword:        cfg.Kafka.SASLPassword,
		AutoOffsetReset:     cfg.Kafka.Consumer.AutoOffsetReset,
		MaxPollRecords:      cfg.Kafka.Consumer.MaxPollRecords,
		MaxPollIntervalMS:   cfg.Kafka.Consumer.MaxPollIntervalMS,
		SessionTimeoutMS:    cfg.Kafka.Consumer.SessionTimeoutMS,
		HeartbeatIntervalMS: cfg.Kafka.Consumer.HeartbeatIntervalMS,
	}

	if cfg.Kafka.DLQ.Enabled {
		dlqPublisher, err := kafka.NewDLQPublisher(
			cfg.Kafka.BootstrapServers,
			consumerConfig,
			kafka.DLQConfig{
				Enabled:     cfg.Kafka.DLQ.Enabled,
				TopicSuffix: cfg.Kafka.DLQ.TopicSuffix,
			},
			logger,
			cfg.Application.Name,
		)
		if err != nil {
			return fmt.Errorf("failed to create DLQ publisher: %w", err)
		}
		addCleanup("dlq-publisher", dlqPublisher.Close)
		taskOpts = append(taskOpts, task.WithDLQ(dlqPublisher))
	}

	sinkTask := task.NewTask(logger, metrics, taskOpts...)

	// The kafka bridge is the task's runtime context; start is deferred
	// until the bridge exists so seeks can reach the session.
	bridge, err := kafka.NewBridge(consumerConfig, sinkTask, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to create kafka bridge: %w", err)
	}
	addCleanup("kafka-bridge", bridge.Close)

	if err := sinkTask.Start(ctx, cfg.Connector.Properties, bridge); err != nil {
		return fmt.Errorf("failed to start sink task: %w", err)
	}
	addCleanup("sink-task", func() error {
		sinkTask.Stop(context.Background())
		return nil
	})

	// Start HTTP server
	healthChecker := &bridgeHealthChecker{}
	httpServer := server.NewServer(
		cfg.Observability.Health.Port,
		cfg.Observability.Metrics.Port,
		healthChecker,
		registry,
		logger,
	)
	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	addCleanup("http-server", func() error {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	logger.Info("application started successfully")

	// Run the bridge until a signal or fatal error
	runErrChan := make(chan error, 1)
	go func() {
		healthChecker.setReady(true)
		runErrChan <- bridge.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("received termination signal")
	case err := <-runErrChan:
		if err != nil {
			logger.Error("bridge error", "error", err)
			return err
		}
	}

	// Graceful shutdown: cancelling the context ends the session, which
	// commits open files for the revoked partitions in Cleanup.
	logger.Info("initiating graceful shutdown")
	healthChecker.setReady(false)
	cancel()

	select {
	case <-runErrChan:
	case <-time.After(time.Duration(cfg.Shutdown.GracePeriodSeconds) * time.Second):
		logger.Warn("grace period elapsed before bridge stopped")
	}

	logger.Info("application stopped successfully")
	return nil
}

// bridgeHealthChecker reports process health to the HTTP probes.
type bridgeHealthChecker struct {
	ready atomic.Bool
}

func (h *bridgeHealthChecker) setReady(ready bool) {
	h.ready.Store(ready)
}

func (h *bridgeHealthChecker) Liveness() bool {
	return true
}

func (h *bridgeHealthChecker) Readiness(_ context.Context) bool {
	return h.ready.Load()
}

func (h *bridgeHealthChecker) IsHealthy() bool {
	return h.ready.Load()
}

func (h *bridgeHealthChecker) GetStatus() map[string]string {
	status := "ready"
	if !h.ready.Load() {
		status = "not ready"
	}
	return map[string]string{"bridge": status}
}
