package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/kgstore/internal/backend"
	"github.com/OFFIS-RIT/kgstore/internal/config"
	"github.com/OFFIS-RIT/kgstore/internal/queue"
	"github.com/OFFIS-RIT/kgstore/internal/storage"
	"github.com/OFFIS-RIT/kgstore/internal/util"
	"github.com/OFFIS-RIT/kgstore/pkg/logger"
	"github.com/OFFIS-RIT/kgstore/pkg/logger/console"
	"github.com/OFFIS-RIT/kgstore/pkg/metrics"
)

func main() {
	util.LoadEnv()

	cfg, err := config.Load()
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Debug,
		JSON:   cfg.JSONLog,
		Prefix: "worker",
	}))
	if err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector("kgstore_worker")
	stack, err := backend.New(ctx, cfg, collector)
	if err != nil {
		logger.Fatal("Failed to open backend", "backend", cfg.Backend, "err", err)
	}
	defer stack.Close()

	w := &queue.Worker{Store: stack.Store, Metrics: collector}
	if cfg.S3Bucket != "" {
		client, err := storage.NewS3Client(ctx, storage.ClientOptions{
			Region:    cfg.AWSRegion,
			Endpoint:  cfg.AWSEndpoint,
			AccessKey: cfg.AWSAccessKey,
			SecretKey: cfg.AWSSecretKey,
		})
		if err != nil {
			logger.Fatal("Failed to create s3 client", "err", err)
		}
		w.Exporter = storage.NewExporter(client, cfg.S3Bucket, cfg.S3Prefix)
	}

	conn, err := queue.Dial(cfg.RabbitURL)
	if err != nil {
		logger.Fatal("Failed to connect to queue", "err", err)
	}
	defer conn.Close()

	logger.Info("Listening for messages", "backend", stack.Kind)
	if err := w.Run(ctx, conn); err != nil {
		logger.Error("Worker stopped", "err", err)
		return
	}
	logger.Info("Shutdown signal received, exiting...")
}
