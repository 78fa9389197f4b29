package main

import (
	"context"
	"errors"
	"os"
	"time"

	"dividi/internal/amqp"
	"dividi/internal/cli"
	applog "dividi/internal/log"
	"dividi/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), applog.ComponentWorker)
	logger.Info("Starting dividi-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if !cfg.AMQPEnabled() {
		logger.Error("AMQP_URL is required for the activity worker")
		os.Exit(1)
	}

	// The worker only writes to the store; it must not publish.
	storeCfg := *cfg
	storeCfg.AMQPURL = ""
	result := cli.InitBackend(context.Background(), logger, &storeCfg)
	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.Error("Failed to close store", applog.FieldError, err)
		}
	}()

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}
	defer client.Close()

	activities := worker.NewActivityWorker(result.Store)
	ctx, done := cli.GracefulShutdown(logger, 10*time.Second, nil)

	consumeErr := make(chan error, 1)
	go func() {
		consumeErr <- client.ConsumeActivities(ctx, activities.HandleActivity)
	}()

	select {
	case err := <-consumeErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", applog.FieldError, err)
			os.Exit(1)
		}
		if ctx.Err() == nil {
			logger.Info("Consumer stopped", "processed", activities.Processed())
			return
		}
	case <-ctx.Done():
		<-consumeErr
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully", "processed", activities.Processed())
}
