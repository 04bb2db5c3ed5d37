package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/imrishuroy/go-order-payments/internal/aws"
	"github.com/imrishuroy/go-order-payments/internal/checkout"
	"github.com/imrishuroy/go-order-payments/internal/config"
	"github.com/imrishuroy/go-order-payments/internal/metrics"
	"github.com/imrishuroy/go-order-payments/internal/notify"
	"github.com/imrishuroy/go-order-payments/internal/payment"
	"github.com/imrishuroy/go-order-payments/internal/payment/card"
	"github.com/imrishuroy/go-order-payments/internal/payment/wallet"
	"github.com/imrishuroy/go-order-payments/internal/retry"
	"github.com/imrishuroy/go-order-payments/internal/store"
	"github.com/imrishuroy/go-order-payments/internal/store/dynamo"
	"github.com/imrishuroy/go-order-payments/internal/store/memory"
	"github.com/imrishuroy/go-order-payments/internal/sweeper"
)

type sweepStore interface {
	store.Store
	store.StaleOrderFinder
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With(slog.String("component", "sweeper"))
	slog.SetDefault(logger)

	ctx := context.Background()
	var clients *aws.Clients
	if cfg.Store == config.StoreDynamo || cfg.Notify.Transport == config.TransportSQS || cfg.CloudWatchNamespace != "" {
		if clients, err = aws.NewClients(ctx); err != nil {
			logger.Error("failed to init aws clients", slog.Any("error", err))
			os.Exit(1)
		}
	}

	var recorder metrics.Recorder = metrics.Nop{}
	if cfg.CloudWatchNamespace != "" {
		recorder = metrics.NewCloudWatch(clients.CloudWatch, cfg.CloudWatchNamespace, logger)
	}

	var st sweepStore
	if cfg.Store == config.StoreDynamo {
		st = dynamo.NewStore(clients.DynamoDB, cfg.Tables)
	} else {
		st = memory.New()
	}

	var sink notify.Sink = notify.LogSink{Logger: logger}
	switch cfg.Notify.Transport {
	case config.TransportSQS:
		sink = notify.NewSQSSink(aws.NewPublisher(clients.SQS, cfg.Notify.QueueURL, cfg.Notify.FIFO))
	case config.TransportKafka:
		ks := notify.NewKafkaSink(notify.NewKafkaWriter(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic))
		defer ks.Close()
		sink = ks
	}
	dispatcher := notify.NewDispatcher(sink, cfg.Notify.MaxInFlight, cfg.Notify.Timeout, logger, recorder)

	exec := retry.New(st, cfg.Retry, retry.WithLogger(logger))
	gateways := payment.NewRegistry(wallet.New(cfg.Wallet, nil), card.New(cfg.Card, nil))
	svc := checkout.NewService(exec, gateways, dispatcher,
		checkout.WithLogger(logger),
		checkout.WithMetrics(recorder))

	sw, err := sweeper.New(st, svc, cfg.Sweeper,
		sweeper.WithLogger(logger),
		sweeper.WithMetrics(recorder))
	if err != nil {
		logger.Error("invalid sweeper config", slog.Any("error", err))
		os.Exit(1)
	}

	// RUN_LOCAL sweeps on a ticker instead of waiting for scheduled events.
	if cfg.RunLocal {
		runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
		logger.Info("sweeping locally", slog.Duration("interval", cfg.SweepInterval))
		sw.Run(runCtx, cfg.SweepInterval)
		dispatcher.Wait()
		return
	}

	lambda.Start(func(ctx context.Context, ev events.CloudWatchEvent) (sweeper.Report, error) {
		logger.InfoContext(ctx, "scheduled sweep", slog.String("event_id", ev.ID))
		r, err := sw.Sweep(ctx)
		dispatcher.Wait()
		return r, err
	})
}
