package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/imrishuroy/go-order-payments/internal/aws"
	"github.com/imrishuroy/go-order-payments/internal/checkout"
	"github.com/imrishuroy/go-order-payments/internal/config"
	"github.com/imrishuroy/go-order-payments/internal/handlers"
	"github.com/imrishuroy/go-order-payments/internal/httpx"
	"github.com/imrishuroy/go-order-payments/internal/idempotency"
	"github.com/imrishuroy/go-order-payments/internal/metrics"
	"github.com/imrishuroy/go-order-payments/internal/notify"
	"github.com/imrishuroy/go-order-payments/internal/payment"
	"github.com/imrishuroy/go-order-payments/internal/payment/card"
	"github.com/imrishuroy/go-order-payments/internal/payment/wallet"
	"github.com/imrishuroy/go-order-payments/internal/reconcile"
	"github.com/imrishuroy/go-order-payments/internal/retry"
	"github.com/imrishuroy/go-order-payments/internal/store"
	"github.com/imrishuroy/go-order-payments/internal/store/dynamo"
	"github.com/imrishuroy/go-order-payments/internal/store/memory"
)

// app is everything main wires together.
type app struct {
	router     *gin.Engine
	dispatcher *notify.Dispatcher
	closers    []io.Closer
}

func setupRouter(logger *slog.Logger, reg *prometheus.Registry, prom *metrics.Prometheus, cfg handlers.HandlerConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestID(), httpx.Logger(logger), httpx.Metrics(prom.Requests, prom.LatencyMS))

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler(reg)))

	handlers.RegisterRoutes(r, cfg)
	return r
}

func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewPrometheus(reg, "api")
	recorder := metrics.Multi{prom}

	var (
		clients *aws.Clients
		err     error
	)
	if cfg.Store == config.StoreDynamo || cfg.Notify.Transport == config.TransportSQS || cfg.CloudWatchNamespace != "" {
		clients, err = aws.NewClients(ctx)
		if err != nil {
			return nil, err
		}
	}
	if cfg.CloudWatchNamespace != "" {
		recorder = append(recorder, metrics.NewCloudWatch(clients.CloudWatch, cfg.CloudWatchNamespace, logger))
	}

	var (
		st   store.Store
		idem idempotency.Store
	)
	switch cfg.Store {
	case config.StoreDynamo:
		st = dynamo.NewStore(clients.DynamoDB, cfg.Tables)
		idem = idempotency.NewDynamoStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)
	default:
		mem := memory.New()
		if cfg.SeedDemo {
			seedDemo(mem, logger)
		}
		st = mem
		idem = idempotency.NewMemoryStore(cfg.IdempotencyTTL)
	}

	a := &app{}
	var sink notify.Sink
	switch cfg.Notify.Transport {
	case config.TransportSQS:
		sink = notify.NewSQSSink(aws.NewPublisher(clients.SQS, cfg.Notify.QueueURL, cfg.Notify.FIFO))
	case config.TransportKafka:
		ks := notify.NewKafkaSink(notify.NewKafkaWriter(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic))
		a.closers = append(a.closers, ks)
		sink = ks
	default:
		sink = notify.LogSink{Logger: logger}
	}
	a.dispatcher = notify.NewDispatcher(sink, cfg.Notify.MaxInFlight, cfg.Notify.Timeout, logger, recorder)

	exec := retry.New(st, cfg.Retry, retry.WithLogger(logger))
	gateways := payment.NewRegistry(wallet.New(cfg.Wallet, nil), card.New(cfg.Card, nil))

	svc := checkout.NewService(exec, gateways, a.dispatcher,
		checkout.WithLogger(logger),
		checkout.WithMetrics(recorder))
	rec := reconcile.New(exec, gateways, a.dispatcher,
		reconcile.WithLogger(logger),
		reconcile.WithMetrics(recorder))

	a.router = setupRouter(logger, reg, prom, handlers.HandlerConfig{
		Orders:      svc,
		Reconciler:  rec,
		Idempotency: idem,
		Logger:      logger,
	})
	return a, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	logger.Info("starting api", slog.Any("config", cfg))
	gin.SetMode(gin.ReleaseMode)

	a, err := build(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to init dependencies", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		for _, c := range a.closers {
			_ = c.Close()
		}
	}()

	// if RUN_LOCAL is set, run a local HTTP server for development.
	if cfg.RunLocal {
		if err := serve(a, cfg.Addr, logger); err != nil {
			logger.Error("server stopped", slog.Any("error", err))
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(a.router)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		resp, err := adapter.ProxyWithContext(ctx, req)
		// the runtime freezes between invocations, so flush notifications now
		a.dispatcher.Wait()
		return resp, err
	})
}

func serve(a *app, addr string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("running local server", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	a.dispatcher.Wait()
	return err
}
