// Package config loads process configuration from the environment, reading
// a .env file first when one exists.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/imrishuroy/go-order-payments/internal/payment/card"
	"github.com/imrishuroy/go-order-payments/internal/payment/wallet"
	"github.com/imrishuroy/go-order-payments/internal/retry"
	"github.com/imrishuroy/go-order-payments/internal/store/dynamo"
	"github.com/imrishuroy/go-order-payments/internal/sweeper"
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreDynamo = "dynamo"
)

// Notification transports.
const (
	TransportLog   = "log"
	TransportSQS   = "sqs"
	TransportKafka = "kafka"
)

type Notify struct {
	Transport    string
	QueueURL     string
	FIFO         bool
	KafkaBrokers string
	KafkaTopic   string
	MaxInFlight  int64
	Timeout      time.Duration
}

type Config struct {
	Addr     string
	RunLocal bool
	LogLevel slog.Level

	Store              string
	SeedDemo           bool
	Tables             dynamo.Tables
	IdempotencyTable   string
	IdempotencyTTL     time.Duration
	NotificationsTable string

	Retry         retry.Config
	Sweeper       sweeper.Config
	SweepInterval time.Duration

	Notify              Notify
	CloudWatchNamespace string

	Wallet wallet.Config
	Card   card.Config
}

// loader collects parse errors so every bad variable is reported at once.
type loader struct {
	errs []error
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func (l *loader) duration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return d
}

func (l *loader) integer(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return n
}

func (l *loader) boolean(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return b
}

func (l *loader) level(k string, def slog.Level) slog.Level {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return lvl
}

// Load reads the configuration. Every invalid variable is reported in the
// returned error.
func Load() (Config, error) {
	_ = godotenv.Load() // load .env if it exists

	l := &loader{}
	paymentTTL := l.duration("PAYMENT_TTL", 15*time.Minute)
	gatewayTimeout := l.duration("GATEWAY_TIMEOUT", 10*time.Second)

	cfg := Config{
		Addr:     getenv("ADDR", ":8080"),
		RunLocal: l.boolean("RUN_LOCAL", false),
		LogLevel: l.level("LOG_LEVEL", slog.LevelInfo),

		Store:    strings.ToLower(getenv("STORE_BACKEND", StoreMemory)),
		SeedDemo: l.boolean("SEED_DEMO", false),
		Tables: dynamo.Tables{
			Products:     getenv("PRODUCTS_TABLE", "products"),
			Carts:        getenv("CARTS_TABLE", "carts"),
			Vouchers:     getenv("VOUCHERS_TABLE", "vouchers"),
			Orders:       getenv("ORDERS_TABLE", "orders"),
			Users:        getenv("USERS_TABLE", "users"),
			PendingIndex: getenv("ORDERS_PENDING_INDEX", "payment_status-created_at-index"),
		},
		IdempotencyTable:   getenv("IDEMPOTENCY_TABLE", "idempotency"),
		IdempotencyTTL:     l.duration("IDEMPOTENCY_TTL", 48*time.Hour),
		NotificationsTable: getenv("NOTIFICATIONS_TABLE", "notifications"),

		Retry: retry.Config{
			MaxRetries:    l.integer("RETRY_MAX", 3),
			BaseDelay:     l.duration("RETRY_BASE_DELAY", 100*time.Millisecond),
			MaxDelay:      l.duration("RETRY_MAX_DELAY", 2*time.Second),
			CommitTimeout: l.duration("COMMIT_TIMEOUT", 5*time.Second),
		},
		Sweeper: sweeper.Config{
			PaymentTTL: paymentTTL,
			StaleAfter: l.duration("STALE_AFTER", 30*time.Minute),
			BatchSize:  l.integer("SWEEP_BATCH_SIZE", 100),
			Workers:    l.integer("SWEEP_WORKERS", 4),
		},
		SweepInterval: l.duration("SWEEP_INTERVAL", 5*time.Minute),

		Notify: Notify{
			Transport:    strings.ToLower(getenv("NOTIFY_TRANSPORT", TransportLog)),
			QueueURL:     os.Getenv("NOTIFICATIONS_QUEUE_URL"),
			FIFO:         l.boolean("NOTIFICATIONS_QUEUE_FIFO", true),
			KafkaBrokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			KafkaTopic:   getenv("KAFKA_NOTIFICATIONS_TOPIC", "order-notifications"),
			MaxInFlight:  int64(l.integer("NOTIFY_MAX_IN_FLIGHT", 16)),
			Timeout:      l.duration("NOTIFY_TIMEOUT", 5*time.Second),
		},
		CloudWatchNamespace: os.Getenv("CLOUDWATCH_NAMESPACE"),

		Wallet: wallet.Config{
			AppID:       os.Getenv("WALLET_APP_ID"),
			Key1:        os.Getenv("WALLET_KEY1"),
			Key2:        os.Getenv("WALLET_KEY2"),
			PayURL:      getenv("WALLET_PAY_URL", "https://sb-openapi.zalopay.vn/v2/create"),
			RefundURL:   getenv("WALLET_REFUND_URL", "https://sb-openapi.zalopay.vn/v2/refund"),
			CallbackURL: os.Getenv("WALLET_CALLBACK_URL"),
			RedirectURL: os.Getenv("WALLET_REDIRECT_URL"),
			PaymentTTL:  paymentTTL,
			HTTPTimeout: gatewayTimeout,
		},
		Card: card.Config{
			TmnCode:     os.Getenv("CARD_TMN_CODE"),
			HashSecret:  os.Getenv("CARD_HASH_SECRET"),
			PayURL:      getenv("CARD_PAY_URL", "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"),
			RefundURL:   getenv("CARD_REFUND_URL", "https://sandbox.vnpayment.vn/merchant_webapi/api/transaction"),
			ReturnURL:   os.Getenv("CARD_RETURN_URL"),
			PaymentTTL:  paymentTTL,
			HTTPTimeout: gatewayTimeout,
		},
	}

	switch cfg.Store {
	case StoreMemory, StoreDynamo:
	default:
		l.errs = append(l.errs, fmt.Errorf("STORE_BACKEND: unknown backend %q", cfg.Store))
	}
	switch cfg.Notify.Transport {
	case TransportLog, TransportKafka:
	case TransportSQS:
		if cfg.Notify.QueueURL == "" {
			l.errs = append(l.errs, errors.New("NOTIFICATIONS_QUEUE_URL: required for the sqs transport"))
		}
	default:
		l.errs = append(l.errs, fmt.Errorf("NOTIFY_TRANSPORT: unknown transport %q", cfg.Notify.Transport))
	}
	if cfg.Sweeper.StaleAfter <= cfg.Sweeper.PaymentTTL {
		l.errs = append(l.errs, fmt.Errorf("STALE_AFTER: %s must exceed PAYMENT_TTL %s", cfg.Sweeper.StaleAfter, cfg.Sweeper.PaymentTTL))
	}

	if err := errors.Join(l.errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LogValue keeps secrets out of the startup log line.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("addr", c.Addr),
		slog.Bool("run_local", c.RunLocal),
		slog.String("store", c.Store),
		slog.String("orders_table", c.Tables.Orders),
		slog.String("notify_transport", c.Notify.Transport),
		slog.Duration("payment_ttl", c.Sweeper.PaymentTTL),
		slog.Duration("stale_after", c.Sweeper.StaleAfter),
		slog.Bool("wallet_configured", c.Wallet.AppID != ""),
		slog.Bool("card_configured", c.Card.TmnCode != ""),
	)
}
