// Package sweeper cancels online orders whose payment never arrived, so the
// stock they hold goes back on sale.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/go-order-payments/internal/metrics"
	"github.com/imrishuroy/go-order-payments/internal/store"
)

// Expirer cancels one unpaid order. It reports false when the order was
// paid or closed after it was listed.
type Expirer interface {
	ExpireUnpaid(ctx context.Context, orderID string) (bool, error)
}

type Config struct {
	// PaymentTTL is how long the gateways accept payment for an order.
	PaymentTTL time.Duration
	// StaleAfter is the order age after which it is swept. It must exceed
	// PaymentTTL so a buyer still on the gateway page is never cut off.
	StaleAfter time.Duration
	BatchSize  int
	Workers    int
}

func DefaultConfig() Config {
	return Config{
		PaymentTTL: 15 * time.Minute,
		StaleAfter: 30 * time.Minute,
		BatchSize:  100,
		Workers:    4,
	}
}

// Report summarises one sweep.
type Report struct {
	Scanned   int
	Cancelled int
	Skipped   int
	Failed    int
}

type Sweeper struct {
	finder  store.StaleOrderFinder
	expirer Expirer
	cfg     Config
	metrics metrics.Recorder
	logger  *slog.Logger
	now     func() time.Time
}

type Option func(*Sweeper)

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.logger = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *Sweeper) { s.metrics = m }
}

func New(finder store.StaleOrderFinder, expirer Expirer, cfg Config, opts ...Option) (*Sweeper, error) {
	def := DefaultConfig()
	if cfg.PaymentTTL <= 0 {
		cfg.PaymentTTL = def.PaymentTTL
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.StaleAfter <= cfg.PaymentTTL {
		return nil, fmt.Errorf("sweeper: stale after %s must exceed payment ttl %s", cfg.StaleAfter, cfg.PaymentTTL)
	}

	s := &Sweeper{
		finder:  finder,
		expirer: expirer,
		cfg:     cfg,
		metrics: metrics.Nop{},
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sweep expires one batch of stale orders. Each order is cancelled in its
// own transaction; a failure on one does not stop the others. The error is
// non-nil only when the batch could not be listed.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	cutoff := s.now().Add(-s.cfg.StaleAfter)
	stale, err := s.finder.FindStalePending(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return Report{}, fmt.Errorf("sweeper: list stale orders: %w", err)
	}

	var cancelled, skipped, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, o := range stale {
		orderID := o.OrderID
		g.Go(func() error {
			ok, err := s.expirer.ExpireUnpaid(ctx, orderID)
			switch {
			case err != nil:
				failed.Add(1)
				s.logger.ErrorContext(ctx, "stale order not expired", slog.String("order_id", orderID), slog.Any("error", err))
			case ok:
				cancelled.Add(1)
			default:
				skipped.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	r := Report{
		Scanned:   len(stale),
		Cancelled: int(cancelled.Load()),
		Skipped:   int(skipped.Load()),
		Failed:    int(failed.Load()),
	}
	s.metrics.OrdersSwept(r.Cancelled)
	s.logger.InfoContext(ctx, "sweep finished",
		slog.Time("cutoff", cutoff),
		slog.Int("scanned", r.Scanned),
		slog.Int("cancelled", r.Cancelled),
		slog.Int("skipped", r.Skipped),
		slog.Int("failed", r.Failed))
	return r, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil {
			s.logger.ErrorContext(ctx, "sweep failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
