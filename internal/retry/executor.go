// Package retry runs units of work inside datastore sessions and retries
// them on transient failures and write conflicts.
//
// A unit of work may be executed more than once. It must not perform side
// effects outside the transaction it is handed: no gateway calls, no
// notifications, no ids or clocks read inside the unit.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
	"github.com/imrishuroy/go-order-payments/internal/store"
)

// Config bounds retries. Zero values fall back to defaults.
type Config struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	CommitTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxRetries:    3,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		CommitTimeout: 5 * time.Second,
	}
}

// Executor runs units of work against a store.
type Executor struct {
	store  store.Store
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
	sleep  func(ctx context.Context, d time.Duration) error
}

// Option customises an Executor.
type Option func(*Executor)

// WithSleep replaces the backoff wait.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

func New(s store.Store, cfg Config, opts ...Option) *Executor {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = def.CommitTimeout
	}
	e := &Executor{
		store:  s,
		cfg:    cfg,
		logger: slog.Default(),
		tracer: otel.Tracer("github.com/imrishuroy/go-order-payments/internal/retry"),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes fn in a fresh session per attempt and commits when fn
// succeeds. Terminal errors are returned unchanged. When retries run out the
// last cause is wrapped as a TransientStore error.
func (e *Executor) Run(ctx context.Context, name string, fn func(ctx context.Context, tx store.Tx) error) error {
	ctx, span := e.tracer.Start(ctx, "retry."+name)
	defer span.End()

	for attempt := 0; ; attempt++ {
		err := e.attempt(ctx, fn)
		if err == nil {
			span.SetAttributes(attribute.Int("retry.attempts", attempt+1))
			return nil
		}
		if !apperror.IsRetryable(err) {
			span.SetAttributes(attribute.Int("retry.attempts", attempt+1))
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		if attempt >= e.cfg.MaxRetries {
			span.SetAttributes(attribute.Int("retry.attempts", attempt+1))
			span.SetStatus(codes.Error, "retries exhausted")
			return &apperror.Error{
				Kind: apperror.KindTransientStore,
				Op:   name,
				Msg:  fmt.Sprintf("gave up after %d attempts", attempt+1),
				Err:  err,
			}
		}

		delay := e.Backoff(attempt)
		e.logger.Debug("retrying unit of work",
			slog.String("unit", name),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("kind", string(apperror.KindOf(err))),
			slog.Any("error", err))
		if serr := e.sleep(ctx, delay); serr != nil {
			return fmt.Errorf("%s: %w", name, serr)
		}
	}
}

func (e *Executor) attempt(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sess, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := fn(ctx, sess); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, e.cfg.CommitTimeout)
	defer cancel()
	return sess.Commit(cctx)
}

// Backoff is min(BaseDelay * 2^attempt, MaxDelay).
func (e *Executor) Backoff(attempt int) time.Duration {
	d := e.cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= e.cfg.MaxDelay {
			return e.cfg.MaxDelay
		}
	}
	if d > e.cfg.MaxDelay {
		return e.cfg.MaxDelay
	}
	return d
}

// RunWithResult is Run for units that produce a value. The value from the
// committed attempt is returned.
func RunWithResult[T any](ctx context.Context, e *Executor, name string, fn func(ctx context.Context, tx store.Tx) (T, error)) (T, error) {
	var result T
	err := e.Run(ctx, name, func(ctx context.Context, tx store.Tx) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
