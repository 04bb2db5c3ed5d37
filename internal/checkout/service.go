// Package checkout orchestrates the order lifecycle: placing an order,
// moving it through its states, cancelling it and trimming lines. Every
// state change runs as one retried unit of work; gateway calls and
// notifications happen outside it.
package checkout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
	"github.com/imrishuroy/go-order-payments/internal/metrics"
	"github.com/imrishuroy/go-order-payments/internal/notify"
	"github.com/imrishuroy/go-order-payments/internal/payment"
	"github.com/imrishuroy/go-order-payments/internal/retry"
	"github.com/imrishuroy/go-order-payments/internal/validation"
)

// Notifier accepts notifications for background delivery.
type Notifier interface {
	Dispatch(ctx context.Context, ns ...notify.Notification)
}

// Service is the order orchestrator.
type Service struct {
	exec     *retry.Executor
	gateways payment.Registry
	notifier Notifier
	metrics  metrics.Recorder
	validate *validatorv10.Validate
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDs replaces the order id generator.
func WithIDs(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Service) { s.metrics = r }
}

func NewService(exec *retry.Executor, gateways payment.Registry, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		exec:     exec,
		gateways: gateways,
		notifier: notifier,
		metrics:  metrics.Nop{},
		validate: validation.New(),
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) notify(ctx context.Context, ns []notify.Notification) {
	if s.notifier == nil {
		return
	}
	s.notifier.Dispatch(ctx, ns...)
}

// notFoundAs reclassifies a NotFound from the store as kind.
func notFoundAs(err error, kind apperror.Kind, op, format string, args ...any) error {
	if errors.Is(err, apperror.ErrNotFound) {
		return apperror.New(kind, op, format, args...)
	}
	return err
}
