// Package reconcile applies verified payment gateway callbacks to orders.
//
// A callback is authenticated by its adapter, then judged and applied in a
// single retried unit of work. The outcome is never an error: the webhook
// boundary always answers with the gateway's acknowledgement format.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
	"github.com/imrishuroy/go-order-payments/internal/inventory"
	"github.com/imrishuroy/go-order-payments/internal/metrics"
	"github.com/imrishuroy/go-order-payments/internal/notify"
	"github.com/imrishuroy/go-order-payments/internal/orders"
	"github.com/imrishuroy/go-order-payments/internal/payment"
	"github.com/imrishuroy/go-order-payments/internal/retry"
	"github.com/imrishuroy/go-order-payments/internal/store"
)

// Notifier accepts notifications for background delivery.
type Notifier interface {
	Dispatch(ctx context.Context, ns ...notify.Notification)
}

// Result is what the webhook handler needs to answer the gateway.
type Result struct {
	Outcome payment.Outcome
	OrderID string
	// Status and Body are the gateway-specific acknowledgement. They are
	// zero for OutcomeUnknownGateway.
	Status int
	Body   any
}

type Reconciler struct {
	exec     *retry.Executor
	gateways payment.Registry
	notifier Notifier
	metrics  metrics.Recorder
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Reconciler)

func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(r *Reconciler) { r.metrics = m }
}

func New(exec *retry.Executor, gateways payment.Registry, notifier Notifier, opts ...Option) *Reconciler {
	r := &Reconciler{
		exec:     exec,
		gateways: gateways,
		notifier: notifier,
		metrics:  metrics.Nop{},
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/imrishuroy/go-order-payments/internal/reconcile"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// decision is what the unit of work concluded, plus the order as written.
type decision struct {
	outcome payment.Outcome
	order   orders.Order
}

// Reconcile verifies payload with the gateway registered for kind and
// applies it to the referenced order.
func (r *Reconciler) Reconcile(ctx context.Context, kind orders.PaymentMethod, payload map[string]string) Result {
	ctx, span := r.tracer.Start(ctx, "reconcile.Reconcile",
		trace.WithAttributes(attribute.String("payment.gateway", string(kind))))
	defer span.End()

	gw, err := r.gateways.Get(kind)
	if err != nil {
		r.logger.WarnContext(ctx, "callback for unknown gateway", slog.String("gateway", string(kind)))
		return r.finish(span, kind, nil, Result{Outcome: payment.OutcomeUnknownGateway})
	}

	cb, err := gw.VerifyCallback(payload)
	if err != nil {
		r.logger.WarnContext(ctx, "callback rejected",
			slog.String("gateway", string(kind)),
			slog.String("kind", string(apperror.KindOf(err))),
			slog.Any("error", err))
		return r.finish(span, kind, gw, Result{Outcome: payment.OutcomeSignatureMismatch})
	}
	span.SetAttributes(attribute.String("order.id", cb.OrderID))

	now := r.now()
	d, err := retry.RunWithResult(ctx, r.exec, "reconcile_payment", func(ctx context.Context, tx store.Tx) (decision, error) {
		return apply(ctx, tx, kind, cb, now)
	})
	if err != nil {
		r.logger.ErrorContext(ctx, "callback not applied",
			slog.String("gateway", string(kind)),
			slog.String("order_id", cb.OrderID),
			slog.Any("error", err))
		return r.finish(span, kind, gw, Result{Outcome: payment.OutcomeRetryLater, OrderID: cb.OrderID})
	}

	switch d.outcome {
	case payment.OutcomeConfirmed:
		r.logger.InfoContext(ctx, "payment confirmed",
			slog.String("order_id", cb.OrderID),
			slog.String("transaction_id", cb.TransactionID),
			slog.Int64("amount", cb.Amount))
		r.notify(ctx, notify.PaymentConfirmed(d.order, now))
	case payment.OutcomeAmountMismatch, payment.OutcomeDeclined:
		r.logger.WarnContext(ctx, "payment failed",
			slog.String("order_id", cb.OrderID),
			slog.String("outcome", string(d.outcome)),
			slog.Int64("callback_amount", cb.Amount),
			slog.Int64("order_total", d.order.TotalAmount),
			slog.String("gateway_code", cb.Code))
		r.notify(ctx, notify.PaymentFailed(d.order, now))
	case payment.OutcomeOrderClosed:
		// money was taken for an order that no longer exists; operators refund
		r.logger.ErrorContext(ctx, "payment received for closed order",
			slog.String("order_id", cb.OrderID),
			slog.String("transaction_id", cb.TransactionID),
			slog.Int64("amount", cb.Amount))
	case payment.OutcomeGatewayMismatch:
		r.logger.WarnContext(ctx, "callback from a different gateway than the order",
			slog.String("order_id", cb.OrderID),
			slog.String("gateway", string(kind)),
			slog.String("payment_method", string(d.order.PaymentMethod)))
	case payment.OutcomeNotFound:
		r.logger.WarnContext(ctx, "callback for unknown order", slog.String("order_id", cb.OrderID))
	}
	return r.finish(span, kind, gw, Result{Outcome: d.outcome, OrderID: cb.OrderID})
}

// apply is the unit of work. It writes only when the callback changes the
// payment state.
func apply(ctx context.Context, tx store.Tx, kind orders.PaymentMethod, cb payment.Callback, now time.Time) (decision, error) {
	o, err := tx.GetOrder(ctx, cb.OrderID)
	if errors.Is(err, apperror.ErrNotFound) {
		return decision{outcome: payment.OutcomeNotFound}, nil
	}
	if err != nil {
		return decision{}, err
	}

	switch {
	case o.PaymentStatus == orders.PaymentCompleted:
		return decision{outcome: payment.OutcomeAlreadyProcessed, order: *o}, nil
	case o.Status == orders.StatusCancelled:
		if cb.Paid {
			return decision{outcome: payment.OutcomeOrderClosed, order: *o}, nil
		}
		return decision{outcome: payment.OutcomeAlreadyProcessed, order: *o}, nil
	case o.PaymentMethod != kind:
		return decision{outcome: payment.OutcomeGatewayMismatch, order: *o}, nil
	}

	outcome := payment.OutcomeConfirmed
	switch {
	case cb.Fractional || cb.Amount != o.TotalAmount:
		outcome = payment.OutcomeAmountMismatch
	case !cb.Paid:
		outcome = payment.OutcomeDeclined
	}

	if outcome == payment.OutcomeConfirmed {
		o.ConfirmPayment(cb.TransactionID, cb.Amount, now)
		if o.Source == orders.SourceCart {
			if err := tx.ClearCart(ctx, o.BuyerID); err != nil {
				return decision{}, err
			}
		}
	} else {
		o.FailPayment(now)
		if err := inventory.ReleaseAll(ctx, tx, o.Lines()); err != nil {
			return decision{}, err
		}
	}
	if err := tx.UpdateOrder(ctx, *o); err != nil {
		return decision{}, err
	}
	o.Version++
	return decision{outcome: outcome, order: *o}, nil
}

func (r *Reconciler) finish(span trace.Span, kind orders.PaymentMethod, gw payment.Gateway, res Result) Result {
	span.SetAttributes(attribute.String("payment.outcome", string(res.Outcome)))
	r.metrics.PaymentOutcome(string(kind), string(res.Outcome))
	if gw != nil {
		res.Status, res.Body = gw.Acknowledge(res.Outcome)
	}
	return res
}

func (r *Reconciler) notify(ctx context.Context, ns []notify.Notification) {
	if r.notifier != nil {
		r.notifier.Dispatch(ctx, ns...)
	}
}
