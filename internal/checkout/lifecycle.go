package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
	"github.com/imrishuroy/go-order-payments/internal/inventory"
	"github.com/imrishuroy/go-order-payments/internal/notify"
	"github.com/imrishuroy/go-order-payments/internal/orders"
	"github.com/imrishuroy/go-order-payments/internal/retry"
	"github.com/imrishuroy/go-order-payments/internal/store"
)

// errRefundFirst aborts a cancellation unit that found a payment completed
// after the refund decision was made.
var errRefundFirst = errors.New("payment completed concurrently; refund required")

func (s *Service) GetOrder(ctx context.Context, orderID string) (orders.Order, error) {
	return retry.RunWithResult(ctx, s.exec, "get_order", func(ctx context.Context, tx store.Tx) (orders.Order, error) {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return orders.Order{}, err
		}
		return *o, nil
	})
}

// UpdateOrderStatus moves an order along the state machine. Cancellation is
// delegated to CancelOrder so stock and refunds are handled.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, next orders.Status) (orders.Order, error) {
	if !next.IsValid() {
		return orders.Order{}, apperror.New(apperror.KindValidation, "checkout.UpdateOrderStatus", "unknown order status %q", next)
	}
	if next == orders.StatusCancelled {
		return s.CancelOrder(ctx, orderID)
	}

	now := s.now()
	o, err := retry.RunWithResult(ctx, s.exec, "update_order_status", func(ctx context.Context, tx store.Tx) (orders.Order, error) {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return orders.Order{}, err
		}
		if err := o.Transition(next, now); err != nil {
			return orders.Order{}, err
		}
		if err := tx.UpdateOrder(ctx, *o); err != nil {
			return orders.Order{}, err
		}
		o.Version++
		return *o, nil
	})
	if err != nil {
		return orders.Order{}, err
	}

	s.logger.InfoContext(ctx, "order status changed",
		slog.String("order_id", o.OrderID),
		slog.String("status", string(o.Status)),
		slog.String("payment_status", string(o.PaymentStatus)))
	s.notify(ctx, notify.StatusChanged(o, now))
	return o, nil
}

// CancelOrder cancels an order and returns its stock. A completed online
// payment is refunded through its gateway first; if the refund fails the
// order is left untouched.
func (s *Service) CancelOrder(ctx context.Context, orderID string) (orders.Order, error) {
	const op = "checkout.CancelOrder"

	current, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return orders.Order{}, err
	}

	refunded := false
	for {
		if !current.Status.CanTransitionTo(orders.StatusCancelled) {
			return orders.Order{}, apperror.New(apperror.KindInvalidTransition, op, "order %s is %s", orderID, current.Status)
		}
		if needsRefund(current) && !refunded {
			if err := s.refund(ctx, current); err != nil {
				return orders.Order{}, err
			}
			refunded = true
		}

		now := s.now()
		o, err := retry.RunWithResult(ctx, s.exec, "cancel_order", func(ctx context.Context, tx store.Tx) (orders.Order, error) {
			o, err := tx.GetOrder(ctx, orderID)
			if err != nil {
				return orders.Order{}, err
			}
			if needsRefund(*o) && !refunded {
				return *o, errRefundFirst
			}
			if err := o.Cancel(refunded && o.PaymentStatus == orders.PaymentCompleted, now); err != nil {
				return orders.Order{}, err
			}
			if err := inventory.ReleaseAll(ctx, tx, o.Lines()); err != nil {
				return orders.Order{}, err
			}
			if err := tx.UpdateOrder(ctx, *o); err != nil {
				return orders.Order{}, err
			}
			o.Version++
			return *o, nil
		})
		if errors.Is(err, errRefundFirst) {
			// re-read outside the unit and refund before trying again
			if current, err = s.GetOrder(ctx, orderID); err != nil {
				return orders.Order{}, err
			}
			continue
		}
		if err != nil {
			if refunded {
				// money is back with the buyer but the order still says paid
				s.logger.ErrorContext(ctx, "refunded order not cancelled",
					slog.String("order_id", orderID),
					slog.String("payment_method", string(current.PaymentMethod)),
					slog.String("transaction_id", current.TransactionID),
					slog.Any("error", err))
				s.metrics.PaymentOutcome(string(current.PaymentMethod), outcomeRefundedNotCancelled)
			}
			return orders.Order{}, err
		}

		s.logger.InfoContext(ctx, "order cancelled",
			slog.String("order_id", o.OrderID),
			slog.String("payment_status", string(o.PaymentStatus)))
		s.notify(ctx, notify.OrderCancelled(o, now))
		return o, nil
	}
}

// outcomeRefundedNotCancelled is reported when a refund went through but the
// cancellation could not be written.
const outcomeRefundedNotCancelled = "refunded_not_cancelled"

func needsRefund(o orders.Order) bool {
	return o.PaymentMethod.IsOnline() && o.PaymentStatus == orders.PaymentCompleted
}

func (s *Service) refund(ctx context.Context, o orders.Order) error {
	const op = "checkout.refund"
	gw, err := s.gateways.Get(o.PaymentMethod)
	if err != nil {
		return apperror.Wrap(apperror.KindGateway, op, err)
	}
	if err := gw.Refund(ctx, o); err != nil {
		s.logger.ErrorContext(ctx, "refund failed",
			slog.String("order_id", o.OrderID),
			slog.String("transaction_id", o.TransactionID),
			slog.Any("error", err))
		return apperror.Wrap(apperror.KindGateway, op, fmt.Errorf("order %s: %w", o.OrderID, err))
	}
	s.logger.InfoContext(ctx, "payment refunded",
		slog.String("order_id", o.OrderID),
		slog.String("transaction_id", o.TransactionID))
	return nil
}

// RemoveItem drops one line from an unpaid order and returns its stock.
func (s *Service) RemoveItem(ctx context.Context, orderID, productID string) (orders.Order, error) {
	now := s.now()
	return retry.RunWithResult(ctx, s.exec, "remove_item", func(ctx context.Context, tx store.Tx) (orders.Order, error) {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return orders.Order{}, err
		}
		removed, err := o.RemoveItem(productID, now)
		if err != nil {
			return orders.Order{}, err
		}
		if err := inventory.Release(ctx, tx, removed.ProductID, removed.Quantity); err != nil {
			return orders.Order{}, err
		}
		if err := tx.UpdateOrder(ctx, *o); err != nil {
			return orders.Order{}, err
		}
		o.Version++
		return *o, nil
	})
}

// ExpireUnpaid cancels an online order that is still waiting for payment,
// marking the payment failed and returning its stock. It reports false when
// the order has moved on since it was listed.
func (s *Service) ExpireUnpaid(ctx context.Context, orderID string) (bool, error) {
	now := s.now()
	o, err := retry.RunWithResult(ctx, s.exec, "expire_unpaid", func(ctx context.Context, tx store.Tx) (*orders.Order, error) {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if !o.PaymentMethod.IsOnline() || o.Status != orders.StatusPending || o.PaymentStatus != orders.PaymentPending {
			return nil, nil
		}
		o.FailPayment(now)
		if err := inventory.ReleaseAll(ctx, tx, o.Lines()); err != nil {
			return nil, err
		}
		if err := tx.UpdateOrder(ctx, *o); err != nil {
			return nil, err
		}
		o.Version++
		return o, nil
	})
	if err != nil || o == nil {
		return false, err
	}
	s.logger.InfoContext(ctx, "unpaid order expired", slog.String("order_id", o.OrderID))
	s.notify(ctx, notify.PaymentFailed(*o, now))
	return true, nil
}
