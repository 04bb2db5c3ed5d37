// Package orders is the order aggregate: the persisted document plus the
// rules that move it between order and payment states.
package orders

import (
	"time"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
	"github.com/imrishuroy/go-order-payments/internal/inventory"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusShipping, StatusCancelled, StatusDelivered},
	StatusShipping: {StatusDelivered, StatusCancelled},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Recalculate derives subtotal and total from the lines and the recorded
// discount.
func (o *Order) Recalculate() {
	var subtotal int64
	for _, it := range o.Items {
		subtotal += it.LineTotal()
	}
	o.Subtotal = subtotal
	o.TotalAmount = subtotal - o.Discount
}

// Transition moves the order to next. Online orders cannot ship or be
// delivered before payment completes. Delivering a cash-on-delivery order
// settles its payment.
func (o *Order) Transition(next Status, now time.Time) error {
	const op = "orders.Transition"
	if !next.IsValid() {
		return apperror.New(apperror.KindValidation, op, "unknown order status %q", next)
	}
	if !o.Status.CanTransitionTo(next) {
		return apperror.New(apperror.KindInvalidTransition, op, "order %s cannot move from %s to %s", o.OrderID, o.Status, next)
	}
	if (next == StatusShipping || next == StatusDelivered) && o.PaymentMethod.IsOnline() && o.PaymentStatus != PaymentCompleted {
		return apperror.New(apperror.KindInvalidTransition, op, "order %s is not paid", o.OrderID)
	}
	o.Status = next
	if next == StatusDelivered && o.PaymentMethod == MethodCOD {
		o.PaymentStatus = PaymentCompleted
		o.TransactionID = "cod-" + o.OrderID
		o.PaidAmount = o.TotalAmount
	}
	o.UpdatedAt = now
	return nil
}

// Cancel moves the order to cancelled. refunded marks a completed online
// payment as returned to the buyer.
func (o *Order) Cancel(refunded bool, now time.Time) error {
	if !o.Status.CanTransitionTo(StatusCancelled) {
		return apperror.New(apperror.KindInvalidTransition, "orders.Cancel", "order %s cannot move from %s to %s", o.OrderID, o.Status, StatusCancelled)
	}
	o.Status = StatusCancelled
	if refunded {
		o.PaymentStatus = PaymentRefunded
	}
	o.UpdatedAt = now
	return nil
}

// ConfirmPayment records a verified gateway settlement and hands the order
// to shipping.
func (o *Order) ConfirmPayment(transactionID string, amount int64, now time.Time) {
	o.PaymentStatus = PaymentCompleted
	o.TransactionID = transactionID
	o.PaidAmount = amount
	o.Status = StatusShipping
	o.UpdatedAt = now
}

// FailPayment marks the payment failed and closes the order.
func (o *Order) FailPayment(now time.Time) {
	o.PaymentStatus = PaymentFailed
	o.Status = StatusCancelled
	o.UpdatedAt = now
}

// RemoveItem drops the line for productID and recomputes totals. The removed
// line is returned so its stock can be released. Only cash-on-delivery
// orders can be trimmed.
func (o *Order) RemoveItem(productID string, now time.Time) (Item, error) {
	const op = "orders.RemoveItem"
	if o.Status.IsTerminal() {
		return Item{}, apperror.New(apperror.KindInvalidTransition, op, "order %s is %s", o.OrderID, o.Status)
	}
	if o.PaymentStatus == PaymentCompleted {
		return Item{}, apperror.New(apperror.KindValidation, op, "order %s is already paid", o.OrderID)
	}
	// The gateway session was opened for the current total.
	if o.PaymentMethod.IsOnline() {
		return Item{}, apperror.New(apperror.KindValidation, op, "order %s has a %s payment session open for %d", o.OrderID, o.PaymentMethod, o.TotalAmount)
	}
	idx := -1
	for i, it := range o.Items {
		if it.ProductID == productID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Item{}, apperror.New(apperror.KindNotFound, op, "product %s is not in order %s", productID, o.OrderID)
	}
	if len(o.Items) == 1 {
		return Item{}, apperror.New(apperror.KindValidation, op, "cannot remove the last item; cancel the order instead")
	}

	removed := o.Items[idx]
	remaining := make([]Item, 0, len(o.Items)-1)
	remaining = append(remaining, o.Items[:idx]...)
	remaining = append(remaining, o.Items[idx+1:]...)

	next := *o
	next.Items = remaining
	next.Recalculate()
	if next.Subtotal < o.Discount {
		return Item{}, apperror.New(apperror.KindValidation, op, "subtotal %d would fall below the applied discount %d", next.Subtotal, o.Discount)
	}
	o.Items = next.Items
	o.Subtotal = next.Subtotal
	o.TotalAmount = next.TotalAmount
	o.UpdatedAt = now
	return removed, nil
}

// SellerIDs lists distinct sellers in line order.
func (o *Order) SellerIDs() []string {
	seen := map[string]bool{}
	var out []string
	for _, it := range o.Items {
		if it.SellerID == "" || seen[it.SellerID] {
			continue
		}
		seen[it.SellerID] = true
		out = append(out, it.SellerID)
	}
	return out
}

// Lines is the stock held by the order.
func (o *Order) Lines() []inventory.Line {
	out := make([]inventory.Line, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity, Size: it.Size})
	}
	return out
}
