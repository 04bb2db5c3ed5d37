package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
	"github.com/imrishuroy/go-order-payments/internal/inventory"
	"github.com/imrishuroy/go-order-payments/internal/notify"
	"github.com/imrishuroy/go-order-payments/internal/orders"
	"github.com/imrishuroy/go-order-payments/internal/payment"
	"github.com/imrishuroy/go-order-payments/internal/retry"
	"github.com/imrishuroy/go-order-payments/internal/store"
	"github.com/imrishuroy/go-order-payments/internal/validation"
	"github.com/imrishuroy/go-order-payments/internal/voucher"
)

// MaxOrderLines bounds the distinct products in one order. Together with the
// order and voucher writes it stays within one DynamoDB transaction.
const MaxOrderLines = 98

// Placement is a committed order plus, for online methods, where to send
// the buyer to pay.
type Placement struct {
	Order       orders.Order
	RedirectURL string
}

// CreateOrder places an order for the buyer's cart or for the explicit
// items in req. Stock, voucher usage and the order are committed together
// or not at all.
//
// For online methods a gateway failure after commit returns the placement
// together with a Gateway error; the order stays pending until it is paid
// or swept.
func (s *Service) CreateOrder(ctx context.Context, req validation.CreateOrderRequest, clientIP string) (*Placement, error) {
	const op = "checkout.CreateOrder"

	if err := validation.Check(s.validate, req); err != nil {
		return nil, err
	}
	method, err := orders.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		return nil, err
	}

	now := s.now()
	draft := orders.Order{
		OrderID:         s.newID(),
		BuyerID:         req.BuyerID,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   method,
		PaymentStatus:   orders.PaymentPending,
		Status:          orders.StatusPending,
		VoucherCode:     req.VoucherCode,
		Source:          orders.SourceCart,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	var lines []inventory.Line
	if len(req.Items) > 0 {
		draft.Source = orders.SourceDirect
		for _, it := range req.Items {
			lines = append(lines, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity, Size: it.Size})
		}
	}

	o, err := retry.RunWithResult(ctx, s.exec, "create_order", func(ctx context.Context, tx store.Tx) (orders.Order, error) {
		return placeOrder(ctx, tx, draft, lines, now)
	})
	if err != nil {
		if apperror.KindOf(err) == apperror.KindVoucherExpired {
			s.expireVoucher(ctx, req.VoucherCode, now)
		}
		return nil, err
	}

	s.metrics.OrderCreated(string(o.PaymentMethod))
	s.logger.InfoContext(ctx, "order created",
		slog.String("order_id", o.OrderID),
		slog.String("buyer_id", o.BuyerID),
		slog.String("payment_method", string(o.PaymentMethod)),
		slog.Int64("total_amount", o.TotalAmount))
	s.notify(ctx, notify.OrderPlaced(o, now))

	placement := &Placement{Order: o}
	if !method.IsOnline() {
		if o.Source == orders.SourceCart {
			s.clearCart(ctx, o.BuyerID)
		}
		return placement, nil
	}

	gw, err := s.gateways.Get(method)
	if err != nil {
		return placement, apperror.Wrap(apperror.KindGateway, op, fmt.Errorf("order %s: %w", o.OrderID, err))
	}
	redirect, err := gw.CreatePayment(ctx, payment.Request{Order: o, ClientIP: clientIP})
	if err != nil {
		s.logger.ErrorContext(ctx, "payment session not created",
			slog.String("order_id", o.OrderID),
			slog.String("payment_method", string(method)),
			slog.Any("error", err))
		return placement, apperror.Wrap(apperror.KindGateway, op, fmt.Errorf("order %s: %w", o.OrderID, err))
	}
	placement.RedirectURL = redirect
	return placement, nil
}

// placeOrder is the unit of work behind CreateOrder. It reads everything it
// needs from tx and decides the writes; it has no other inputs.
func placeOrder(ctx context.Context, tx store.Tx, o orders.Order, lines []inventory.Line, now time.Time) (orders.Order, error) {
	const op = "checkout.placeOrder"

	exists, err := tx.UserExists(ctx, o.BuyerID)
	if err != nil {
		return orders.Order{}, err
	}
	if !exists {
		return orders.Order{}, apperror.New(apperror.KindValidation, op, "buyer %s does not exist", o.BuyerID)
	}

	if o.Source == orders.SourceCart {
		c, err := tx.GetCart(ctx, o.BuyerID)
		if err != nil {
			return orders.Order{}, err
		}
		if c.IsEmpty() {
			return orders.Order{}, apperror.New(apperror.KindValidation, op, "cart is empty")
		}
		lines = nil
		for _, it := range c.Items {
			lines = append(lines, inventory.Line{ProductID: it.ProductID, Quantity: it.Quantity, Size: it.Size})
		}
	}
	if len(lines) == 0 {
		return orders.Order{}, apperror.New(apperror.KindValidation, op, "order has no items")
	}

	merged := inventory.MergeLines(lines)
	if len(merged) > MaxOrderLines {
		return orders.Order{}, apperror.New(apperror.KindValidation, op, "order has %d products, limit is %d", len(merged), MaxOrderLines)
	}
	items := make([]orders.Item, 0, len(merged))
	for _, l := range merged {
		p, err := inventory.Reserve(ctx, tx, l.ProductID, l.Quantity)
		if err != nil {
			return orders.Order{}, err
		}
		items = append(items, orders.Item{
			ProductID:     p.ID,
			Name:          p.Name,
			SellerID:      p.SellerID,
			Quantity:      l.Quantity,
			UnitPrice:     p.Price,
			DiscountPrice: p.DiscountPrice,
			Size:          l.Size,
		})
	}
	o.Items = items
	o.Discount = 0
	o.Recalculate()

	if o.VoucherCode != "" {
		v, err := tx.GetVoucher(ctx, o.VoucherCode)
		if err != nil {
			return orders.Order{}, notFoundAs(err, apperror.KindVoucherInvalid, op, "voucher %s does not exist", o.VoucherCode)
		}
		discount, err := voucher.Evaluate(v, o.Subtotal, now)
		if err != nil {
			return orders.Order{}, err
		}
		if err := tx.SaveVoucherUsage(ctx, voucher.Apply(*v), v.UsedCount); err != nil {
			return orders.Order{}, err
		}
		o.Discount = discount
		o.Recalculate()
	}

	if err := tx.CreateOrder(ctx, o); err != nil {
		return orders.Order{}, err
	}
	o.Version = 1
	return o, nil
}

// expireVoucher records that a voucher rejected for its date window is past
// its end date. The order was already refused, so a failure is only logged.
func (s *Service) expireVoucher(ctx context.Context, code string, now time.Time) {
	err := s.exec.Run(ctx, "expire_voucher", func(ctx context.Context, tx store.Tx) error {
		v, err := tx.GetVoucher(ctx, code)
		if err != nil {
			return err
		}
		expired, changed := voucher.Expire(*v, now)
		if !changed {
			return nil
		}
		return tx.SaveVoucherUsage(ctx, expired, v.UsedCount)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "voucher expiry not recorded", slog.String("voucher_code", code), slog.Any("error", err))
	}
}

// clearCart empties a cart-sourced COD order's cart. The order is already
// committed, so a failure is only logged.
func (s *Service) clearCart(ctx context.Context, buyerID string) {
	err := s.exec.Run(ctx, "clear_cart", func(ctx context.Context, tx store.Tx) error {
		return tx.ClearCart(ctx, buyerID)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "cart not cleared", slog.String("buyer_id", buyerID), slog.Any("error", err))
	}
}
