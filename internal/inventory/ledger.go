package inventory

import (
	"context"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
)

// Line is a requested quantity of one product.
type Line struct {
	ProductID string
	Quantity  int
	Size      string
}

// Reserve checks that productID can cover qty and enqueues the conditional
// decrement on tx. The product as read is returned for pricing.
func Reserve(ctx context.Context, tx Store, productID string, qty int) (*Product, error) {
	const op = "inventory.Reserve"
	if qty <= 0 {
		return nil, apperror.New(apperror.KindValidation, op, "quantity for %s must be positive", productID)
	}
	p, err := tx.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusAvailable {
		return nil, apperror.New(apperror.KindInsufficientStock, op, "product %s is %s", productID, p.Status)
	}
	if p.Quantity < qty {
		return nil, apperror.New(apperror.KindInsufficientStock, op, "product %s has %d units, %d requested", productID, p.Quantity, qty)
	}
	if err := tx.DecrementStock(ctx, productID, qty); err != nil {
		return nil, err
	}
	return p, nil
}

// Release returns qty units of productID to stock. It fails with NotFound
// only when the product no longer exists.
func Release(ctx context.Context, tx Store, productID string, qty int) error {
	if qty <= 0 {
		return nil
	}
	if _, err := tx.GetProduct(ctx, productID); err != nil {
		return err
	}
	return tx.IncrementStock(ctx, productID, qty)
}

// MergeLines folds repeated products into a single line, keeping first-seen
// order. A transaction may touch each product once.
func MergeLines(lines []Line) []Line {
	idx := make(map[string]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if i, ok := idx[l.ProductID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		idx[l.ProductID] = len(out)
		out = append(out, l)
	}
	return out
}

// ReleaseAll returns every line to stock.
func ReleaseAll(ctx context.Context, tx Store, lines []Line) error {
	for _, l := range MergeLines(lines) {
		if err := Release(ctx, tx, l.ProductID, l.Quantity); err != nil {
			return err
		}
	}
	return nil
}
