package memory

import (
	"context"
	"fmt"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
	"github.com/imrishuroy/go-order-payments/internal/cart"
	"github.com/imrishuroy/go-order-payments/internal/inventory"
	"github.com/imrishuroy/go-order-payments/internal/orders"
	"github.com/imrishuroy/go-order-payments/internal/voucher"
)

// write is a buffered mutation. check runs against committed state under
// the store lock; apply runs only if every check in the session passed.
type write struct {
	check func(s *Store) error
	apply func(s *Store)
}

type session struct {
	s       *Store
	writes  []write
	touched map[string]bool
	dupKey  string
	done    bool
}

func (tx *session) touch(key string) {
	if tx.touched[key] && tx.dupKey == "" {
		tx.dupKey = key
	}
	tx.touched[key] = true
}

func conflict(format string, args ...any) error {
	return apperror.New(apperror.KindWriteConflict, "memory.Commit", format, args...)
}

func (tx *session) GetProduct(ctx context.Context, productID string) (*inventory.Product, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	p, ok := tx.s.products[productID]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "memory.GetProduct", "product %s not found", productID)
	}
	return &p, nil
}

func (tx *session) DecrementStock(ctx context.Context, productID string, qty int) error {
	tx.touch("product#" + productID)
	tx.writes = append(tx.writes, write{
		check: func(s *Store) error {
			p, ok := s.products[productID]
			if !ok || p.Status != inventory.StatusAvailable || p.Quantity < qty {
				return conflict("stock for %s changed", productID)
			}
			return nil
		},
		apply: func(s *Store) {
			p := s.products[productID]
			p.Quantity -= qty
			s.products[productID] = p
		},
	})
	return nil
}

func (tx *session) IncrementStock(ctx context.Context, productID string, qty int) error {
	tx.touch("product#" + productID)
	tx.writes = append(tx.writes, write{
		check: func(s *Store) error {
			if _, ok := s.products[productID]; !ok {
				return conflict("product %s disappeared", productID)
			}
			return nil
		},
		apply: func(s *Store) {
			p := s.products[productID]
			p.Quantity += qty
			s.products[productID] = p
		},
	})
	return nil
}

func (tx *session) GetCart(ctx context.Context, userID string) (*cart.Cart, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	c, ok := tx.s.carts[userID]
	if !ok {
		return &cart.Cart{UserID: userID}, nil
	}
	c.Items = append([]cart.Item(nil), c.Items...)
	return &c, nil
}

func (tx *session) ClearCart(ctx context.Context, userID string) error {
	tx.touch("cart#" + userID)
	tx.writes = append(tx.writes, write{
		check: func(*Store) error { return nil },
		apply: func(s *Store) { delete(s.carts, userID) },
	})
	return nil
}

func (tx *session) GetVoucher(ctx context.Context, code string) (*voucher.Voucher, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	v, ok := tx.s.vouchers[code]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "memory.GetVoucher", "voucher %s not found", code)
	}
	return &v, nil
}

func (tx *session) SaveVoucherUsage(ctx context.Context, v voucher.Voucher, seenUsedCount int) error {
	tx.touch("voucher#" + v.Code)
	tx.writes = append(tx.writes, write{
		check: func(s *Store) error {
			cur, ok := s.vouchers[v.Code]
			if !ok || cur.UsedCount != seenUsedCount || cur.UsedCount >= cur.UsageLimit {
				return conflict("voucher %s usage changed", v.Code)
			}
			return nil
		},
		apply: func(s *Store) {
			cur := s.vouchers[v.Code]
			cur.UsedCount = v.UsedCount
			cur.Status = v.Status
			s.vouchers[v.Code] = cur
		},
	})
	return nil
}

func (tx *session) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	o, ok := tx.s.orders[orderID]
	if !ok {
		return nil, apperror.New(apperror.KindNotFound, "memory.GetOrder", "order %s not found", orderID)
	}
	o = copyOrder(o)
	return &o, nil
}

func (tx *session) CreateOrder(ctx context.Context, o orders.Order) error {
	tx.touch("order#" + o.OrderID)
	o = copyOrder(o)
	o.Version = 1
	tx.writes = append(tx.writes, write{
		check: func(s *Store) error {
			if _, ok := s.orders[o.OrderID]; ok {
				return conflict("order %s already exists", o.OrderID)
			}
			return nil
		},
		apply: func(s *Store) { s.orders[o.OrderID] = o },
	})
	return nil
}

func (tx *session) UpdateOrder(ctx context.Context, o orders.Order) error {
	tx.touch("order#" + o.OrderID)
	expected := o.Version
	o = copyOrder(o)
	o.Version = expected + 1
	tx.writes = append(tx.writes, write{
		check: func(s *Store) error {
			cur, ok := s.orders[o.OrderID]
			if !ok || cur.Version != expected {
				return conflict("order %s changed since read", o.OrderID)
			}
			return nil
		},
		apply: func(s *Store) { s.orders[o.OrderID] = o },
	})
	return nil
}

func (tx *session) UserExists(ctx context.Context, userID string) (bool, error) {
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	return tx.s.users[userID], nil
}

func (tx *session) Commit(ctx context.Context) error {
	if tx.done {
		return apperror.New(apperror.KindInternal, "memory.Commit", "session already closed")
	}
	tx.done = true
	if tx.dupKey != "" {
		return apperror.New(apperror.KindInternal, "memory.Commit", "item %s written twice in one transaction", tx.dupKey)
	}
	if err := ctx.Err(); err != nil {
		return apperror.Wrap(apperror.KindTransientStore, "memory.Commit", err)
	}
	if err := tx.s.nextFault(); err != nil {
		return fmt.Errorf("memory.Commit: %w", err)
	}
	if len(tx.writes) == 0 {
		return nil
	}

	tx.s.mu.Lock()
	defer tx.s.mu.Unlock()
	for _, w := range tx.writes {
		if err := w.check(tx.s); err != nil {
			return err
		}
	}
	for _, w := range tx.writes {
		w.apply(tx.s)
	}
	tx.s.faultMu.Lock()
	tx.s.commits++
	tx.s.faultMu.Unlock()
	return nil
}

func (tx *session) Close() {
	tx.done = true
	tx.writes = nil
}
