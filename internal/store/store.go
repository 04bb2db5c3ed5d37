// Package store defines the transactional datastore the order flow runs on.
//
// A Session buffers writes and applies them atomically on Commit. Reads see
// committed state only, so a unit of work reads first and writes after.
// Every write carries the condition under which it was decided; if another
// writer got there first, Commit fails with a WriteConflict and the unit is
// retried against fresh state.
package store

import (
	"context"
	"time"

	"github.com/imrishuroy/go-order-payments/internal/cart"
	"github.com/imrishuroy/go-order-payments/internal/inventory"
	"github.com/imrishuroy/go-order-payments/internal/orders"
	"github.com/imrishuroy/go-order-payments/internal/voucher"
)

// ProductStore is the inventory facet.
type ProductStore = inventory.Store

// CartStore reads and clears buyer carts. GetCart returns an empty cart when
// the buyer has none.
type CartStore interface {
	GetCart(ctx context.Context, userID string) (*cart.Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// VoucherStore loads vouchers by code and records usage. SaveVoucherUsage
// must fail on commit if used_count moved away from seenUsedCount.
type VoucherStore interface {
	GetVoucher(ctx context.Context, code string) (*voucher.Voucher, error)
	SaveVoucherUsage(ctx context.Context, v voucher.Voucher, seenUsedCount int) error
}

// OrderStore persists orders. CreateOrder fails on commit if the id exists.
// UpdateOrder expects o.Version to be the version that was read and stores
// Version+1.
type OrderStore interface {
	GetOrder(ctx context.Context, orderID string) (*orders.Order, error)
	CreateOrder(ctx context.Context, o orders.Order) error
	UpdateOrder(ctx context.Context, o orders.Order) error
}

// UserStore answers buyer existence checks.
type UserStore interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

// Tx is everything a unit of work may touch.
type Tx interface {
	ProductStore
	CartStore
	VoucherStore
	OrderStore
	UserStore
}

// Session is a Tx with a lifecycle. Close after Commit is a no-op; Close
// without Commit discards buffered writes.
type Session interface {
	Tx
	Commit(ctx context.Context) error
	Close()
}

// Store opens sessions.
type Store interface {
	Begin(ctx context.Context) (Session, error)
}

// StaleOrderFinder lists online orders still awaiting payment that were
// created before the cutoff.
type StaleOrderFinder interface {
	FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]orders.Order, error)
}
