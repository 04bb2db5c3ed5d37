// Package memory implements store.Store in process memory. It mirrors the
// DynamoDB backend: reads see committed state, writes are buffered with
// their conditions and applied all-or-nothing on Commit.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
	"github.com/imrishuroy/go-order-payments/internal/cart"
	"github.com/imrishuroy/go-order-payments/internal/inventory"
	"github.com/imrishuroy/go-order-payments/internal/orders"
	"github.com/imrishuroy/go-order-payments/internal/store"
	"github.com/imrishuroy/go-order-payments/internal/voucher"
)

// Store holds all collections behind one lock.
type Store struct {
	mu       sync.RWMutex
	products map[string]inventory.Product
	carts    map[string]cart.Cart
	vouchers map[string]voucher.Voucher
	orders   map[string]orders.Order
	users    map[string]bool

	faultMu     sync.Mutex
	commitFault []error
	commits     int
}

var (
	_ store.Store            = (*Store)(nil)
	_ store.StaleOrderFinder = (*Store)(nil)
)

func New() *Store {
	return &Store{
		products: make(map[string]inventory.Product),
		carts:    make(map[string]cart.Cart),
		vouchers: make(map[string]voucher.Voucher),
		orders:   make(map[string]orders.Order),
		users:    make(map[string]bool),
	}
}

// FailCommits makes the next len(errs) commits fail with errs in order,
// without applying their writes.
func (s *Store) FailCommits(errs ...error) {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	s.commitFault = append(s.commitFault, errs...)
}

// Commits counts successful commits.
func (s *Store) Commits() int {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	return s.commits
}

func (s *Store) nextFault() error {
	s.faultMu.Lock()
	defer s.faultMu.Unlock()
	if len(s.commitFault) == 0 {
		return nil
	}
	err := s.commitFault[0]
	s.commitFault = s.commitFault[1:]
	return err
}

func (s *Store) PutProduct(p inventory.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) PutCart(c cart.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Items = append([]cart.Item(nil), c.Items...)
	s.carts[c.UserID] = c
}

func (s *Store) PutVoucher(v voucher.Voucher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vouchers[v.Code] = v
}

func (s *Store) PutUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = true
}

// PutOrder stores o as-is, bypassing version checks.
func (s *Store) PutOrder(o orders.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.OrderID] = copyOrder(o)
}

func (s *Store) Product(id string) (inventory.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	return p, ok
}

func (s *Store) Order(id string) (orders.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	return copyOrder(o), ok
}

func (s *Store) Voucher(code string) (voucher.Voucher, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vouchers[code]
	return v, ok
}

func (s *Store) Cart(userID string) (cart.Cart, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.carts[userID]
	return c, ok
}

// OrderCount returns the number of stored orders.
func (s *Store) OrderCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}

// Begin opens a session.
func (s *Store) Begin(ctx context.Context) (store.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperror.Wrap(apperror.KindTransientStore, "memory.Begin", err)
	}
	return &session{s: s, touched: map[string]bool{}}, nil
}

// FindStalePending lists online orders awaiting payment, oldest first.
func (s *Store) FindStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []orders.Order
	for _, o := range s.orders {
		if o.Status == orders.StatusPending && o.PaymentStatus == orders.PaymentPending &&
			o.PaymentMethod.IsOnline() && o.CreatedAt.Before(createdBefore) {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func copyOrder(o orders.Order) orders.Order {
	o.Items = append([]orders.Item(nil), o.Items...)
	return o
}
