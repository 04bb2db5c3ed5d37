package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
	"github.com/imrishuroy/go-order-payments/internal/inventory"
	"github.com/imrishuroy/go-order-payments/internal/orders"
	"github.com/imrishuroy/go-order-payments/internal/voucher"
)

func TestSession_WritesInvisibleUntilCommit(t *testing.T) {
	s := New()
	s.PutProduct(inventory.Product{ID: "p1", Quantity: 5, Status: inventory.StatusAvailable})
	ctx := context.Background()

	sess, _ := s.Begin(ctx)
	if err := sess.DecrementStock(ctx, "p1", 2); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	p, _ := sess.GetProduct(ctx, "p1")
	if p.Quantity != 5 {
		t.Fatalf("expected buffered write to be invisible, got %d", p.Quantity)
	}
	if err := sess.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	sess.Close()

	got, _ := s.Product("p1")
	if got.Quantity != 3 {
		t.Fatalf("expected 3 after commit, got %d", got.Quantity)
	}
}

func TestSession_CloseDiscards(t *testing.T) {
	s := New()
	s.PutProduct(inventory.Product{ID: "p1", Quantity: 5, Status: inventory.StatusAvailable})
	ctx := context.Background()

	sess, _ := s.Begin(ctx)
	_ = sess.DecrementStock(ctx, "p1", 2)
	sess.Close()

	got, _ := s.Product("p1")
	if got.Quantity != 5 {
		t.Fatalf("expected discarded write, got %d", got.Quantity)
	}
}

func TestSession_StaleStockConflicts(t *testing.T) {
	s := New()
	s.PutProduct(inventory.Product{ID: "p1", Quantity: 1, Status: inventory.StatusAvailable})
	ctx := context.Background()

	a, _ := s.Begin(ctx)
	b, _ := s.Begin(ctx)
	_ = a.DecrementStock(ctx, "p1", 1)
	_ = b.DecrementStock(ctx, "p1", 1)

	if err := a.Commit(ctx); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	err := b.Commit(ctx)
	if !errors.Is(err, apperror.ErrWriteConflict) {
		t.Fatalf("expected write conflict, got %v", err)
	}
	got, _ := s.Product("p1")
	if got.Quantity != 0 {
		t.Fatalf("expected 0 left, got %d", got.Quantity)
	}
}

func TestSession_AllOrNothing(t *testing.T) {
	s := New()
	s.PutProduct(inventory.Product{ID: "p1", Quantity: 5, Status: inventory.StatusAvailable})
	s.PutProduct(inventory.Product{ID: "p2", Quantity: 0, Status: inventory.StatusAvailable})
	ctx := context.Background()

	sess, _ := s.Begin(ctx)
	_ = sess.DecrementStock(ctx, "p1", 1)
	_ = sess.DecrementStock(ctx, "p2", 1)
	_ = sess.CreateOrder(ctx, orders.Order{OrderID: "o1"})

	if err := sess.Commit(ctx); err == nil {
		t.Fatalf("expected commit to fail")
	}
	if p, _ := s.Product("p1"); p.Quantity != 5 {
		t.Fatalf("p1 must be untouched, got %d", p.Quantity)
	}
	if s.OrderCount() != 0 {
		t.Fatalf("order must not exist")
	}
}

func TestSession_OrderVersioning(t *testing.T) {
	s := New()
	ctx := context.Background()

	sess, _ := s.Begin(ctx)
	_ = sess.CreateOrder(ctx, orders.Order{OrderID: "o1", Status: orders.StatusPending})
	if err := sess.Commit(ctx); err != nil {
		t.Fatalf("create: %v", err)
	}

	a, _ := s.Begin(ctx)
	b, _ := s.Begin(ctx)
	oa, _ := a.GetOrder(ctx, "o1")
	ob, _ := b.GetOrder(ctx, "o1")
	oa.Status = orders.StatusShipping
	ob.Status = orders.StatusCancelled
	_ = a.UpdateOrder(ctx, *oa)
	_ = b.UpdateOrder(ctx, *ob)

	if err := a.Commit(ctx); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if err := b.Commit(ctx); !errors.Is(err, apperror.ErrWriteConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	o, _ := s.Order("o1")
	if o.Status != orders.StatusShipping || o.Version != 2 {
		t.Fatalf("unexpected order state %s v%d", o.Status, o.Version)
	}
}

func TestSession_VoucherUsageGuard(t *testing.T) {
	s := New()
	s.PutVoucher(voucher.Voucher{Code: "V", UsageLimit: 1, Status: voucher.StatusActive})
	ctx := context.Background()

	a, _ := s.Begin(ctx)
	b, _ := s.Begin(ctx)
	va, _ := a.GetVoucher(ctx, "V")
	vb, _ := b.GetVoucher(ctx, "V")
	_ = a.SaveVoucherUsage(ctx, voucher.Apply(*va), va.UsedCount)
	_ = b.SaveVoucherUsage(ctx, voucher.Apply(*vb), vb.UsedCount)

	if err := a.Commit(ctx); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := b.Commit(ctx); !errors.Is(err, apperror.ErrWriteConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	v, _ := s.Voucher("V")
	if v.UsedCount != 1 || v.Status != voucher.StatusUsed {
		t.Fatalf("unexpected voucher %+v", v)
	}
}

func TestSession_DuplicateTouchRejected(t *testing.T) {
	s := New()
	s.PutProduct(inventory.Product{ID: "p1", Quantity: 5, Status: inventory.StatusAvailable})
	ctx := context.Background()

	sess, _ := s.Begin(ctx)
	_ = sess.DecrementStock(ctx, "p1", 1)
	_ = sess.DecrementStock(ctx, "p1", 1)
	if err := sess.Commit(ctx); apperror.KindOf(err) != apperror.KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestFailCommits(t *testing.T) {
	s := New()
	s.PutProduct(inventory.Product{ID: "p1", Quantity: 5, Status: inventory.StatusAvailable})
	s.FailCommits(apperror.New(apperror.KindTransientStore, "test", "throttled"))
	ctx := context.Background()

	sess, _ := s.Begin(ctx)
	_ = sess.DecrementStock(ctx, "p1", 1)
	if err := sess.Commit(ctx); !errors.Is(err, apperror.ErrTransientStore) {
		t.Fatalf("expected injected fault, got %v", err)
	}
	if p, _ := s.Product("p1"); p.Quantity != 5 {
		t.Fatalf("faulted commit must not apply")
	}
}

func TestGetMissing(t *testing.T) {
	s := New()
	ctx := context.Background()
	sess, _ := s.Begin(ctx)
	defer sess.Close()

	if _, err := sess.GetOrder(ctx, "nope"); !errors.Is(err, apperror.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	c, err := sess.GetCart(ctx, "u1")
	if err != nil || !c.IsEmpty() {
		t.Fatalf("expected empty cart, got %+v %v", c, err)
	}
}
