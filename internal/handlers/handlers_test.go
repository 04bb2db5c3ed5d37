package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
	"github.com/imrishuroy/go-order-payments/internal/checkout"
	"github.com/imrishuroy/go-order-payments/internal/idempotency"
	"github.com/imrishuroy/go-order-payments/internal/orders"
	"github.com/imrishuroy/go-order-payments/internal/payment"
	"github.com/imrishuroy/go-order-payments/internal/reconcile"
	"github.com/imrishuroy/go-order-payments/internal/validation"
)

func init() { gin.SetMode(gin.TestMode) }

type stubOrders struct {
	mu        sync.Mutex
	creates   int
	createErr error
	placement *checkout.Placement
	err       error
	gotStatus orders.Status
}

func (s *stubOrders) CreateOrder(ctx context.Context, req validation.CreateOrderRequest, clientIP string) (*checkout.Placement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	return s.placement, s.createErr
}

func (s *stubOrders) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	return orders.Order{OrderID: id, Status: orders.StatusPending}, s.err
}

func (s *stubOrders) UpdateOrderStatus(ctx context.Context, id string, next orders.Status) (orders.Order, error) {
	s.gotStatus = next
	return orders.Order{OrderID: id, Status: next}, s.err
}

func (s *stubOrders) CancelOrder(ctx context.Context, id string) (orders.Order, error) {
	return orders.Order{OrderID: id, Status: orders.StatusCancelled}, s.err
}

func (s *stubOrders) RemoveItem(ctx context.Context, id, productID string) (orders.Order, error) {
	return orders.Order{OrderID: id}, s.err
}

type stubReconciler struct {
	kind    orders.PaymentMethod
	payload map[string]string
	result  reconcile.Result
}

func (s *stubReconciler) Reconcile(ctx context.Context, kind orders.PaymentMethod, payload map[string]string) reconcile.Result {
	s.kind, s.payload = kind, payload
	return s.result
}

func newRouter(o OrderService, r CallbackReconciler, idem idempotency.Store) *gin.Engine {
	e := gin.New()
	RegisterRoutes(e, HandlerConfig{Orders: o, Reconciler: r, Idempotency: idem})
	return e
}

const validBody = `{
	"buyer_id": "buyer-1",
	"payment_method": "card",
	"shipping_address": {
		"recipient_name": "Tran Thi B", "phone": "0912345678", "address": "1 Hai Ba Trung",
		"ward": "Ben Nghe", "district": "District 1", "province": "Ho Chi Minh City"
	},
	"items": [{"product_id": "p1", "quantity": 2}]
}`

func placed() *checkout.Placement {
	return &checkout.Placement{
		Order: orders.Order{
			OrderID:       "order-1",
			Status:        orders.StatusPending,
			PaymentStatus: orders.PaymentPending,
			TotalAmount:   200000,
		},
		RedirectURL: "https://pay.example/order-1",
	}
}

func post(e *gin.Engine, body, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)
	return w
}

func TestCreateOrder_Created(t *testing.T) {
	svc := &stubOrders{placement: placed()}
	w := post(newRouter(svc, nil, nil), validBody, "")

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Location") != "/orders/order-1" {
		t.Fatalf("missing Location header")
	}
	var resp createOrderResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OrderID != "order-1" || resp.RedirectURL == "" || resp.TotalAmount != 200000 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCreateOrder_InvalidBody(t *testing.T) {
	svc := &stubOrders{placement: placed()}
	w := post(newRouter(svc, nil, nil), `{"buyer_id": "b"}`, "")
	if w.Code != http.StatusBadRequest || svc.creates != 0 {
		t.Fatalf("expected 400 without calling the service, got %d", w.Code)
	}
}

func TestCreateOrder_ErrorMapping(t *testing.T) {
	cases := []struct {
		kind apperror.Kind
		want int
	}{
		{apperror.KindInvalidPaymentMethod, http.StatusBadRequest},
		{apperror.KindNotFound, http.StatusNotFound},
		{apperror.KindInsufficientStock, http.StatusUnprocessableEntity},
		{apperror.KindVoucherExpired, http.StatusUnprocessableEntity},
		{apperror.KindTransientStore, http.StatusServiceUnavailable},
		{apperror.KindInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			svc := &stubOrders{createErr: apperror.New(tc.kind, "test", "boom")}
			w := post(newRouter(svc, nil, nil), validBody, "")
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
			if !strings.Contains(w.Body.String(), `"error":"`+string(tc.kind)+`"`) {
				t.Fatalf("body does not name the kind: %s", w.Body.String())
			}
		})
	}
}

func TestCreateOrder_GatewayFailureStillReturnsOrder(t *testing.T) {
	p := placed()
	p.RedirectURL = ""
	svc := &stubOrders{placement: p, createErr: apperror.New(apperror.KindGateway, "test", "gateway down")}
	w := post(newRouter(svc, nil, nil), validBody, "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"order_id":"order-1"`) {
		t.Fatalf("order id must be returned: %s", w.Body.String())
	}
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	svc := &stubOrders{placement: placed()}
	e := newRouter(svc, nil, idempotency.NewMemoryStore(time.Hour))

	first := post(e, validBody, "key-1")
	second := post(e, validBody, "key-1")

	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("unexpected codes %d %d", first.Code, second.Code)
	}
	if svc.creates != 1 {
		t.Fatalf("expected a single order, service called %d times", svc.creates)
	}
	if second.Body.String() != first.Body.String() || second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("replay differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}

	other := post(e, strings.Replace(validBody, `"quantity": 2`, `"quantity": 3`, 1), "key-1")
	if other.Code != http.StatusUnprocessableEntity {
		t.Fatalf("reused key with a different body must be rejected, got %d", other.Code)
	}
}

func TestCreateOrder_FailedAttemptReleasesKey(t *testing.T) {
	svc := &stubOrders{createErr: apperror.New(apperror.KindTransientStore, "test", "throttled")}
	e := newRouter(svc, nil, idempotency.NewMemoryStore(time.Hour))

	if w := post(e, validBody, "key-2"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	svc.createErr, svc.placement = nil, placed()
	if w := post(e, validBody, "key-2"); w.Code != http.StatusCreated {
		t.Fatalf("retry after failure should place the order, got %d", w.Code)
	}
	if svc.creates != 2 {
		t.Fatalf("expected two attempts, got %d", svc.creates)
	}
}

type blockingIdem struct{ idempotency.Store }

func (blockingIdem) Begin(ctx context.Context, key, hash string) (*idempotency.Record, bool, error) {
	return &idempotency.Record{Key: key, RequestHash: hash, Status: idempotency.StatusInProgress}, false, nil
}

func TestCreateOrder_InProgress(t *testing.T) {
	svc := &stubOrders{placement: placed()}
	w := post(newRouter(svc, nil, blockingIdem{}), validBody, "key-3")
	if w.Code != http.StatusConflict || svc.creates != 0 {
		t.Fatalf("expected 409 without creating, got %d", w.Code)
	}
}

func TestOrderRoutes(t *testing.T) {
	svc := &stubOrders{}
	e := newRouter(svc, nil, nil)

	cases := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodGet, "/orders/o1", "", http.StatusOK},
		{http.MethodPatch, "/orders/o1/status", `{"status":"shipping"}`, http.StatusOK},
		{http.MethodPatch, "/orders/o1/status", `{"status":"lost"}`, http.StatusBadRequest},
		{http.MethodPost, "/orders/o1/cancel", "", http.StatusOK},
		{http.MethodDelete, "/orders/o1/items/p1", "", http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		e.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Errorf("%s %s: expected %d, got %d: %s", tc.method, tc.path, tc.want, w.Code, w.Body.String())
		}
	}
	if svc.gotStatus != orders.StatusShipping {
		t.Fatalf("status not forwarded, got %q", svc.gotStatus)
	}
}

func TestOrderRoutes_InvalidTransition(t *testing.T) {
	svc := &stubOrders{err: apperror.New(apperror.KindInvalidTransition, "test", "delivered is terminal")}
	req := httptest.NewRequest(http.MethodPatch, "/orders/o1/status", strings.NewReader(`{"status":"shipping"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	newRouter(svc, nil, nil).ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
}

func TestWalletCallback(t *testing.T) {
	rec := &stubReconciler{result: reconcile.Result{Outcome: payment.OutcomeConfirmed, Status: http.StatusOK, Body: gin.H{"return_code": 1}}}
	req := httptest.NewRequest(http.MethodPost, "/payments/wallet/callback", strings.NewReader(`{"data":"{\"app_trans_id\":\"x\"}","mac":"abc","type":1}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	newRouter(&stubOrders{}, rec, nil).ServeHTTP(w, req)

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"return_code":1`) {
		t.Fatalf("unexpected ack %d %s", w.Code, w.Body.String())
	}
	if rec.kind != orders.MethodWallet || rec.payload["mac"] != "abc" || rec.payload["data"] != `{"app_trans_id":"x"}` {
		t.Fatalf("payload not forwarded: %v %v", rec.kind, rec.payload)
	}
}

func TestCardIPN(t *testing.T) {
	rec := &stubReconciler{result: reconcile.Result{Outcome: payment.OutcomeAmountMismatch, Status: http.StatusOK, Body: gin.H{"RspCode": "04"}}}
	req := httptest.NewRequest(http.MethodGet, "/payments/card/ipn?vnp_TxnRef=o1&vnp_Amount=50000000&vnp_SecureHash=ff", nil)
	w := httptest.NewRecorder()
	newRouter(&stubOrders{}, rec, nil).ServeHTTP(w, req)

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"RspCode":"04"`) {
		t.Fatalf("unexpected ack %d %s", w.Code, w.Body.String())
	}
	if rec.kind != orders.MethodCard || rec.payload["vnp_Amount"] != "50000000" || rec.payload["vnp_TxnRef"] != "o1" {
		t.Fatalf("query not forwarded: %v", rec.payload)
	}
}

func TestCallback_UnconfiguredGateway(t *testing.T) {
	rec := &stubReconciler{result: reconcile.Result{Outcome: payment.OutcomeUnknownGateway}}
	w := httptest.NewRecorder()
	newRouter(&stubOrders{}, rec, nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/card/ipn", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestErrorBody_HidesInternalDetail(t *testing.T) {
	status, body := errorBody(errors.New("dial tcp 10.0.0.1: refused"))
	if status != http.StatusInternalServerError || body["detail"] != nil {
		t.Fatalf("internal detail leaked: %d %v", status, body)
	}
}
