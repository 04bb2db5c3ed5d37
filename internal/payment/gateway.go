// Package payment defines the contract every online payment gateway adapter
// implements. Adapters live in sub-packages and are selected by the order's
// payment method.
package payment

import (
	"context"
	"crypto/hmac"
	"encoding/hex"
	"hash"
	"strings"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
	"github.com/imrishuroy/go-order-payments/internal/orders"
)

// Request carries what an adapter needs to open a payment session.
type Request struct {
	Order    orders.Order
	ClientIP string
}

// Callback is a verified gateway notification. Paid is false when the
// gateway reports a declined or abandoned payment. Fractional is set when
// the gateway reported a fraction of a currency unit that Amount cannot
// hold; such a callback never matches an order total.
type Callback struct {
	OrderID       string
	TransactionID string
	Amount        int64
	Fractional    bool
	Paid          bool
	Code          string
}

// Outcome is the result of reconciling one callback. Adapters translate it
// into their own acknowledgement format.
type Outcome string

const (
	OutcomeConfirmed         Outcome = "confirmed"
	OutcomeAlreadyProcessed  Outcome = "already_processed"
	OutcomeAmountMismatch    Outcome = "amount_mismatch"
	OutcomeDeclined          Outcome = "declined"
	OutcomeNotFound          Outcome = "not_found"
	OutcomeSignatureMismatch Outcome = "signature_mismatch"
	OutcomeOrderClosed       Outcome = "order_closed"
	OutcomeGatewayMismatch   Outcome = "gateway_mismatch"
	OutcomeUnknownGateway    Outcome = "unknown_gateway"
	OutcomeRetryLater        Outcome = "retry_later"
)

// Gateway is one payment provider.
type Gateway interface {
	// Method is the payment method this gateway settles.
	Method() orders.PaymentMethod
	// CreatePayment returns the URL the buyer is redirected to.
	CreatePayment(ctx context.Context, req Request) (string, error)
	// VerifyCallback authenticates an inbound notification. A bad signature
	// yields a SignatureMismatch error.
	VerifyCallback(payload map[string]string) (Callback, error)
	// Refund returns a completed payment in full. It succeeds only once the
	// gateway confirms the refund. Retrying for the same order reuses the
	// same refund reference.
	Refund(ctx context.Context, o orders.Order) error
	// Acknowledge renders the HTTP status and body the gateway expects.
	Acknowledge(outcome Outcome) (int, any)
}

// Registry resolves gateways by payment method.
type Registry map[orders.PaymentMethod]Gateway

func NewRegistry(gateways ...Gateway) Registry {
	r := make(Registry, len(gateways))
	for _, g := range gateways {
		r[g.Method()] = g
	}
	return r
}

func (r Registry) Get(m orders.PaymentMethod) (Gateway, error) {
	g, ok := r[m]
	if !ok {
		return nil, apperror.New(apperror.KindInvalidPaymentMethod, "payment.Registry", "no gateway configured for %q", m)
	}
	return g, nil
}

// Sign returns the hex HMAC of data.
func Sign(h func() hash.Hash, key, data string) string {
	mac := hmac.New(h, []byte(key))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares a hex signature in constant time, ignoring hex case.
func Verify(h func() hash.Hash, key, data, signature string) bool {
	want := Sign(h, key, data)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(signature)))
}
