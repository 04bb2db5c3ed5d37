package orders

import (
	"strings"
	"time"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
)

// Order statuses
const (
	StatusPending   Status = "pending"
	StatusShipping  Status = "shipping"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Payment statuses
const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Payment methods. Wallet and card are settled online through a gateway.
const (
	MethodWallet PaymentMethod = "wallet"
	MethodCard   PaymentMethod = "card"
	MethodCOD    PaymentMethod = "cod"
)

// Where the order lines came from.
const (
	SourceCart   Source = "cart"
	SourceDirect Source = "direct"
)

type (
	Status        string
	PaymentStatus string
	PaymentMethod string
	Source        string
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusShipping, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

func (m PaymentMethod) IsOnline() bool {
	return m == MethodWallet || m == MethodCard
}

// ParsePaymentMethod normalises client input, accepting gateway brand names
// as aliases.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "wallet", "zalopay":
		return MethodWallet, nil
	case "card", "vnpay":
		return MethodCard, nil
	case "cod", "cash":
		return MethodCOD, nil
	}
	return "", apperror.New(apperror.KindInvalidPaymentMethod, "orders.ParsePaymentMethod", "unsupported payment method %q", raw)
}

// Item is one order line. UnitPrice and DiscountPrice are captured from the
// catalog when the order is placed.
type Item struct {
	ProductID     string `dynamodbav:"product_id" json:"product_id"`
	Name          string `dynamodbav:"name,omitempty" json:"name,omitempty"`
	SellerID      string `dynamodbav:"seller_id" json:"seller_id"`
	Quantity      int    `dynamodbav:"quantity" json:"quantity"`
	UnitPrice     int64  `dynamodbav:"unit_price" json:"unit_price"`
	DiscountPrice *int64 `dynamodbav:"discount_price,omitempty" json:"discount_price,omitempty"`
	Size          string `dynamodbav:"size,omitempty" json:"size,omitempty"`
}

// EffectivePrice is the price actually charged per unit.
func (i Item) EffectivePrice() int64 {
	if i.DiscountPrice != nil && *i.DiscountPrice >= 0 && *i.DiscountPrice < i.UnitPrice {
		return *i.DiscountPrice
	}
	return i.UnitPrice
}

func (i Item) LineTotal() int64 {
	return i.EffectivePrice() * int64(i.Quantity)
}

// ShippingAddress is where the order is delivered.
type ShippingAddress struct {
	RecipientName string `dynamodbav:"recipient_name" json:"recipient_name" validate:"required"`
	Phone         string `dynamodbav:"phone" json:"phone" validate:"required,phone"`
	Address       string `dynamodbav:"address" json:"address" validate:"required"`
	Ward          string `dynamodbav:"ward" json:"ward" validate:"required"`
	District      string `dynamodbav:"district" json:"district" validate:"required"`
	Province      string `dynamodbav:"province" json:"province" validate:"required"`
}

// Order represents the item stored in the orders table. Amounts are integer
// currency units. Version guards every update.
type Order struct {
	OrderID         string          `dynamodbav:"order_id" json:"order_id"` // PK
	BuyerID         string          `dynamodbav:"buyer_id" json:"buyer_id"`
	Items           []Item          `dynamodbav:"items" json:"items"`
	Subtotal        int64           `dynamodbav:"subtotal" json:"subtotal"`
	Discount        int64           `dynamodbav:"discount" json:"discount"`
	TotalAmount     int64           `dynamodbav:"total_amount" json:"total_amount"`
	VoucherCode     string          `dynamodbav:"voucher_code,omitempty" json:"voucher_code,omitempty"`
	ShippingAddress ShippingAddress `dynamodbav:"shipping_address" json:"shipping_address"`
	PaymentMethod   PaymentMethod   `dynamodbav:"payment_method" json:"payment_method"`
	PaymentStatus   PaymentStatus   `dynamodbav:"payment_status" json:"payment_status"`
	Status          Status          `dynamodbav:"order_status" json:"order_status"`
	TransactionID   string          `dynamodbav:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	PaidAmount      int64           `dynamodbav:"paid_amount,omitempty" json:"paid_amount,omitempty"`
	Source          Source          `dynamodbav:"source" json:"source"`
	Version         int64           `dynamodbav:"version" json:"version"`
	CreatedAt       time.Time       `dynamodbav:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `dynamodbav:"updated_at" json:"updated_at"`
}
