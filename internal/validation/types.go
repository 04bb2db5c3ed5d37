package validation

import "github.com/imrishuroy/go-order-payments/internal/orders"

// Item is one explicitly requested line.
type Item struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
	Size      string `json:"size,omitempty"`
}

// CreateOrderRequest is the payload for POST /orders. Without items the
// buyer's cart is ordered.
type CreateOrderRequest struct {
	BuyerID         string                 `json:"buyer_id" validate:"required"`
	PaymentMethod   string                 `json:"payment_method" validate:"required"`
	ShippingAddress orders.ShippingAddress `json:"shipping_address"`
	VoucherCode     string                 `json:"voucher_code,omitempty" validate:"omitempty,max=64"`
	Items           []Item                 `json:"items,omitempty" validate:"omitempty,max=98,dive"`
}

// UpdateStatusRequest is the payload for PATCH /orders/:id/status.
type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending shipping delivered cancelled"`
}
