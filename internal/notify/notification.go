// Package notify delivers in-app notifications about order events to buyers
// and sellers. Delivery is best effort and happens after the order change has
// committed.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/imrishuroy/go-order-payments/internal/orders"
)

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Notification is the persisted in-app message.
type Notification struct {
	ID        string    `json:"notification_id" dynamodbav:"notification_id"`
	UserID    string    `json:"user_id" dynamodbav:"user_id"`
	Role      Role      `json:"role" dynamodbav:"role"`
	Message   string    `json:"message" dynamodbav:"message"`
	Link      string    `json:"link" dynamodbav:"link"`
	Read      bool      `json:"read" dynamodbav:"read"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
}

// Sink hands a notification to a transport.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

func orderLink(o orders.Order) string { return "/orders/" + o.OrderID }

func newNotification(userID string, role Role, msg, link string, now time.Time) Notification {
	return Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Role:      role,
		Message:   msg,
		Link:      link,
		CreatedAt: now.UTC(),
	}
}

// OrderPlaced tells the buyer the order exists and every seller with a line
// in it that they have something to ship.
func OrderPlaced(o orders.Order, now time.Time) []Notification {
	out := []Notification{
		newNotification(o.BuyerID, RoleBuyer,
			fmt.Sprintf("Your order %s has been placed", o.OrderID), orderLink(o), now),
	}
	for _, seller := range o.SellerIDs() {
		out = append(out, newNotification(seller, RoleSeller,
			fmt.Sprintf("New order %s is waiting for you", o.OrderID), orderLink(o), now))
	}
	return out
}

func PaymentConfirmed(o orders.Order, now time.Time) []Notification {
	out := []Notification{
		newNotification(o.BuyerID, RoleBuyer,
			fmt.Sprintf("Payment for order %s was received", o.OrderID), orderLink(o), now),
	}
	for _, seller := range o.SellerIDs() {
		out = append(out, newNotification(seller, RoleSeller,
			fmt.Sprintf("Order %s has been paid and is ready to ship", o.OrderID), orderLink(o), now))
	}
	return out
}

// PaymentFailed covers declined and mismatched callbacks; the order is
// cancelled in both cases.
func PaymentFailed(o orders.Order, now time.Time) []Notification {
	return []Notification{
		newNotification(o.BuyerID, RoleBuyer,
			fmt.Sprintf("Payment for order %s failed and the order was cancelled", o.OrderID), orderLink(o), now),
	}
}

func OrderCancelled(o orders.Order, now time.Time) []Notification {
	msg := fmt.Sprintf("Order %s was cancelled", o.OrderID)
	if o.PaymentStatus == orders.PaymentRefunded {
		msg += " and your payment was refunded"
	}
	out := []Notification{newNotification(o.BuyerID, RoleBuyer, msg, orderLink(o), now)}
	for _, seller := range o.SellerIDs() {
		out = append(out, newNotification(seller, RoleSeller,
			fmt.Sprintf("Order %s was cancelled", o.OrderID), orderLink(o), now))
	}
	return out
}

func StatusChanged(o orders.Order, now time.Time) []Notification {
	return []Notification{
		newNotification(o.BuyerID, RoleBuyer,
			fmt.Sprintf("Order %s is now %s", o.OrderID, o.Status), orderLink(o), now),
	}
}
