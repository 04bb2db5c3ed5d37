package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-order-payments/internal/notify"
)

// NotificationMessage is the payload the API publishes to SQS for every
// in-app notification.
type NotificationMessage struct {
	ID        string      `json:"notification_id" validate:"required"`
	UserID    string      `json:"user_id" validate:"required"`
	Role      notify.Role `json:"role" validate:"required,oneof=buyer seller"`
	Message   string      `json:"message" validate:"required"`
	Link      string      `json:"link"`
	CreatedAt time.Time   `json:"created_at" validate:"required"`
}

// decodeMessage parses and validates a queue body. An error here means the
// message can never succeed.
func decodeMessage(v *validator.Validate, body string) (notify.Notification, error) {
	var msg NotificationMessage
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return notify.Notification{}, fmt.Errorf("invalid message body: %w", err)
	}
	if err := v.Struct(msg); err != nil {
		return notify.Notification{}, fmt.Errorf("invalid message: %w", err)
	}
	return notify.Notification{
		ID:        msg.ID,
		UserID:    msg.UserID,
		Role:      msg.Role,
		Message:   msg.Message,
		Link:      msg.Link,
		CreatedAt: msg.CreatedAt.UTC(),
	}, nil
}
