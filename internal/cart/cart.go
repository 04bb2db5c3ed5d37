// Package cart describes a buyer's shopping cart as the order flow reads it.
package cart

import "time"

type Item struct {
	ProductID string `dynamodbav:"product_id" json:"product_id"`
	Quantity  int    `dynamodbav:"quantity" json:"quantity"`
	Size      string `dynamodbav:"size,omitempty" json:"size,omitempty"`
}

type Cart struct {
	UserID    string    `dynamodbav:"user_id" json:"user_id"`
	Items     []Item    `dynamodbav:"items" json:"items"`
	UpdatedAt time.Time `dynamodbav:"updated_at" json:"updated_at"`
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}
