// Package inventory holds the stock slice of the product catalog and the
// ledger operations that reserve and release units inside a transaction.
package inventory

import "context"

// Status is the sale status of a product.
type Status string

const (
	StatusAvailable    Status = "available"
	StatusOutOfStock   Status = "out_of_stock"
	StatusDiscontinued Status = "discontinued"
)

// Product is the part of a catalog entry the order flow depends on.
// Prices are integer currency units.
type Product struct {
	ID            string `dynamodbav:"product_id" json:"product_id"`
	Name          string `dynamodbav:"name" json:"name"`
	SellerID      string `dynamodbav:"seller_id" json:"seller_id"`
	Quantity      int    `dynamodbav:"quantity" json:"quantity"`
	Status        Status `dynamodbav:"status" json:"status"`
	Price         int64  `dynamodbav:"price" json:"price"`
	DiscountPrice *int64 `dynamodbav:"discount_price,omitempty" json:"discount_price,omitempty"`
}

// EffectivePrice is the discount price when it undercuts the list price.
func (p Product) EffectivePrice() int64 {
	if p.DiscountPrice != nil && *p.DiscountPrice >= 0 && *p.DiscountPrice < p.Price {
		return *p.DiscountPrice
	}
	return p.Price
}

// Store is the product facet of a datastore transaction. Writes are applied
// at commit; DecrementStock must only succeed when the stored quantity still
// covers qty and the product is available.
type Store interface {
	GetProduct(ctx context.Context, productID string) (*Product, error)
	DecrementStock(ctx context.Context, productID string, qty int) error
	IncrementStock(ctx context.Context, productID string, qty int) error
}
