package main

import (
	"log/slog"
	"time"

	"github.com/imrishuroy/go-order-payments/internal/inventory"
	"github.com/imrishuroy/go-order-payments/internal/store/memory"
	"github.com/imrishuroy/go-order-payments/internal/voucher"
)

// seedDemo fills the in-memory store with a buyer, a few products and a
// voucher so the API can be exercised locally.
func seedDemo(st *memory.Store, logger *slog.Logger) {
	sale := int64(179000)
	maxDiscount := int64(50000)

	st.PutUser("demo-buyer")
	st.PutProduct(inventory.Product{ID: "tee-basic", Name: "Basic tee", SellerID: "demo-seller", Quantity: 50, Status: inventory.StatusAvailable, Price: 199000, DiscountPrice: &sale})
	st.PutProduct(inventory.Product{ID: "denim-jacket", Name: "Denim jacket", SellerID: "demo-seller", Quantity: 5, Status: inventory.StatusAvailable, Price: 890000})
	st.PutProduct(inventory.Product{ID: "last-one", Name: "Sample sneaker", SellerID: "other-seller", Quantity: 1, Status: inventory.StatusAvailable, Price: 1250000})
	st.PutVoucher(voucher.Voucher{
		Code:            "WELCOME10",
		DiscountType:    voucher.DiscountPercent,
		DiscountValue:   10,
		MinimumPurchase: 100000,
		MaximumDiscount: &maxDiscount,
		UsageLimit:      100,
		Status:          voucher.StatusActive,
		StartDate:       time.Now().Add(-24 * time.Hour),
		EndDate:         time.Now().Add(30 * 24 * time.Hour),
	})
	logger.Info("seeded demo data", slog.String("buyer_id", "demo-buyer"))
}
