package validation

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
	"github.com/imrishuroy/go-order-payments/internal/orders"
)

func validAddress() orders.ShippingAddress {
	return orders.ShippingAddress{
		RecipientName: "Nguyen Van A",
		Phone:         "0901 234 567",
		Address:       "12 Ly Thuong Kiet",
		Ward:          "Ward 7",
		District:      "District 10",
		Province:      "Ho Chi Minh City",
	}
}

func TestCreateOrderRequest_Valid(t *testing.T) {
	v := New()

	req := CreateOrderRequest{
		BuyerID:         "buyer-1",
		PaymentMethod:   "cod",
		ShippingAddress: validAddress(),
		Items: []Item{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p1", Quantity: 1},
			{ProductID: "p2", Quantity: 1, Size: "M"},
		},
	}

	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
}

func TestCreateOrderRequest_CartOrderNeedsNoItems(t *testing.T) {
	v := New()
	req := CreateOrderRequest{BuyerID: "b", PaymentMethod: "wallet", ShippingAddress: validAddress()}
	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
}

func TestCreateOrderRequest_MissingAddressField(t *testing.T) {
	v := New()

	for _, field := range []string{"RecipientName", "Phone", "Address", "Ward", "District", "Province"} {
		addr := validAddress()
		switch field {
		case "RecipientName":
			addr.RecipientName = ""
		case "Phone":
			addr.Phone = ""
		case "Address":
			addr.Address = ""
		case "Ward":
			addr.Ward = ""
		case "District":
			addr.District = ""
		case "Province":
			addr.Province = ""
		}
		req := CreateOrderRequest{BuyerID: "b", PaymentMethod: "cod", ShippingAddress: addr}

		err := Check(v, req)
		if !errors.Is(err, apperror.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", field, err)
		}
		if _, ok := FieldErrors(err)["CreateOrderRequest.ShippingAddress."+field]; !ok {
			t.Fatalf("%s: field not reported in %v", field, FieldErrors(err))
		}
	}
}

func TestCreateOrderRequest_BadPhone(t *testing.T) {
	v := New()
	addr := validAddress()
	addr.Phone = "call me"
	err := Check(v, CreateOrderRequest{BuyerID: "b", PaymentMethod: "cod", ShippingAddress: addr})
	if FieldErrors(err)["CreateOrderRequest.ShippingAddress.Phone"] != "phone" {
		t.Fatalf("expected phone tag failure, got %v", FieldErrors(err))
	}
}

func TestCreateOrderRequest_ConflictingSizes(t *testing.T) {
	v := New()
	req := CreateOrderRequest{
		BuyerID:         "b",
		PaymentMethod:   "cod",
		ShippingAddress: validAddress(),
		Items: []Item{
			{ProductID: "p1", Quantity: 1, Size: "S"},
			{ProductID: "p1", Quantity: 1, Size: "L"},
		},
	}
	if err := v.Struct(req); err == nil {
		t.Fatal("expected error for one product in two sizes")
	}
}

func TestCreateOrderRequest_BadItem(t *testing.T) {
	v := New()
	req := CreateOrderRequest{
		BuyerID:         "b",
		PaymentMethod:   "cod",
		ShippingAddress: validAddress(),
		Items:           []Item{{ProductID: "p1", Quantity: 0}},
	}
	if err := v.Struct(req); err == nil {
		t.Fatal("expected error for zero quantity")
	}
}

func TestUpdateStatusRequest(t *testing.T) {
	v := New()
	if err := v.Struct(UpdateStatusRequest{Status: "shipping"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := v.Struct(UpdateStatusRequest{Status: "lost"}); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestBindAndValidate_WritesBadRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"buyer_id":""}`))
	c.Request.Header.Set("Content-Type", "application/json")

	var req CreateOrderRequest
	if err := BindAndValidate(c, &req, New()); err == nil {
		t.Fatal("expected error")
	}
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "validation_failed") {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}
