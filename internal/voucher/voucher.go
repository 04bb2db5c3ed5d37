// Package voucher evaluates discount vouchers against an order subtotal.
package voucher

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
)

type DiscountType string

const (
	DiscountAmount  DiscountType = "amount"
	DiscountPercent DiscountType = "percent"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusUsed    Status = "used"
)

// Voucher is a discount code with a usage budget and a validity window.
type Voucher struct {
	Code            string       `dynamodbav:"code" json:"code"`
	DiscountType    DiscountType `dynamodbav:"discount_type" json:"discount_type"`
	DiscountValue   int64        `dynamodbav:"discount_value" json:"discount_value"`
	MinimumPurchase int64        `dynamodbav:"minimum_purchase" json:"minimum_purchase"`
	MaximumDiscount *int64       `dynamodbav:"maximum_discount,omitempty" json:"maximum_discount,omitempty"`
	UsageLimit      int          `dynamodbav:"usage_limit" json:"usage_limit"`
	UsedCount       int          `dynamodbav:"used_count" json:"used_count"`
	StartDate       time.Time    `dynamodbav:"start_date" json:"start_date"`
	EndDate         time.Time    `dynamodbav:"end_date" json:"end_date"`
	Status          Status       `dynamodbav:"status" json:"status"`
}

// Evaluate returns the discount v grants on subtotal at now. It has no side
// effects; usage is recorded separately with Apply.
func Evaluate(v *Voucher, subtotal int64, now time.Time) (int64, error) {
	const op = "voucher.Evaluate"
	if v == nil {
		return 0, apperror.New(apperror.KindVoucherInvalid, op, "voucher not found")
	}
	switch v.Status {
	case StatusActive:
	case StatusExpired:
		return 0, apperror.New(apperror.KindVoucherExpired, op, "voucher %s has expired", v.Code)
	case StatusUsed:
		return 0, apperror.New(apperror.KindVoucherExhausted, op, "voucher %s is used up", v.Code)
	default:
		return 0, apperror.New(apperror.KindVoucherInvalid, op, "voucher %s is not active", v.Code)
	}
	if now.Before(v.StartDate) || now.After(v.EndDate) {
		return 0, apperror.New(apperror.KindVoucherExpired, op, "voucher %s is outside its validity window", v.Code)
	}
	if v.UsedCount >= v.UsageLimit {
		return 0, apperror.New(apperror.KindVoucherExhausted, op, "voucher %s reached its usage limit", v.Code)
	}
	if subtotal < v.MinimumPurchase {
		return 0, apperror.New(apperror.KindBelowMinimumPurchase, op, "subtotal %d is below minimum %d", subtotal, v.MinimumPurchase)
	}

	var discount int64
	switch v.DiscountType {
	case DiscountPercent:
		discount = decimal.NewFromInt(subtotal).
			Mul(decimal.NewFromInt(v.DiscountValue)).
			Div(decimal.NewFromInt(100)).
			Floor().
			IntPart()
	case DiscountAmount:
		discount = v.DiscountValue
	default:
		return 0, apperror.New(apperror.KindVoucherInvalid, op, "voucher %s has unknown discount type %q", v.Code, v.DiscountType)
	}
	if v.MaximumDiscount != nil && discount > *v.MaximumDiscount {
		discount = *v.MaximumDiscount
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		discount = 0
	}
	return discount, nil
}

// Apply records one use of v. The status flips to used when the limit is hit.
func Apply(v Voucher) Voucher {
	v.UsedCount++
	if v.UsedCount >= v.UsageLimit {
		v.Status = StatusUsed
	}
	return v
}

// Expire flips an active voucher whose end date has passed to expired. It
// reports whether anything changed.
func Expire(v Voucher, now time.Time) (Voucher, bool) {
	if v.Status != StatusActive || !now.After(v.EndDate) {
		return v, false
	}
	v.Status = StatusExpired
	return v, true
}
