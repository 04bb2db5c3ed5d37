// Package apperror defines the error kinds shared by every layer of the
// order and payment flow. Callers match kinds with errors.Is against the
// exported sentinels or with KindOf.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind string

const (
	KindInternal             Kind = "internal"
	KindValidation           Kind = "validation"
	KindInvalidPaymentMethod Kind = "invalid_payment_method"
	KindNotFound             Kind = "not_found"
	KindInsufficientStock    Kind = "insufficient_stock"
	KindVoucherInvalid       Kind = "voucher_invalid"
	KindVoucherExpired       Kind = "voucher_expired"
	KindVoucherExhausted     Kind = "voucher_exhausted"
	KindBelowMinimumPurchase Kind = "below_minimum_purchase"
	KindTransientStore       Kind = "transient_store"
	KindWriteConflict        Kind = "write_conflict"
	KindSignatureMismatch    Kind = "signature_mismatch"
	KindAmountMismatch       Kind = "amount_mismatch"
	KindInvalidTransition    Kind = "invalid_transition"
	KindGateway              Kind = "gateway"
)

// Sentinels for errors.Is. Any *Error with the same kind matches.
var (
	ErrInternal             = &Error{Kind: KindInternal}
	ErrValidation           = &Error{Kind: KindValidation}
	ErrInvalidPaymentMethod = &Error{Kind: KindInvalidPaymentMethod}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrInsufficientStock    = &Error{Kind: KindInsufficientStock}
	ErrVoucherInvalid       = &Error{Kind: KindVoucherInvalid}
	ErrVoucherExpired       = &Error{Kind: KindVoucherExpired}
	ErrVoucherExhausted     = &Error{Kind: KindVoucherExhausted}
	ErrBelowMinimumPurchase = &Error{Kind: KindBelowMinimumPurchase}
	ErrTransientStore       = &Error{Kind: KindTransientStore}
	ErrWriteConflict        = &Error{Kind: KindWriteConflict}
	ErrSignatureMismatch    = &Error{Kind: KindSignatureMismatch}
	ErrAmountMismatch       = &Error{Kind: KindAmountMismatch}
	ErrInvalidTransition    = &Error{Kind: KindInvalidTransition}
	ErrGateway              = &Error{Kind: KindGateway}
)

// Error is a classified failure. Op names the operation that failed and Err
// carries the underlying cause, if any.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Msg != "" {
		msg = e.Msg
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an error of the given kind.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when err carries no classification.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsRetryable is true only for transient datastore failures and write
// conflicts.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransientStore, KindWriteConflict:
		return true
	default:
		return false
	}
}
