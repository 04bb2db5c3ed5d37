package validation

import (
	"errors"
	"regexp"
	"sort"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{9,15}$`)

// New returns a validator with the custom tags and struct rules registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	_ = v.RegisterValidation("phone", func(fl validatorv10.FieldLevel) bool {
		return phonePattern.MatchString(strings.ReplaceAll(fl.Field().String(), " ", ""))
	})
	v.RegisterStructValidation(createOrderStructValidation, CreateOrderRequest{})

	return v
}

// createOrderStructValidation rejects a line that repeats a product with a
// different size; the order keeps one line per product.
func createOrderStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(CreateOrderRequest)

	sizes := map[string]string{}
	for _, it := range req.Items {
		if prev, ok := sizes[it.ProductID]; ok && prev != it.Size {
			sl.ReportError(req.Items, "items", "Items", "single_size_per_product", it.ProductID)
			return
		}
		sizes[it.ProductID] = it.Size
	}
}

// Check validates s and returns a Validation error listing the failing
// fields.
func Check(v *validatorv10.Validate, s any) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	fields := validationErrorsToMap(err)
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return &apperror.Error{
		Kind: apperror.KindValidation,
		Op:   "validation.Check",
		Msg:  "invalid fields: " + strings.Join(names, ", "),
		Err:  err,
	}
}

// FieldErrors extracts per-field messages from a Check error.
func FieldErrors(err error) map[string]string {
	var ve validatorv10.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}
	return validationErrorsToMap(ve)
}
