package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
	"github.com/imrishuroy/go-order-payments/internal/validation"
)

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindValidation, apperror.KindInvalidPaymentMethod, apperror.KindSignatureMismatch:
		return http.StatusBadRequest
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindInvalidTransition:
		return http.StatusConflict
	case apperror.KindInsufficientStock,
		apperror.KindVoucherInvalid,
		apperror.KindVoucherExpired,
		apperror.KindVoucherExhausted,
		apperror.KindBelowMinimumPurchase,
		apperror.KindAmountMismatch:
		return http.StatusUnprocessableEntity
	case apperror.KindGateway:
		return http.StatusBadGateway
	case apperror.KindTransientStore, apperror.KindWriteConflict:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorBody renders err for clients. Internal details stay in the logs.
func errorBody(err error) (int, gin.H) {
	kind := apperror.KindOf(err)
	status := statusFor(kind)
	body := gin.H{"error": string(kind)}
	if status != http.StatusInternalServerError {
		body["detail"] = err.Error()
	}
	if fields := validation.FieldErrors(err); len(fields) > 0 {
		body["fields"] = fields
	}
	return status, body
}

func (h *handler) writeError(c *gin.Context, err error) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(c.Request.Context(), "request failed",
			"path", c.FullPath(), "kind", string(apperror.KindOf(err)), "error", err)
	}
	c.JSON(status, body)
}
