package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
	"github.com/imrishuroy/go-order-payments/internal/checkout"
	"github.com/imrishuroy/go-order-payments/internal/idempotency"
	"github.com/imrishuroy/go-order-payments/internal/orders"
	"github.com/imrishuroy/go-order-payments/internal/reconcile"
	"github.com/imrishuroy/go-order-payments/internal/validation"
)

// OrderService is the order orchestrator as the HTTP layer sees it.
type OrderService interface {
	CreateOrder(ctx context.Context, req validation.CreateOrderRequest, clientIP string) (*checkout.Placement, error)
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, next orders.Status) (orders.Order, error)
	CancelOrder(ctx context.Context, orderID string) (orders.Order, error)
	RemoveItem(ctx context.Context, orderID, productID string) (orders.Order, error)
}

// CallbackReconciler applies gateway callbacks.
type CallbackReconciler interface {
	Reconcile(ctx context.Context, kind orders.PaymentMethod, payload map[string]string) reconcile.Result
}

// HandlerConfig groups dependencies for the HTTP handlers.
type HandlerConfig struct {
	Orders      OrderService
	Reconciler  CallbackReconciler
	Idempotency idempotency.Store // optional
	Validator   *validatorv10.Validate
	Logger      *slog.Logger
}

type handler struct {
	orders     OrderService
	reconciler CallbackReconciler
	idem       idempotency.Store
	v          *validatorv10.Validate
	logger     *slog.Logger
}

func newHandler(cfg HandlerConfig) *handler {
	h := &handler{
		orders:     cfg.Orders,
		reconciler: cfg.Reconciler,
		idem:       cfg.Idempotency,
		v:          cfg.Validator,
		logger:     cfg.Logger,
	}
	if h.v == nil {
		h.v = validation.New()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// RegisterRoutes registers the order and payment callback routes.
func RegisterRoutes(r gin.IRouter, cfg HandlerConfig) {
	h := newHandler(cfg)

	r.POST("/orders", h.createOrder)
	r.GET("/orders/:id", h.getOrder)
	r.PATCH("/orders/:id/status", h.updateStatus)
	r.POST("/orders/:id/cancel", h.cancelOrder)
	r.DELETE("/orders/:id/items/:productId", h.removeItem)

	r.POST("/payments/wallet/callback", h.walletCallback)
	r.GET("/payments/card/ipn", h.cardIPN)
}

type createOrderResponse struct {
	OrderID       string               `json:"order_id"`
	Status        orders.Status        `json:"status"`
	PaymentStatus orders.PaymentStatus `json:"payment_status"`
	TotalAmount   int64                `json:"total_amount"`
	RedirectURL   string               `json:"redirect_url,omitempty"`
	Error         string               `json:"error,omitempty"`
	Detail        string               `json:"detail,omitempty"`
}

func (h *handler) createOrder(c *gin.Context) {
	ctx := c.Request.Context()

	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request_body", "message": err.Error()})
		return
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))

	// Idempotency-Key is optional; without it every POST places an order.
	key := c.GetHeader("Idempotency-Key")
	if key != "" && h.idem != nil {
		sum := sha256.Sum256(raw)
		rec, owned, err := h.idem.Begin(ctx, key, hex.EncodeToString(sum[:]))
		if err != nil {
			h.logger.ErrorContext(ctx, "idempotency check failed", slog.String("key", key), slog.Any("error", err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "idempotency_check_failed"})
			return
		}
		if !owned {
			h.replay(c, rec, hex.EncodeToString(sum[:]))
			return
		}
	} else {
		key = ""
	}

	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		// BindAndValidate already wrote a 400
		h.markFailed(ctx, key, "invalid request")
		return
	}

	placement, err := h.orders.CreateOrder(ctx, req, c.ClientIP())
	if err != nil && placement == nil {
		h.markFailed(ctx, key, err.Error())
		h.writeError(c, err)
		return
	}

	// The order is committed from here on, so the response is stored even
	// when the gateway could not open a payment session.
	o := placement.Order
	resp := createOrderResponse{
		OrderID:       o.OrderID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		TotalAmount:   o.TotalAmount,
		RedirectURL:   placement.RedirectURL,
	}
	status := http.StatusCreated
	if err != nil {
		status, _ = errorBody(err)
		resp.Error = string(apperror.KindOf(err))
		resp.Detail = err.Error()
	}
	h.markDone(ctx, key, o.OrderID, status, resp)

	c.Header("Location", fmt.Sprintf("/orders/%s", o.OrderID))
	c.JSON(status, resp)
}

func (h *handler) replay(c *gin.Context, rec *idempotency.Record, hash string) {
	if rec.RequestHash != hash {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "idempotency_key_reused"})
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.OrderID != "" {
			c.Header("Location", fmt.Sprintf("/orders/%s", rec.OrderID))
		}
		c.Header("Idempotent-Replayed", "true")
		c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
	case idempotency.StatusInProgress:
		c.JSON(http.StatusConflict, gin.H{"error": "request_in_progress"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
	}
}

func (h *handler) markDone(ctx context.Context, key, orderID string, status int, resp any) {
	if key == "" {
		return
	}
	body, err := json.Marshal(resp)
	if err == nil {
		err = h.idem.MarkDone(ctx, key, orderID, status, string(body))
	}
	if err != nil {
		h.logger.WarnContext(ctx, "idempotency record not completed", slog.String("key", key), slog.Any("error", err))
	}
}

func (h *handler) markFailed(ctx context.Context, key, note string) {
	if key == "" {
		return
	}
	if err := h.idem.MarkFailed(ctx, key, note); err != nil {
		h.logger.WarnContext(ctx, "idempotency record not released", slog.String("key", key), slog.Any("error", err))
	}
}

func (h *handler) getOrder(c *gin.Context) {
	o, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *handler) updateStatus(c *gin.Context) {
	var req validation.UpdateStatusRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	o, err := h.orders.UpdateOrderStatus(c.Request.Context(), c.Param("id"), orders.Status(req.Status))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *handler) cancelOrder(c *gin.Context) {
	o, err := h.orders.CancelOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (h *handler) removeItem(c *gin.Context) {
	o, err := h.orders.RemoveItem(c.Request.Context(), c.Param("id"), c.Param("productId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
