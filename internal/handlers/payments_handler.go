package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-order-payments/internal/orders"
	"github.com/imrishuroy/go-order-payments/internal/payment"
	"github.com/imrishuroy/go-order-payments/internal/reconcile"
)

// walletCallback accepts the wallet gateway's JSON notification.
func (h *handler) walletCallback(c *gin.Context) {
	var body struct {
		Data string `json:"data"`
		Mac  string `json:"mac"`
	}
	payload := map[string]string{}
	if err := c.ShouldBindJSON(&body); err == nil {
		payload["data"], payload["mac"] = body.Data, body.Mac
	}
	h.acknowledge(c, h.reconciler.Reconcile(c.Request.Context(), orders.MethodWallet, payload))
}

// cardIPN accepts the card gateway's query-string notification.
func (h *handler) cardIPN(c *gin.Context) {
	payload := map[string]string{}
	for k, vs := range c.Request.URL.Query() {
		if len(vs) > 0 {
			payload[k] = vs[0]
		}
	}
	h.acknowledge(c, h.reconciler.Reconcile(c.Request.Context(), orders.MethodCard, payload))
}

func (h *handler) acknowledge(c *gin.Context, res reconcile.Result) {
	if res.Status == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": string(payment.OutcomeUnknownGateway)})
		return
	}
	c.JSON(res.Status, res.Body)
}
