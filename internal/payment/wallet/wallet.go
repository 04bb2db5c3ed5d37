// Package wallet is the e-wallet / QR gateway adapter. Outbound requests are
// signed with HMAC-SHA256 under key1; callbacks carry a JSON data string
// signed with key2.
package wallet

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/imrishuroy/go-order-payments/internal/apperror"
	"github.com/imrishuroy/go-order-payments/internal/orders"
	"github.com/imrishuroy/go-order-payments/internal/payment"
)

// Gateway time is Indochina time; transaction references embed its date.
var gatewayZone = time.FixedZone("ICT", 7*3600)

// Config is the merchant account for one deployment.
type Config struct {
	AppID       string
	Key1        string
	Key2        string
	PayURL      string
	RefundURL   string
	CallbackURL string
	RedirectURL string
	PaymentTTL  time.Duration
	HTTPTimeout time.Duration
}

// Gateway implements payment.Gateway.
type Gateway struct {
	cfg     Config
	client  *http.Client
	nowFunc func() time.Time
}

var _ payment.Gateway = (*Gateway)(nil)

// New builds a gateway. A nil client gets one bounded by cfg.HTTPTimeout.
func New(cfg Config, client *http.Client) *Gateway {
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.PaymentTTL <= 0 {
		cfg.PaymentTTL = 15 * time.Minute
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &Gateway{cfg: cfg, client: client, nowFunc: time.Now}
}

func (g *Gateway) Method() orders.PaymentMethod { return orders.MethodWallet }

type embedData struct {
	OrderID     string `json:"order_id"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// TransRef is the gateway transaction reference for an order:
// yymmdd_<order id without dashes>, dated by the order's creation.
func TransRef(o orders.Order) string {
	return o.CreatedAt.In(gatewayZone).Format("060102") + "_" + strings.ReplaceAll(o.OrderID, "-", "")
}

// CreatePayment builds the signed redirect URL.
func (g *Gateway) CreatePayment(ctx context.Context, req payment.Request) (string, error) {
	const op = "wallet.CreatePayment"
	if g.cfg.AppID == "" || g.cfg.Key1 == "" || g.cfg.PayURL == "" {
		return "", apperror.New(apperror.KindGateway, op, "wallet gateway is not configured")
	}
	o := req.Order
	embed, err := json.Marshal(embedData{OrderID: o.OrderID, RedirectURL: g.cfg.RedirectURL})
	if err != nil {
		return "", apperror.Wrap(apperror.KindGateway, op, err)
	}

	params := map[string]string{
		"app_id":                  g.cfg.AppID,
		"app_trans_id":            TransRef(o),
		"app_user":                o.BuyerID,
		"amount":                  strconv.FormatInt(o.TotalAmount, 10),
		"app_time":                strconv.FormatInt(g.nowFunc().UnixMilli(), 10),
		"callback_url":            g.cfg.CallbackURL,
		"embed_data":              string(embed),
		"description":             "Payment for order " + o.OrderID,
		"expire_duration_seconds": strconv.Itoa(int(g.cfg.PaymentTTL.Seconds())),
	}
	mac := payment.Sign(sha256.New, g.cfg.Key1, canonical(params))

	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("mac", mac)
	return g.cfg.PayURL + "?" + q.Encode(), nil
}

// canonical joins params as k=v pairs in key order, values unescaped.
func canonical(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+params[k])
	}
	return strings.Join(parts, "&")
}

type callbackData struct {
	AppID      json.Number `json:"app_id"`
	AppTransID string      `json:"app_trans_id"`
	Amount     int64       `json:"amount"`
	ZpTransID  json.Number `json:"zp_trans_id"`
	EmbedData  string      `json:"embed_data"`
	Status     *int        `json:"status,omitempty"`
}

// VerifyCallback checks mac = HMAC-SHA256(key2, data) and decodes data.
// The wallet only calls back for settled payments unless an explicit
// status other than 1 is present.
func (g *Gateway) VerifyCallback(payload map[string]string) (payment.Callback, error) {
	const op = "wallet.VerifyCallback"
	data, mac := payload["data"], payload["mac"]
	if data == "" || mac == "" {
		return payment.Callback{}, apperror.New(apperror.KindValidation, op, "callback requires data and mac")
	}
	if !payment.Verify(sha256.New, g.cfg.Key2, data, mac) {
		return payment.Callback{}, apperror.New(apperror.KindSignatureMismatch, op, "mac does not match")
	}

	var cb callbackData
	if err := json.Unmarshal([]byte(data), &cb); err != nil {
		return payment.Callback{}, apperror.Wrap(apperror.KindValidation, op, fmt.Errorf("decode data: %w", err))
	}
	if cb.AppID.String() != g.cfg.AppID {
		return payment.Callback{}, apperror.New(apperror.KindSignatureMismatch, op, "callback for foreign app_id %s", cb.AppID)
	}
	var embed embedData
	if err := json.Unmarshal([]byte(cb.EmbedData), &embed); err != nil || embed.OrderID == "" {
		return payment.Callback{}, apperror.New(apperror.KindValidation, op, "embed_data carries no order_id")
	}

	paid := cb.Status == nil || *cb.Status == 1
	code := "1"
	if cb.Status != nil {
		code = strconv.Itoa(*cb.Status)
	}
	return payment.Callback{
		OrderID:       embed.OrderID,
		TransactionID: cb.ZpTransID.String(),
		Amount:        cb.Amount,
		Paid:          paid,
		Code:          code,
	}, nil
}

type refundResponse struct {
	ReturnCode    int         `json:"return_code"`
	ReturnMessage string      `json:"return_message"`
	RefundID      json.Number `json:"refund_id"`
}

// RefundRef is the merchant refund id: yymmdd_appid_<order id>. It is
// derived from the order so a retried cancellation reuses it.
func (g *Gateway) RefundRef(o orders.Order) string {
	return o.CreatedAt.In(gatewayZone).Format("060102") + "_" + g.cfg.AppID + "_" + strings.ReplaceAll(o.OrderID, "-", "")
}

// Refund posts a full refund. return_code 1 confirms it; 3 means the gateway
// is still processing and is reported as an error so the order stays paid.
func (g *Gateway) Refund(ctx context.Context, o orders.Order) error {
	const op = "wallet.Refund"
	if o.TransactionID == "" {
		return apperror.New(apperror.KindValidation, op, "order %s has no wallet transaction", o.OrderID)
	}
	amount := o.PaidAmount
	if amount == 0 {
		amount = o.TotalAmount
	}
	timestamp := strconv.FormatInt(g.nowFunc().UnixMilli(), 10)
	description := "Refund for order " + o.OrderID
	amountStr := strconv.FormatInt(amount, 10)

	form := url.Values{}
	form.Set("app_id", g.cfg.AppID)
	form.Set("m_refund_id", g.RefundRef(o))
	form.Set("zp_trans_id", o.TransactionID)
	form.Set("amount", amountStr)
	form.Set("timestamp", timestamp)
	form.Set("description", description)
	form.Set("mac", payment.Sign(sha256.New, g.cfg.Key1,
		strings.Join([]string{g.cfg.AppID, o.TransactionID, amountStr, description, timestamp}, "|")))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.RefundURL, strings.NewReader(form.Encode()))
	if err != nil {
		return apperror.Wrap(apperror.KindGateway, op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return apperror.Wrap(apperror.KindGateway, op, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperror.Wrap(apperror.KindGateway, op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return apperror.New(apperror.KindGateway, op, "refund endpoint returned %d", resp.StatusCode)
	}
	var out refundResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return apperror.Wrap(apperror.KindGateway, op, fmt.Errorf("decode refund response: %w", err))
	}
	switch out.ReturnCode {
	case 1:
		return nil
	case 3:
		return apperror.New(apperror.KindGateway, op, "refund for %s still processing", o.OrderID)
	default:
		return apperror.New(apperror.KindGateway, op, "refund rejected: %d %s", out.ReturnCode, out.ReturnMessage)
	}
}

type ack struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
}

// Acknowledge answers the callback. return_code 0 asks the wallet to
// redeliver; every other code ends redelivery.
func (g *Gateway) Acknowledge(outcome payment.Outcome) (int, any) {
	switch outcome {
	case payment.OutcomeConfirmed, payment.OutcomeDeclined:
		return http.StatusOK, ack{ReturnCode: 1, ReturnMessage: "success"}
	case payment.OutcomeSignatureMismatch:
		return http.StatusOK, ack{ReturnCode: -1, ReturnMessage: "mac not equal"}
	case payment.OutcomeRetryLater:
		return http.StatusOK, ack{ReturnCode: 0, ReturnMessage: "retry"}
	default:
		return http.StatusOK, ack{ReturnCode: 2, ReturnMessage: string(outcome)}
	}
}
