// Package card is the card / bank transfer gateway adapter. Parameters live
// in the vnp_ namespace, amounts travel multiplied by 100 and every message
// is signed with HMAC-SHA512 over the key-sorted, query-encoded parameters.
package card

import (
	"bytes"
	"context"
	"crypto/sha512"
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

const (
	dateLayout = "20060102150405"
	codeOK     = "00"
)

var gatewayZone = time.FixedZone("ICT", 7*3600)

// Config is the terminal configuration for one deployment.
type Config struct {
	TmnCode     string
	HashSecret  string
	PayURL      string
	RefundURL   string
	ReturnURL   string
	Version     string
	Locale      string
	CurrCode    string
	PaymentTTL  time.Duration
	HTTPTimeout time.Duration
}

type Gateway struct {
	cfg     Config
	client  *http.Client
	nowFunc func() time.Time
}

var _ payment.Gateway = (*Gateway)(nil)

func New(cfg Config, client *http.Client) *Gateway {
	if cfg.Version == "" {
		cfg.Version = "2.1.0"
	}
	if cfg.Locale == "" {
		cfg.Locale = "vn"
	}
	if cfg.CurrCode == "" {
		cfg.CurrCode = "VND"
	}
	if cfg.PaymentTTL <= 0 {
		cfg.PaymentTTL = 15 * time.Minute
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return &Gateway{cfg: cfg, client: client, nowFunc: time.Now}
}

func (g *Gateway) Method() orders.PaymentMethod { return orders.MethodCard }

// signData is the sorted key=value list joined by &, keys and values
// query-escaped.
func signData(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" || k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

// CreatePayment builds the signed redirect URL. The session expires after
// PaymentTTL.
func (g *Gateway) CreatePayment(ctx context.Context, req payment.Request) (string, error) {
	const op = "card.CreatePayment"
	if g.cfg.TmnCode == "" || g.cfg.HashSecret == "" || g.cfg.PayURL == "" {
		return "", apperror.New(apperror.KindGateway, op, "card gateway is not configured")
	}
	o := req.Order
	now := g.nowFunc().In(gatewayZone)
	ip := req.ClientIP
	if ip == "" {
		ip = "127.0.0.1"
	}
	params := map[string]string{
		"vnp_Version":    g.cfg.Version,
		"vnp_Command":    "pay",
		"vnp_TmnCode":    g.cfg.TmnCode,
		"vnp_Amount":     strconv.FormatInt(o.TotalAmount*100, 10),
		"vnp_CurrCode":   g.cfg.CurrCode,
		"vnp_TxnRef":     o.OrderID,
		"vnp_OrderInfo":  "Payment for order " + o.OrderID,
		"vnp_OrderType":  "other",
		"vnp_Locale":     g.cfg.Locale,
		"vnp_ReturnUrl":  g.cfg.ReturnURL,
		"vnp_IpAddr":     ip,
		"vnp_CreateDate": now.Format(dateLayout),
		"vnp_ExpireDate": now.Add(g.cfg.PaymentTTL).Format(dateLayout),
	}
	query := signData(params)
	hash := payment.Sign(sha512.New, g.cfg.HashSecret, query)
	return g.cfg.PayURL + "?" + query + "&vnp_SecureHash=" + hash, nil
}

// VerifyCallback checks vnp_SecureHash over the remaining parameters. The
// payment counts as paid only when both the response code and the
// transaction status are 00.
func (g *Gateway) VerifyCallback(payload map[string]string) (payment.Callback, error) {
	const op = "card.VerifyCallback"
	sig := payload["vnp_SecureHash"]
	if sig == "" {
		return payment.Callback{}, apperror.New(apperror.KindSignatureMismatch, op, "missing vnp_SecureHash")
	}
	if !payment.Verify(sha512.New, g.cfg.HashSecret, signData(payload), sig) {
		return payment.Callback{}, apperror.New(apperror.KindSignatureMismatch, op, "secure hash does not match")
	}
	if payload["vnp_TmnCode"] != g.cfg.TmnCode {
		return payment.Callback{}, apperror.New(apperror.KindSignatureMismatch, op, "callback for foreign terminal %s", payload["vnp_TmnCode"])
	}
	orderID := payload["vnp_TxnRef"]
	if orderID == "" {
		return payment.Callback{}, apperror.New(apperror.KindValidation, op, "missing vnp_TxnRef")
	}
	// vnp_Amount is in hundredths of the currency unit.
	minor, err := strconv.ParseInt(payload["vnp_Amount"], 10, 64)
	if err != nil {
		return payment.Callback{}, apperror.Wrap(apperror.KindValidation, op, fmt.Errorf("vnp_Amount: %w", err))
	}

	code := payload["vnp_ResponseCode"]
	return payment.Callback{
		OrderID:       orderID,
		TransactionID: payload["vnp_TransactionNo"],
		Amount:        minor / 100,
		Fractional:    minor%100 != 0,
		Paid:          code == codeOK && payload["vnp_TransactionStatus"] == codeOK,
		Code:          code,
	}, nil
}

// RefundRequestID is derived from the order so a retried cancellation sends
// the same request id.
func RefundRequestID(o orders.Order) string {
	id := "rf" + strings.ReplaceAll(o.OrderID, "-", "")
	if len(id) > 32 {
		id = id[:32]
	}
	return id
}

type refundRequest struct {
	RequestID       string `json:"vnp_RequestId"`
	Version         string `json:"vnp_Version"`
	Command         string `json:"vnp_Command"`
	TmnCode         string `json:"vnp_TmnCode"`
	TransactionType string `json:"vnp_TransactionType"`
	TxnRef          string `json:"vnp_TxnRef"`
	Amount          string `json:"vnp_Amount"`
	TransactionNo   string `json:"vnp_TransactionNo"`
	TransactionDate string `json:"vnp_TransactionDate"`
	CreateBy        string `json:"vnp_CreateBy"`
	CreateDate      string `json:"vnp_CreateDate"`
	IPAddr          string `json:"vnp_IpAddr"`
	OrderInfo       string `json:"vnp_OrderInfo"`
	SecureHash      string `json:"vnp_SecureHash"`
}

type refundResponse struct {
	ResponseCode string `json:"vnp_ResponseCode"`
	Message      string `json:"vnp_Message"`
}

// Refund requests a full refund (transaction type 02).
func (g *Gateway) Refund(ctx context.Context, o orders.Order) error {
	const op = "card.Refund"
	if o.TransactionID == "" {
		return apperror.New(apperror.KindValidation, op, "order %s has no card transaction", o.OrderID)
	}
	amount := o.PaidAmount
	if amount == 0 {
		amount = o.TotalAmount
	}
	r := refundRequest{
		RequestID:       RefundRequestID(o),
		Version:         g.cfg.Version,
		Command:         "refund",
		TmnCode:         g.cfg.TmnCode,
		TransactionType: "02",
		TxnRef:          o.OrderID,
		Amount:          strconv.FormatInt(amount*100, 10),
		TransactionNo:   o.TransactionID,
		TransactionDate: o.CreatedAt.In(gatewayZone).Format(dateLayout),
		CreateBy:        "system",
		CreateDate:      g.nowFunc().In(gatewayZone).Format(dateLayout),
		IPAddr:          "127.0.0.1",
		OrderInfo:       "Refund for order " + o.OrderID,
	}
	r.SecureHash = payment.Sign(sha512.New, g.cfg.HashSecret, strings.Join([]string{
		r.RequestID, r.Version, r.Command, r.TmnCode, r.TransactionType, r.TxnRef, r.Amount,
		r.TransactionNo, r.TransactionDate, r.CreateBy, r.CreateDate, r.IPAddr, r.OrderInfo,
	}, "|"))

	body, err := json.Marshal(r)
	if err != nil {
		return apperror.Wrap(apperror.KindGateway, op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.RefundURL, bytes.NewReader(body))
	if err != nil {
		return apperror.Wrap(apperror.KindGateway, op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return apperror.Wrap(apperror.KindGateway, op, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperror.Wrap(apperror.KindGateway, op, err)
	}
	if resp.StatusCode != http.StatusOK {
		return apperror.New(apperror.KindGateway, op, "refund endpoint returned %d", resp.StatusCode)
	}
	var out refundResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return apperror.Wrap(apperror.KindGateway, op, fmt.Errorf("decode refund response: %w", err))
	}
	if out.ResponseCode != codeOK {
		return apperror.New(apperror.KindGateway, op, "refund rejected: %s %s", out.ResponseCode, out.Message)
	}
	return nil
}

type ack struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// Acknowledge renders the IPN response codes the gateway understands.
func (g *Gateway) Acknowledge(outcome payment.Outcome) (int, any) {
	switch outcome {
	case payment.OutcomeConfirmed, payment.OutcomeDeclined:
		return http.StatusOK, ack{RspCode: "00", Message: "Confirm Success"}
	case payment.OutcomeNotFound:
		return http.StatusOK, ack{RspCode: "01", Message: "Order not found"}
	case payment.OutcomeAlreadyProcessed, payment.OutcomeOrderClosed:
		return http.StatusOK, ack{RspCode: "02", Message: "Order already confirmed"}
	case payment.OutcomeAmountMismatch:
		return http.StatusOK, ack{RspCode: "04", Message: "Invalid amount"}
	case payment.OutcomeSignatureMismatch:
		return http.StatusOK, ack{RspCode: "97", Message: "Invalid signature"}
	default:
		return http.StatusOK, ack{RspCode: "99", Message: "Unknown error"}
	}
}
