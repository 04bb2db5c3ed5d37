// Package metrics records HTTP and business counters. Prometheus backs the
// /metrics endpoint; CloudWatch receives the same business events when the
// service runs on Lambda.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the set of business events the order flow reports.
type Recorder interface {
	OrderCreated(method string)
	PaymentOutcome(gateway, outcome string)
	NotificationDropped(reason string)
	OrdersSwept(n int)
}

// Nop discards everything.
type Nop struct{}

func (Nop) OrderCreated(string)           {}
func (Nop) PaymentOutcome(string, string) {}
func (Nop) NotificationDropped(string)    {}
func (Nop) OrdersSwept(int)               {}

// Multi fans events out to several recorders.
type Multi []Recorder

func (m Multi) OrderCreated(method string) {
	for _, r := range m {
		r.OrderCreated(method)
	}
}

func (m Multi) PaymentOutcome(gateway, outcome string) {
	for _, r := range m {
		r.PaymentOutcome(gateway, outcome)
	}
}

func (m Multi) NotificationDropped(reason string) {
	for _, r := range m {
		r.NotificationDropped(reason)
	}
}

func (m Multi) OrdersSwept(n int) {
	for _, r := range m {
		r.OrdersSwept(n)
	}
}

// Prometheus holds the server and business collectors.
type Prometheus struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec

	ordersCreated *prometheus.CounterVec
	payments      *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	swept         prometheus.Counter
}

// NewPrometheus registers the collectors on reg under the service subsystem.
func NewPrometheus(reg prometheus.Registerer, service string) *Prometheus {
	p := &Prometheus{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderpay",
			Subsystem: service,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"handler", "status"}),
		LatencyMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orderpay",
			Subsystem: service,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"handler"}),
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderpay",
			Subsystem: service,
			Name:      "orders_created_total",
			Help:      "Orders committed, by payment method.",
		}, []string{"method"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderpay",
			Subsystem: service,
			Name:      "payment_callbacks_total",
			Help:      "Reconciled gateway callbacks, by gateway and outcome.",
		}, []string{"gateway", "outcome"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orderpay",
			Subsystem: service,
			Name:      "notifications_dropped_total",
			Help:      "Notifications that were not delivered.",
		}, []string{"reason"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orderpay",
			Subsystem: service,
			Name:      "stale_orders_cancelled_total",
			Help:      "Unpaid online orders cancelled by the sweeper.",
		}),
	}
	reg.MustRegister(p.Requests, p.LatencyMS, p.ordersCreated, p.payments, p.dropped, p.swept)
	return p
}

func (p *Prometheus) OrderCreated(method string) {
	p.ordersCreated.WithLabelValues(method).Inc()
}

func (p *Prometheus) PaymentOutcome(gateway, outcome string) {
	p.payments.WithLabelValues(gateway, outcome).Inc()
}

func (p *Prometheus) NotificationDropped(reason string) {
	p.dropped.WithLabelValues(reason).Inc()
}

func (p *Prometheus) OrdersSwept(n int) {
	p.swept.Add(float64(n))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
