package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheus_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "api")

	p.OrderCreated("cod")
	p.OrderCreated("cod")
	p.PaymentOutcome("wallet", "confirmed")
	p.NotificationDropped("saturated")
	p.OrdersSwept(3)

	if got := testutil.ToFloat64(p.ordersCreated.WithLabelValues("cod")); got != 2 {
		t.Fatalf("orders created = %v", got)
	}
	if got := testutil.ToFloat64(p.payments.WithLabelValues("wallet", "confirmed")); got != 1 {
		t.Fatalf("payments = %v", got)
	}
	if got := testutil.ToFloat64(p.swept); got != 3 {
		t.Fatalf("swept = %v", got)
	}
}

func TestHandler_ExposesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewPrometheus(reg, "api")
	p.OrderCreated("card")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `orderpay_api_orders_created_total{method="card"} 1`) {
		t.Fatalf("metric missing from output:\n%s", rec.Body.String())
	}
}

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, f.err
}

func TestCloudWatch_PutsDatum(t *testing.T) {
	client := &fakeCloudWatch{}
	cw := NewCloudWatch(client, "OrderPayments", nil)

	cw.PaymentOutcome("card", "amount_mismatch")
	cw.OrdersSwept(0)

	if len(client.inputs) != 1 {
		t.Fatalf("expected one put, got %d", len(client.inputs))
	}
	in := client.inputs[0]
	if *in.Namespace != "OrderPayments" || *in.MetricData[0].MetricName != "PaymentCallbacks" {
		t.Fatalf("unexpected input %+v", in)
	}
	if len(in.MetricData[0].Dimensions) != 2 {
		t.Fatalf("expected gateway and outcome dimensions")
	}
}

func TestCloudWatch_ErrorsAreSwallowed(t *testing.T) {
	client := &fakeCloudWatch{err: errors.New("throttled")}
	cw := NewCloudWatch(client, "OrderPayments", nil)
	cw.OrderCreated("cod")
	if len(client.inputs) != 1 {
		t.Fatalf("expected the call to be attempted")
	}
}

type countingRecorder struct{ orders int }

func (c *countingRecorder) OrderCreated(string)           { c.orders++ }
func (c *countingRecorder) PaymentOutcome(string, string) {}
func (c *countingRecorder) NotificationDropped(string)    {}
func (c *countingRecorder) OrdersSwept(int)               {}

func TestMulti(t *testing.T) {
	a, b := &countingRecorder{}, &countingRecorder{}
	var r Recorder = Multi{a, b, Nop{}}
	r.OrderCreated("wallet")
	if a.orders != 1 || b.orders != 1 {
		t.Fatalf("expected fan out, got %d %d", a.orders, b.orders)
	}
}
