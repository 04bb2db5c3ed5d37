package metrics

import (
	"context"
	"log/slog"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/go-order-payments/internal/aws"
)

// CloudWatch publishes each business event as a count datum. Failures are
// logged and never reach the caller.
type CloudWatch struct {
	client    aws.CloudWatchAPI
	namespace string
	timeout   time.Duration
	logger    *slog.Logger
}

func NewCloudWatch(client aws.CloudWatchAPI, namespace string, logger *slog.Logger) *CloudWatch {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatch{client: client, namespace: namespace, timeout: 2 * time.Second, logger: logger}
}

func (c *CloudWatch) put(name string, value float64, dims map[string]string) {
	datum := cwtypes.MetricDatum{
		MetricName: sdkaws.String(name),
		Unit:       cwtypes.StandardUnitCount,
		Value:      sdkaws.Float64(value),
		Timestamp:  sdkaws.Time(time.Now().UTC()),
	}
	for k, v := range dims {
		datum.Dimensions = append(datum.Dimensions, cwtypes.Dimension{Name: sdkaws.String(k), Value: sdkaws.String(v)})
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  sdkaws.String(c.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		c.logger.Warn("put metric data failed", slog.String("metric", name), slog.Any("error", err))
	}
}

func (c *CloudWatch) OrderCreated(method string) {
	c.put("OrdersCreated", 1, map[string]string{"PaymentMethod": method})
}

func (c *CloudWatch) PaymentOutcome(gateway, outcome string) {
	c.put("PaymentCallbacks", 1, map[string]string{"Gateway": gateway, "Outcome": outcome})
}

func (c *CloudWatch) NotificationDropped(reason string) {
	c.put("NotificationsDropped", 1, map[string]string{"Reason": reason})
}

func (c *CloudWatch) OrdersSwept(n int) {
	if n == 0 {
		return
	}
	c.put("StaleOrdersCancelled", float64(n), nil)
}
