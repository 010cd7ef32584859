// Package metrics publishes service telemetry to AWS CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"aiohub/internal/types"
)

// Metric and dimension names. Kept as constants so dashboards and alarms
// reference a single source of truth.
const (
	MetricAPIRequest     = "APIRequest"
	MetricAPILatency     = "APILatency"
	MetricWebhookEvent   = "WebhookEvent"
	MetricEmailDelivery  = "EmailDelivery"
	DimMethod            = "Method"
	DimEndpoint          = "Endpoint"
	DimStatus            = "Status"
	DimEventType         = "EventType"
	DimOutcome           = "Outcome"
	DimResult            = "Result"
	putMetricDataTimeout = 2 * time.Second
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics emits API and webhook telemetry to CloudWatch.
//
// Metrics emitted:
//   - APIRequest:    Dims {Method, Endpoint, Status} -- count per request
//   - APILatency:    Dims {Method, Endpoint} -- request duration in ms
//   - WebhookEvent:  Dims {EventType, Outcome} -- one per webhook delivery
//   - EmailDelivery: Dims {Result} -- one per email send attempt
//
// Publishing is fire-and-forget: a metrics failure is logged, never surfaced
// to the request path.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to the given namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordRequest records one API request: a count datum dimensioned by method,
// endpoint, and status, plus a latency datum dimensioned by method and endpoint.
func (m *CloudWatchMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	data := []cwtypes.MetricDatum{
		{
			MetricName: aws.String(MetricAPIRequest),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(DimMethod), Value: aws.String(method)},
				{Name: aws.String(DimEndpoint), Value: aws.String(endpoint)},
				{Name: aws.String(DimStatus), Value: aws.String(status)},
			},
		},
		{
			MetricName: aws.String(MetricAPILatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(DimMethod), Value: aws.String(method)},
				{Name: aws.String(DimEndpoint), Value: aws.String(endpoint)},
			},
		},
	}
	m.put(data, "api request")
}

// RecordWebhookEvent counts one processed webhook delivery, dimensioned by
// Stripe event type and handling outcome.
func (m *CloudWatchMetrics) RecordWebhookEvent(ctx context.Context, eventType string, outcome types.EventOutcome) {
	data := []cwtypes.MetricDatum{
		{
			MetricName: aws.String(MetricWebhookEvent),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(DimEventType), Value: aws.String(eventType)},
				{Name: aws.String(DimOutcome), Value: aws.String(string(outcome))},
			},
		},
	}
	m.put(data, "webhook event")
}

// RecordEmailDelivery counts one email send attempt, dimensioned by result
// ("success" or "failure").
func (m *CloudWatchMetrics) RecordEmailDelivery(ctx context.Context, result string) {
	data := []cwtypes.MetricDatum{
		{
			MetricName: aws.String(MetricEmailDelivery),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: []cwtypes.Dimension{
				{Name: aws.String(DimResult), Value: aws.String(result)},
			},
		},
	}
	m.put(data, "email delivery")
}

// put publishes metric data with a short independent timeout so that a slow
// CloudWatch endpoint cannot hold up request handling.
func (m *CloudWatchMetrics) put(data []cwtypes.MetricDatum, what string) {
	ctx, cancel := context.WithTimeout(context.Background(), putMetricDataTimeout)
	defer cancel()

	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}
	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.Warn("failed to publish metric", "metric", what, "error", err)
	}
}

// NoopMetrics discards all telemetry. Used in local development and tests.
type NoopMetrics struct{}

func (NoopMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {}

func (NoopMetrics) RecordWebhookEvent(ctx context.Context, eventType string, outcome types.EventOutcome) {
}

func (NoopMetrics) RecordEmailDelivery(ctx context.Context, result string) {}
