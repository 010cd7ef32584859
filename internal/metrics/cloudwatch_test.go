package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiohub/internal/types"
)

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, params)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCloudWatchMetrics_RecordRequest(t *testing.T) {
	client := &fakeCloudWatch{}
	m := NewCloudWatchMetrics(client, "AIOHub/Billing", testLogger())

	m.RecordRequest("POST", "/api/stripe/webhook", "200", 42*time.Millisecond)

	require.Len(t, client.inputs, 1)
	input := client.inputs[0]
	assert.Equal(t, "AIOHub/Billing", *input.Namespace)
	require.Len(t, input.MetricData, 2)

	count := input.MetricData[0]
	assert.Equal(t, MetricAPIRequest, *count.MetricName)
	assert.Equal(t, float64(1), *count.Value)
	require.Len(t, count.Dimensions, 3)

	latency := input.MetricData[1]
	assert.Equal(t, MetricAPILatency, *latency.MetricName)
	assert.Equal(t, float64(42), *latency.Value)
}

func TestCloudWatchMetrics_RecordWebhookEvent(t *testing.T) {
	client := &fakeCloudWatch{}
	m := NewCloudWatchMetrics(client, "AIOHub/Billing", testLogger())

	m.RecordWebhookEvent(context.Background(), "customer.subscription.updated", types.OutcomeProcessed)

	require.Len(t, client.inputs, 1)
	datum := client.inputs[0].MetricData[0]
	assert.Equal(t, MetricWebhookEvent, *datum.MetricName)

	dims := map[string]string{}
	for _, d := range datum.Dimensions {
		dims[*d.Name] = *d.Value
	}
	assert.Equal(t, "customer.subscription.updated", dims[DimEventType])
	assert.Equal(t, "processed", dims[DimOutcome])
}

func TestCloudWatchMetrics_PublishFailureIsSwallowed(t *testing.T) {
	client := &fakeCloudWatch{err: errors.New("throttled")}
	m := NewCloudWatchMetrics(client, "AIOHub/Billing", testLogger())

	// Must not panic or surface the error.
	m.RecordRequest("GET", "/health", "200", time.Millisecond)
	m.RecordEmailDelivery(context.Background(), "failure")
}
