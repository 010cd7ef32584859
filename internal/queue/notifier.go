// Package queue provides the SQS producer that dispatches billing
// notifications to the notify-worker Lambda.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"aiohub/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// BillingNotifier serializes BillingNotification messages and sends them to
// the notification queue. Enqueue failures never fail webhook processing:
// the caller logs and continues, because losing a welcome email is cheaper
// than forcing Stripe to redeliver an already-applied event.
type BillingNotifier struct {
	client   SQSSender
	queueURL string
	logger   *slog.Logger
}

// NewBillingNotifier creates a BillingNotifier targeting the given queue URL.
func NewBillingNotifier(client SQSSender, queueURL string, logger *slog.Logger) *BillingNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingNotifier{
		client:   client,
		queueURL: queueURL,
		logger:   logger,
	}
}

// Enqueue assigns the notification a message ID and timestamp, then sends it.
// The assigned MessageID is returned for log correlation.
func (n *BillingNotifier) Enqueue(ctx context.Context, notification types.BillingNotification) (string, error) {
	notification.MessageID = uuid.NewString()
	notification.EnqueuedAt = time.Now().UTC()

	body, err := json.Marshal(notification)
	if err != nil {
		return "", fmt.Errorf("queue: failed to marshal BillingNotification: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(notification.Kind)),
			},
		},
	}

	if _, err := n.client.SendMessage(ctx, input); err != nil {
		return "", fmt.Errorf("queue: failed to send BillingNotification to %s: %w", n.queueURL, err)
	}

	n.logger.InfoContext(ctx, "billing notification enqueued",
		"message_id", notification.MessageID,
		"kind", string(notification.Kind),
		"org_id", notification.OrganizationID,
		"source_event_id", notification.SourceEventID,
	)

	return notification.MessageID, nil
}

// EnqueueBatch sends multiple notifications concurrently, bounded to four
// in-flight sends. The first failure cancels the remaining sends and is
// returned.
func (n *BillingNotifier) EnqueueBatch(ctx context.Context, notifications []types.BillingNotification) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, notification := range notifications {
		g.Go(func() error {
			_, err := n.Enqueue(gctx, notification)
			return err
		})
	}

	return g.Wait()
}
