// Package main is the entrypoint for the notification worker Lambda.
//
// The worker consumes billing notifications from the SQS queue the webhook
// handler publishes to, renders them into emails, and delivers them through
// SES. It uses the SQS Lambda handler pattern: each invocation receives a
// batch of messages and returns partial batch failures so SQS retries only
// the records that failed.
//
// Cold start (main):
//  1. Initialize the structured logger.
//  2. Load the AWS SDK configuration.
//  3. Read email and metric settings from the environment.
//  4. Build the SES client, the template renderer, and CloudWatch metrics.
//  5. Register the handler and call lambda.Start.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"aiohub/internal/external"
	"aiohub/internal/metrics"
	"aiohub/internal/notify"
	"aiohub/internal/types"
)

// EmailMetrics records email delivery outcomes. Satisfied by both
// metrics.CloudWatchMetrics and metrics.NoopMetrics.
type EmailMetrics interface {
	RecordEmailDelivery(ctx context.Context, result string)
}

// Handler holds the dependencies for the notification worker.
type Handler struct {
	renderer *notify.Renderer
	emailer  external.EmailProvider
	metrics  EmailMetrics
	from     types.EmailAddress
	enabled  bool
	logger   *slog.Logger
}

// Handle processes an SQS event containing one or more billing notifications.
// Records are processed independently; failures are reported via partial
// batch responses so SQS redelivers only the failed records.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process notification record",
				"sqs_message_id", record.MessageId,
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processRecord renders and delivers a single billing notification. A nil
// return ACKs the record; an error surfaces it as a batch item failure.
func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	var notification types.BillingNotification
	if err := json.Unmarshal([]byte(record.Body), &notification); err != nil {
		h.logger.Error("failed to unmarshal billing notification",
			"sqs_message_id", record.MessageId,
			"error", err,
		)
		// Permanent parse failure, retrying cannot help. ACK it.
		return nil
	}

	logger := h.logger.With(
		"message_id", notification.MessageID,
		"kind", string(notification.Kind),
		"organization_id", notification.OrganizationID,
		"source_event_id", notification.SourceEventID,
	)

	if notification.Email == "" {
		logger.Warn("notification has no recipient email, dropping")
		return nil
	}

	rendered, err := h.renderer.Render(&notification)
	if err != nil {
		// Unknown kind or template failure. Redelivery would hit the same
		// template, so record the failure and ACK.
		logger.Error("failed to render notification email", "error", err)
		h.metrics.RecordEmailDelivery(ctx, "failure")
		return nil
	}

	if !h.enabled {
		logger.Info("email sending disabled, logging instead of delivering",
			"to", notification.Email,
			"subject", rendered.Subject,
		)
		return nil
	}

	start := time.Now()
	providerID, err := h.emailer.Send(ctx, types.SendInput{
		From:        h.from,
		To:          notification.Email,
		Subject:     rendered.Subject,
		BodyHTML:    rendered.BodyHTML,
		BodyText:    rendered.BodyText,
		ReferenceID: notification.MessageID,
	})
	if err != nil {
		h.metrics.RecordEmailDelivery(ctx, "failure")

		if types.IsErrorCode(err, types.ErrCodeEmailBlocked) {
			// Provider rejected the address. Terminal; retrying burns quota.
			logger.Warn("email rejected by provider, dropping",
				"to", notification.Email,
				"error", err,
			)
			return nil
		}

		// Throttling and transient provider errors go back to SQS.
		return fmt.Errorf("sending %s email: %w", notification.Kind, err)
	}

	h.metrics.RecordEmailDelivery(ctx, "success")
	logger.Info("notification email delivered",
		"to", notification.Email,
		"provider_message_id", providerID,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("notification worker initializing")

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Error("failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	fromAddress := os.Getenv("EMAIL_FROM_ADDRESS")
	if fromAddress == "" {
		fromAddress = "billing@aiohub.dev"
	}
	fromName := os.Getenv("EMAIL_FROM_NAME")
	if fromName == "" {
		fromName = "AIOHub Billing"
	}
	metricNamespace := os.Getenv("METRIC_NAMESPACE")
	if metricNamespace == "" {
		metricNamespace = "AIOHub"
	}
	emailEnabled := os.Getenv("EMAIL_ENABLED") != "false"
	endpointURL := os.Getenv("AWS_ENDPOINT_URL")

	renderer, err := notify.NewRenderer()
	if err != nil {
		logger.Error("failed to build email renderer", "error", err)
		os.Exit(1)
	}

	sesClient := external.NewSESClientWithAPI(
		sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
			if endpointURL != "" {
				o.BaseEndpoint = aws.String(endpointURL)
			}
		}),
		external.SESClientConfig{
			ConfigSetName: os.Getenv("SES_CONFIGURATION_SET"),
			Logger:        logger,
		},
	)

	var emailMetrics EmailMetrics
	if os.Getenv("ENABLE_METRICS") == "false" {
		emailMetrics = metrics.NoopMetrics{}
	} else {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if endpointURL != "" {
				o.BaseEndpoint = aws.String(endpointURL)
			}
		})
		emailMetrics = metrics.NewCloudWatchMetrics(cwClient, metricNamespace, logger)
	}

	handler := &Handler{
		renderer: renderer,
		emailer:  sesClient,
		metrics:  emailMetrics,
		from:     types.EmailAddress{Name: fromName, Address: fromAddress},
		enabled:  emailEnabled,
		logger:   logger,
	}

	logger.Info("notification worker initialized",
		"from_address", fromAddress,
		"email_enabled", emailEnabled,
		"metric_namespace", metricNamespace,
	)

	// Local mode: read a JSON SQS event from stdin instead of starting the
	// Lambda runtime. Enables local testing without the AWS Lambda RIE.
	// Usage: echo '{"Records":[{"messageId":"1","body":"{...}"}]}' | go run ./cmd/notify-worker
	if os.Getenv("APP_ENV") == "local" {
		logger.Info("APP_ENV=local: reading SQS event from stdin")
		payload, err := io.ReadAll(os.Stdin)
		if err != nil {
			logger.Error("failed to read stdin", "error", err)
			os.Exit(1)
		}
		var sqsEvent events.SQSEvent
		if err := json.Unmarshal(payload, &sqsEvent); err != nil {
			logger.Error("failed to parse stdin as SQS event", "error", err)
			os.Exit(1)
		}
		response, err := handler.Handle(context.Background(), sqsEvent)
		if err != nil {
			logger.Error("handler execution failed", "error", err)
			os.Exit(1)
		}
		if len(response.BatchItemFailures) > 0 {
			respJSON, _ := json.MarshalIndent(response, "", "  ")
			fmt.Fprintln(os.Stderr, string(respJSON))
		}
		logger.Info("handler execution completed",
			"records_processed", len(sqsEvent.Records),
			"failures", len(response.BatchItemFailures),
		)
		return
	}

	lambda.Start(handler.Handle)
}
