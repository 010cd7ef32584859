package types

import "time"

// BillingNotification is the SQS message produced when a webhook event
// warrants an email side effect (welcome on first checkout, receipt on
// renewal). The notify-worker Lambda consumes these and delivers via SES.
//
// MessageID is generated at enqueue time and used for log correlation; the
// worker treats redelivery of the same MessageID as a retry, not a new
// notification.
type BillingNotification struct {
	MessageID      string           `json:"message_id"`
	Kind           NotificationKind `json:"kind"`
	OrganizationID string           `json:"organization_id"`
	Email          string           `json:"email"`
	Plan           PlanTier         `json:"plan"`
	SubscriptionID string           `json:"subscription_id,omitempty"`
	SourceEventID  string           `json:"source_event_id"`
	EnqueuedAt     time.Time        `json:"enqueued_at"`
}
