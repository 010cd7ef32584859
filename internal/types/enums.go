package types

// PlanTier identifies the billing plan for an organization.
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanStarter    PlanTier = "starter"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

// SubscriptionStatus represents the state of a billing subscription.
// Values mirror Stripe's subscription status vocabulary; the projection
// stores them verbatim so dashboard reads never need a reverse mapping.
type SubscriptionStatus string

const (
	SubStatusActive            SubscriptionStatus = "active"
	SubStatusTrialing          SubscriptionStatus = "trialing"
	SubStatusPastDue           SubscriptionStatus = "past_due"
	SubStatusCanceled          SubscriptionStatus = "canceled"
	SubStatusPaused            SubscriptionStatus = "paused"
	SubStatusIncomplete        SubscriptionStatus = "incomplete"
	SubStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubStatusUnpaid            SubscriptionStatus = "unpaid"
)

// EventOutcome records how a webhook event was handled, for the audit trail.
type EventOutcome string

const (
	OutcomeProcessed EventOutcome = "processed"
	OutcomeIgnored   EventOutcome = "ignored"
	OutcomeFailed    EventOutcome = "failed"
)

// NotificationKind identifies a billing notification email type.
type NotificationKind string

const (
	NotificationWelcome NotificationKind = "welcome"
	NotificationReceipt NotificationKind = "receipt"
)
