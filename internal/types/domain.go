// Package types defines the domain model shared across the AIOHub billing
// platform: subscription projections, organizations, billing event audit
// records, and the error taxonomy used by every layer.
package types

import "time"

// Organization is the local tenant record. Billing events correlate back to
// an organization via the org_id metadata Stripe carries on subscriptions
// and checkout sessions.
type Organization struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	BillingEmail     string     `json:"billing_email"`
	StripeCustomerID string     `json:"-"`
	Plan             PlanTier   `json:"plan"`
	CreatedAt        time.Time  `json:"created_at"`
	DeletedAt        *time.Time `json:"-"`
}

// SubscriptionProjection is the locally persisted mirror of a Stripe
// subscription, keyed by the Stripe subscription id. It always reflects the
// authoritative state as of the last successfully processed webhook event:
// the projector re-fetches the subscription resource from Stripe rather than
// trusting the (possibly stale) object embedded in the event payload.
//
// Rows are never hard-deleted; cancellation transitions Status to
// SubStatusCanceled.
type SubscriptionProjection struct {
	SubscriptionID     string             `json:"subscription_id"`
	OrganizationID     string             `json:"organization_id"`
	CustomerID         string             `json:"customer_id"`
	Status             SubscriptionStatus `json:"status"`
	PriceID            string             `json:"price_id"`
	Plan               PlanTier           `json:"plan"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
	SyncedAt           time.Time          `json:"synced_at"`
}

// BillingEventRecord is the audit trail entry for one processed webhook
// delivery. The raw payload is retained (compressed) for later correlation;
// ErrorDetail holds the full internal failure text that is never exposed in
// the HTTP response.
type BillingEventRecord struct {
	EventID        string       `json:"event_id"`
	EventType      string       `json:"event_type"`
	SubscriptionID string       `json:"subscription_id,omitempty"`
	OrganizationID string       `json:"organization_id,omitempty"`
	Outcome        EventOutcome `json:"outcome"`
	ErrorDetail    string       `json:"error_detail,omitempty"`
	Livemode       bool         `json:"livemode"`
	ReceivedAt     time.Time    `json:"received_at"`
}

// PlanLimits defines the resource ceilings attached to a plan tier.
// Zero means unlimited; enforcement code must treat 0 as no limit.
type PlanLimits struct {
	MaxProfiles      int  `json:"max_profiles"`
	MaxMembers       int  `json:"max_members"`
	AllowAIGenerated bool `json:"allow_ai_generated"`
}

// RedirectURLs carries the post-checkout redirect targets supplied by the
// dashboard when creating a Stripe Checkout session.
type RedirectURLs struct {
	Success string `json:"success_url"`
	Cancel  string `json:"cancel_url"`
}

// SendInput carries pre-rendered email content for the email provider.
// ReferenceID is an optional correlation ID (the source notification's
// message ID) attached as a provider tag.
type SendInput struct {
	From        EmailAddress
	To          string
	Subject     string
	BodyHTML    string
	BodyText    string
	ReferenceID string
}

// EmailAddress pairs a display name with an address.
type EmailAddress struct {
	Name    string
	Address string
}

// ResponseMeta conveys non-blocking warnings alongside successful responses.
type ResponseMeta struct {
	Warnings []string `json:"warnings,omitempty"`
}

// PageInfo carries cursor pagination state for list responses.
type PageInfo struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}
