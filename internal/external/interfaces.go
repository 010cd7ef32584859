package external

import (
	"context"

	"aiohub/internal/types"
)

// ---------------------------------------------------------------------------
// Billing Integration (Stripe)
// ---------------------------------------------------------------------------

// BillingService abstracts the dashboard-facing interactions with the payment
// provider (Stripe). Implementations translate between domain types and
// vendor-specific APIs.
type BillingService interface {
	// EnsureCustomer retrieves or creates a Stripe customer for the given org.
	// Returns the Stripe customer ID. Uses search-first logic to prevent duplicates.
	EnsureCustomer(ctx context.Context, orgID string, email string) (string, error)

	// CreateCheckoutSession generates a Stripe Checkout URL for the user to
	// enter payment info. orgID is set as client_reference_id and carried in
	// metadata for webhook correlation.
	CreateCheckoutSession(ctx context.Context, orgID string, plan types.PlanTier, urls types.RedirectURLs) (checkoutURL string, sessionID string, err error)

	// CreatePortalSession generates a Stripe Billing Portal URL for self-serve
	// billing management.
	CreatePortalSession(ctx context.Context, orgID string, returnURL string) (portalURL string, err error)
}

// SubscriptionFetcher retrieves the authoritative subscription resource from
// the payment provider. Webhook processing never trusts the object embedded
// in the event payload: deliveries can arrive out of order, so the embedded
// snapshot may be stale. Re-fetching by ID always yields current state.
type SubscriptionFetcher interface {
	// RetrieveSubscription fetches a subscription by its provider ID.
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*StripeSubscription, error)
}

// WebhookVerifier abstracts Stripe webhook signature checking.
type WebhookVerifier interface {
	// Verify validates a webhook payload against the provided signature header
	// and signing secret. Returns nil on success, an error on failure.
	Verify(payload []byte, header string, secret string) error
}

// Stripe event type constants prevent magic strings in webhook handlers.
const (
	EventStripeCheckoutCompleted = "checkout.session.completed"
	EventStripeSubCreated        = "customer.subscription.created"
	EventStripeSubUpdated        = "customer.subscription.updated"
	EventStripeSubDeleted        = "customer.subscription.deleted"
	EventStripeSubPaused         = "customer.subscription.paused"
	EventStripeSubResumed        = "customer.subscription.resumed"
	EventStripeInvoicePaid       = "invoice.paid"
	EventStripePaymentFailed     = "invoice.payment_failed"
)

// ---------------------------------------------------------------------------
// Email Integration (AWS SES)
// ---------------------------------------------------------------------------

// EmailProvider abstracts interactions with the email delivery service (AWS SES).
// Implementations transmit pre-rendered email content (Subject, BodyHTML, BodyText).
type EmailProvider interface {
	// Send transmits an email with pre-rendered content.
	// Returns the provider's message ID for tracking and correlation.
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}
