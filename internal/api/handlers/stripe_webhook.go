// Package handlers contains the HTTP handler implementations for the AIOHub
// billing API.
//
// This file implements the Stripe webhook endpoint. The handler is NOT behind
// auth middleware -- it is called directly by Stripe. Security is provided by
// verifying the Stripe-Signature header using HMAC-SHA256.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"aiohub/internal/external"
	"aiohub/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a Stripe webhook payload (64 KB).
// Stripe webhook payloads are typically small; this limit protects against abuse.
const maxWebhookBodySize = 64 * 1024

// ---------------------------------------------------------------------------
// Interfaces for webhook handler dependencies
// ---------------------------------------------------------------------------

// SubscriptionProjector refreshes the local subscription projection from the
// authoritative Stripe resource. Satisfied by billing.Projector.
type SubscriptionProjector interface {
	Refresh(ctx context.Context, subscriptionID string) (*types.SubscriptionProjection, error)
}

// EventAuditor records the outcome of every webhook delivery. Satisfied by
// db.BillingEventRepo.
type EventAuditor interface {
	// Record appends an audit row. Every delivery is recorded, including
	// redeliveries of an already-seen event ID; idempotency lives in the
	// projection upsert, not here.
	Record(ctx context.Context, rec *types.BillingEventRecord, rawPayload []byte) error

	// CountSeen reports how many times an event ID has been recorded before.
	CountSeen(ctx context.Context, eventID string) (int, error)
}

// NotificationEnqueuer dispatches billing notifications to the email worker
// queue. Satisfied by queue.BillingNotifier.
type NotificationEnqueuer interface {
	Enqueue(ctx context.Context, n types.BillingNotification) (string, error)
}

// WebhookMetrics counts webhook deliveries by event type and outcome.
// Satisfied by metrics.CloudWatchMetrics.
type WebhookMetrics interface {
	RecordWebhookEvent(ctx context.Context, eventType string, outcome types.EventOutcome)
}

// ---------------------------------------------------------------------------
// Stripe Webhook Handler
// ---------------------------------------------------------------------------

// StripeWebhookHandler handles asynchronous events from Stripe.
//
// Response contract (Stripe's retry machinery is the only caller):
//   - 400: permanent rejection (missing or invalid signature); Stripe stops retrying.
//   - 200: acknowledged; Stripe stops retrying. Covers handled events,
//     unknown event types, and the not-configured case.
//   - 500: processing failed after the event was verified; Stripe retries
//     later, which is exactly what we want for transient DB/API failures.
//
// Response bodies are written directly rather than through the /v1 envelope:
// the shapes here are a wire contract with existing Stripe configurations.
type StripeWebhookHandler struct {
	verifier  external.WebhookVerifier
	projector SubscriptionProjector
	audit     EventAuditor
	notifier  NotificationEnqueuer
	metrics   WebhookMetrics
	secret    string
	logger    *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler. The notifier and
// metrics dependencies are optional; nil disables the corresponding side effect.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	projector SubscriptionProjector,
	audit EventAuditor,
	notifier NotificationEnqueuer,
	metrics WebhookMetrics,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:  verifier,
		projector: projector,
		audit:     audit,
		notifier:  notifier,
		metrics:   metrics,
		secret:    secret,
		logger:    logger,
	}
}

// RegisterRoutes mounts the webhook endpoint at the path Stripe has on file.
// Mounted at the router root, outside the authenticated /v1 namespace.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/stripe/webhook", h.Handle)
}

// Handle processes one incoming Stripe webhook delivery.
//
// Verification order matters: the missing-header check runs before the body
// is even read, so its response does not depend on body content or size, and
// the not-configured check runs before signature verification is attempted
// (a local config fault must not look like a bad request to Stripe).
// Verification failures short-circuit before any persistence or Stripe API
// call, so a spoofed payload can never cause side effects.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		writeWebhookJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing stripe-signature header"})
		return
	}

	if h.secret == "" {
		h.logger.ErrorContext(r.Context(), "stripe webhook secret not configured; acknowledging without processing")
		writeWebhookJSON(w, http.StatusOK, map[string]any{"warning": "Webhook not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		writeWebhookJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request body"})
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		writeWebhookJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid signature"})
		return
	}

	// The payload is authentic from here on; it is now safe to log and
	// persist its contents in full.
	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to parse verified webhook payload", "error", err)
		writeWebhookJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid payload"})
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
		"livemode", event.Livemode,
	)
	h.logRedelivery(r.Context(), event.ID)

	outcome := h.dispatch(r.Context(), &event, payload)
	h.recordMetric(r.Context(), event.Type, outcome)

	switch outcome {
	case types.OutcomeProcessed:
		writeWebhookJSON(w, http.StatusOK, map[string]any{"processed": true})
	case types.OutcomeIgnored:
		writeWebhookJSON(w, http.StatusOK, map[string]any{"received": true})
	default:
		// The full failure detail is in the logs and the audit trail; the
		// response stays opaque.
		writeWebhookJSON(w, http.StatusInternalServerError, map[string]any{"error": "Internal server error"})
	}
}

// dispatch routes a verified event to its handler and records the audit row.
// It returns the outcome that determines the HTTP response.
func (h *StripeWebhookHandler) dispatch(ctx context.Context, event *stripeWebhookEvent, payload []byte) types.EventOutcome {
	var (
		err error
		rec = &types.BillingEventRecord{
			EventID:   event.ID,
			EventType: event.Type,
			Livemode:  event.Livemode,
		}
	)

	switch event.Type {
	case external.EventStripeSubCreated,
		external.EventStripeSubUpdated,
		external.EventStripeSubDeleted,
		external.EventStripeSubPaused,
		external.EventStripeSubResumed:
		err = h.handleSubscriptionEvent(ctx, event, rec)

	case external.EventStripeCheckoutCompleted:
		err = h.handleCheckoutCompleted(ctx, event, rec)

	case external.EventStripeInvoicePaid:
		err = h.handleInvoicePaid(ctx, event, rec)

	case external.EventStripePaymentFailed:
		err = h.handlePaymentFailed(ctx, event, rec)

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_id", event.ID,
			"event_type", event.Type,
		)
		rec.Outcome = types.OutcomeIgnored
		h.recordAudit(ctx, rec, payload)
		return types.OutcomeIgnored
	}

	if err != nil {
		h.logger.ErrorContext(ctx, "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
		rec.Outcome = types.OutcomeFailed
		rec.ErrorDetail = err.Error()
		h.recordAudit(ctx, rec, payload)
		return types.OutcomeFailed
	}

	rec.Outcome = types.OutcomeProcessed
	h.recordAudit(ctx, rec, payload)
	return types.OutcomeProcessed
}

// handleSubscriptionEvent processes all customer.subscription.* lifecycle
// events identically: re-fetch the authoritative resource and upsert the
// projection. The embedded object is only trusted for its ID.
func (h *StripeWebhookHandler) handleSubscriptionEvent(ctx context.Context, event *stripeWebhookEvent, rec *types.BillingEventRecord) error {
	subID := event.subscriptionObjectID()
	if subID == "" {
		return fmt.Errorf("%s: event %s carries no subscription id", event.Type, event.ID)
	}
	rec.SubscriptionID = subID

	projection, err := h.projector.Refresh(ctx, subID)
	if err != nil {
		return fmt.Errorf("refresh subscription %s: %w", subID, err)
	}
	rec.OrganizationID = projection.OrganizationID
	return nil
}

// handleCheckoutCompleted processes checkout.session.completed events. The
// projection refresh runs only when the session actually created a
// subscription; one-time payments complete checkout with a null subscription
// and must not trigger a subscription fetch. A welcome email is enqueued on
// success, but an enqueue failure never fails the event: the projection is
// already applied, and forcing a Stripe redelivery to resend an email would
// reprocess the whole event.
func (h *StripeWebhookHandler) handleCheckoutCompleted(ctx context.Context, event *stripeWebhookEvent, rec *types.BillingEventRecord) error {
	session, err := event.checkoutSession()
	if err != nil {
		return fmt.Errorf("checkout.session.completed: decode session object: %w", err)
	}
	rec.OrganizationID = session.orgID()

	if session.Subscription == "" {
		h.logger.InfoContext(ctx, "checkout completed without subscription; nothing to project",
			"event_id", event.ID,
			"session_id", session.ID,
		)
		return nil
	}
	rec.SubscriptionID = session.Subscription

	projection, err := h.projector.Refresh(ctx, session.Subscription)
	if err != nil {
		return fmt.Errorf("refresh subscription %s: %w", session.Subscription, err)
	}
	if rec.OrganizationID == "" {
		rec.OrganizationID = projection.OrganizationID
	}

	h.enqueueNotification(ctx, types.BillingNotification{
		Kind:           types.NotificationWelcome,
		OrganizationID: rec.OrganizationID,
		Email:          session.CustomerDetails.Email,
		Plan:           projection.Plan,
		SubscriptionID: projection.SubscriptionID,
		SourceEventID:  event.ID,
	})
	return nil
}

// handleInvoicePaid processes invoice.paid events: refresh the projection when
// the invoice belongs to a subscription, then enqueue a payment receipt.
func (h *StripeWebhookHandler) handleInvoicePaid(ctx context.Context, event *stripeWebhookEvent, rec *types.BillingEventRecord) error {
	invoice, err := event.invoice()
	if err != nil {
		return fmt.Errorf("invoice.paid: decode invoice object: %w", err)
	}
	rec.OrganizationID = invoice.orgID()

	plan := types.PlanFree
	if invoice.Subscription != "" {
		rec.SubscriptionID = invoice.Subscription
		projection, err := h.projector.Refresh(ctx, invoice.Subscription)
		if err != nil {
			return fmt.Errorf("refresh subscription %s: %w", invoice.Subscription, err)
		}
		if rec.OrganizationID == "" {
			rec.OrganizationID = projection.OrganizationID
		}
		plan = projection.Plan
	}

	h.enqueueNotification(ctx, types.BillingNotification{
		Kind:           types.NotificationReceipt,
		OrganizationID: rec.OrganizationID,
		Email:          invoice.CustomerEmail,
		Plan:           plan,
		SubscriptionID: rec.SubscriptionID,
		SourceEventID:  event.ID,
	})
	return nil
}

// handlePaymentFailed processes invoice.payment_failed events. Stripe moves
// the subscription to past_due before emitting this event, so a projection
// refresh captures the dunning state.
func (h *StripeWebhookHandler) handlePaymentFailed(ctx context.Context, event *stripeWebhookEvent, rec *types.BillingEventRecord) error {
	invoice, err := event.invoice()
	if err != nil {
		return fmt.Errorf("invoice.payment_failed: decode invoice object: %w", err)
	}
	rec.OrganizationID = invoice.orgID()

	if invoice.Subscription == "" {
		h.logger.WarnContext(ctx, "payment failed for invoice without subscription",
			"event_id", event.ID,
		)
		return nil
	}
	rec.SubscriptionID = invoice.Subscription

	projection, err := h.projector.Refresh(ctx, invoice.Subscription)
	if err != nil {
		return fmt.Errorf("refresh subscription %s: %w", invoice.Subscription, err)
	}
	if rec.OrganizationID == "" {
		rec.OrganizationID = projection.OrganizationID
	}
	return nil
}

// logRedelivery checks the audit trail for prior deliveries of this event ID.
// Redeliveries are processed normally (the projection upsert is idempotent);
// this exists purely for operational visibility.
func (h *StripeWebhookHandler) logRedelivery(ctx context.Context, eventID string) {
	if h.audit == nil || eventID == "" {
		return
	}
	seen, err := h.audit.CountSeen(ctx, eventID)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to check event redelivery count", "event_id", eventID, "error", err)
		return
	}
	if seen > 0 {
		h.logger.InfoContext(ctx, "event redelivered", "event_id", eventID, "prior_deliveries", seen)
	}
}

// recordAudit appends the audit row. Audit failures are logged and swallowed:
// the audit trail is diagnostic, and failing a delivery over it would trade a
// lost log line for a full Stripe redelivery cycle.
func (h *StripeWebhookHandler) recordAudit(ctx context.Context, rec *types.BillingEventRecord, payload []byte) {
	if h.audit == nil {
		return
	}
	rec.ReceivedAt = time.Now().UTC()
	if err := h.audit.Record(ctx, rec, payload); err != nil {
		h.logger.ErrorContext(ctx, "failed to record billing event audit row",
			"event_id", rec.EventID,
			"error", err,
		)
	}
}

// enqueueNotification sends a notification to the email queue, logging and
// swallowing failures.
func (h *StripeWebhookHandler) enqueueNotification(ctx context.Context, n types.BillingNotification) {
	if h.notifier == nil {
		return
	}
	if n.Email == "" {
		h.logger.WarnContext(ctx, "skipping notification with no recipient email",
			"kind", string(n.Kind),
			"source_event_id", n.SourceEventID,
		)
		return
	}
	if _, err := h.notifier.Enqueue(ctx, n); err != nil {
		h.logger.ErrorContext(ctx, "failed to enqueue billing notification",
			"kind", string(n.Kind),
			"source_event_id", n.SourceEventID,
			"error", err,
		)
	}
}

func (h *StripeWebhookHandler) recordMetric(ctx context.Context, eventType string, outcome types.EventOutcome) {
	if h.metrics == nil {
		return
	}
	h.metrics.RecordWebhookEvent(ctx, eventType, outcome)
}

// writeWebhookJSON writes a response body directly, bypassing the /v1
// envelope. The body shapes here are a fixed wire contract.
func writeWebhookJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// ---------------------------------------------------------------------------
// Stripe Event Parsing
// ---------------------------------------------------------------------------

// stripeWebhookEvent is a minimal representation of a Stripe webhook event
// tailored to extract the fields needed for routing. We avoid importing the
// full stripe.Event type to keep the handler decoupled from the stripe-go
// library and to make testing straightforward.
type stripeWebhookEvent struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Created  int64           `json:"created"`
	Livemode bool            `json:"livemode"`
	Data     stripeEventData `json:"data"`
}

// stripeEventData wraps the event data object.
type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

// stripeObjectID captures only the ID of an embedded object. For subscription
// lifecycle events this is the single field the handler trusts; everything
// else is re-fetched.
type stripeObjectID struct {
	ID string `json:"id"`
}

// stripeCheckoutSessionObj represents the minimal fields from a
// checkout.session.completed event's data object. Subscription decodes JSON
// null to "".
type stripeCheckoutSessionObj struct {
	ID                string              `json:"id"`
	Subscription      string              `json:"subscription"`
	Customer          string              `json:"customer"`
	ClientReferenceID string              `json:"client_reference_id"`
	Metadata          map[string]string   `json:"metadata"`
	CustomerDetails   stripeCustomerBrief `json:"customer_details"`
}

type stripeCustomerBrief struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// orgID resolves the organization from a checkout session, preferring
// client_reference_id (set by CreateCheckoutSession) over metadata.
func (s *stripeCheckoutSessionObj) orgID() string {
	if s.ClientReferenceID != "" {
		return s.ClientReferenceID
	}
	return s.Metadata["org_id"]
}

// stripeInvoiceObj represents the minimal fields from an invoice event's
// data object.
type stripeInvoiceObj struct {
	ID                  string            `json:"id"`
	Subscription        string            `json:"subscription"`
	CustomerEmail       string            `json:"customer_email"`
	Metadata            map[string]string `json:"metadata"`
	SubscriptionDetails *stripeSubDetails `json:"subscription_details"`
}

type stripeSubDetails struct {
	Metadata map[string]string `json:"metadata"`
}

// orgID resolves the organization from an invoice, preferring the
// subscription's metadata (which Stripe copies into subscription_details).
func (i *stripeInvoiceObj) orgID() string {
	if i.SubscriptionDetails != nil {
		if orgID := i.SubscriptionDetails.Metadata["org_id"]; orgID != "" {
			return orgID
		}
	}
	return i.Metadata["org_id"]
}

// subscriptionObjectID extracts the subscription ID from a
// customer.subscription.* event's embedded object.
func (e *stripeWebhookEvent) subscriptionObjectID() string {
	var obj stripeObjectID
	if err := json.Unmarshal(e.Data.Object, &obj); err != nil {
		return ""
	}
	return obj.ID
}

// checkoutSession decodes the embedded checkout session object.
func (e *stripeWebhookEvent) checkoutSession() (*stripeCheckoutSessionObj, error) {
	var session stripeCheckoutSessionObj
	if err := json.Unmarshal(e.Data.Object, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// invoice decodes the embedded invoice object.
func (e *stripeWebhookEvent) invoice() (*stripeInvoiceObj, error) {
	var invoice stripeInvoiceObj
	if err := json.Unmarshal(e.Data.Object, &invoice); err != nil {
		return nil, err
	}
	return &invoice, nil
}
