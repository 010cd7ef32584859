// Package handlers contains the HTTP handler implementations for the AIOHub
// billing API.
//
// This file implements the authenticated /v1 billing surface used by the
// dashboard backend and operators:
//   - Checkout and portal session creation (proxied to Stripe)
//   - Subscription projection reads
//   - Billing event audit trail reads
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"aiohub/internal/billing"
	"aiohub/internal/config"
	"aiohub/internal/core"
	"aiohub/internal/external"
	"aiohub/internal/types"
)

// --- Service Interfaces ---
//
// Defined locally so the handler depends on exactly the capabilities it uses
// and tests can swap in fakes without touching the db or external packages.

// OrgBillingReader provides the minimal organization read access the billing
// handler needs. Satisfied by db.OrganizationRepository.
type OrgBillingReader interface {
	// GetByID returns the organization for the given ID.
	// Returns an error if the organization does not exist or is deleted.
	GetByID(ctx context.Context, orgID string) (*types.Organization, error)
}

// ProjectionReader reads locally stored subscription projections. Satisfied
// by db.SubscriptionProjectionRepo.
type ProjectionReader interface {
	// GetByOrganizationID returns the most recently synced projection for the org.
	GetByOrganizationID(ctx context.Context, orgID string) (*types.SubscriptionProjection, error)
}

// EventLister reads the billing event audit trail. Satisfied by
// db.BillingEventRepo.
type EventLister interface {
	// ListRecent returns the most recent audit rows, newest first.
	ListRecent(ctx context.Context, limit int) ([]*types.BillingEventRecord, error)

	// GetPayload returns the raw Stripe payload of the most recent delivery
	// of the given event ID.
	GetPayload(ctx context.Context, eventID string) ([]byte, error)
}

// --- Request/Response Models ---

// CreateCheckoutRequest is the request body for POST /v1/billing/checkout.
//
// Note: success/cancel URLs are intentionally not accepted from the caller.
// They are constructed server-side from the configured DashboardURL to
// prevent open redirects.
type CreateCheckoutRequest struct {
	OrgID string         `json:"org_id" validate:"required"`
	Plan  types.PlanTier `json:"plan" validate:"required,plan"`
}

// CheckoutResponse is the response for POST /v1/billing/checkout.
type CheckoutResponse struct {
	CheckoutURL string    `json:"checkout_url"`
	SessionID   string    `json:"session_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// CreatePortalRequest is the request body for POST /v1/billing/portal.
type CreatePortalRequest struct {
	OrgID string `json:"org_id" validate:"required"`
}

// PortalResponse is the response for POST /v1/billing/portal.
type PortalResponse struct {
	PortalURL string `json:"portal_url"`
}

// SubscriptionResponse is the response for GET /v1/billing/orgs/{orgID}/subscription.
// Limits reflect the organization's effective plan, so callers get the
// enforceable ceilings alongside the raw subscription state.
type SubscriptionResponse struct {
	Organization *types.Organization           `json:"organization"`
	Subscription *types.SubscriptionProjection `json:"subscription"`
	Limits       types.PlanLimits              `json:"limits"`
}

// --- Billing Handler ---

// BillingHandler handles synchronous billing actions initiated through the
// dashboard backend.
type BillingHandler struct {
	service      external.BillingService
	orgRepo      OrgBillingReader
	projections  ProjectionReader
	events       EventLister
	plans        billing.PlanRegistry
	validator    *core.Validator
	dashboardURL string
	logger       *slog.Logger
}

// NewBillingHandler creates a BillingHandler with the provided dependencies.
// A nil plans registry falls back to the static production registry.
func NewBillingHandler(
	svc external.BillingService,
	orgRepo OrgBillingReader,
	projections ProjectionReader,
	events EventLister,
	plans billing.PlanRegistry,
	cfg *config.Config,
	v *core.Validator,
	l *slog.Logger,
) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	if plans == nil {
		plans = billing.NewStaticPlanRegistry()
	}

	dashboardURL := ""
	if cfg != nil {
		dashboardURL = cfg.Server.DashboardURL
	}

	return &BillingHandler{
		service:      svc,
		orgRepo:      orgRepo,
		projections:  projections,
		events:       events,
		plans:        plans,
		validator:    v,
		dashboardURL: dashboardURL,
		logger:       l,
	}
}

// RegisterRoutes mounts the billing endpoints. Admin authentication is
// applied by the /v1 group, not here.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/checkout", h.CreateCheckout)
	r.Post("/billing/portal", h.CreatePortal)
	r.Get("/billing/orgs/{orgID}/subscription", h.GetSubscription)
	r.Get("/billing/events", h.ListEvents)
	r.Get("/billing/events/{eventID}/payload", h.GetEventPayload)
}

// CreateCheckout handles POST /v1/billing/checkout.
//
//  1. Decode and validate the request. The plan validator rejects "free":
//     downgrades go through the billing portal, not checkout.
//  2. Verify the organization exists.
//  3. Self-healing customer ID: EnsureCustomer guarantees a Stripe customer
//     exists before the session is created.
//  4. Construct the redirect URLs server-side and create the session.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	org, err := h.orgRepo.GetByID(r.Context(), req.OrgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if _, err := h.service.EnsureCustomer(r.Context(), req.OrgID, org.BillingEmail); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to ensure Stripe customer",
			"org_id", req.OrgID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	redirectURLs := types.RedirectURLs{
		Success: h.dashboardURL + "/billing?success=true",
		Cancel:  h.dashboardURL + "/billing?canceled=true",
	}

	checkoutURL, sessionID, err := h.service.CreateCheckoutSession(r.Context(), req.OrgID, req.Plan, redirectURLs)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create checkout session",
			"org_id", req.OrgID,
			"plan", req.Plan,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout session created",
		"org_id", req.OrgID,
		"plan", req.Plan,
		"session_id", sessionID,
	)

	// Checkout sessions expire after 24 hours per Stripe's default behavior.
	resp := CheckoutResponse{
		CheckoutURL: checkoutURL,
		SessionID:   sessionID,
		ExpiresAt:   time.Now().UTC().Add(24 * time.Hour),
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp})
}

// CreatePortal handles POST /v1/billing/portal. The return URL is
// server-controlled for the same open-redirect reason as checkout.
func (h *BillingHandler) CreatePortal(w http.ResponseWriter, r *http.Request) {
	var req CreatePortalRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	org, err := h.orgRepo.GetByID(r.Context(), req.OrgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if _, err := h.service.EnsureCustomer(r.Context(), req.OrgID, org.BillingEmail); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to ensure Stripe customer for portal",
			"org_id", req.OrgID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	portalURL, err := h.service.CreatePortalSession(r.Context(), req.OrgID, h.dashboardURL+"/billing")
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create portal session",
			"org_id", req.OrgID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: PortalResponse{PortalURL: portalURL}})
}

// GetSubscription handles GET /v1/billing/orgs/{orgID}/subscription. It reads
// the local projection only; it never calls Stripe. A missing projection is
// not an error: orgs on the free tier have no subscription, so the field is
// simply null.
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	org, err := h.orgRepo.GetByID(r.Context(), orgID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := SubscriptionResponse{
		Organization: org,
		Limits:       h.plans.GetLimits(org.Plan),
	}

	projection, err := h.projections.GetByOrganizationID(r.Context(), orgID)
	switch {
	case err == nil:
		resp.Subscription = projection
	case types.IsErrorCode(err, types.ErrCodeNotFoundSubscription):
		// Free-tier org; leave subscription null.
	default:
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp})
}

// ListEvents handles GET /v1/billing/events. Returns the most recent webhook
// audit rows, newest first. The limit query parameter defaults to 20 and is
// capped at 100.
func (h *BillingHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 || parsed > 100 {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationInvalidJSON,
				"limit must be a number between 1 and 100",
				nil,
			))
			return
		}
		limit = parsed
	}

	records, err := h.events.ListRecent(r.Context(), limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: records})
}

// GetEventPayload handles GET /v1/billing/events/{eventID}/payload. It serves
// the raw Stripe payload of the most recent delivery of the event, verbatim,
// for operators correlating an audit row with what Stripe actually sent.
// Rows recorded without a retained payload return 404.
func (h *BillingHandler) GetEventPayload(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	payload, err := h.events.GetPayload(r.Context(), eventID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if len(payload) == 0 {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeNotFoundEvent,
			"no payload retained for event",
			nil,
		))
		return
	}

	// The payload is the verified Stripe event JSON as received, not an
	// envelope-wrapped API object.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
