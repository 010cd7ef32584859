package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"aiohub/internal/external"
	"aiohub/internal/types"
)

// ProjectionStore persists subscription projections. Satisfied by
// db.SubscriptionProjectionRepo.
type ProjectionStore interface {
	Upsert(ctx context.Context, projection *types.SubscriptionProjection) error
}

// OrgStore is the organization access the projector needs to keep the org's
// effective plan in sync with its subscription. Satisfied by
// db.OrganizationRepository.
type OrgStore interface {
	UpdatePlan(ctx context.Context, orgID string, plan types.PlanTier) error
}

// Projector mirrors Stripe subscription state into the local database.
//
// It never trusts the subscription object embedded in a webhook payload:
// deliveries arrive out of order and the embedded snapshot may be stale.
// Instead it re-fetches the subscription by ID from the Stripe API, so the
// projection always converges on the authoritative state regardless of
// delivery order or duplication. The upsert is keyed by subscription ID,
// making Refresh safe to call any number of times for the same event.
type Projector struct {
	fetcher external.SubscriptionFetcher
	store   ProjectionStore
	orgs    OrgStore
	logger  *slog.Logger
}

// NewProjector creates a Projector.
func NewProjector(
	fetcher external.SubscriptionFetcher,
	store ProjectionStore,
	orgs OrgStore,
	logger *slog.Logger,
) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{
		fetcher: fetcher,
		store:   store,
		orgs:    orgs,
		logger:  logger,
	}
}

// terminalStatuses are subscription states that revoke paid access. An org
// whose subscription lands in one of these is downgraded to the free tier.
var terminalStatuses = map[types.SubscriptionStatus]bool{
	types.SubStatusCanceled:          true,
	types.SubStatusUnpaid:            true,
	types.SubStatusIncompleteExpired: true,
}

// Refresh re-fetches the subscription from Stripe, upserts the local
// projection, and updates the owning organization's plan. It returns the
// stored projection.
//
// Errors from the fetch or the upsert propagate to the caller so the webhook
// handler can signal a retryable failure to Stripe. A missing organization is
// logged and tolerated: the projection is already stored, and the org may
// have been deleted between the subscription's creation and this event.
func (p *Projector) Refresh(ctx context.Context, subscriptionID string) (*types.SubscriptionProjection, error) {
	sub, err := p.fetcher.RetrieveSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	projection := projectionFromStripe(sub)

	if err := p.store.Upsert(ctx, projection); err != nil {
		return nil, err
	}

	if err := p.syncOrgPlan(ctx, projection); err != nil {
		return nil, err
	}

	p.logger.InfoContext(ctx, "subscription projection refreshed",
		"subscription_id", projection.SubscriptionID,
		"org_id", projection.OrganizationID,
		"status", projection.Status,
		"plan", projection.Plan,
	)

	return projection, nil
}

// syncOrgPlan writes the effective plan onto the owning organization.
// Terminal subscription states downgrade the org to free; every other state
// grants the plan derived from the subscription's price.
func (p *Projector) syncOrgPlan(ctx context.Context, projection *types.SubscriptionProjection) error {
	if projection.OrganizationID == "" {
		p.logger.WarnContext(ctx, "subscription has no org_id metadata; skipping org plan sync",
			"subscription_id", projection.SubscriptionID,
		)
		return nil
	}

	effective := projection.Plan
	if terminalStatuses[projection.Status] {
		effective = types.PlanFree
	}

	err := p.orgs.UpdatePlan(ctx, projection.OrganizationID, effective)
	if err == nil {
		return nil
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundOrg {
		p.logger.WarnContext(ctx, "organization not found during plan sync; projection kept",
			"subscription_id", projection.SubscriptionID,
			"org_id", projection.OrganizationID,
		)
		return nil
	}
	return err
}

// projectionFromStripe maps the authoritative Stripe resource into the local
// projection row.
func projectionFromStripe(sub *external.StripeSubscription) *types.SubscriptionProjection {
	priceID := sub.PriceID()
	return &types.SubscriptionProjection{
		SubscriptionID:     sub.ID,
		OrganizationID:     sub.OrgID(),
		CustomerID:         sub.Customer,
		Status:             types.SubscriptionStatus(sub.Status),
		PriceID:            priceID,
		Plan:               external.MapPriceIDToPlan(priceID),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
	}
}
