package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"aiohub/internal/types"
)

// OrganizationRepository provides data access for the organizations table.
// The billing service only needs the slice of the org record that payment
// processing touches: billing contact, Stripe customer linkage, and plan.
type OrganizationRepository struct {
	db DBTX
}

// NewOrganizationRepository creates a new OrganizationRepository backed by the
// given database connection (pool or transaction).
func NewOrganizationRepository(db DBTX) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// GetByID retrieves an organization by its ID. Excludes soft-deleted
// organizations. Returns ErrCodeNotFoundOrg if no active organization is found.
func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*types.Organization, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, name, billing_email, stripe_customer_id, plan, created_at, deleted_at
		 FROM organizations
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)

	var org types.Organization
	var stripeCustomerID *string
	err := row.Scan(
		&org.ID,
		&org.Name,
		&org.BillingEmail,
		&stripeCustomerID,
		&org.Plan,
		&org.CreatedAt,
		&org.DeletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve organization", err)
	}
	if stripeCustomerID != nil {
		org.StripeCustomerID = *stripeCustomerID
	}
	return &org, nil
}

// GetBillingInfo returns the stripe_customer_id and billing_email for the
// given org. Returns ("", email, nil) if the org exists but has no Stripe
// customer yet. Returns ErrCodeNotFoundOrg if the org does not exist or is
// soft-deleted. Satisfies external.OrgBillingLookup.
func (r *OrganizationRepository) GetBillingInfo(ctx context.Context, orgID string) (string, string, error) {
	var customerID *string
	var email string
	err := r.db.QueryRow(ctx,
		`SELECT stripe_customer_id, billing_email
		 FROM organizations
		 WHERE id = $1 AND deleted_at IS NULL`,
		orgID,
	).Scan(&customerID, &email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
		}
		return "", "", types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve billing info", err)
	}
	if customerID == nil {
		return "", email, nil
	}
	return *customerID, email, nil
}

// UpdateStripeCustomerID sets the stripe_customer_id for the given org.
// Satisfies external.OrgBillingLookup.
func (r *OrganizationRepository) UpdateStripeCustomerID(ctx context.Context, orgID string, customerID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE organizations
		 SET stripe_customer_id = $1, updated_at = NOW()
		 WHERE id = $2 AND deleted_at IS NULL`,
		customerID,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update stripe customer id", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
	}
	return nil
}

// UpdatePlan updates the organization's plan tier. Called by webhook
// processing after the subscription projection has been refreshed, so the
// org row mirrors the authoritative Stripe state.
func (r *OrganizationRepository) UpdatePlan(ctx context.Context, id string, plan types.PlanTier) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE organizations
		 SET plan = $1, updated_at = NOW()
		 WHERE id = $2 AND deleted_at IS NULL`,
		plan,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update organization plan", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
	}
	return nil
}

// nilIfZeroTime converts the zero time to nil so database defaults apply.
func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
