package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"aiohub/internal/types"
)

// SubscriptionProjectionRepo manages the subscription_projections table, the
// local mirror of Stripe subscription state.
//
// Key invariants:
//   - Upsert is keyed by subscription_id, so replaying the same event (or any
//     number of events for the same subscription) converges on one row.
//   - Rows are never deleted; cancellation is just another status written by
//     the projector.
type SubscriptionProjectionRepo struct {
	db DBTX
}

// NewSubscriptionProjectionRepo creates a repo backed by the given database
// connection (pool or transaction).
func NewSubscriptionProjectionRepo(db DBTX) *SubscriptionProjectionRepo {
	return &SubscriptionProjectionRepo{db: db}
}

const projectionColumns = `subscription_id, organization_id, customer_id, status,
	price_id, plan, cancel_at_period_end, current_period_start, current_period_end, synced_at`

// Upsert writes the projection row, inserting on first sight of the
// subscription and overwriting on subsequent syncs. The whole row is replaced
// because the source of truth is the freshly fetched Stripe resource, never a
// merge of old and new local state.
func (r *SubscriptionProjectionRepo) Upsert(ctx context.Context, p *types.SubscriptionProjection) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO subscription_projections
		 (subscription_id, organization_id, customer_id, status, price_id, plan,
		  cancel_at_period_end, current_period_start, current_period_end, synced_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		 ON CONFLICT (subscription_id) DO UPDATE SET
		   organization_id = EXCLUDED.organization_id,
		   customer_id = EXCLUDED.customer_id,
		   status = EXCLUDED.status,
		   price_id = EXCLUDED.price_id,
		   plan = EXCLUDED.plan,
		   cancel_at_period_end = EXCLUDED.cancel_at_period_end,
		   current_period_start = EXCLUDED.current_period_start,
		   current_period_end = EXCLUDED.current_period_end,
		   synced_at = NOW()`,
		p.SubscriptionID,
		p.OrganizationID,
		p.CustomerID,
		p.Status,
		p.PriceID,
		p.Plan,
		p.CancelAtPeriodEnd,
		p.CurrentPeriodStart,
		p.CurrentPeriodEnd,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert subscription projection", err)
	}
	return nil
}

// GetBySubscriptionID retrieves a projection by its Stripe subscription ID.
func (r *SubscriptionProjectionRepo) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*types.SubscriptionProjection, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+projectionColumns+`
		 FROM subscription_projections
		 WHERE subscription_id = $1`,
		subscriptionID,
	)
	return scanProjection(row)
}

// GetByOrganizationID retrieves the most recently synced projection for an
// organization. Backs the dashboard subscription view.
func (r *SubscriptionProjectionRepo) GetByOrganizationID(ctx context.Context, orgID string) (*types.SubscriptionProjection, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+projectionColumns+`
		 FROM subscription_projections
		 WHERE organization_id = $1
		 ORDER BY synced_at DESC
		 LIMIT 1`,
		orgID,
	)
	return scanProjection(row)
}

// scanProjection scans a single projection row. The columns must match the
// order defined in projectionColumns.
func scanProjection(row pgx.Row) (*types.SubscriptionProjection, error) {
	var p types.SubscriptionProjection
	err := row.Scan(
		&p.SubscriptionID,
		&p.OrganizationID,
		&p.CustomerID,
		&p.Status,
		&p.PriceID,
		&p.Plan,
		&p.CancelAtPeriodEnd,
		&p.CurrentPeriodStart,
		&p.CurrentPeriodEnd,
		&p.SyncedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription projection not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve subscription projection", err)
	}
	return &p, nil
}
