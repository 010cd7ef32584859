package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"aiohub/internal/external"
	"aiohub/internal/types"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) RetrieveSubscription(ctx context.Context, subscriptionID string) (*external.StripeSubscription, error) {
	args := m.Called(ctx, subscriptionID)
	if sub := args.Get(0); sub != nil {
		return sub.(*external.StripeSubscription), args.Error(1)
	}
	return nil, args.Error(1)
}

type mockProjectionStore struct {
	mock.Mock
}

func (m *mockProjectionStore) Upsert(ctx context.Context, projection *types.SubscriptionProjection) error {
	args := m.Called(ctx, projection)
	return args.Error(0)
}

type mockOrgStore struct {
	mock.Mock
}

func (m *mockOrgStore) UpdatePlan(ctx context.Context, orgID string, plan types.PlanTier) error {
	args := m.Called(ctx, orgID, plan)
	return args.Error(0)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// setPrice populates the subscription's item list with a single price. The
// item types are internal to the external package, so tests set them the same
// way production does: by decoding Stripe-shaped JSON.
func setPrice(sub *external.StripeSubscription, priceID string) {
	fragment := fmt.Sprintf(`{"items":{"data":[{"price":{"id":%q}}]}}`, priceID)
	if err := json.Unmarshal([]byte(fragment), sub); err != nil {
		panic(err)
	}
}

func TestProjector_Refresh_ActiveSubscription(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockProjectionStore)
	orgs := new(mockOrgStore)
	projector := NewProjector(fetcher, store, orgs, testLogger())

	sub := &external.StripeSubscription{
		ID:                 "sub_1",
		Customer:           "cus_1",
		Status:             "active",
		CurrentPeriodStart: 1754006400,
		CurrentPeriodEnd:   1756684800,
		Metadata:           map[string]string{"org_id": "org_1"},
	}
	setPrice(sub, "price_pro")
	fetcher.On("RetrieveSubscription", mock.Anything, "sub_1").Return(sub, nil)

	var stored *types.SubscriptionProjection
	store.On("Upsert", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			stored = args.Get(1).(*types.SubscriptionProjection)
		}).
		Return(nil)
	orgs.On("UpdatePlan", mock.Anything, "org_1", types.PlanPro).Return(nil)

	got, err := projector.Refresh(context.Background(), "sub_1")
	require.NoError(t, err)

	assert.Equal(t, "sub_1", got.SubscriptionID)
	assert.Equal(t, "org_1", got.OrganizationID)
	assert.Equal(t, types.SubStatusActive, got.Status)
	assert.Equal(t, types.PlanPro, got.Plan)
	assert.Equal(t, time.Unix(1754006400, 0).UTC(), got.CurrentPeriodStart)
	assert.Same(t, stored, got)
	orgs.AssertExpectations(t)
}

func TestProjector_Refresh_CanceledDowngradesOrgToFree(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockProjectionStore)
	orgs := new(mockOrgStore)
	projector := NewProjector(fetcher, store, orgs, testLogger())

	sub := &external.StripeSubscription{
		ID:       "sub_1",
		Customer: "cus_1",
		Status:   "canceled",
		Metadata: map[string]string{"org_id": "org_1"},
	}
	setPrice(sub, "price_pro")
	fetcher.On("RetrieveSubscription", mock.Anything, "sub_1").Return(sub, nil)
	store.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	orgs.On("UpdatePlan", mock.Anything, "org_1", types.PlanFree).Return(nil)

	got, err := projector.Refresh(context.Background(), "sub_1")
	require.NoError(t, err)

	// The projection keeps the price-derived plan; only the org is downgraded.
	assert.Equal(t, types.SubStatusCanceled, got.Status)
	assert.Equal(t, types.PlanPro, got.Plan)
	orgs.AssertExpectations(t)
}

func TestProjector_Refresh_UnknownPriceFallsBackToFree(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockProjectionStore)
	orgs := new(mockOrgStore)
	projector := NewProjector(fetcher, store, orgs, testLogger())

	sub := &external.StripeSubscription{
		ID:       "sub_1",
		Customer: "cus_1",
		Status:   "active",
		Metadata: map[string]string{"org_id": "org_1"},
	}
	setPrice(sub, "price_legacy_gold")
	fetcher.On("RetrieveSubscription", mock.Anything, "sub_1").Return(sub, nil)
	store.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	orgs.On("UpdatePlan", mock.Anything, "org_1", types.PlanFree).Return(nil)

	got, err := projector.Refresh(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanFree, got.Plan)
}

func TestProjector_Refresh_MissingOrgMetadataSkipsPlanSync(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockProjectionStore)
	orgs := new(mockOrgStore)
	projector := NewProjector(fetcher, store, orgs, testLogger())

	sub := &external.StripeSubscription{
		ID:       "sub_1",
		Customer: "cus_1",
		Status:   "active",
	}
	setPrice(sub, "price_starter")
	fetcher.On("RetrieveSubscription", mock.Anything, "sub_1").Return(sub, nil)
	store.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	_, err := projector.Refresh(context.Background(), "sub_1")
	require.NoError(t, err)
	orgs.AssertNotCalled(t, "UpdatePlan", mock.Anything, mock.Anything, mock.Anything)
}

func TestProjector_Refresh_OrgNotFoundIsTolerated(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockProjectionStore)
	orgs := new(mockOrgStore)
	projector := NewProjector(fetcher, store, orgs, testLogger())

	sub := &external.StripeSubscription{
		ID:       "sub_1",
		Customer: "cus_1",
		Status:   "active",
		Metadata: map[string]string{"org_id": "org_deleted"},
	}
	setPrice(sub, "price_starter")
	fetcher.On("RetrieveSubscription", mock.Anything, "sub_1").Return(sub, nil)
	store.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	orgs.On("UpdatePlan", mock.Anything, "org_deleted", types.PlanStarter).
		Return(types.NewAppError(types.ErrCodeNotFoundOrg, "org not found", nil))

	_, err := projector.Refresh(context.Background(), "sub_1")
	require.NoError(t, err)
}

func TestProjector_Refresh_FetchErrorPropagates(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockProjectionStore)
	orgs := new(mockOrgStore)
	projector := NewProjector(fetcher, store, orgs, testLogger())

	wantErr := types.NewAppError(types.ErrCodeUpstreamUnavailable, "stripe down", nil)
	fetcher.On("RetrieveSubscription", mock.Anything, "sub_1").Return(nil, wantErr)

	_, err := projector.Refresh(context.Background(), "sub_1")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeUpstreamUnavailable, appErr.Code)
	store.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestProjector_Refresh_UpsertErrorPropagates(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockProjectionStore)
	orgs := new(mockOrgStore)
	projector := NewProjector(fetcher, store, orgs, testLogger())

	sub := &external.StripeSubscription{
		ID:       "sub_1",
		Customer: "cus_1",
		Status:   "active",
		Metadata: map[string]string{"org_id": "org_1"},
	}
	setPrice(sub, "price_pro")
	fetcher.On("RetrieveSubscription", mock.Anything, "sub_1").Return(sub, nil)
	store.On("Upsert", mock.Anything, mock.Anything).
		Return(types.NewAppError(types.ErrCodeInternalDB, "write failed", nil))

	_, err := projector.Refresh(context.Background(), "sub_1")
	require.Error(t, err)
	orgs.AssertNotCalled(t, "UpdatePlan", mock.Anything, mock.Anything, mock.Anything)
}

func TestProjector_Refresh_OrgPlanSyncErrorPropagates(t *testing.T) {
	fetcher := new(mockFetcher)
	store := new(mockProjectionStore)
	orgs := new(mockOrgStore)
	projector := NewProjector(fetcher, store, orgs, testLogger())

	sub := &external.StripeSubscription{
		ID:       "sub_1",
		Customer: "cus_1",
		Status:   "active",
		Metadata: map[string]string{"org_id": "org_1"},
	}
	setPrice(sub, "price_pro")
	fetcher.On("RetrieveSubscription", mock.Anything, "sub_1").Return(sub, nil)
	store.On("Upsert", mock.Anything, mock.Anything).Return(nil)
	orgs.On("UpdatePlan", mock.Anything, "org_1", types.PlanPro).
		Return(types.NewAppError(types.ErrCodeInternalDB, "write failed", nil))

	_, err := projector.Refresh(context.Background(), "sub_1")
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}
