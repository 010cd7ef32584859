package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"aiohub/internal/types"
)

func TestOrganizationRepository_GetByID_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewOrganizationRepository(db)

	now := time.Now().UTC()
	row := &mockRow{
		scanFn: func(dest ...any) error {
			*dest[0].(*string) = "org_1"
			*dest[1].(*string) = "Acme Corp"
			*dest[2].(*string) = "billing@acme.test"
			cus := "cus_1"
			*dest[3].(**string) = &cus
			*dest[4].(*types.PlanTier) = types.PlanPro
			*dest[5].(*time.Time) = now
			*dest[6].(**time.Time) = nil
			return nil
		},
	}
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(row)

	org, err := repo.GetByID(context.Background(), "org_1")
	require.NoError(t, err)
	assert.Equal(t, "org_1", org.ID)
	assert.Equal(t, "cus_1", org.StripeCustomerID)
	assert.Equal(t, types.PlanPro, org.Plan)
}

func TestOrganizationRepository_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewOrganizationRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	_, err := repo.GetByID(context.Background(), "org_missing")
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundOrg, appErr.Code)
}

func TestOrganizationRepository_GetBillingInfo_NoCustomerYet(t *testing.T) {
	db := new(mockDBTX)
	repo := NewOrganizationRepository(db)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(**string) = nil
			*dest[1].(*string) = "billing@acme.test"
			return nil
		}})

	customerID, email, err := repo.GetBillingInfo(context.Background(), "org_1")
	require.NoError(t, err)
	assert.Empty(t, customerID)
	assert.Equal(t, "billing@acme.test", email)
}

func TestOrganizationRepository_UpdateStripeCustomerID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewOrganizationRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.UpdateStripeCustomerID(context.Background(), "org_gone", "cus_1")
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundOrg, appErr.Code)
}

func TestOrganizationRepository_UpdatePlan_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewOrganizationRepository(db)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 1"), nil)

	err := repo.UpdatePlan(context.Background(), "org_1", types.PlanEnterprise)
	require.NoError(t, err)
	db.AssertExpectations(t)
}
