package core

import (
	"errors"
	"log/slog"
	"testing"

	"aiohub/internal/types"
)

type checkoutRequest struct {
	OrgID      string `validate:"required"`
	Plan       string `validate:"required,plan"`
	SuccessURL string `validate:"required,url"`
	Email      string `validate:"omitempty,email"`
}

func newValidator() *Validator {
	return NewValidator(slog.New(slog.NewTextHandler(&discardWriter{}, nil)))
}

func TestValidateStruct(t *testing.T) {
	v := newValidator()

	tests := []struct {
		name     string
		input    checkoutRequest
		wantCode types.ErrorCode
	}{
		{
			name: "valid",
			input: checkoutRequest{
				OrgID:      "org_1",
				Plan:       "pro",
				SuccessURL: "https://app.aiohub.dev/billing/done",
			},
		},
		{
			name: "missing org",
			input: checkoutRequest{
				Plan:       "pro",
				SuccessURL: "https://app.aiohub.dev/billing/done",
			},
			wantCode: types.ErrCodeValidationMissingField,
		},
		{
			name: "free tier is not purchasable",
			input: checkoutRequest{
				OrgID:      "org_1",
				Plan:       "free",
				SuccessURL: "https://app.aiohub.dev/billing/done",
			},
			wantCode: types.ErrCodeValidationInvalidPlan,
		},
		{
			name: "unknown plan",
			input: checkoutRequest{
				OrgID:      "org_1",
				Plan:       "platinum",
				SuccessURL: "https://app.aiohub.dev/billing/done",
			},
			wantCode: types.ErrCodeValidationInvalidPlan,
		},
		{
			name: "bad email",
			input: checkoutRequest{
				OrgID:      "org_1",
				Plan:       "starter",
				SuccessURL: "https://app.aiohub.dev/billing/done",
				Email:      "not-an-email",
			},
			wantCode: types.ErrCodeValidationInvalidEmail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateStruct(tt.input)

			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}

			var appErr *types.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("expected AppError, got %v", err)
			}
			if appErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", appErr.Code, tt.wantCode)
			}
			if appErr.Details["fields"] == nil {
				t.Error("expected per-field details")
			}
		})
	}
}

func TestValidateStruct_NonStruct(t *testing.T) {
	v := newValidator()
	err := v.ValidateStruct("not a struct")

	var appErr *types.AppError
	if !errors.As(err, &appErr) || appErr.Code != types.ErrCodeInternalUnexpected {
		t.Errorf("expected internal_unexpected_error, got %v", err)
	}
}
