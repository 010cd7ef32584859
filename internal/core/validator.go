package core

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"aiohub/internal/types"
)

// Validator wraps go-playground/validator with domain-specific rules and
// translates validation failures into the platform's AppError taxonomy.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator and registers custom validation tags.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New()

	// "plan" validates a purchasable plan tier. The free tier is excluded:
	// nothing is purchasable about it, downgrades happen via cancellation.
	_ = v.RegisterValidation("plan", func(fl validator.FieldLevel) bool {
		switch types.PlanTier(fl.Field().String()) {
		case types.PlanStarter, types.PlanPro, types.PlanEnterprise:
			return true
		default:
			return false
		}
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct validates a request DTO against its struct tags. On failure
// it returns a *types.AppError carrying a per-field breakdown in Details;
// the error code reflects the first failed rule so simple clients can branch
// without parsing details.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		// InvalidValidationError: the caller passed a non-struct. This is a
		// programming error, not a client error.
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = fe.Tag()
	}

	code := types.ErrCodeValidationMissingField
	switch verrs[0].Tag() {
	case "required":
		code = types.ErrCodeValidationMissingField
	case "email":
		code = types.ErrCodeValidationInvalidEmail
	case "url", "http_url":
		code = types.ErrCodeValidationInvalidURL
	case "plan", "oneof":
		code = types.ErrCodeValidationInvalidPlan
	}

	return types.NewAppErrorWithDetails(code, "request validation failed", err, map[string]any{
		"fields": fields,
	})
}
