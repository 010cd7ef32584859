// Package billing provides subscription state projection and plan management
// for the AIOHub platform.
package billing

import "aiohub/internal/types"

// PlanRegistry defines the authoritative limits for each tier.
// This is the single source of truth for what each plan allows.
type PlanRegistry interface {
	// GetLimits returns the resource limits for the given plan tier.
	// For unknown tiers, returns the most restrictive (Free) limits
	// to fail safely.
	GetLimits(tier types.PlanTier) types.PlanLimits
}

// staticPlanRegistry is a compile-time plan registry backed by an in-memory map.
// It implements PlanRegistry and is the standard implementation for production use.
type staticPlanRegistry struct {
	limits map[types.PlanTier]types.PlanLimits
}

// planDefaults defines the hardcoded plan limits.
//
//	| Plan       | Profiles      | Members       | AI Generation |
//	|------------|---------------|---------------|---------------|
//	| Free       | 1             | 1             | No            |
//	| Starter    | 5             | 3             | Yes           |
//	| Pro        | 25            | 10            | Yes           |
//	| Enterprise | 0 (unlimited) | 0 (unlimited) | Yes           |
//
// Enterprise uses 0 to represent "unlimited" -- enforcement code must treat 0
// as no limit.
var planDefaults = map[types.PlanTier]types.PlanLimits{
	types.PlanFree: {
		MaxProfiles:      1,
		MaxMembers:       1,
		AllowAIGenerated: false,
	},
	types.PlanStarter: {
		MaxProfiles:      5,
		MaxMembers:       3,
		AllowAIGenerated: true,
	},
	types.PlanPro: {
		MaxProfiles:      25,
		MaxMembers:       10,
		AllowAIGenerated: true,
	},
	types.PlanEnterprise: {
		MaxProfiles:      0, // Unlimited -- enforcement treats 0 as no limit
		MaxMembers:       0, // Unlimited -- enforcement treats 0 as no limit
		AllowAIGenerated: true,
	},
}

// freeLimits is cached to avoid map lookups on the fallback path.
var freeLimits = planDefaults[types.PlanFree]

// NewStaticPlanRegistry returns a PlanRegistry backed by the hardcoded plan
// limits. This is the standard production implementation; no database or
// external service is required.
func NewStaticPlanRegistry() PlanRegistry {
	// Copy the defaults into a new map so callers cannot mutate the package-level variable.
	m := make(map[types.PlanTier]types.PlanLimits, len(planDefaults))
	for k, v := range planDefaults {
		m[k] = v
	}
	return &staticPlanRegistry{limits: m}
}

// GetLimits returns the resource limits for the given plan tier.
// If the tier is unknown, it returns the Free tier limits as a safe default.
func (r *staticPlanRegistry) GetLimits(tier types.PlanTier) types.PlanLimits {
	if limits, ok := r.limits[tier]; ok {
		return limits
	}
	return freeLimits
}
