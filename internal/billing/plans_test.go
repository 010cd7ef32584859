package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"aiohub/internal/types"
)

func TestStaticPlanRegistry_GetLimits(t *testing.T) {
	registry := NewStaticPlanRegistry()

	tests := []struct {
		name string
		tier types.PlanTier
		want types.PlanLimits
	}{
		{
			name: "free",
			tier: types.PlanFree,
			want: types.PlanLimits{MaxProfiles: 1, MaxMembers: 1, AllowAIGenerated: false},
		},
		{
			name: "starter",
			tier: types.PlanStarter,
			want: types.PlanLimits{MaxProfiles: 5, MaxMembers: 3, AllowAIGenerated: true},
		},
		{
			name: "pro",
			tier: types.PlanPro,
			want: types.PlanLimits{MaxProfiles: 25, MaxMembers: 10, AllowAIGenerated: true},
		},
		{
			name: "enterprise is unlimited",
			tier: types.PlanEnterprise,
			want: types.PlanLimits{MaxProfiles: 0, MaxMembers: 0, AllowAIGenerated: true},
		},
		{
			name: "unknown tier falls back to free",
			tier: types.PlanTier("platinum"),
			want: types.PlanLimits{MaxProfiles: 1, MaxMembers: 1, AllowAIGenerated: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, registry.GetLimits(tt.tier))
		})
	}
}
