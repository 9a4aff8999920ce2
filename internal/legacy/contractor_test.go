package legacy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/profile-service/internal/model"
)

func TestIndustryFromCode(t *testing.T) {
	cases := []struct {
		code string
		want string
	}{
		{"23", "Construction"},
		{"236220", "Construction"},
		{"541511", "Professional Services"},
		{"33", "Manufacturing"},
		{"99", "Other"},
		{"7", "Other"},
		{"", "Other"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IndustryFromCode(tc.code), "code %q", tc.code)
	}
}

func TestPerformanceTierAndLifecycle(t *testing.T) {
	cases := []struct {
		rating    float64
		wantTier  string
		wantStage string
	}{
		{90, "top", "established"},
		{75, "top", "established"},
		{60, "strong", "growth"},
		{30, "average", "developing"},
		{10, "weak", "early"},
		{0, "weak", "early"},
	}
	for _, tc := range cases {
		tier := PerformanceTier(tc.rating)
		assert.Equal(t, tc.wantTier, tier, "rating %.0f", tc.rating)
		assert.Equal(t, tc.wantStage, LifecycleStage(tier), "rating %.0f", tc.rating)
	}
}

func TestProjectContractor(t *testing.T) {
	p := &model.ConsolidatedProfile{
		EntityKey:    "acme",
		PrimaryName:  "Acme Builders Inc",
		Completeness: 70,
		QuickAccess:  model.QuickAccess{PerformanceRating: 56.25},
		Financial: &model.Slot[model.FinancialPayload]{
			Data: model.FinancialPayload{
				TotalAwardValue: 4200000,
				ActiveAwards:    3,
				IndustryCode:    "33",
			},
		},
		Enrichment: &model.Slot[model.EnrichmentPayload]{
			Data: model.EnrichmentPayload{
				IndustryCode:  "236220",
				EmployeeCount: 120,
				City:          "Denver",
				State:         "CO",
				Website:       "https://acme.example",
			},
		},
	}

	c := ProjectContractor(p)
	assert.Equal(t, "acme", c.ContractorID)
	assert.Equal(t, "Acme Builders Inc", c.Name)
	assert.Equal(t, "Construction", c.Industry, "enrichment code wins over financial")
	assert.Equal(t, "strong", c.PerformanceTier)
	assert.Equal(t, "growth", c.LifecycleStage)
	assert.Equal(t, 4200000.0, c.TotalValue)
	assert.Equal(t, 120, c.EmployeeCount)
	assert.True(t, c.ProfileComplete)
}

func TestProjectContractor_PartialProfile(t *testing.T) {
	p := &model.ConsolidatedProfile{
		EntityKey:    "sparse",
		PrimaryName:  "Sparse LLC",
		Completeness: 40,
		Financial: &model.Slot[model.FinancialPayload]{
			Data: model.FinancialPayload{TotalAwardValue: 100000, IndustryCode: "54"},
		},
	}

	c := ProjectContractor(p)
	assert.Equal(t, "Professional Services", c.Industry)
	assert.Equal(t, "weak", c.PerformanceTier)
	assert.False(t, c.ProfileComplete)
	assert.Zero(t, c.EmployeeCount)
}
