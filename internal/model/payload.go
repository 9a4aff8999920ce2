package model

import "time"

// PerformanceDimensions fixes the ordering used when ranking performance
// scores. Ties between dimensions resolve to the first listed.
var PerformanceDimensions = []string{"revenue", "growth", "efficiency", "consistency"}

// PerformanceScores holds percentile-style scores (0-100) across the
// dimensions the financial source reports.
type PerformanceScores struct {
	Revenue     float64 `json:"revenue"`
	Growth      float64 `json:"growth"`
	Efficiency  float64 `json:"efficiency"`
	Consistency float64 `json:"consistency"`
}

// ByDimension returns the score for a named dimension.
func (s PerformanceScores) ByDimension(dim string) float64 {
	switch dim {
	case "revenue":
		return s.Revenue
	case "growth":
		return s.Growth
	case "efficiency":
		return s.Efficiency
	case "consistency":
		return s.Consistency
	default:
		return 0
	}
}

// Overall averages the four dimensions into a single headline rating.
func (s PerformanceScores) Overall() float64 {
	return (s.Revenue + s.Growth + s.Efficiency + s.Consistency) / 4
}

// FinancialPayload is the award/performance data pulled from the warehouse.
type FinancialPayload struct {
	RecipientName    string            `json:"recipient_name"`
	TotalAwardValue  float64           `json:"total_award_value"`
	ActiveAwards     int               `json:"active_awards"`
	Scores           PerformanceScores `json:"scores"`
	IndustryCode     string            `json:"industry_code,omitempty"`
	LastActivityDate *time.Time        `json:"last_activity_date,omitempty"`
}

// EnrichmentPayload is firmographic and contact data from the enrichment API.
type EnrichmentPayload struct {
	CompanyName   string `json:"company_name"`
	Industry      string `json:"industry,omitempty"`
	IndustryCode  string `json:"industry_code,omitempty"`
	SizeTier      string `json:"size_tier,omitempty"`
	EmployeeCount int    `json:"employee_count,omitempty"`
	FoundedYear   int    `json:"founded_year,omitempty"`
	Website       string `json:"website,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Email         string `json:"email,omitempty"`
	City          string `json:"city,omitempty"`
	State         string `json:"state,omitempty"`
}

// InsightsPayload is the AI-generated narrative attached to a profile.
type InsightsPayload struct {
	Summary            string    `json:"summary"`
	StrongestDimension string    `json:"strongest_dimension,omitempty"`
	WeakestDimension   string    `json:"weakest_dimension,omitempty"`
	MarketPosition     string    `json:"market_position,omitempty"`
	NetworkStrength    string    `json:"network_strength,omitempty"`
	Model              string    `json:"model,omitempty"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// NetworkPayload is the computed relationship data for an entity.
type NetworkPayload struct {
	RelationshipCount int     `json:"relationship_count"`
	SharedPartners    int     `json:"shared_partners"`
	Classification    string  `json:"classification,omitempty"`
	NetworkScore      float64 `json:"network_score"`
}

// SourceUpdate is a tagged union carrying exactly one payload, identified by
// Kind. Exactly the field matching Kind is expected to be set.
type SourceUpdate struct {
	Kind       SourceKind         `json:"kind"`
	Financial  *FinancialPayload  `json:"financial,omitempty"`
	Enrichment *EnrichmentPayload `json:"enrichment,omitempty"`
	Insights   *InsightsPayload   `json:"insights,omitempty"`
	Network    *NetworkPayload    `json:"network,omitempty"`
}
