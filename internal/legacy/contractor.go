// Package legacy projects consolidated profiles into the flat contractor
// record older dashboard consumers still expect. The projection is a pure
// transform over fixed mapping tables; it holds no state of its own.
package legacy

import (
	"time"

	"github.com/sells-group/profile-service/internal/model"
)

// Contractor is the flat record shape served to backward-compatible clients.
type Contractor struct {
	ContractorID    string     `json:"contractor_id"`
	Name            string     `json:"name"`
	Industry        string     `json:"industry"`
	LifecycleStage  string     `json:"lifecycle_stage"`
	PerformanceTier string     `json:"performance_tier"`
	TotalValue      float64    `json:"total_value"`
	ActiveAwards    int        `json:"active_awards"`
	EmployeeCount   int        `json:"employee_count,omitempty"`
	City            string     `json:"city,omitempty"`
	State           string     `json:"state,omitempty"`
	Website         string     `json:"website,omitempty"`
	LastActivity    *time.Time `json:"last_activity,omitempty"`
	ProfileComplete bool       `json:"profile_complete"`
}

// sectorNames maps 2-character industry sector codes to the display names
// the legacy dashboard used.
var sectorNames = map[string]string{
	"11": "Agriculture",
	"21": "Mining & Extraction",
	"22": "Utilities",
	"23": "Construction",
	"31": "Manufacturing",
	"32": "Manufacturing",
	"33": "Manufacturing",
	"42": "Wholesale Trade",
	"48": "Transportation",
	"49": "Transportation",
	"51": "Information",
	"52": "Finance & Insurance",
	"54": "Professional Services",
	"56": "Administrative Services",
	"61": "Education",
	"62": "Health Care",
	"81": "Other Services",
	"92": "Public Administration",
}

const unknownIndustry = "Other"

// IndustryFromCode resolves a sector display name from an industry code,
// using only the leading two characters.
func IndustryFromCode(code string) string {
	if len(code) < 2 {
		return unknownIndustry
	}
	if name, ok := sectorNames[code[:2]]; ok {
		return name
	}
	return unknownIndustry
}

// PerformanceTier buckets an overall rating the way the legacy UI labeled
// contractors.
func PerformanceTier(rating float64) string {
	switch {
	case rating >= 75:
		return "top"
	case rating >= 50:
		return "strong"
	case rating >= 25:
		return "average"
	default:
		return "weak"
	}
}

// lifecycleByTier maps performance tiers to the legacy lifecycle stages.
var lifecycleByTier = map[string]string{
	"top":     "established",
	"strong":  "growth",
	"average": "developing",
	"weak":    "early",
}

// LifecycleStage maps a performance tier to its lifecycle stage.
func LifecycleStage(tier string) string {
	if stage, ok := lifecycleByTier[tier]; ok {
		return stage
	}
	return "early"
}

// completenessFloor is the completeness at which the legacy UI showed a
// profile as "complete" (financial plus enrichment present).
const completenessFloor = 70

// ProjectContractor flattens a consolidated profile into the legacy shape.
func ProjectContractor(p *model.ConsolidatedProfile) *Contractor {
	c := &Contractor{
		ContractorID:    p.EntityKey,
		Name:            p.PrimaryName,
		Industry:        unknownIndustry,
		ProfileComplete: p.Completeness >= completenessFloor,
	}

	tier := PerformanceTier(p.QuickAccess.PerformanceRating)
	c.PerformanceTier = tier
	c.LifecycleStage = LifecycleStage(tier)

	if p.Financial != nil {
		fin := p.Financial.Data
		c.TotalValue = fin.TotalAwardValue
		c.ActiveAwards = fin.ActiveAwards
		c.LastActivity = fin.LastActivityDate
		c.Industry = IndustryFromCode(fin.IndustryCode)
	}

	// Enrichment wins the industry mapping when both sources carry a code.
	if p.Enrichment != nil {
		enr := p.Enrichment.Data
		c.EmployeeCount = enr.EmployeeCount
		c.City = enr.City
		c.State = enr.State
		c.Website = enr.Website
		if enr.IndustryCode != "" {
			c.Industry = IndustryFromCode(enr.IndustryCode)
		}
	}
	return c
}
