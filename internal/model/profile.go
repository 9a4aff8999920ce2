// Package model defines the consolidated profile record and the types shared
// by the merge, freshness, store, and scheduler layers.
package model

import "time"

// Slot pairs a source payload with its cache metadata.
type Slot[T any] struct {
	Data T             `json:"data"`
	Meta CacheMetadata `json:"meta"`
}

// ConsolidatedProfile is the unit of record: one row per business entity,
// merged from up to four independently-refreshing sources.
type ConsolidatedProfile struct {
	ProfileID        string   `json:"profile_id"`
	EntityKey        string   `json:"entity_key"`
	PrimaryName      string   `json:"primary_name"`
	AlternativeNames []string `json:"alternative_names,omitempty"`

	Financial  *Slot[FinancialPayload]  `json:"financial,omitempty"`
	Enrichment *Slot[EnrichmentPayload] `json:"enrichment,omitempty"`
	Insights   *Slot[InsightsPayload]   `json:"insights,omitempty"`
	Network    *Slot[NetworkPayload]    `json:"network,omitempty"`

	Completeness   int         `json:"completeness"`
	ProfileVersion int64       `json:"profile_version"`
	QuickAccess    QuickAccess `json:"quick_access"`

	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// QuickAccess is a denormalized projection recomputed on every merge so hot
// reads never re-derive these fields from the slots.
type QuickAccess struct {
	DisplayName       string     `json:"display_name"`
	Industry          string     `json:"industry,omitempty"`
	SizeTier          string     `json:"size_tier,omitempty"`
	PerformanceRating float64    `json:"performance_rating"`
	LastActivityDate  *time.Time `json:"last_activity_date,omitempty"`
	TotalValue        float64    `json:"total_value"`
}

// HasSource reports whether the slot for kind is populated.
func (p *ConsolidatedProfile) HasSource(kind SourceKind) bool {
	switch kind {
	case SourceFinancial:
		return p.Financial != nil
	case SourceEnrichment:
		return p.Enrichment != nil
	case SourceInsights:
		return p.Insights != nil
	case SourceNetwork:
		return p.Network != nil
	default:
		return false
	}
}

// SlotMeta returns the cache metadata for a populated slot, or nil.
func (p *ConsolidatedProfile) SlotMeta(kind SourceKind) *CacheMetadata {
	switch kind {
	case SourceFinancial:
		if p.Financial != nil {
			return &p.Financial.Meta
		}
	case SourceEnrichment:
		if p.Enrichment != nil {
			return &p.Enrichment.Meta
		}
	case SourceInsights:
		if p.Insights != nil {
			return &p.Insights.Meta
		}
	case SourceNetwork:
		if p.Network != nil {
			return &p.Network.Meta
		}
	}
	return nil
}

// ActiveSources lists the populated slots in canonical order.
func (p *ConsolidatedProfile) ActiveSources() []SourceKind {
	var active []SourceKind
	for _, k := range AllSourceKinds {
		if p.HasSource(k) {
			active = append(active, k)
		}
	}
	return active
}

// ExpiredSources lists the populated slots whose TTL has passed as of now.
func (p *ConsolidatedProfile) ExpiredSources(now time.Time) []SourceKind {
	var expired []SourceKind
	for _, k := range AllSourceKinds {
		if m := p.SlotMeta(k); m != nil && m.StaleAt(now) {
			expired = append(expired, k)
		}
	}
	return expired
}

// ComputeCompleteness derives the weighted completeness score from slot
// presence. Callers must keep the stored score consistent with this value.
func (p *ConsolidatedProfile) ComputeCompleteness() int {
	total := 0
	for _, k := range AllSourceKinds {
		if p.HasSource(k) {
			total += k.CompletenessWeight()
		}
	}
	return total
}
