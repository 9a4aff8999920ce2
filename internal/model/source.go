package model

import "time"

// SourceKind identifies one of the four upstream providers that contribute to
// a consolidated profile. The set is closed; every dispatch over it switches
// exhaustively so adding a source kind is a compile-visible change.
type SourceKind string

const (
	// SourceFinancial is the warehouse-backed award/performance source.
	SourceFinancial SourceKind = "financial"
	// SourceEnrichment is the contact/firmographic enrichment source.
	SourceEnrichment SourceKind = "enrichment"
	// SourceInsights is the AI-generated narrative insight source.
	SourceInsights SourceKind = "insights"
	// SourceNetwork is the computed relationship/network source.
	SourceNetwork SourceKind = "network"
)

// AllSourceKinds lists every source kind in completeness-weight order.
var AllSourceKinds = []SourceKind{SourceFinancial, SourceEnrichment, SourceInsights, SourceNetwork}

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceFinancial, SourceEnrichment, SourceInsights, SourceNetwork:
		return true
	default:
		return false
	}
}

// TTL returns how long a fetched payload of this kind stays fresh.
// Fast-changing financial data expires quickly; AI insights are long-lived.
func (k SourceKind) TTL() time.Duration {
	switch k {
	case SourceFinancial:
		return 24 * time.Hour
	case SourceEnrichment:
		return 7 * 24 * time.Hour
	case SourceInsights:
		return 30 * 24 * time.Hour
	case SourceNetwork:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// CompletenessWeight returns this source's contribution to the 0-100
// completeness score when its slot is populated.
func (k SourceKind) CompletenessWeight() int {
	switch k {
	case SourceFinancial:
		return 40
	case SourceEnrichment:
		return 30
	case SourceInsights:
		return 20
	case SourceNetwork:
		return 10
	default:
		return 0
	}
}

// CacheMetadata describes the freshness of one populated source slot.
type CacheMetadata struct {
	Source    SourceKind `json:"source"`
	FetchedAt time.Time  `json:"fetched_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	Version   int        `json:"version"`
}

// NewCacheMetadata builds slot metadata for a fetch at t, deriving the
// expiration from the source's own TTL.
func NewCacheMetadata(kind SourceKind, t time.Time, version int) CacheMetadata {
	return CacheMetadata{
		Source:    kind,
		FetchedAt: t,
		ExpiresAt: t.Add(kind.TTL()),
		Version:   version,
	}
}

// StaleAt reports whether the slot has passed its expiration as of now.
func (m CacheMetadata) StaleAt(now time.Time) bool {
	return !now.Before(m.ExpiresAt)
}

// Priority ranks a refresh decision.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// RefreshDecision is the ephemeral outcome of the should-refresh policy.
// It is produced by the freshness tracker and consumed by the scheduler;
// it is never persisted.
type RefreshDecision struct {
	ShouldRefresh    bool         `json:"should_refresh"`
	Reason           string       `json:"reason"`
	Priority         Priority     `json:"priority"`
	AffectedSources  []SourceKind `json:"affected_sources,omitempty"`
	AffectedTables   []string     `json:"affected_tables,omitempty"`
	AffectedEntities int          `json:"affected_entities,omitempty"`
}
