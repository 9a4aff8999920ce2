// Package profilestore is the system of record for consolidated profiles:
// a persistent table behind a bounded in-memory front cache.
package profilestore

import (
	"context"
	"time"

	"github.com/sells-group/profile-service/internal/model"
)

// DefaultStaleWindow is how old a profile may be before key lookups exclude
// it unless the caller opts in to stale data.
const DefaultStaleWindow = 7 * 24 * time.Hour

// Filter narrows profile queries. Zero values mean "no constraint".
type Filter struct {
	EntityKeys      []string           `json:"entity_keys,omitempty"`
	Industries      []string           `json:"industries,omitempty"`
	SizeTiers       []string           `json:"size_tiers,omitempty"`
	MinPerformance  *float64           `json:"min_performance,omitempty"`
	MaxPerformance  *float64           `json:"max_performance,omitempty"`
	RequireSources  []model.SourceKind `json:"require_sources,omitempty"`
	MinCompleteness int                `json:"min_completeness,omitempty"`
	MaxAge          time.Duration      `json:"max_age,omitempty"`
}

// Page controls pagination and ordering. SortBy must be in the allow-list;
// anything else falls back to the default ordering.
type Page struct {
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
	SortBy    string `json:"sort_by,omitempty"`
	SortOrder string `json:"sort_order,omitempty"` // "asc" or "desc"
}

// QueryResult is a page of profiles plus the unpaginated total.
type QueryResult struct {
	Items      []model.ConsolidatedProfile `json:"items"`
	TotalCount int                         `json:"total_count"`
}

// RefreshCandidate names an entity and the sources whose slots have expired.
type RefreshCandidate struct {
	EntityKey string             `json:"entity_key"`
	Sources   []model.SourceKind `json:"sources"`
}

// Stats summarizes the table for health checks.
type Stats struct {
	TotalProfiles   int        `json:"total_profiles"`
	StaleProfiles   int        `json:"stale_profiles"`
	OldestUpdatedAt *time.Time `json:"oldest_updated_at,omitempty"`
}

// Store is the persistence interface for consolidated profiles. Lookups with
// no match return (nil, nil), never an error.
type Store interface {
	GetByKey(ctx context.Context, entityKey string, includeStale bool) (*model.ConsolidatedProfile, error)
	Query(ctx context.Context, f Filter, p Page) (*QueryResult, error)
	SearchByText(ctx context.Context, text string, f Filter, p Page) (*QueryResult, error)
	Upsert(ctx context.Context, profile *model.ConsolidatedProfile) error
	NeedingRefresh(ctx context.Context, limit int, now time.Time, suppressFinancial bool) ([]RefreshCandidate, error)
	Stats(ctx context.Context, now time.Time) (*Stats, error)
	Migrate(ctx context.Context) error
	Close() error
}

// sortColumns is the allow-list of sortable fields; dynamic sort targets
// outside it are ignored.
var sortColumns = map[string]string{
	"primary_name":       "primary_name",
	"completeness":       "completeness",
	"last_updated_at":    "last_updated_at",
	"created_at":         "created_at",
	"total_value":        "total_value",
	"performance_rating": "performance_rating",
}

// orderClause resolves a Page into a safe ORDER BY fragment.
func orderClause(p Page) string {
	col, ok := sortColumns[p.SortBy]
	if !ok {
		col = "last_updated_at"
	}
	dir := "DESC"
	if p.SortOrder == "asc" {
		dir = "ASC"
	}
	return col + " " + dir
}

// pageLimits normalizes limit/offset.
func pageLimits(p Page) (limit, offset int) {
	limit = p.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset = p.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// slotColumn maps a source kind to its jsonb slot column.
func slotColumn(kind model.SourceKind) string {
	switch kind {
	case model.SourceFinancial:
		return "financial"
	case model.SourceEnrichment:
		return "enrichment"
	case model.SourceInsights:
		return "insights"
	case model.SourceNetwork:
		return "network"
	default:
		return ""
	}
}

// expiresColumn maps a source kind to its denormalized expiration column.
func expiresColumn(kind model.SourceKind) string {
	switch kind {
	case model.SourceFinancial:
		return "financial_expires_at"
	case model.SourceEnrichment:
		return "enrichment_expires_at"
	case model.SourceInsights:
		return "insights_expires_at"
	case model.SourceNetwork:
		return "network_expires_at"
	default:
		return ""
	}
}
