package merge

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/profile-service/internal/model"
)

// resolveConflicts applies the per-kind conflict policy before a slot is
// replaced: new data wins wholesale, except enrichment fields that are stable
// and rarely re-observed, which carry over from the prior payload when the new
// one omits them. A partial upstream response must not erase known facts.
func resolveConflicts(existing *model.ConsolidatedProfile, update model.SourceUpdate) model.SourceUpdate {
	switch update.Kind {
	case model.SourceEnrichment:
		if existing.Enrichment == nil {
			return update
		}
		merged := *update.Enrichment
		preserveStableEnrichmentFields(&merged, existing.Enrichment.Data)
		return model.SourceUpdate{Kind: model.SourceEnrichment, Enrichment: &merged}
	case model.SourceFinancial, model.SourceInsights, model.SourceNetwork:
		// Replaced wholesale; these sources always send complete payloads.
		return update
	default:
		return update
	}
}

// preserveStableEnrichmentFields is the enumerated preservation rule table.
// Each rule fires only when the incoming payload omits the field.
func preserveStableEnrichmentFields(next *model.EnrichmentPayload, prior model.EnrichmentPayload) {
	if next.FoundedYear == 0 {
		next.FoundedYear = prior.FoundedYear
	}
	if next.Website == "" {
		next.Website = prior.Website
	}
	if next.IndustryCode == "" {
		next.IndustryCode = prior.IndustryCode
	}
}

var titleCaser = cases.Title(language.AmericanEnglish)

// normalizeDisplayName cleans up a raw source name for display. Warehouse
// recipient names arrive fully upper-cased; those are re-cased, while
// mixed-case names pass through untouched.
func normalizeDisplayName(name string) string {
	trimmed := strings.Join(strings.Fields(name), " ")
	if trimmed == "" {
		return trimmed
	}
	if isAllUpper(trimmed) {
		return titleCaser.String(strings.ToLower(trimmed))
	}
	return trimmed
}

func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if unicode.IsLower(r) {
				return false
			}
		}
	}
	return hasLetter
}
