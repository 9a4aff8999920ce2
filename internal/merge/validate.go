package merge

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sells-group/profile-service/internal/model"
)

// ValidationError reports a payload that fails its source kind's
// required-field checks. The profile is left unchanged when it is returned.
type ValidationError struct {
	Kind    model.SourceKind
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("merge: invalid %s payload: missing %s", e.Kind, strings.Join(e.Missing, ", "))
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks the minimum required fields for the update's source kind.
// Invalid payloads are rejected whole; nothing is partially merged.
func Validate(u model.SourceUpdate) error {
	if !u.Kind.Valid() {
		return &ValidationError{Kind: u.Kind, Missing: []string{"kind"}}
	}

	var missing []string
	switch u.Kind {
	case model.SourceFinancial:
		if u.Financial == nil {
			missing = append(missing, "payload")
			break
		}
		if u.Financial.RecipientName == "" {
			missing = append(missing, "recipient_name")
		}
		if u.Financial.TotalAwardValue <= 0 {
			missing = append(missing, "total_award_value")
		}
		if u.Financial.Scores == (model.PerformanceScores{}) {
			missing = append(missing, "scores")
		}
	case model.SourceEnrichment:
		if u.Enrichment == nil {
			missing = append(missing, "payload")
			break
		}
		if u.Enrichment.CompanyName == "" {
			missing = append(missing, "company_name")
		}
	case model.SourceInsights:
		if u.Insights == nil {
			missing = append(missing, "payload")
			break
		}
		if u.Insights.Summary == "" {
			missing = append(missing, "summary")
		}
	case model.SourceNetwork:
		if u.Network == nil {
			missing = append(missing, "payload")
			break
		}
		if u.Network.Classification == "" {
			missing = append(missing, "classification")
		}
		if u.Network.RelationshipCount < 0 {
			missing = append(missing, "relationship_count")
		}
	}

	if len(missing) > 0 {
		return &ValidationError{Kind: u.Kind, Missing: missing}
	}
	return nil
}
