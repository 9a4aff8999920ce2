package merge

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-service/internal/model"
)

// AttributeSelection names the best and worst performance dimensions of a
// financial payload. Ties resolve to the dimension listed first in
// model.PerformanceDimensions.
type AttributeSelection struct {
	Strongest      string
	StrongestScore float64
	Weakest        string
	WeakestScore   float64
}

// SelectPerformanceAttributes ranks the score dimensions in fixed order.
func SelectPerformanceAttributes(s model.PerformanceScores) AttributeSelection {
	sel := AttributeSelection{
		Strongest:      model.PerformanceDimensions[0],
		StrongestScore: s.ByDimension(model.PerformanceDimensions[0]),
		Weakest:        model.PerformanceDimensions[0],
		WeakestScore:   s.ByDimension(model.PerformanceDimensions[0]),
	}
	for _, dim := range model.PerformanceDimensions[1:] {
		score := s.ByDimension(dim)
		if score > sel.StrongestScore {
			sel.Strongest = dim
			sel.StrongestScore = score
		}
		if score < sel.WeakestScore {
			sel.Weakest = dim
			sel.WeakestScore = score
		}
	}
	return sel
}

// networkStrengthByClass is the fixed rule table keyed on an entity's network
// classification.
var networkStrengthByClass = map[string]string{
	"prime":         "Strong",
	"hybrid":        "Moderate",
	"subcontractor": "Weak",
}

// ClassifyNetworkStrength maps a classification to Strong/Moderate/Weak,
// falling back to relationship volume for unknown classifications.
func ClassifyNetworkStrength(classification string, relationshipCount int) string {
	if strength, ok := networkStrengthByClass[classification]; ok {
		return strength
	}
	switch {
	case relationshipCount >= 25:
		return "Strong"
	case relationshipCount >= 8:
		return "Moderate"
	default:
		return "Weak"
	}
}

// MarketPositionFor buckets an overall performance rating into the market
// heuristic used by insight generation.
func MarketPositionFor(overall float64) string {
	switch {
	case overall >= 75:
		return "Leader"
	case overall >= 50:
		return "Competitive"
	default:
		return "Emerging"
	}
}

// InsightInputs is everything the external insight generator needs. The
// merger selects attributes and assembles heuristics; it never writes prose.
type InsightInputs struct {
	EntityName      string
	Selection       AttributeSelection
	MarketPosition  string
	NetworkStrength string
	TotalValue      float64
	ActiveAwards    int
}

// PrepareInsightInputs derives the generator inputs from a profile's
// financial (required) and network (optional) slots.
func PrepareInsightInputs(p *model.ConsolidatedProfile) (*InsightInputs, error) {
	if p.Financial == nil {
		return nil, eris.Errorf("merge: insight inputs for %s: no financial data", p.EntityKey)
	}

	fin := p.Financial.Data
	in := &InsightInputs{
		EntityName:     p.PrimaryName,
		Selection:      SelectPerformanceAttributes(fin.Scores),
		MarketPosition: MarketPositionFor(fin.Scores.Overall()),
		TotalValue:     fin.TotalAwardValue,
		ActiveAwards:   fin.ActiveAwards,
	}

	if p.Network != nil {
		in.NetworkStrength = ClassifyNetworkStrength(p.Network.Data.Classification, p.Network.Data.RelationshipCount)
	} else {
		in.NetworkStrength = "Weak"
	}
	return in, nil
}
