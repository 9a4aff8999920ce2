package provider

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-service/internal/db"
	"github.com/sells-group/profile-service/internal/model"
)

// NetworkProvider derives relationship metrics from the warehouse's
// prime/subcontractor link table. It is computed, not fetched: the
// classification and score fall out of the link counts.
type NetworkProvider struct {
	pool db.Pool
}

func NewNetworkProvider(pool db.Pool) *NetworkProvider {
	return &NetworkProvider{pool: pool}
}

func (p *NetworkProvider) Kind() model.SourceKind {
	return model.SourceNetwork
}

func (p *NetworkProvider) Fetch(ctx context.Context, entityKey string) (*model.SourceUpdate, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE role = 'prime'),
			COUNT(*) FILTER (WHERE role = 'subcontractor'),
			COUNT(DISTINCT partner_key)
		FROM recipient_relationships
		WHERE recipient_key = $1`, entityKey)

	var primeLinks, subLinks, sharedPartners int
	if err := row.Scan(&primeLinks, &subLinks, &sharedPartners); err != nil {
		return nil, eris.Wrapf(err, "provider: network fetch %s", entityKey)
	}

	total := primeLinks + subLinks
	if total == 0 {
		return nil, nil
	}

	payload := model.NetworkPayload{
		RelationshipCount: total,
		SharedPartners:    sharedPartners,
		Classification:    classifyRole(primeLinks, subLinks),
		NetworkScore:      networkScore(total, sharedPartners),
	}
	return &model.SourceUpdate{Kind: model.SourceNetwork, Network: &payload}, nil
}

func classifyRole(primeLinks, subLinks int) string {
	switch {
	case primeLinks > 0 && subLinks > 0:
		return "hybrid"
	case primeLinks > 0:
		return "prime"
	default:
		return "subcontractor"
	}
}

// networkScore rewards both volume and breadth of partners, capped at 100.
func networkScore(total, sharedPartners int) float64 {
	score := float64(total)*2 + float64(sharedPartners)*3
	if score > 100 {
		return 100
	}
	return score
}
