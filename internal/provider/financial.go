package provider

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-service/internal/db"
	"github.com/sells-group/profile-service/internal/model"
)

// FinancialProvider reads award aggregates straight out of the warehouse's
// recipient summary view.
type FinancialProvider struct {
	pool db.Pool
}

func NewFinancialProvider(pool db.Pool) *FinancialProvider {
	return &FinancialProvider{pool: pool}
}

func (p *FinancialProvider) Kind() model.SourceKind {
	return model.SourceFinancial
}

func (p *FinancialProvider) Fetch(ctx context.Context, entityKey string) (*model.SourceUpdate, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT recipient_name, total_award_value, active_awards,
			revenue_score, growth_score, efficiency_score, consistency_score,
			industry_code, last_activity_date
		FROM recipient_summaries
		WHERE recipient_key = $1`, entityKey)

	var payload model.FinancialPayload
	var lastActivity *time.Time
	err := row.Scan(
		&payload.RecipientName, &payload.TotalAwardValue, &payload.ActiveAwards,
		&payload.Scores.Revenue, &payload.Scores.Growth,
		&payload.Scores.Efficiency, &payload.Scores.Consistency,
		&payload.IndustryCode, &lastActivity,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "provider: financial fetch %s", entityKey)
	}
	payload.LastActivityDate = lastActivity

	return &model.SourceUpdate{Kind: model.SourceFinancial, Financial: &payload}, nil
}
