package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/profile-service/internal/merge"
	"github.com/sells-group/profile-service/internal/model"
	"github.com/sells-group/profile-service/pkg/anthropic"
)

const (
	defaultInsightsModel     = "claude-haiku-4-5-20251001"
	defaultInsightsMaxTokens = 512
)

const insightsSystemPrompt = `You are a business analyst summarizing government contractors.
Write a two to three sentence performance summary for the company described by the user.
Mention the strongest dimension and the biggest risk. Plain prose, no headers, no bullet points.`

// ProfileReader is the read surface insight generation needs.
type ProfileReader interface {
	GetProfile(ctx context.Context, entityKey string, includeStale bool) (*model.ConsolidatedProfile, error)
}

// InsightsProvider generates the narrative slot. The deterministic fields
// (strongest/weakest dimension, market position, network strength) come from
// the merge heuristics; only the prose summary comes from the model.
type InsightsProvider struct {
	client    anthropic.Client
	profiles  ProfileReader
	model     string
	maxTokens int64
	now       func() time.Time
}

func NewInsightsProvider(client anthropic.Client, profiles ProfileReader) *InsightsProvider {
	return &InsightsProvider{
		client:    client,
		profiles:  profiles,
		model:     defaultInsightsModel,
		maxTokens: defaultInsightsMaxTokens,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithModel overrides the generation model.
func (p *InsightsProvider) WithModel(model string) *InsightsProvider {
	if model != "" {
		p.model = model
	}
	return p
}

// WithNow injects a clock for tests.
func (p *InsightsProvider) WithNow(now func() time.Time) *InsightsProvider {
	p.now = now
	return p
}

func (p *InsightsProvider) Kind() model.SourceKind {
	return model.SourceInsights
}

func (p *InsightsProvider) Fetch(ctx context.Context, entityKey string) (*model.SourceUpdate, error) {
	profile, err := p.profiles.GetProfile(ctx, entityKey, true)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: insights fetch %s", entityKey)
	}
	if profile == nil || profile.Financial == nil {
		// Nothing to reason about until financial data lands.
		return nil, nil
	}

	inputs, err := merge.PrepareInsightInputs(profile)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: insights fetch %s", entityKey)
	}

	resp, err := p.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System: []anthropic.SystemBlock{{
			Text:         insightsSystemPrompt,
			CacheControl: &anthropic.CacheControl{TTL: "1h"},
		}},
		Messages: []anthropic.Message{{Role: "user", Content: buildInsightPrompt(inputs)}},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "provider: insights fetch %s", entityKey)
	}
	resp.Usage.LogCost(resp.Model, "insights")

	summary := strings.TrimSpace(resp.Text())
	if summary == "" {
		return nil, eris.Errorf("provider: insights fetch %s: empty completion", entityKey)
	}

	payload := model.InsightsPayload{
		Summary:            summary,
		StrongestDimension: inputs.Selection.Strongest,
		WeakestDimension:   inputs.Selection.Weakest,
		MarketPosition:     inputs.MarketPosition,
		NetworkStrength:    inputs.NetworkStrength,
		Model:              resp.Model,
		GeneratedAt:        p.now(),
	}
	return &model.SourceUpdate{Kind: model.SourceInsights, Insights: &payload}, nil
}

func buildInsightPrompt(in *merge.InsightInputs) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", in.EntityName)
	fmt.Fprintf(&b, "Total award value: $%.0f across %d active awards\n", in.TotalValue, in.ActiveAwards)
	fmt.Fprintf(&b, "Strongest dimension: %s (%.0f/100)\n", in.Selection.Strongest, in.Selection.StrongestScore)
	fmt.Fprintf(&b, "Weakest dimension: %s (%.0f/100)\n", in.Selection.Weakest, in.Selection.WeakestScore)
	fmt.Fprintf(&b, "Market position: %s\n", in.MarketPosition)
	fmt.Fprintf(&b, "Network strength: %s\n", in.NetworkStrength)
	return b.String()
}
