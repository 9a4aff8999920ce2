// Package merge folds source payloads into consolidated profiles. Conflict
// resolution is explicit per-slot replacement with an enumerated set of
// preserved stable fields, never a generic deep-merge.
package merge

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/profile-service/internal/model"
)

// UnknownName is the fallback primary name when no source supplies one.
const UnknownName = "Unknown"

// Merger builds and updates consolidated profiles.
type Merger struct {
	now func() time.Time // injectable for testing
}

// New creates a Merger using the wall clock.
func New() *Merger {
	return &Merger{now: time.Now}
}

// WithNow sets a fixed time for testing.
func (m *Merger) WithNow(t time.Time) *Merger {
	m.now = func() time.Time { return t }
	return m
}

// Input carries the initial payloads for a brand-new profile. Any subset of
// the four sources may be present.
type Input struct {
	Financial  *model.FinancialPayload
	Enrichment *model.EnrichmentPayload
	Insights   *model.InsightsPayload
	Network    *model.NetworkPayload
}

// MergeSources builds a new profile for entityKey from whichever payloads are
// present. Each present payload is validated before any slot is populated.
func (m *Merger) MergeSources(entityKey string, in Input) (*model.ConsolidatedProfile, error) {
	now := m.now().UTC()

	p := &model.ConsolidatedProfile{
		ProfileID:      uuid.New().String(),
		EntityKey:      entityKey,
		ProfileVersion: 1,
		CreatedAt:      now,
		LastUpdatedAt:  now,
	}

	for _, u := range in.updates() {
		if err := Validate(u); err != nil {
			return nil, err
		}
	}
	for _, u := range in.updates() {
		setSlot(p, u, now, 1)
	}

	m.finalize(p)

	zap.L().Debug("merge: profile created",
		zap.String("entity_key", entityKey),
		zap.Int("completeness", p.Completeness),
	)
	return p, nil
}

// UpdateProfile folds one source payload into an existing profile and returns
// a new record; the input profile is never mutated. The slot for the update's
// kind is replaced (subject to stable-field preservation), the version counter
// increments, and the derived fields are recomputed.
func (m *Merger) UpdateProfile(existing *model.ConsolidatedProfile, update model.SourceUpdate) (*model.ConsolidatedProfile, error) {
	if err := Validate(update); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	if now.Before(existing.LastUpdatedAt) {
		now = existing.LastUpdatedAt
	}

	p := cloneProfile(existing)
	p.ProfileVersion = existing.ProfileVersion + 1
	p.LastUpdatedAt = now

	slotVersion := 1
	if meta := existing.SlotMeta(update.Kind); meta != nil {
		slotVersion = meta.Version + 1
	}

	resolved := resolveConflicts(existing, update)
	setSlot(p, resolved, now, slotVersion)

	m.finalize(p)
	return p, nil
}

// updates converts an Input into its tagged-union form, in canonical order.
func (in Input) updates() []model.SourceUpdate {
	var us []model.SourceUpdate
	if in.Financial != nil {
		us = append(us, model.SourceUpdate{Kind: model.SourceFinancial, Financial: in.Financial})
	}
	if in.Enrichment != nil {
		us = append(us, model.SourceUpdate{Kind: model.SourceEnrichment, Enrichment: in.Enrichment})
	}
	if in.Insights != nil {
		us = append(us, model.SourceUpdate{Kind: model.SourceInsights, Insights: in.Insights})
	}
	if in.Network != nil {
		us = append(us, model.SourceUpdate{Kind: model.SourceNetwork, Network: in.Network})
	}
	return us
}

// setSlot installs the update's payload with metadata derived from the fetch
// time and the source's own TTL.
func setSlot(p *model.ConsolidatedProfile, u model.SourceUpdate, fetchedAt time.Time, version int) {
	meta := model.NewCacheMetadata(u.Kind, fetchedAt, version)
	switch u.Kind {
	case model.SourceFinancial:
		p.Financial = &model.Slot[model.FinancialPayload]{Data: *u.Financial, Meta: meta}
	case model.SourceEnrichment:
		p.Enrichment = &model.Slot[model.EnrichmentPayload]{Data: *u.Enrichment, Meta: meta}
	case model.SourceInsights:
		p.Insights = &model.Slot[model.InsightsPayload]{Data: *u.Insights, Meta: meta}
	case model.SourceNetwork:
		p.Network = &model.Slot[model.NetworkPayload]{Data: *u.Network, Meta: meta}
	}
}

// finalize recomputes every derived field: identity, completeness, and the
// quick-access projection. Runs after every slot change.
func (m *Merger) finalize(p *model.ConsolidatedProfile) {
	m.resolveIdentity(p)
	p.Completeness = p.ComputeCompleteness()
	p.QuickAccess = buildQuickAccess(p)
}

// resolveIdentity picks the primary display name by source priority
// (enrichment over financial) and collects the losers as alternatives.
func (m *Merger) resolveIdentity(p *model.ConsolidatedProfile) {
	var candidates []string
	if p.Enrichment != nil && p.Enrichment.Data.CompanyName != "" {
		candidates = append(candidates, normalizeDisplayName(p.Enrichment.Data.CompanyName))
	}
	if p.Financial != nil && p.Financial.Data.RecipientName != "" {
		candidates = append(candidates, normalizeDisplayName(p.Financial.Data.RecipientName))
	}

	if len(candidates) == 0 {
		p.PrimaryName = UnknownName
		p.AlternativeNames = nil
		return
	}

	p.PrimaryName = candidates[0]

	seen := map[string]bool{strings.ToLower(p.PrimaryName): true}
	var alts []string
	for _, c := range candidates[1:] {
		key := strings.ToLower(c)
		if seen[key] {
			continue
		}
		seen[key] = true
		alts = append(alts, c)
	}
	sort.Strings(alts)
	p.AlternativeNames = alts
}

// buildQuickAccess recomputes the denormalized read projection from the slots.
func buildQuickAccess(p *model.ConsolidatedProfile) model.QuickAccess {
	qa := model.QuickAccess{DisplayName: p.PrimaryName}

	if p.Enrichment != nil {
		qa.Industry = p.Enrichment.Data.Industry
		qa.SizeTier = p.Enrichment.Data.SizeTier
	}
	if p.Financial != nil {
		qa.PerformanceRating = p.Financial.Data.Scores.Overall()
		qa.TotalValue = p.Financial.Data.TotalAwardValue
		qa.LastActivityDate = p.Financial.Data.LastActivityDate
	}
	return qa
}

func cloneProfile(p *model.ConsolidatedProfile) *model.ConsolidatedProfile {
	out := *p
	out.AlternativeNames = append([]string(nil), p.AlternativeNames...)
	if p.Financial != nil {
		s := *p.Financial
		out.Financial = &s
	}
	if p.Enrichment != nil {
		s := *p.Enrichment
		out.Enrichment = &s
	}
	if p.Insights != nil {
		s := *p.Insights
		out.Insights = &s
	}
	if p.Network != nil {
		s := *p.Network
		out.Network = &s
	}
	return &out
}
