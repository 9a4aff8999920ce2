package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-service/internal/merge"
	"github.com/sells-group/profile-service/internal/model"
	"github.com/sells-group/profile-service/internal/profilestore"
	"github.com/sells-group/profile-service/internal/resilience"
	"github.com/sells-group/profile-service/internal/scheduler"
)

type fakeProfiles struct {
	profiles   map[string]*model.ConsolidatedProfile
	lastUpdate *model.SourceUpdate
	updateErr  error
	searched   string
}

func (f *fakeProfiles) GetProfile(_ context.Context, key string, _ bool) (*model.ConsolidatedProfile, error) {
	return f.profiles[key], nil
}

func (f *fakeProfiles) Query(_ context.Context, _ profilestore.Filter, _ profilestore.Page) (*profilestore.QueryResult, error) {
	var items []model.ConsolidatedProfile
	for _, p := range f.profiles {
		items = append(items, *p)
	}
	return &profilestore.QueryResult{Items: items, TotalCount: len(items)}, nil
}

func (f *fakeProfiles) Search(ctx context.Context, text string, fl profilestore.Filter, p profilestore.Page) (*profilestore.QueryResult, error) {
	f.searched = text
	return f.Query(ctx, fl, p)
}

func (f *fakeProfiles) UpdateFromSource(_ context.Context, key string, update model.SourceUpdate) (*model.ConsolidatedProfile, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.lastUpdate = &update
	p := f.profiles[key]
	if p == nil {
		p = &model.ConsolidatedProfile{EntityKey: key, PrimaryName: "Created Co"}
		f.profiles[key] = p
	}
	p.ProfileVersion++
	return p, nil
}

type fakeRefresher struct {
	running bool
	lastRun *scheduler.RunResult
	runErr  error
	result  *scheduler.RunResult
	health  *scheduler.HealthReport
	opts    *scheduler.ForceOptions
}

func (f *fakeRefresher) RunScheduledRefresh(context.Context) (*scheduler.RunResult, error) {
	return f.result, f.runErr
}

func (f *fakeRefresher) ForceRefresh(_ context.Context, opts scheduler.ForceOptions) (*scheduler.RunResult, error) {
	f.opts = &opts
	return f.result, f.runErr
}

func (f *fakeRefresher) HealthCheck(context.Context) (*scheduler.HealthReport, error) {
	return f.health, nil
}

func (f *fakeRefresher) Running() bool                          { return f.running }
func (f *fakeRefresher) LastRun() *scheduler.RunResult          { return f.lastRun }
func (f *fakeRefresher) FailedRefreshes() []resilience.DLQEntry { return nil }

type fakeFetcher struct {
	update *model.SourceUpdate
	err    error
}

func (f *fakeFetcher) Fetch(context.Context, string, model.SourceKind) (*model.SourceUpdate, error) {
	return f.update, f.err
}

func testProfile(key string) *model.ConsolidatedProfile {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	return &model.ConsolidatedProfile{
		ProfileID:      "a4f6d4a0-9d2c-4f7e-8a3b-1c5e7f9b2d4e",
		EntityKey:      key,
		PrimaryName:    "Acme Construction",
		Completeness:   40,
		ProfileVersion: 1,
		Financial: &model.Slot[model.FinancialPayload]{
			Data: model.FinancialPayload{
				RecipientName:   "Acme Construction",
				TotalAwardValue: 1500000,
				ActiveAwards:    3,
				IndustryCode:    "236220",
			},
		},
		QuickAccess: model.QuickAccess{
			DisplayName:       "Acme Construction",
			PerformanceRating: 56.25,
			TotalValue:        1500000,
		},
		CreatedAt:     now,
		LastUpdatedAt: now,
	}
}

func newTestServer(profiles *fakeProfiles, refresh *fakeRefresher, fetch *fakeFetcher) http.Handler {
	if profiles == nil {
		profiles = &fakeProfiles{profiles: map[string]*model.ConsolidatedProfile{}}
	}
	if refresh == nil {
		refresh = &fakeRefresher{health: &scheduler.HealthReport{Status: scheduler.HealthOK}}
	}
	if fetch == nil {
		fetch = &fakeFetcher{}
	}
	return NewServer(profiles, refresh, fetch).Router()
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetProfile(t *testing.T) {
	profiles := &fakeProfiles{profiles: map[string]*model.ConsolidatedProfile{
		"acme-construction": testProfile("acme-construction"),
	}}
	h := newTestServer(profiles, nil, nil)

	rec := doRequest(t, h, http.MethodGet, "/profiles/acme-construction", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got model.ConsolidatedProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "acme-construction", got.EntityKey)
	assert.Equal(t, "Acme Construction", got.PrimaryName)
	assert.Equal(t, 56.25, got.QuickAccess.PerformanceRating)
}

func TestGetProfileNotFound(t *testing.T) {
	h := newTestServer(nil, nil, nil)

	rec := doRequest(t, h, http.MethodGet, "/profiles/nobody", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "profile not found")
}

func TestListProfilesSearch(t *testing.T) {
	profiles := &fakeProfiles{profiles: map[string]*model.ConsolidatedProfile{
		"acme-construction": testProfile("acme-construction"),
	}}
	h := newTestServer(profiles, nil, nil)

	rec := doRequest(t, h, http.MethodGet, "/profiles/?q=acme&min_performance=50&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", profiles.searched)

	var got profilestore.QueryResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 1, got.TotalCount)
}

func TestListProfilesBadParams(t *testing.T) {
	h := newTestServer(nil, nil, nil)

	rec := doRequest(t, h, http.MethodGet, "/profiles/?min_performance=high", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "min_performance")

	rec = doRequest(t, h, http.MethodGet, "/profiles/?require_source=telemetry", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown source kind")
}

func TestUpdateSource(t *testing.T) {
	profiles := &fakeProfiles{profiles: map[string]*model.ConsolidatedProfile{}}
	h := newTestServer(profiles, nil, nil)

	body := map[string]any{
		"financial": map[string]any{
			"recipient_name":    "Acme Construction",
			"total_award_value": 1500000,
			"active_awards":     3,
			"scores": map[string]any{
				"revenue": 90, "growth": 20, "efficiency": 55, "consistency": 60,
			},
		},
	}
	rec := doRequest(t, h, http.MethodPost, "/profiles/acme/sources/financial", body)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, profiles.lastUpdate)
	assert.Equal(t, model.SourceFinancial, profiles.lastUpdate.Kind)
	require.NotNil(t, profiles.lastUpdate.Financial)
	assert.Equal(t, "Acme Construction", profiles.lastUpdate.Financial.RecipientName)
}

func TestUpdateSourceUnknownKind(t *testing.T) {
	h := newTestServer(nil, nil, nil)

	rec := doRequest(t, h, http.MethodPost, "/profiles/acme/sources/telemetry", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown source kind")
}

func TestUpdateSourceValidationError(t *testing.T) {
	profiles := &fakeProfiles{
		profiles:  map[string]*model.ConsolidatedProfile{},
		updateErr: &merge.ValidationError{Kind: model.SourceFinancial, Missing: []string{"recipient_name"}},
	}
	h := newTestServer(profiles, nil, nil)

	rec := doRequest(t, h, http.MethodPost, "/profiles/acme/sources/financial", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "recipient_name")
}

func TestGenerateInsights(t *testing.T) {
	profiles := &fakeProfiles{profiles: map[string]*model.ConsolidatedProfile{
		"acme-construction": testProfile("acme-construction"),
	}}
	fetch := &fakeFetcher{update: &model.SourceUpdate{
		Kind: model.SourceInsights,
		Insights: &model.InsightsPayload{
			Summary: "Strong revenue performer in construction.",
			Model:   "claude-haiku-4-5-20251001",
		},
	}}
	h := newTestServer(profiles, nil, fetch)

	rec := doRequest(t, h, http.MethodPost, "/profiles/acme-construction/insights", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, profiles.lastUpdate)
	assert.Equal(t, model.SourceInsights, profiles.lastUpdate.Kind)
}

func TestGenerateInsightsNoData(t *testing.T) {
	h := newTestServer(nil, nil, &fakeFetcher{update: nil})

	rec := doRequest(t, h, http.MethodPost, "/profiles/nobody/insights", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "no financial data")
}

func TestRefreshRunSkippedWhileBusy(t *testing.T) {
	refresh := &fakeRefresher{result: &scheduler.RunResult{Skipped: true}}
	h := newTestServer(nil, refresh, nil)

	rec := doRequest(t, h, http.MethodPost, "/refresh/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got scheduler.RunResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Skipped)
	assert.Zero(t, got.Candidates)
}

func TestRefreshForce(t *testing.T) {
	refresh := &fakeRefresher{result: &scheduler.RunResult{Forced: true, Succeeded: 2}}
	h := newTestServer(nil, refresh, nil)

	body := map[string]any{
		"entity_keys": []string{"acme-construction"},
		"sources":     []string{"financial", "network"},
	}
	rec := doRequest(t, h, http.MethodPost, "/refresh/force", body)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotNil(t, refresh.opts)
	assert.Equal(t, []string{"acme-construction"}, refresh.opts.EntityKeys)
	assert.Equal(t, []model.SourceKind{model.SourceFinancial, model.SourceNetwork}, refresh.opts.Sources)
}

func TestRefreshStatus(t *testing.T) {
	refresh := &fakeRefresher{
		running: true,
		lastRun: &scheduler.RunResult{Succeeded: 5},
	}
	h := newTestServer(nil, refresh, nil)

	rec := doRequest(t, h, http.MethodGet, "/refresh/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Running bool                 `json:"running"`
		LastRun *scheduler.RunResult `json:"last_run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Running)
	require.NotNil(t, got.LastRun)
	assert.Equal(t, 5, got.LastRun.Succeeded)
}

func TestHealthDegraded(t *testing.T) {
	refresh := &fakeRefresher{health: &scheduler.HealthReport{
		Status:   scheduler.HealthDegraded,
		Problems: []string{"upstream probe unavailable"},
	}}
	h := newTestServer(nil, refresh, nil)

	rec := doRequest(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "degraded")
}

func TestGetContractor(t *testing.T) {
	profiles := &fakeProfiles{profiles: map[string]*model.ConsolidatedProfile{
		"acme-construction": testProfile("acme-construction"),
	}}
	h := newTestServer(profiles, nil, nil)

	rec := doRequest(t, h, http.MethodGet, "/contractors/acme-construction", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Acme Construction", got["name"])
	assert.Equal(t, "Construction", got["industry"])
}
