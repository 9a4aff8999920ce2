package profilestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/profile-service/internal/merge"
	"github.com/sells-group/profile-service/internal/model"
)

func newTestService(t *testing.T, now time.Time) (*Service, *SQLiteStore) {
	t.Helper()
	store, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	cache := NewFrontCache(100, 5*time.Minute)
	merger := merge.New().WithNow(now)
	return NewService(store, cache, merger), store
}

func financialUpdate() model.SourceUpdate {
	return model.SourceUpdate{
		Kind: model.SourceFinancial,
		Financial: &model.FinancialPayload{
			RecipientName:   "Acme Construction",
			TotalAwardValue: 4200000,
			ActiveAwards:    3,
			Scores: model.PerformanceScores{
				Revenue:     90,
				Growth:      20,
				Efficiency:  55,
				Consistency: 60,
			},
		},
	}
}

func enrichmentUpdate() model.SourceUpdate {
	return model.SourceUpdate{
		Kind: model.SourceEnrichment,
		Enrichment: &model.EnrichmentPayload{
			CompanyName: "Acme Builders Inc",
			Industry:    "construction",
			SizeTier:    "medium",
			FoundedYear: 1998,
		},
	}
}

func TestService_CreateAndReadBack(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	created, err := svc.UpdateFromSource(ctx, "acme", financialUpdate())
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ProfileVersion)
	assert.Equal(t, 40, created.Completeness)

	got, err := svc.GetProfile(ctx, "acme", false)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.ProfileID, got.ProfileID)
	assert.Equal(t, "Acme Construction", got.PrimaryName)
	require.NotNil(t, got.Financial)
	assert.Equal(t, 4200000.0, got.Financial.Data.TotalAwardValue)
	assert.True(t, got.Financial.Meta.ExpiresAt.Equal(now.Add(24*time.Hour)))
}

func TestService_MergeAcrossSources(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	_, err := svc.UpdateFromSource(ctx, "acme", financialUpdate())
	require.NoError(t, err)
	merged, err := svc.UpdateFromSource(ctx, "acme", enrichmentUpdate())
	require.NoError(t, err)

	assert.Equal(t, int64(2), merged.ProfileVersion)
	assert.Equal(t, 70, merged.Completeness)
	assert.Equal(t, "Acme Builders Inc", merged.PrimaryName)
	assert.Contains(t, merged.AlternativeNames, "Acme Construction")

	got, err := svc.GetProfile(ctx, "acme", false)
	require.NoError(t, err)
	require.NotNil(t, got.Enrichment)
	assert.Equal(t, 1998, got.Enrichment.Data.FoundedYear)
	require.NotNil(t, got.Financial)
}

func TestService_CacheServesSecondRead(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	svc, store := newTestService(t, now)
	ctx := context.Background()

	_, err := svc.UpdateFromSource(ctx, "acme", financialUpdate())
	require.NoError(t, err)

	first, err := svc.GetProfile(ctx, "acme", false)
	require.NoError(t, err)

	// A direct store write does not invalidate the cache, so a second read
	// through the service still sees the cached profile.
	first2, err := svc.GetProfile(ctx, "acme", false)
	require.NoError(t, err)
	assert.Same(t, first, first2)
	_ = store
}

func TestService_CacheHitPastStaleWindow(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	// A cached profile whose last update has aged past the stale window.
	// The cache TTL has not expired, so Get still returns it.
	aged := &model.ConsolidatedProfile{
		ProfileID:     "prof-aged",
		EntityKey:     "acme",
		PrimaryName:   "Acme Construction",
		LastUpdatedAt: now.Add(-DefaultStaleWindow - time.Hour),
	}
	svc.cache.Set("acme", aged)
	svc.WithNow(func() time.Time { return now })

	got, err := svc.GetProfile(ctx, "acme", false)
	require.NoError(t, err)
	assert.Nil(t, got, "non-stale read must not serve a cached profile past the stale window")
	_, stillCached := svc.cache.Get("acme")
	assert.False(t, stillCached)

	svc.cache.Set("acme", aged)
	stale, err := svc.GetProfile(ctx, "acme", true)
	require.NoError(t, err)
	require.NotNil(t, stale)
	assert.Same(t, aged, stale)
}

func TestService_UpdateEvictsCache(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	_, err := svc.UpdateFromSource(ctx, "acme", financialUpdate())
	require.NoError(t, err)
	_, err = svc.GetProfile(ctx, "acme", false)
	require.NoError(t, err)

	_, err = svc.UpdateFromSource(ctx, "acme", enrichmentUpdate())
	require.NoError(t, err)

	got, err := svc.GetProfile(ctx, "acme", false)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ProfileVersion, "post-update read must not serve the pre-update cache entry")
}

func TestService_ApplyBatch(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	merged, err := svc.ApplyBatch(ctx, "acme", []model.SourceUpdate{
		financialUpdate(),
		enrichmentUpdate(),
		{Kind: model.SourceNetwork, Network: &model.NetworkPayload{
			RelationshipCount: 30,
			Classification:    "prime",
			NetworkScore:      82,
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), merged.ProfileVersion)
	assert.Equal(t, 80, merged.Completeness)

	_, err = svc.ApplyBatch(ctx, "acme", nil)
	require.Error(t, err)
}

func TestService_SearchAndQuery(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	_, err := svc.UpdateFromSource(ctx, "acme", financialUpdate())
	require.NoError(t, err)
	_, err = svc.UpdateFromSource(ctx, "zenith", model.SourceUpdate{
		Kind: model.SourceEnrichment,
		Enrichment: &model.EnrichmentPayload{
			CompanyName: "Zenith Logistics",
			Industry:    "logistics",
			SizeTier:    "small",
		},
	})
	require.NoError(t, err)

	res, err := svc.Search(ctx, "Zenith", Filter{}, Page{})
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalCount)
	assert.Equal(t, "Zenith Logistics", res.Items[0].PrimaryName)

	res, err = svc.Query(ctx, Filter{Industries: []string{"logistics"}}, Page{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "zenith", res.Items[0].EntityKey)

	res, err = svc.Query(ctx, Filter{RequireSources: []model.SourceKind{model.SourceFinancial}}, Page{})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "acme", res.Items[0].EntityKey)
}

func TestService_NeedingRefreshAfterTTL(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	_, err := svc.ApplyBatch(ctx, "acme", []model.SourceUpdate{financialUpdate(), enrichmentUpdate()})
	require.NoError(t, err)

	// One hour past the financial TTL the enrichment slot (7d) is still
	// fresh, so only financial comes back.
	later := now.Add(25 * time.Hour)
	out, err := svc.NeedingRefresh(ctx, 10, later, false)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []model.SourceKind{model.SourceFinancial}, out[0].Sources)

	out, err = svc.NeedingRefresh(ctx, 10, later, true)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestService_Stats(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	svc, _ := newTestService(t, now)
	ctx := context.Background()

	_, err := svc.UpdateFromSource(ctx, "acme", financialUpdate())
	require.NoError(t, err)

	st, err := svc.Stats(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, st.TotalProfiles)
	assert.Equal(t, 0, st.StaleProfiles)
	require.NotNil(t, st.OldestUpdatedAt)
}
