package profilestore

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/profile-service/internal/merge"
	"github.com/sells-group/profile-service/internal/model"
)

// Service is the read/write front for consolidated profiles. Reads go through
// the in-process cache before touching the store; writes go through the
// merger so every persisted profile carries consistent derived fields.
type Service struct {
	store  Store
	cache  *FrontCache
	merger *merge.Merger
	log    *zap.Logger
	now    func() time.Time
}

func NewService(store Store, cache *FrontCache, merger *merge.Merger) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		merger: merger,
		log:    zap.L().With(zap.String("component", "profile_service")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithNow injects a clock for tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// GetProfile returns the profile for entityKey, or nil when none exists
// within the staleness window. includeStale bypasses the window.
func (s *Service) GetProfile(ctx context.Context, entityKey string, includeStale bool) (*model.ConsolidatedProfile, error) {
	if p, ok := s.cache.Get(entityKey); ok {
		// A cached copy can outlive the staleness window by up to the cache
		// TTL; re-check so a non-stale read never serves it past the window.
		if includeStale || s.now().Sub(p.LastUpdatedAt) <= DefaultStaleWindow {
			return p, nil
		}
		s.cache.Evict(entityKey)
	}

	p, err := s.store.GetByKey(ctx, entityKey, includeStale)
	if err != nil {
		return nil, err
	}
	if p != nil && !includeStale {
		s.cache.Set(entityKey, p)
	}
	return p, nil
}

// UpdateFromSource applies one source payload to the entity's profile,
// creating the profile when it does not exist yet. The returned profile is
// the persisted post-merge state.
func (s *Service) UpdateFromSource(ctx context.Context, entityKey string, update model.SourceUpdate) (*model.ConsolidatedProfile, error) {
	existing, err := s.store.GetByKey(ctx, entityKey, true)
	if err != nil {
		return nil, err
	}

	var merged *model.ConsolidatedProfile
	if existing == nil {
		merged, err = s.merger.MergeSources(entityKey, inputFor(update))
	} else {
		merged, err = s.merger.UpdateProfile(existing, update)
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.Upsert(ctx, merged); err != nil {
		return nil, err
	}
	s.cache.Evict(entityKey)
	s.log.Debug("profile updated",
		zap.String("entity_key", entityKey),
		zap.String("source", string(update.Kind)),
		zap.Int64("version", merged.ProfileVersion))
	return merged, nil
}

// ApplyBatch applies several source payloads to one entity in a single merge
// chain, persisting only the final state.
func (s *Service) ApplyBatch(ctx context.Context, entityKey string, updates []model.SourceUpdate) (*model.ConsolidatedProfile, error) {
	if len(updates) == 0 {
		return nil, eris.New("profile: empty update batch")
	}

	current, err := s.store.GetByKey(ctx, entityKey, true)
	if err != nil {
		return nil, err
	}
	for _, u := range updates {
		if current == nil {
			current, err = s.merger.MergeSources(entityKey, inputFor(u))
		} else {
			current, err = s.merger.UpdateProfile(current, u)
		}
		if err != nil {
			return nil, err
		}
	}

	if err := s.store.Upsert(ctx, current); err != nil {
		return nil, err
	}
	s.cache.Evict(entityKey)
	return current, nil
}

func (s *Service) Query(ctx context.Context, f Filter, p Page) (*QueryResult, error) {
	return s.store.Query(ctx, f, p)
}

func (s *Service) Search(ctx context.Context, text string, f Filter, p Page) (*QueryResult, error) {
	return s.store.SearchByText(ctx, text, f, p)
}

func (s *Service) NeedingRefresh(ctx context.Context, limit int, now time.Time, suppressFinancial bool) ([]RefreshCandidate, error) {
	return s.store.NeedingRefresh(ctx, limit, now, suppressFinancial)
}

func (s *Service) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	return s.store.Stats(ctx, now)
}

func inputFor(u model.SourceUpdate) merge.Input {
	return merge.Input{
		Financial:  u.Financial,
		Enrichment: u.Enrichment,
		Insights:   u.Insights,
		Network:    u.Network,
	}
}
