// Package scheduler decides when consolidated profiles get refreshed and
// drives the refresh work itself. One scheduler runs per process; overlapping
// cycles are rejected rather than queued.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/profile-service/internal/freshness"
	"github.com/sells-group/profile-service/internal/model"
	"github.com/sells-group/profile-service/internal/profilestore"
	"github.com/sells-group/profile-service/internal/resilience"
)

// Gate is the freshness surface the scheduler consults before doing work.
type Gate interface {
	ShouldTriggerRefresh(ctx context.Context) (*model.RefreshDecision, error)
	GetUpstreamFreshness(ctx context.Context) *freshness.UpstreamFreshness
	InferRefreshCadence(ctx context.Context) (*freshness.Cadence, error)
}

// Profiles is the slice of the profile service the scheduler needs.
type Profiles interface {
	NeedingRefresh(ctx context.Context, limit int, now time.Time, suppressFinancial bool) ([]profilestore.RefreshCandidate, error)
	UpdateFromSource(ctx context.Context, entityKey string, update model.SourceUpdate) (*model.ConsolidatedProfile, error)
	Stats(ctx context.Context, now time.Time) (*profilestore.Stats, error)
}

// Fetcher resolves a fresh payload for one entity from one source.
type Fetcher interface {
	Fetch(ctx context.Context, entityKey string, kind model.SourceKind) (*model.SourceUpdate, error)
}

// Config holds the scheduler's operational knobs.
type Config struct {
	// BatchLimit caps how many entities one cycle may touch. Default 500.
	BatchLimit int
	// Concurrency bounds parallel per-entity refreshes. Default 10.
	Concurrency int
	// MinInterval floors the loop's sleep between cycles. Default 15m.
	MinInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		BatchLimit:  500,
		Concurrency: 10,
		MinInterval: 15 * time.Minute,
	}
}

const (
	stateIdle int32 = iota
	stateRunning
)

type Scheduler struct {
	gate        Gate
	profiles    Profiles
	fetcher     Fetcher
	checkpoints freshness.Checkpoints
	cfg         Config
	dlq         *resilience.DLQ
	log         *zap.Logger

	state   atomic.Int32
	lastRun atomic.Pointer[RunResult]
	now     func() time.Time
}

func New(gate Gate, profiles Profiles, fetcher Fetcher, checkpoints freshness.Checkpoints, cfg Config) *Scheduler {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 15 * time.Minute
	}
	return &Scheduler{
		gate:        gate,
		profiles:    profiles,
		fetcher:     fetcher,
		checkpoints: checkpoints,
		cfg:         cfg,
		dlq:         resilience.NewDLQ(),
		log:         zap.L().With(zap.String("component", "scheduler")),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithNow injects a clock for tests. The dead letter queue shares it so
// retry backoffs line up with the scheduler's view of time.
func (s *Scheduler) WithNow(now func() time.Time) *Scheduler {
	s.now = now
	s.dlq.WithNow(now)
	return s
}

// FailedItem records one entity/source refresh that did not complete.
type FailedItem struct {
	EntityKey string           `json:"entity_key"`
	Source    model.SourceKind `json:"source"`
	Error     string           `json:"error"`
}

// RunResult summarizes one refresh cycle. Skipped marks a cycle that never
// started because a previous one was still in flight.
type RunResult struct {
	StartedAt  time.Time              `json:"started_at"`
	Duration   time.Duration          `json:"duration"`
	Decision   *model.RefreshDecision `json:"decision,omitempty"`
	Candidates int                    `json:"candidates"`
	Succeeded  int                    `json:"succeeded"`
	Failed     []FailedItem           `json:"failed,omitempty"`
	Forced     bool                   `json:"forced,omitempty"`
	Skipped    bool                   `json:"skipped,omitempty"`
}

// skippedResult reports a cycle that was not started. It is returned to the
// caller but never stored as the last run.
func (s *Scheduler) skippedResult(forced bool) *RunResult {
	s.log.Info("refresh cycle skipped, previous cycle still running")
	return &RunResult{StartedAt: s.now(), Forced: forced, Skipped: true}
}

// Running reports whether a cycle is in flight.
func (s *Scheduler) Running() bool {
	return s.state.Load() == stateRunning
}

// LastRun returns the most recent cycle's result, or nil before the first.
func (s *Scheduler) LastRun() *RunResult {
	return s.lastRun.Load()
}

// RunScheduledRefresh executes one gated refresh cycle. Upstream gates
// control only financial refreshes; expired enrichment, insights, and
// network slots are always eligible since their sources are independent of
// the warehouse. A concurrent invocation returns a skipped result, not an
// error.
func (s *Scheduler) RunScheduledRefresh(ctx context.Context) (*RunResult, error) {
	if !s.state.CompareAndSwap(stateIdle, stateRunning) {
		return s.skippedResult(false), nil
	}
	defer s.state.Store(stateIdle)

	start := s.now()
	decision, err := s.gate.ShouldTriggerRefresh(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: freshness gate")
	}
	s.log.Info("refresh decision",
		zap.Bool("should_refresh", decision.ShouldRefresh),
		zap.String("reason", decision.Reason),
		zap.String("priority", string(decision.Priority)))

	candidates, err := s.profiles.NeedingRefresh(ctx, s.cfg.BatchLimit, start, !decision.ShouldRefresh)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: list candidates")
	}
	candidates = appendDueRetries(candidates, s.dlq.Due(start))

	result := s.refreshCandidates(ctx, candidates)
	result.StartedAt = start
	result.Decision = decision
	result.Duration = s.now().Sub(start)

	if decision.ShouldRefresh {
		if err := s.checkpoints.Record(ctx, model.SourceFinancial, start); err != nil {
			s.log.Warn("checkpoint record failed", zap.Error(err))
		}
	}

	s.lastRun.Store(result)
	s.log.Info("refresh cycle complete",
		zap.Int("candidates", result.Candidates),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", len(result.Failed)),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// ForceOptions narrows a forced refresh to specific entities or sources.
// Empty fields mean "all". MaxProfiles caps the batch after filtering; zero
// means the configured batch limit.
type ForceOptions struct {
	EntityKeys  []string
	Sources     []model.SourceKind
	MaxProfiles int
}

// ForceRefresh bypasses the freshness gates and refreshes the requested
// entities immediately. With no entity keys it falls back to whatever the
// store reports as expired, financial included.
func (s *Scheduler) ForceRefresh(ctx context.Context, opts ForceOptions) (*RunResult, error) {
	if !s.state.CompareAndSwap(stateIdle, stateRunning) {
		return s.skippedResult(true), nil
	}
	defer s.state.Store(stateIdle)

	start := s.now()
	sources := opts.Sources
	if len(sources) == 0 {
		sources = model.AllSourceKinds
	}

	var candidates []profilestore.RefreshCandidate
	if len(opts.EntityKeys) > 0 {
		for _, key := range opts.EntityKeys {
			candidates = append(candidates, profilestore.RefreshCandidate{EntityKey: key, Sources: sources})
		}
	} else {
		expired, err := s.profiles.NeedingRefresh(ctx, s.cfg.BatchLimit, start, false)
		if err != nil {
			return nil, eris.Wrap(err, "scheduler: list candidates")
		}
		for _, c := range expired {
			c.Sources = intersectKinds(c.Sources, sources)
			if len(c.Sources) > 0 {
				candidates = append(candidates, c)
			}
		}
	}

	if opts.MaxProfiles > 0 && len(candidates) > opts.MaxProfiles {
		candidates = candidates[:opts.MaxProfiles]
	}

	result := s.refreshCandidates(ctx, candidates)
	result.StartedAt = start
	result.Duration = s.now().Sub(start)
	result.Forced = true
	s.lastRun.Store(result)
	return result, nil
}

// refreshCandidates fans the batch out over a bounded worker group. A
// failure on one entity/source never aborts the batch.
func (s *Scheduler) refreshCandidates(ctx context.Context, candidates []profilestore.RefreshCandidate) *RunResult {
	result := &RunResult{Candidates: len(candidates)}
	if len(candidates) == 0 {
		return result
	}

	type outcome struct {
		failures []FailedItem
		ok       int
	}
	outcomes := make([]outcome, len(candidates))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, c := range candidates {
		g.Go(func() error {
			for _, kind := range c.Sources {
				if err := s.refreshOne(ctx, c.EntityKey, kind); err != nil {
					s.dlq.Record(c.EntityKey, string(kind), err)
					outcomes[i].failures = append(outcomes[i].failures, FailedItem{
						EntityKey: c.EntityKey,
						Source:    kind,
						Error:     err.Error(),
					})
					continue
				}
				s.dlq.Resolve(c.EntityKey, string(kind))
				outcomes[i].ok++
			}
			return nil
		})
	}
	// Workers never return errors; Wait only propagates ctx cancellation.
	_ = g.Wait()

	for _, o := range outcomes {
		result.Succeeded += o.ok
		result.Failed = append(result.Failed, o.failures...)
	}
	for _, f := range result.Failed {
		s.log.Warn("refresh failed",
			zap.String("entity_key", f.EntityKey),
			zap.String("source", string(f.Source)),
			zap.String("error", f.Error))
	}
	return result
}

func (s *Scheduler) refreshOne(ctx context.Context, entityKey string, kind model.SourceKind) error {
	update, err := s.fetcher.Fetch(ctx, entityKey, kind)
	if err != nil {
		return err
	}
	if update == nil {
		// Source has nothing for this entity; leave the slot as it is.
		return nil
	}
	_, err = s.profiles.UpdateFromSource(ctx, entityKey, *update)
	return err
}

// FailedRefreshes exposes the dead letter queue for status reporting.
func (s *Scheduler) FailedRefreshes() []resilience.DLQEntry {
	return s.dlq.Entries()
}

// appendDueRetries folds DLQ entries that are ready to retry into the cycle,
// skipping entity/source pairs the candidate list already covers.
func appendDueRetries(candidates []profilestore.RefreshCandidate, due []resilience.DLQEntry) []profilestore.RefreshCandidate {
	if len(due) == 0 {
		return candidates
	}

	covered := make(map[string]bool)
	for _, c := range candidates {
		for _, kind := range c.Sources {
			covered[c.EntityKey+"/"+string(kind)] = true
		}
	}

	byEntity := make(map[string]int)
	for _, e := range due {
		if covered[e.EntityKey+"/"+e.Source] {
			continue
		}
		kind := model.SourceKind(e.Source)
		if !kind.Valid() {
			continue
		}
		if i, ok := byEntity[e.EntityKey]; ok {
			candidates[i].Sources = append(candidates[i].Sources, kind)
			continue
		}
		candidates = append(candidates, profilestore.RefreshCandidate{
			EntityKey: e.EntityKey,
			Sources:   []model.SourceKind{kind},
		})
		byEntity[e.EntityKey] = len(candidates) - 1
	}
	return candidates
}

func intersectKinds(a, b []model.SourceKind) []model.SourceKind {
	var out []model.SourceKind
	for _, k := range a {
		for _, w := range b {
			if k == w {
				out = append(out, k)
				break
			}
		}
	}
	return out
}
