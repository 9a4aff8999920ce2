package freshness

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/profile-service/internal/model"
)

// CadencePattern classifies how often an upstream source produces new data.
type CadencePattern string

const (
	CadenceDaily     CadencePattern = "daily"
	CadenceWeekly    CadencePattern = "weekly"
	CadenceMonthly   CadencePattern = "monthly"
	CadenceIrregular CadencePattern = "irregular"
)

// Cadence is the inferred refresh rhythm of an upstream source.
type Cadence struct {
	Pattern             CadencePattern `json:"pattern"`
	AvgGapDays          float64        `json:"avg_gap_days"`
	NextExpectedRefresh *time.Time     `json:"next_expected_refresh,omitempty"`
	Confidence          float64        `json:"confidence"`
}

// UpstreamFreshness summarizes the source system's own recency. Degraded is
// set when the probe itself failed and conservative defaults were substituted.
type UpstreamFreshness struct {
	PerTable     []TableStat `json:"per_table"`
	DataAgeHours float64     `json:"data_age_hours"`
	IsStale      bool        `json:"is_stale"`
	Degraded     bool        `json:"degraded,omitempty"`
}

// NewDataReport is the outcome of comparing upstream update times against a
// checkpoint.
type NewDataReport struct {
	HasNewData         bool      `json:"has_new_data"`
	NewDataAvailableAt time.Time `json:"new_data_available_at,omitempty"`
	AffectedTables     []string  `json:"affected_tables,omitempty"`
}

// Config holds the tracker's policy thresholds.
type Config struct {
	// StaleThreshold is how old the upstream's newest data may be before the
	// source itself is considered stale. Default 48h.
	StaleThreshold time.Duration
	// CadenceWindow is the trailing window of update history used for
	// cadence inference. Default 60 days.
	CadenceWindow time.Duration
	// MaxEntityScan bounds EntityKeysUpdatedSince. Default 1000.
	MaxEntityScan int
}

// DefaultConfig returns the standard tracker thresholds.
func DefaultConfig() Config {
	return Config{
		StaleThreshold: 48 * time.Hour,
		CadenceWindow:  60 * 24 * time.Hour,
		MaxEntityScan:  1000,
	}
}

// Tracker decides whether the financial upstream has genuinely new data and
// predicts when the next batch is likely to land.
type Tracker struct {
	probe       Probe
	checkpoints Checkpoints
	cfg         Config
	now         func() time.Time
}

// NewTracker creates a Tracker.
func NewTracker(probe Probe, checkpoints Checkpoints, cfg Config) *Tracker {
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 48 * time.Hour
	}
	if cfg.CadenceWindow <= 0 {
		cfg.CadenceWindow = 60 * 24 * time.Hour
	}
	if cfg.MaxEntityScan <= 0 {
		cfg.MaxEntityScan = 1000
	}
	return &Tracker{probe: probe, checkpoints: checkpoints, cfg: cfg, now: time.Now}
}

// WithNow sets a fixed time for testing.
func (t *Tracker) WithNow(now time.Time) *Tracker {
	t.now = func() time.Time { return now }
	return t
}

// GetUpstreamFreshness reports the source system's own recency. A probe
// failure degrades to a conservative non-stale answer rather than failing the
// caller; degraded visibility is logged, not surfaced as an error.
func (t *Tracker) GetUpstreamFreshness(ctx context.Context) *UpstreamFreshness {
	stats, err := t.probe.TableStats(ctx)
	if err != nil {
		zap.L().Warn("freshness: probe failed, assuming upstream is live",
			zap.Error(err),
		)
		return &UpstreamFreshness{IsStale: false, DataAgeHours: 0, Degraded: true}
	}

	var newest time.Time
	for _, s := range stats {
		if s.LastUpdated.After(newest) {
			newest = s.LastUpdated
		}
	}

	fresh := &UpstreamFreshness{PerTable: stats}
	if !newest.IsZero() {
		fresh.DataAgeHours = t.now().UTC().Sub(newest).Hours()
		fresh.IsStale = fresh.DataAgeHours > t.cfg.StaleThreshold.Hours()
	}
	return fresh
}

// HasNewDataSince reports which tracked tables produced data after since.
func (t *Tracker) HasNewDataSince(ctx context.Context, since time.Time) (*NewDataReport, error) {
	stats, err := t.probe.TableStats(ctx)
	if err != nil {
		return nil, err
	}

	report := &NewDataReport{}
	for _, s := range stats {
		if s.LastUpdated.After(since) {
			report.HasNewData = true
			report.AffectedTables = append(report.AffectedTables, s.Table)
			if s.LastUpdated.After(report.NewDataAvailableAt) {
				report.NewDataAvailableAt = s.LastUpdated
			}
		}
	}
	return report, nil
}

// EntitiesWithNewData returns the entity keys touched by upstream batches
// after since, bounded by MaxEntityScan.
func (t *Tracker) EntitiesWithNewData(ctx context.Context, since time.Time) ([]string, error) {
	return t.probe.EntityKeysUpdatedSince(ctx, since, t.cfg.MaxEntityScan)
}

// InferRefreshCadence estimates the upstream's update rhythm from the
// distribution of inter-update gaps over the trailing window.
func (t *Tracker) InferRefreshCadence(ctx context.Context) (*Cadence, error) {
	history, err := t.probe.UpdateHistory(ctx, t.cfg.CadenceWindow)
	if err != nil {
		return nil, err
	}
	if len(history) < 3 {
		return &Cadence{Pattern: CadenceIrregular}, nil
	}

	var totalGap time.Duration
	for i := 1; i < len(history); i++ {
		totalGap += history[i].Sub(history[i-1])
	}
	avgGap := totalGap / time.Duration(len(history)-1)
	avgGapDays := avgGap.Hours() / 24

	c := &Cadence{AvgGapDays: avgGapDays}
	switch {
	case avgGapDays <= 1.5:
		c.Pattern = CadenceDaily
		c.Confidence = 0.9
	case avgGapDays >= 6 && avgGapDays <= 8:
		c.Pattern = CadenceWeekly
		c.Confidence = 0.8
	case avgGapDays >= 25 && avgGapDays <= 35:
		c.Pattern = CadenceMonthly
		c.Confidence = 0.7
	default:
		c.Pattern = CadenceIrregular
		c.Confidence = 0
		return c, nil
	}

	next := history[len(history)-1].Add(avgGap)
	c.NextExpectedRefresh = &next
	return c, nil
}

// ShouldTriggerRefresh applies the refresh gate, in order: a dead upstream
// suppresses everything; a predicted future batch suppresses polling unless
// already-landed data is still unconsumed; otherwise new data past the
// checkpoint triggers a high-priority refresh. Probe and checkpoint failures
// degrade to a low-priority "do not refresh" decision instead of an error so
// the caller's cycle still processes calendar-TTL work.
func (t *Tracker) ShouldTriggerRefresh(ctx context.Context) (*model.RefreshDecision, error) {
	now := t.now().UTC()

	fresh := t.GetUpstreamFreshness(ctx)
	if fresh.Degraded {
		return &model.RefreshDecision{
			ShouldRefresh: false,
			Priority:      model.PriorityLow,
			Reason:        "upstream probe unavailable; deferring financial refresh",
		}, nil
	}
	if fresh.IsStale {
		return &model.RefreshDecision{
			ShouldRefresh: false,
			Priority:      model.PriorityLow,
			Reason: fmt.Sprintf("upstream itself has not produced new data in %.0fh (threshold %.0fh)",
				fresh.DataAgeHours, t.cfg.StaleThreshold.Hours()),
		}, nil
	}

	checkpoint := time.Time{}
	if t.checkpoints != nil {
		cp, err := t.checkpoints.LastChecked(ctx, model.SourceFinancial)
		if err != nil {
			zap.L().Warn("freshness: checkpoint read failed, deferring financial refresh",
				zap.Error(err),
			)
			return &model.RefreshDecision{
				ShouldRefresh: false,
				Priority:      model.PriorityLow,
				Reason:        "checkpoint unavailable; deferring financial refresh",
			}, nil
		}
		if cp != nil {
			checkpoint = *cp
		}
	}

	latestUpstream := time.Time{}
	for _, s := range fresh.PerTable {
		if s.LastUpdated.After(latestUpstream) {
			latestUpstream = s.LastUpdated
		}
	}

	cadence, err := t.InferRefreshCadence(ctx)
	if err != nil {
		zap.L().Warn("freshness: cadence inference failed", zap.Error(err))
		cadence = &Cadence{Pattern: CadenceIrregular}
	}

	// The prediction gate only applies when the checkpoint already covers the
	// upstream's most recent batch; an unconsumed batch must not be deferred.
	consumed := !latestUpstream.After(checkpoint)
	if cadence.NextExpectedRefresh != nil && now.Before(*cadence.NextExpectedRefresh) && consumed {
		hoursUntil := cadence.NextExpectedRefresh.Sub(now).Hours()
		return &model.RefreshDecision{
			ShouldRefresh: false,
			Priority:      model.PriorityLow,
			Reason: fmt.Sprintf("upstream refreshes %s; next batch expected in %.1fh",
				cadence.Pattern, hoursUntil),
		}, nil
	}

	report, err := t.HasNewDataSince(ctx, checkpoint)
	if err != nil {
		zap.L().Warn("freshness: new-data check failed, deferring financial refresh",
			zap.Error(err),
		)
		return &model.RefreshDecision{
			ShouldRefresh: false,
			Priority:      model.PriorityLow,
			Reason:        "upstream probe unavailable; deferring financial refresh",
		}, nil
	}
	if report.HasNewData {
		entities, err := t.EntitiesWithNewData(ctx, checkpoint)
		if err != nil {
			zap.L().Warn("freshness: entity scan failed", zap.Error(err))
		}
		return &model.RefreshDecision{
			ShouldRefresh:    true,
			Priority:         model.PriorityHigh,
			Reason:           fmt.Sprintf("new upstream data in %v", report.AffectedTables),
			AffectedSources:  []model.SourceKind{model.SourceFinancial},
			AffectedTables:   report.AffectedTables,
			AffectedEntities: len(entities),
		}, nil
	}

	return &model.RefreshDecision{
		ShouldRefresh: false,
		Priority:      model.PriorityLow,
		Reason:        "no new data detected",
	}, nil
}
