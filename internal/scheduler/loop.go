package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/profile-service/internal/freshness"
)

// Fallback check intervals by cadence pattern, used when the inferred
// cadence is not confident enough to schedule against a predicted batch.
const (
	intervalDaily     = 12 * time.Hour
	intervalPeriodic  = 18 * time.Hour
	intervalIrregular = 6 * time.Hour

	// predictionSlack is added past a predicted upstream batch so the check
	// lands after the batch has actually arrived.
	predictionSlack = 2 * time.Hour

	cadenceConfidenceFloor = 0.6
)

// CalculateNextCheckTime picks when the next scheduled check should run,
// anchored to the upstream's inferred cadence.
func (s *Scheduler) CalculateNextCheckTime(ctx context.Context) time.Time {
	now := s.now()

	cadence, err := s.gate.InferRefreshCadence(ctx)
	if err != nil {
		s.log.Warn("cadence inference failed", zap.Error(err))
		return now.Add(intervalIrregular)
	}

	if cadence.Confidence >= cadenceConfidenceFloor && cadence.NextExpectedRefresh != nil {
		next := cadence.NextExpectedRefresh.Add(predictionSlack)
		if next.After(now) {
			return next
		}
		// Prediction already passed; check soon rather than waiting a full
		// fallback interval.
		return now.Add(s.cfg.MinInterval)
	}

	switch cadence.Pattern {
	case freshness.CadenceDaily:
		return now.Add(intervalDaily)
	case freshness.CadenceWeekly, freshness.CadenceMonthly:
		return now.Add(intervalPeriodic)
	default:
		return now.Add(intervalIrregular)
	}
}

// Run drives scheduled refresh cycles until ctx is cancelled. The sleep
// between cycles follows the upstream cadence rather than a fixed period.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started",
		zap.Int("batch_limit", s.cfg.BatchLimit),
		zap.Int("concurrency", s.cfg.Concurrency))

	for {
		if _, err := s.RunScheduledRefresh(ctx); err != nil {
			s.log.Error("refresh cycle failed", zap.Error(err))
		}

		next := s.CalculateNextCheckTime(ctx)
		wait := next.Sub(s.now())
		if wait < s.cfg.MinInterval {
			wait = s.cfg.MinInterval
		}
		s.log.Info("next check scheduled",
			zap.Time("at", s.now().Add(wait)),
			zap.Duration("wait", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.log.Info("scheduler stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}
