package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pactguard/pactguard/internal/config"
	"github.com/pactguard/pactguard/internal/metrics"
	"github.com/pactguard/pactguard/internal/penalty"
	"github.com/pactguard/pactguard/internal/scoring"
	"github.com/pactguard/pactguard/internal/storage"
)

// Scheduler runs the periodic maintenance jobs: score sweeps, penalty
// pruning and retention cleanup.
type Scheduler struct {
	cfg        config.Config
	calculator *scoring.Calculator
	penalties  *penalty.Registry
	collector  *metrics.PrometheusCollector
	scores     *storage.ScoreRepository
	audits     *storage.AuditRepository
	violations *storage.ViolationRepository
	logger     *zap.Logger
	cron       *cron.Cron
}

// NewScheduler creates the maintenance scheduler. The repository arguments
// may be nil when persistence is disabled.
func NewScheduler(
	cfg config.Config,
	calculator *scoring.Calculator,
	penalties *penalty.Registry,
	collector *metrics.PrometheusCollector,
	scores *storage.ScoreRepository,
	audits *storage.AuditRepository,
	violations *storage.ViolationRepository,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		calculator: calculator,
		penalties:  penalties,
		collector:  collector,
		scores:     scores,
		audits:     audits,
		violations: violations,
		logger:     logger,
		cron:       cron.New(),
	}
}

// Start registers and starts all scheduled jobs.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.Scheduler.ScoreSweepSchedule, s.scoreSweep); err != nil {
		return fmt.Errorf("failed to schedule score sweep: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.Scheduler.PenaltyPruneSchedule, s.prunePenalties); err != nil {
		return fmt.Errorf("failed to schedule penalty prune: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.Scheduler.RetentionSchedule, s.enforceRetention); err != nil {
		return fmt.Errorf("failed to schedule retention cleanup: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Scheduler started",
		zap.String("score_sweep", s.cfg.Scheduler.ScoreSweepSchedule),
		zap.String("penalty_prune", s.cfg.Scheduler.PenaltyPruneSchedule),
		zap.String("retention", s.cfg.Scheduler.RetentionSchedule))
	return nil
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// scoreSweep recalculates every known endpoint score, publishes the gauges
// and optionally snapshots the scores.
func (s *Scheduler) scoreSweep() {
	endpoints := s.calculator.KnownEndpoints()
	for _, endpoint := range endpoints {
		score := s.calculator.CalculateScore(endpoint)

		if s.collector != nil {
			s.collector.SetDeliveryScore(endpoint, score.Score)
			s.collector.IncrementScoreCalculation(score.Classification)
			s.collector.SetPenaltiesActive(endpoint, s.penalties.Count(endpoint))
		}

		if s.cfg.Scoring.SnapshotScores && s.scores != nil {
			snapshot := &storage.ScoreSnapshot{
				Endpoint:       endpoint,
				Score:          score.Score,
				Classification: score.Classification,
				HealthState:    scoring.HealthState(score.Score),
				CreatedAt:      score.Timestamp,
			}
			if err := s.scores.Create(snapshot); err != nil {
				s.logger.Error("Failed to snapshot score",
					zap.String("endpoint", endpoint),
					zap.Error(err))
			}
		}
	}

	if len(endpoints) > 0 {
		s.logger.Debug("Score sweep completed", zap.Int("endpoints", len(endpoints)))
	}
}

// prunePenalties drops penalties whose decayed value fell below the
// configured threshold.
func (s *Scheduler) prunePenalties() {
	pruned := s.penalties.Prune(time.Now(), s.cfg.Scoring.PenaltyHalfLifeHours, s.cfg.Scoring.PruneThreshold)
	if pruned > 0 {
		s.logger.Info("Pruned decayed penalties", zap.Int("count", pruned))
	}
}

// enforceRetention deletes persisted records older than the retention window.
func (s *Scheduler) enforceRetention() {
	if s.cfg.Audit.RetentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.cfg.Audit.RetentionDays)

	if s.audits != nil {
		if deleted, err := s.audits.DeleteOlderThan(cutoff); err != nil {
			s.logger.Error("Failed to clean audit entries", zap.Error(err))
		} else if deleted > 0 {
			s.logger.Info("Cleaned audit entries", zap.Int64("deleted", deleted))
		}
	}

	if s.violations != nil {
		if deleted, err := s.violations.DeleteOlderThan(cutoff); err != nil {
			s.logger.Error("Failed to clean violation records", zap.Error(err))
		} else if deleted > 0 {
			s.logger.Info("Cleaned violation records", zap.Int64("deleted", deleted))
		}
	}

	if s.scores != nil {
		if deleted, err := s.scores.DeleteOlderThan(cutoff); err != nil {
			s.logger.Error("Failed to clean score snapshots", zap.Error(err))
		} else if deleted > 0 {
			s.logger.Info("Cleaned score snapshots", zap.Int64("deleted", deleted))
		}
	}
}
