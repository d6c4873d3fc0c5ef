package service

import (
	"context"
	"time"

	"ojcore/internal/common/metrics"
	"ojcore/internal/judge/model"
	"ojcore/internal/judge/repository"
	"ojcore/pkg/utils/logger"

	"go.uber.org/zap"
)

const dispatchInterrupted = "dispatch interrupted"

// SweepConfig bounds how long submissions may stay non-terminal.
type SweepConfig struct {
	Interval time.Duration
	// A RUNNING submission is stale after DispatchedAt + time limit * SafetyFactor + Grace.
	SafetyFactor float64
	Grace        time.Duration
	// DispatchGrace is how long a submission may stay PENDING.
	DispatchGrace time.Duration
	// HookGrace delays re-running hooks so in-flight runs can finish.
	HookGrace time.Duration
	BatchSize int
}

func (c *SweepConfig) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
	if c.SafetyFactor <= 0 {
		c.SafetyFactor = 3
	}
	if c.Grace <= 0 {
		c.Grace = 30 * time.Second
	}
	if c.DispatchGrace <= 0 {
		c.DispatchGrace = time.Minute
	}
	if c.HookGrace <= 0 {
		c.HookGrace = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
}

// Sweeper repairs submissions left behind by lost results or crashes.
type Sweeper struct {
	cfg         SweepConfig
	submissions repository.SubmissionRepository
	executions  repository.ExecutionRepository
	collector   *Collector
	dispatcher  *Dispatcher
	hooks       *HookRunner
	now         func() time.Time
}

func NewSweeper(
	cfg SweepConfig,
	submissions repository.SubmissionRepository,
	executions repository.ExecutionRepository,
	collector *Collector,
	dispatcher *Dispatcher,
	hooks *HookRunner,
) *Sweeper {
	cfg.setDefaults()
	return &Sweeper{
		cfg:         cfg,
		submissions: submissions,
		executions:  executions,
		collector:   collector,
		dispatcher:  dispatcher,
		hooks:       hooks,
		now:         time.Now,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce performs a single pass.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	now := s.now()
	s.sweepPending(ctx, now)
	s.sweepRunning(ctx, now)
	s.sweepHooks(ctx, now)
}

// Deadline is the instant after which a RUNNING submission's missing results are forced.
func (s *Sweeper) Deadline(sub *model.Submission) time.Time {
	start := sub.CreatedAt
	if sub.DispatchedAt != nil {
		start = *sub.DispatchedAt
	}
	budget := time.Duration(float64(sub.TimeLimitMs)*s.cfg.SafetyFactor) * time.Millisecond
	return start.Add(budget + s.cfg.Grace)
}

func (s *Sweeper) sweepPending(ctx context.Context, now time.Time) {
	subs, err := s.submissions.ListByStatus(ctx, model.StatusPending, now.Add(-s.cfg.DispatchGrace), s.cfg.BatchSize)
	if err != nil {
		logger.Warn(ctx, "list pending submissions failed", zap.Error(err))
		return
	}
	for _, sub := range subs {
		execs, err := s.executions.ListBySubmission(ctx, sub.ID)
		if err != nil {
			logger.Warn(ctx, "list executions failed", zap.String("submission_id", sub.ID), zap.Error(err))
			continue
		}
		if len(execs) == 0 {
			logger.Warn(ctx, "finishing interrupted dispatch", zap.String("submission_id", sub.ID))
			if err := s.collector.Finish(ctx, sub.ID, model.VerdictRuntimeError, dispatchInterrupted); err != nil {
				logger.Warn(ctx, "finish interrupted dispatch failed", zap.String("submission_id", sub.ID), zap.Error(err))
			}
			continue
		}
		if err := s.dispatcher.Resume(ctx, sub.ID, execs); err != nil {
			logger.Warn(ctx, "resume submission failed", zap.String("submission_id", sub.ID), zap.Error(err))
		}
	}
}

func (s *Sweeper) sweepRunning(ctx context.Context, now time.Time) {
	subs, err := s.submissions.ListByStatus(ctx, model.StatusRunning, now, s.cfg.BatchSize)
	if err != nil {
		logger.Warn(ctx, "list running submissions failed", zap.Error(err))
		return
	}
	for _, sub := range subs {
		execs, err := s.executions.ListBySubmission(ctx, sub.ID)
		if err != nil {
			logger.Warn(ctx, "list executions failed", zap.String("submission_id", sub.ID), zap.Error(err))
			continue
		}
		if len(execs) == 0 {
			if err := s.collector.Finish(ctx, sub.ID, model.VerdictRuntimeError, dispatchInterrupted); err != nil {
				logger.Warn(ctx, "finish submission failed", zap.String("submission_id", sub.ID), zap.Error(err))
			}
			continue
		}

		pending := make([]*model.Execution, 0)
		for _, e := range execs {
			if !e.Status.Terminal() {
				pending = append(pending, e)
			}
		}
		if len(pending) == 0 {
			if sub.DoneTests < sub.TotalTests {
				if err := s.collector.Reconcile(ctx, sub.ID); err != nil {
					logger.Warn(ctx, "reconcile counter failed", zap.String("submission_id", sub.ID), zap.Error(err))
				}
			}
			continue
		}
		if !now.After(s.Deadline(sub)) {
			continue
		}
		s.forceDeadline(ctx, sub, pending)
	}
}

func (s *Sweeper) forceDeadline(ctx context.Context, sub *model.Submission, pending []*model.Execution) {
	logger.Warn(ctx, "grading deadline passed",
		zap.String("submission_id", sub.ID), zap.Int("pending", len(pending)))
	for _, e := range pending {
		// A result may be parked if it raced the dispatcher's replay.
		replayed, err := s.collector.Replay(ctx, e)
		if err != nil {
			logger.Warn(ctx, "replay parked result failed", zap.String("execution_id", e.ID), zap.Error(err))
		}
		if replayed {
			continue
		}
		if err := s.collector.OnResult(ctx, e.Handle, model.DeadlineOutcome()); err != nil {
			logger.Warn(ctx, "force deadline failed", zap.String("execution_id", e.ID), zap.Error(err))
			continue
		}
		metrics.SweptExecutions.Inc()
	}
}

func (s *Sweeper) sweepHooks(ctx context.Context, now time.Time) {
	if s.hooks == nil {
		return
	}
	subs, err := s.submissions.ListHooksPending(ctx, now.Add(-s.cfg.HookGrace), s.cfg.BatchSize)
	if err != nil {
		logger.Warn(ctx, "list hook-pending submissions failed", zap.Error(err))
		return
	}
	for _, sub := range subs {
		if err := s.hooks.Run(ctx, sub); err != nil {
			logger.Warn(ctx, "re-run hooks failed", zap.String("submission_id", sub.ID), zap.Error(err))
		}
	}
}
