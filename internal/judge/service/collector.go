package service

import (
	"context"
	"errors"
	"time"

	"ojcore/internal/common/metrics"
	"ojcore/internal/judge/model"
	"ojcore/internal/judge/repository"
	"ojcore/internal/judge/verdict"
	appErr "ojcore/pkg/errors"
	"ojcore/pkg/utils/logger"

	"go.uber.org/zap"
)

// Collector folds execution results into their submissions.
type Collector struct {
	submissions repository.SubmissionRepository
	executions  repository.ExecutionRepository
	parked      repository.ParkedResultStore
	hooks       *HookRunner
	casRetries  int
	now         func() time.Time
}

// NewCollector creates a collector. hooks may be nil.
func NewCollector(
	submissions repository.SubmissionRepository,
	executions repository.ExecutionRepository,
	parked repository.ParkedResultStore,
	hooks *HookRunner,
	casRetries int,
) *Collector {
	if hooks == nil {
		hooks = NewHookRunner(submissions, casRetries)
	}
	return &Collector{
		submissions: submissions,
		executions:  executions,
		parked:      parked,
		hooks:       hooks,
		casRetries:  normalizeRetries(casRetries),
		now:         time.Now,
	}
}

// OnResult records the terminal outcome for handle. Repeated deliveries are no-ops.
func (c *Collector) OnResult(ctx context.Context, handle string, out model.Outcome) error {
	if handle == "" {
		return appErr.ValidationError("handle", "required")
	}
	exec, err := c.executions.GetByHandle(ctx, handle)
	if errors.Is(err, repository.ErrNotFound) {
		return c.park(ctx, handle, out)
	}
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "get execution failed")
	}
	return c.apply(ctx, exec, out)
}

// Deliver handles a pushed result. A handle unknown to a submission that is already DONE
// belongs to an abandoned dispatch and is dropped.
func (c *Collector) Deliver(ctx context.Context, event model.ExecutionResultEvent) error {
	if event.SubmissionID != "" {
		_, err := c.executions.GetByHandle(ctx, event.Handle)
		if errors.Is(err, repository.ErrNotFound) {
			sub, subErr := c.submissions.Get(ctx, event.SubmissionID)
			if errors.Is(subErr, repository.ErrNotFound) || (subErr == nil && sub.Status == model.StatusDone) {
				logger.Info(ctx, "discard result for orphaned handle",
					zap.String("submission_id", event.SubmissionID), zap.String("handle", event.Handle))
				return nil
			}
		}
	}
	return c.OnResult(ctx, event.Handle, event.Outcome)
}

func (c *Collector) park(ctx context.Context, handle string, out model.Outcome) error {
	if c.parked == nil {
		logger.Info(ctx, "discard result for unknown handle", zap.String("handle", handle))
		return nil
	}
	if err := c.parked.Park(ctx, handle, out); err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "park result failed")
	}
	metrics.ParkedResults.Inc()
	logger.Info(ctx, "parked result for unknown handle", zap.String("handle", handle))

	// The executions may have been persisted between the lookup and the park.
	exec, err := c.executions.GetByHandle(ctx, handle)
	if err != nil {
		return nil
	}
	_, err = c.Replay(ctx, exec)
	return err
}

// Replay applies a parked outcome for exec and reports whether one existed.
func (c *Collector) Replay(ctx context.Context, exec *model.Execution) (bool, error) {
	if c.parked == nil || exec.Handle == "" {
		return false, nil
	}
	out, err := c.parked.Take(ctx, exec.Handle)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.CacheError, "take parked result failed")
	}
	if out == nil {
		return false, nil
	}
	return true, c.apply(ctx, exec, *out)
}

func (c *Collector) apply(ctx context.Context, exec *model.Execution, out model.Outcome) error {
	if exec.Status.Terminal() {
		metrics.DuplicateResults.Inc()
		logger.Info(ctx, "duplicate result ignored", zap.String("execution_id", exec.ID))
		return nil
	}
	sub, err := c.submissions.Get(ctx, exec.SubmissionID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}

	label := verdict.Classify(out, exec.ExpectedOutput, sub.Limits())
	err = c.executions.Complete(ctx, exec.ID, out, label, c.now())
	if errors.Is(err, repository.ErrAlreadyTerminal) {
		metrics.DuplicateResults.Inc()
		logger.Info(ctx, "duplicate result ignored", zap.String("execution_id", exec.ID))
		return nil
	}
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "complete execution failed")
	}
	return c.countDone(ctx, sub.ID, func(s *model.Submission) { s.DoneTests++ })
}

// Reconcile recomputes the join counter from the execution rows. It finishes the submission
// when every execution is terminal but the counter fell behind.
func (c *Collector) Reconcile(ctx context.Context, submissionID string) error {
	execs, err := c.executions.ListBySubmission(ctx, submissionID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "list executions failed")
	}
	done := 0
	for _, e := range execs {
		if e.Status.Terminal() {
			done++
		}
	}
	return c.countDone(ctx, submissionID, func(s *model.Submission) {
		if done > s.DoneTests {
			s.DoneTests = done
		}
	})
}

// countDone applies bump under the version CAS. The write that brings DoneTests to
// TotalTests also aggregates and moves the submission to DONE.
func (c *Collector) countDone(ctx context.Context, submissionID string, bump func(*model.Submission)) error {
	for attempt := 0; attempt < c.casRetries; attempt++ {
		sub, err := c.submissions.Get(ctx, submissionID)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
		}
		if sub.Status == model.StatusDone {
			return nil
		}
		if sub.Status == model.StatusPending {
			// Results can land after the executions are persisted but before markRunning.
			if err := c.markDispatched(ctx, sub); err != nil {
				return err
			}
			continue
		}
		bump(sub)
		finished := sub.TotalTests > 0 && sub.DoneTests >= sub.TotalTests
		if finished {
			if err := c.aggregate(ctx, sub); err != nil {
				return err
			}
		}
		err = c.submissions.Update(ctx, sub)
		if errors.Is(err, repository.ErrConflict) {
			metrics.CASConflicts.WithLabelValues("submission").Inc()
			continue
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "update submission failed")
		}
		if finished {
			c.finished(ctx, sub)
		}
		return nil
	}
	logger.Error(ctx, "join counter retries exhausted", zap.String("submission_id", submissionID))
	return appErr.New(appErr.ConcurrentUpdate).WithMessage("submission update retries exhausted")
}

// markDispatched moves a PENDING submission to RUNNING. A version conflict is left to
// the caller's next read.
func (c *Collector) markDispatched(ctx context.Context, sub *model.Submission) error {
	now := c.now()
	sub.Status = model.StatusRunning
	sub.DispatchedAt = &now
	err := c.submissions.Update(ctx, sub)
	if errors.Is(err, repository.ErrConflict) {
		metrics.CASConflicts.WithLabelValues("submission").Inc()
		return nil
	}
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "mark submission running failed")
	}
	return nil
}

func (c *Collector) aggregate(ctx context.Context, sub *model.Submission) error {
	execs, err := c.executions.ListBySubmission(ctx, sub.ID)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "list executions failed")
	}
	rows := make([]model.Execution, 0, len(execs))
	for _, e := range execs {
		rows = append(rows, *e)
	}
	res := verdict.Aggregate(rows, sub.Limits(), sub.ScoringPolicy)
	now := c.now()
	sub.Status = model.StatusDone
	sub.Verdict = res.Verdict
	sub.Score = res.Score
	sub.PassedTests = res.Passed
	sub.TotalTests = res.Total
	sub.DoneTests = res.Total
	sub.FinishedAt = &now
	return nil
}

// Finish moves a submission that has no usable executions straight to DONE.
func (c *Collector) Finish(ctx context.Context, submissionID string, label model.Verdict, message string) error {
	for attempt := 0; attempt < c.casRetries; attempt++ {
		sub, err := c.submissions.Get(ctx, submissionID)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
		}
		if sub.Status == model.StatusDone {
			return nil
		}
		now := c.now()
		sub.Status = model.StatusDone
		sub.Verdict = label
		sub.Score = 0
		sub.PassedTests = 0
		sub.Message = message
		sub.FinishedAt = &now
		err = c.submissions.Update(ctx, sub)
		if errors.Is(err, repository.ErrConflict) {
			metrics.CASConflicts.WithLabelValues("submission").Inc()
			continue
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "finish submission failed")
		}
		c.finished(ctx, sub)
		return nil
	}
	return appErr.New(appErr.ConcurrentUpdate).WithMessage("submission update retries exhausted")
}

// finished runs after the single DONE transition. Hook failures are left for the sweep.
func (c *Collector) finished(ctx context.Context, sub *model.Submission) {
	metrics.Verdicts.WithLabelValues(string(sub.Verdict)).Inc()
	if sub.DispatchedAt != nil && sub.FinishedAt != nil {
		metrics.GradingDuration.Observe(sub.FinishedAt.Sub(*sub.DispatchedAt).Seconds())
	}
	logger.Info(ctx, "submission finished",
		zap.String("submission_id", sub.ID),
		zap.String("verdict", string(sub.Verdict)),
		zap.Float64("score", sub.Score),
	)
	_ = c.hooks.Run(ctx, sub)
}
