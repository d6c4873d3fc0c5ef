package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"ojcore/internal/common/metrics"
	contestmodel "ojcore/internal/contest/model"
	"ojcore/internal/judge/model"
	"ojcore/internal/judge/repository"
	appErr "ojcore/pkg/errors"
	"ojcore/pkg/utils/logger"

	"go.uber.org/zap"
)

// Hook names recorded in Submission.HooksDone.
const (
	HookProblemStats = "problem_stats"
	HookContest      = "contest"
	HookStatusEvent  = "status_event"
	HookStatusCache  = "status_cache"
)

// FinalStatusHandler runs once a submission is DONE. Implementations must be idempotent.
type FinalStatusHandler interface {
	Name() string
	HandleFinalStatus(ctx context.Context, sub *model.Submission) error
}

// ContestScorer records a finished contest submission.
type ContestScorer interface {
	Score(ctx context.Context, sub *model.Submission) (*contestmodel.ContestSubmission, error)
}

// HookRunner applies the post-DONE handlers in order and records each completion.
type HookRunner struct {
	submissions repository.SubmissionRepository
	handlers    []FinalStatusHandler
	casRetries  int
}

// NewHookRunner creates a runner for handlers. Nil handlers are skipped.
func NewHookRunner(submissions repository.SubmissionRepository, casRetries int, handlers ...FinalStatusHandler) *HookRunner {
	kept := make([]FinalStatusHandler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			kept = append(kept, h)
		}
	}
	return &HookRunner{submissions: submissions, handlers: kept, casRetries: normalizeRetries(casRetries)}
}

// Run executes every handler not yet recorded on sub. It stops at the first failure,
// leaving the remaining handlers for the sweep.
func (r *HookRunner) Run(ctx context.Context, sub *model.Submission) error {
	if sub == nil || sub.Status != model.StatusDone {
		return nil
	}
	for _, h := range r.handlers {
		if sub.HookDone(h.Name()) {
			continue
		}
		if err := h.HandleFinalStatus(ctx, sub); err != nil {
			logger.Warn(ctx, "final status hook failed",
				zap.String("submission_id", sub.ID), zap.String("hook", h.Name()), zap.Error(err))
			return fmt.Errorf("hook %s: %w", h.Name(), err)
		}
		updated, err := r.record(ctx, sub.ID, h.Name())
		if err != nil {
			return err
		}
		sub = updated
	}
	if !sub.HooksComplete {
		if _, err := r.record(ctx, sub.ID, ""); err != nil {
			return err
		}
	}
	return nil
}

// record appends name to HooksDone and marks completion once every handler is recorded.
func (r *HookRunner) record(ctx context.Context, id, name string) (*model.Submission, error) {
	for attempt := 0; attempt < r.casRetries; attempt++ {
		sub, err := r.submissions.Get(ctx, id)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
		}
		if name != "" && !sub.HookDone(name) {
			sub.HooksDone = append(sub.HooksDone, name)
		}
		sub.HooksComplete = r.complete(sub.HooksDone)
		err = r.submissions.Update(ctx, sub)
		if errors.Is(err, repository.ErrConflict) {
			metrics.CASConflicts.WithLabelValues("submission").Inc()
			continue
		}
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.DatabaseError, "record hook failed")
		}
		return sub, nil
	}
	return nil, appErr.New(appErr.ConcurrentUpdate).WithMessage("record hook retries exhausted")
}

func (r *HookRunner) complete(done []string) bool {
	for _, h := range r.handlers {
		if !slices.Contains(done, h.Name()) {
			return false
		}
	}
	return true
}

// ProblemStatsHandler bumps the problem counters.
type ProblemStatsHandler struct {
	stats      repository.StatsRepository
	casRetries int
}

func NewProblemStatsHandler(stats repository.StatsRepository, casRetries int) *ProblemStatsHandler {
	return &ProblemStatsHandler{stats: stats, casRetries: normalizeRetries(casRetries)}
}

func (h *ProblemStatsHandler) Name() string { return HookProblemStats }

func (h *ProblemStatsHandler) HandleFinalStatus(ctx context.Context, sub *model.Submission) error {
	for attempt := 0; attempt < h.casRetries; attempt++ {
		stats, err := h.stats.Get(ctx, sub.ProblemID)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "get problem stats failed")
		}
		stats.TotalSubmissions++
		if sub.Verdict == model.VerdictAccepted {
			stats.AcceptedSubmissions++
		}
		err = h.stats.Save(ctx, stats)
		if errors.Is(err, repository.ErrConflict) {
			metrics.CASConflicts.WithLabelValues("problem_stats").Inc()
			continue
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "save problem stats failed")
		}
		return nil
	}
	return appErr.New(appErr.ConcurrentUpdate).WithMessage("problem stats retries exhausted")
}

// ContestHandler forwards contest submissions to the scorer.
type ContestHandler struct {
	scorer ContestScorer
}

func NewContestHandler(scorer ContestScorer) *ContestHandler {
	return &ContestHandler{scorer: scorer}
}

func (h *ContestHandler) Name() string { return HookContest }

func (h *ContestHandler) HandleFinalStatus(ctx context.Context, sub *model.Submission) error {
	if !sub.InContest() {
		return nil
	}
	_, err := h.scorer.Score(ctx, sub)
	return err
}

// StatusEventHandler publishes the final event.
type StatusEventHandler struct {
	publisher repository.StatusEventPublisher
}

func NewStatusEventHandler(publisher repository.StatusEventPublisher) *StatusEventHandler {
	return &StatusEventHandler{publisher: publisher}
}

func (h *StatusEventHandler) Name() string { return HookStatusEvent }

func (h *StatusEventHandler) HandleFinalStatus(ctx context.Context, sub *model.Submission) error {
	event := model.SubmissionFinalEvent{
		SubmissionID: sub.ID,
		UserID:       sub.UserID,
		ProblemID:    sub.ProblemID,
		ContestID:    sub.ContestID,
		Verdict:      sub.Verdict,
		Score:        sub.Score,
		PassedTests:  sub.PassedTests,
		TotalTests:   sub.TotalTests,
	}
	if sub.FinishedAt != nil {
		event.FinishedAt = *sub.FinishedAt
	}
	return h.publisher.PublishFinal(ctx, event)
}

// StatusCacheHandler writes the terminal view to the status cache.
type StatusCacheHandler struct {
	repo *repository.StatusRepository
}

func NewStatusCacheHandler(repo *repository.StatusRepository) *StatusCacheHandler {
	return &StatusCacheHandler{repo: repo}
}

func (h *StatusCacheHandler) Name() string { return HookStatusCache }

func (h *StatusCacheHandler) HandleFinalStatus(ctx context.Context, sub *model.Submission) error {
	return h.repo.Save(ctx, sub.View())
}

func normalizeRetries(n int) int {
	if n <= 0 {
		return 8
	}
	return n
}
