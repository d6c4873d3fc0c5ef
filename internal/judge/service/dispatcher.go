package service

import (
	"context"
	"errors"
	"time"

	"ojcore/internal/common/metrics"
	"ojcore/internal/judge/execclient"
	"ojcore/internal/judge/model"
	"ojcore/internal/judge/repository"
	appErr "ojcore/pkg/errors"
	"ojcore/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultDispatchConcurrency = 8

// Dispatcher fans a pending submission out to the execution service.
type Dispatcher struct {
	client      execclient.Client
	submissions repository.SubmissionRepository
	executions  repository.ExecutionRepository
	collector   *Collector
	signer      *CallbackSigner
	concurrency int
	casRetries  int
	now         func() time.Time
}

// NewDispatcher creates a dispatcher. signer is nil in poll mode.
func NewDispatcher(
	client execclient.Client,
	submissions repository.SubmissionRepository,
	executions repository.ExecutionRepository,
	collector *Collector,
	signer *CallbackSigner,
	concurrency, casRetries int,
) *Dispatcher {
	if concurrency <= 0 {
		concurrency = defaultDispatchConcurrency
	}
	return &Dispatcher{
		client:      client,
		submissions: submissions,
		executions:  executions,
		collector:   collector,
		signer:      signer,
		concurrency: concurrency,
		casRetries:  normalizeRetries(casRetries),
		now:         time.Now,
	}
}

// Dispatch submits one execution per testcase and returns the handles in testcase order.
//
// If any request is rejected the submission is finished with a failure verdict, nothing is
// persisted, and Dispatch returns (nil, nil). An error means the submission is still PENDING
// and the sweep will resolve it.
func (d *Dispatcher) Dispatch(ctx context.Context, sub *model.Submission, problem *model.Problem) ([]string, error) {
	if sub.Status != model.StatusPending {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("submission is not pending")
	}
	testcases := problem.SortedTestcases()
	if len(testcases) == 0 {
		return nil, appErr.New(appErr.ProblemHasNoTestcases)
	}

	var callbackURL string
	if d.signer != nil {
		u, err := d.signer.URL(sub.ID)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.InternalServerError, "sign callback failed")
		}
		callbackURL = u
	}

	limits := model.Limits{TimeLimitMs: sub.TimeLimitMs, MemoryLimitKB: sub.MemoryLimitKB}
	handles := make([]string, len(testcases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, tc := range testcases {
		req := execclient.ExecutionRequest{
			Source:           sub.SourceCode,
			Language:         sub.Language,
			Stdin:            tc.Input,
			TimeLimitSeconds: float64(limits.TimeLimitMs) / 1000,
			MemoryLimitMB:    limits.MemoryLimitKB / 1024,
			CallbackURL:      callbackURL,
		}
		g.Go(func() error {
			handle, err := d.client.Submit(gctx, req)
			if err != nil {
				return err
			}
			handles[i] = handle
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, d.reject(ctx, sub, err)
	}

	now := d.now()
	execs := make([]*model.Execution, len(testcases))
	for i, tc := range testcases {
		execs[i] = &model.Execution{
			ID:             uuid.NewString(),
			SubmissionID:   sub.ID,
			TestcaseID:     tc.ID,
			Ordinal:        tc.Ordinal,
			Public:         tc.Public,
			Handle:         handles[i],
			Status:         model.StatusPending,
			Input:          tc.Input,
			ExpectedOutput: tc.ExpectedOutput,
			CreatedAt:      now,
		}
	}
	if err := d.executions.CreateBatch(ctx, execs); err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "persist executions failed")
	}
	if err := d.Resume(ctx, sub.ID, execs); err != nil {
		return nil, err
	}
	return handles, nil
}

// Resume moves a submission whose executions are persisted to RUNNING and replays parked results.
func (d *Dispatcher) Resume(ctx context.Context, submissionID string, execs []*model.Execution) error {
	if err := d.markRunning(ctx, submissionID); err != nil {
		return err
	}
	for _, e := range execs {
		if _, err := d.collector.Replay(ctx, e); err != nil {
			logger.Warn(ctx, "replay parked result failed", zap.String("execution_id", e.ID), zap.Error(err))
		}
	}
	return nil
}

func (d *Dispatcher) markRunning(ctx context.Context, submissionID string) error {
	for attempt := 0; attempt < d.casRetries; attempt++ {
		sub, err := d.submissions.Get(ctx, submissionID)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
		}
		if sub.Status != model.StatusPending {
			return nil
		}
		now := d.now()
		sub.Status = model.StatusRunning
		sub.DispatchedAt = &now
		err = d.submissions.Update(ctx, sub)
		if errors.Is(err, repository.ErrConflict) {
			metrics.CASConflicts.WithLabelValues("submission").Inc()
			continue
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "mark submission running failed")
		}
		return nil
	}
	return appErr.New(appErr.ConcurrentUpdate).WithMessage("submission update retries exhausted")
}

func (d *Dispatcher) reject(ctx context.Context, sub *model.Submission, cause error) error {
	label := execclient.FailureVerdict(cause)
	metrics.DispatchFailures.WithLabelValues(string(label)).Inc()
	logger.Info(ctx, "dispatch rejected",
		zap.String("submission_id", sub.ID),
		zap.String("verdict", string(label)),
		zap.Error(cause),
	)
	return d.collector.Finish(ctx, sub.ID, label, rejectionMessage(cause))
}

func rejectionMessage(err error) string {
	var f *execclient.ImmediateFailure
	if errors.As(err, &f) {
		return f.Reason
	}
	return err.Error()
}
