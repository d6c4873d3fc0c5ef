package service

import (
	"context"
	"sync"
	"time"

	"ojcore/internal/judge/execclient"
	"ojcore/internal/judge/model"
	"ojcore/internal/judge/repository"
	"ojcore/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// PollConfig configures result polling.
type PollConfig struct {
	Interval       time.Duration
	Concurrency    int64
	BatchSize      int
	RequestTimeout time.Duration
}

// Poller fetches outcomes of pending executions and forwards them to the collector.
type Poller struct {
	cfg         PollConfig
	client      execclient.Client
	submissions repository.SubmissionRepository
	executions  repository.ExecutionRepository
	collector   *Collector
	sem         *semaphore.Weighted
}

func NewPoller(
	cfg PollConfig,
	client execclient.Client,
	submissions repository.SubmissionRepository,
	executions repository.ExecutionRepository,
	collector *Collector,
) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 16
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	return &Poller{
		cfg:         cfg,
		client:      client,
		submissions: submissions,
		executions:  executions,
		collector:   collector,
		sem:         semaphore.NewWeighted(cfg.Concurrency),
	}
}

// Run polls every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce queries every pending execution of RUNNING submissions once.
func (p *Poller) PollOnce(ctx context.Context) {
	subs, err := p.submissions.ListByStatus(ctx, model.StatusRunning, time.Now(), p.cfg.BatchSize)
	if err != nil {
		logger.Warn(ctx, "list running submissions failed", zap.Error(err))
		return
	}
	var wg sync.WaitGroup
	for _, sub := range subs {
		execs, err := p.executions.ListBySubmission(ctx, sub.ID)
		if err != nil {
			logger.Warn(ctx, "list executions failed", zap.String("submission_id", sub.ID), zap.Error(err))
			continue
		}
		for _, e := range execs {
			if e.Status.Terminal() || e.Handle == "" {
				continue
			}
			if err := p.sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return
			}
			wg.Add(1)
			go func(handle string) {
				defer wg.Done()
				defer p.sem.Release(1)
				p.poll(ctx, handle)
			}(e.Handle)
		}
	}
	wg.Wait()
}

func (p *Poller) poll(ctx context.Context, handle string) {
	reqCtx := withTimeout(ctx, p.cfg.RequestTimeout)
	defer reqCtx.cancel()
	out, pending, err := p.client.Result(reqCtx.ctx, handle)
	if err != nil {
		logger.Debug(ctx, "poll result failed", zap.String("handle", handle), zap.Error(err))
		return
	}
	if pending {
		return
	}
	if err := p.collector.OnResult(ctx, handle, out); err != nil {
		logger.Warn(ctx, "collect polled result failed", zap.String("handle", handle), zap.Error(err))
	}
}
