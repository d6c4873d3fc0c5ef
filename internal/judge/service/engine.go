// Package service grades submissions: dispatch, result collection, repair and the engine façade.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ojcore/internal/common/auth"
	"ojcore/internal/common/cache"
	"ojcore/internal/common/metrics"
	"ojcore/internal/common/storage"
	contestmodel "ojcore/internal/contest/model"
	"ojcore/internal/judge/execclient"
	"ojcore/internal/judge/model"
	"ojcore/internal/judge/repository"
	appErr "ojcore/pkg/errors"
	"ojcore/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix  = "submit:idempotency:"
	rateUserKeyPrefix     = "submit:rate:user:"
	processingMarker      = "processing"
	defaultMaxSourceBytes = 64 * 1024
	defaultIdempotencyTTL = 10 * time.Minute
)

// ContestService is what the engine needs from contests.
type ContestService interface {
	ContestScorer
	CheckSubmission(ctx context.Context, p auth.Principal, contestID string, problemID int64, at time.Time) error
	Standings(ctx context.Context, p auth.Principal, contestID string) (*contestmodel.Standings, error)
}

// RateLimitConfig holds per-user throttling.
type RateLimitConfig struct {
	UserMax int
	Window  time.Duration
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB       time.Duration
	Cache    time.Duration
	Storage  time.Duration
	Dispatch time.Duration
}

// Config holds engine dependencies and settings. Cache, StatusRepo, Archive and Contests are optional.
type Config struct {
	Client      execclient.Client
	Problems    repository.ProblemRepository
	Submissions repository.SubmissionRepository
	Executions  repository.ExecutionRepository
	Dispatcher  *Dispatcher

	Cache      cache.BasicOps
	StatusRepo *repository.StatusRepository
	Archive    *storage.SourceArchive
	Contests   ContestService

	MaxSourceBytes int
	IdempotencyTTL time.Duration
	RateLimit      RateLimitConfig
	Timeouts       TimeoutConfig
}

// Engine is the entry point for submitting and reading submissions.
type Engine struct {
	client      execclient.Client
	problems    repository.ProblemRepository
	submissions repository.SubmissionRepository
	executions  repository.ExecutionRepository
	dispatcher  *Dispatcher

	cache      cache.BasicOps
	statusRepo *repository.StatusRepository
	archive    *storage.SourceArchive
	contests   ContestService

	maxSourceBytes int
	idempotencyTTL time.Duration
	rateLimit      RateLimitConfig
	timeouts       TimeoutConfig
	now            func() time.Time
}

// SubmitRequest describes a submission.
type SubmitRequest struct {
	ProblemID      int64  `json:"problem_id"`
	ContestID      string `json:"contest_id,omitempty"`
	Language       string `json:"language"`
	SourceCode     string `json:"source_code"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("execution client is required")
	}
	if cfg.Problems == nil || cfg.Submissions == nil || cfg.Executions == nil {
		return nil, fmt.Errorf("problem, submission and execution repositories are required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = defaultMaxSourceBytes
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = defaultIdempotencyTTL
	}
	return &Engine{
		client:         cfg.Client,
		problems:       cfg.Problems,
		submissions:    cfg.Submissions,
		executions:     cfg.Executions,
		dispatcher:     cfg.Dispatcher,
		cache:          cfg.Cache,
		statusRepo:     cfg.StatusRepo,
		archive:        cfg.Archive,
		contests:       cfg.Contests,
		maxSourceBytes: cfg.MaxSourceBytes,
		idempotencyTTL: cfg.IdempotencyTTL,
		rateLimit:      cfg.RateLimit,
		timeouts:       cfg.Timeouts,
		now:            time.Now,
	}, nil
}

// Submit validates, persists and dispatches a submission, returning its id.
// A rejected dispatch still returns the id; the submission is then DONE with the failure verdict.
func (e *Engine) Submit(ctx context.Context, p auth.Principal, req SubmitRequest) (string, error) {
	if p.Anonymous() {
		return "", appErr.UnauthorizedError("user identity is required")
	}
	problem, err := e.validate(ctx, req)
	if err != nil {
		return "", err
	}
	// A retry with a known key gets its submission back without spending rate budget.
	acquired, existingID, err := e.acquireIdempotency(ctx, p.UserID, req.IdempotencyKey)
	if err != nil {
		return "", err
	}
	if !acquired && existingID != "" {
		return existingID, nil
	}

	createdAt := e.now()
	if err := e.admit(ctx, p, req, createdAt); err != nil {
		e.releaseIdempotency(ctx, p.UserID, req.IdempotencyKey, acquired)
		return "", err
	}

	submissionID := uuid.NewString()
	sourceKey, err := e.archiveSource(ctx, submissionID, req.SourceCode)
	if err != nil {
		e.releaseIdempotency(ctx, p.UserID, req.IdempotencyKey, acquired)
		return "", err
	}

	limits := problem.Limits()
	policy := problem.ScoringPolicy
	if !policy.Valid() {
		policy = model.ScoringPartial
	}
	sub := &model.Submission{
		ID:            submissionID,
		UserID:        p.UserID,
		ProblemID:     problem.ID,
		ContestID:     req.ContestID,
		Language:      req.Language,
		SourceCode:    req.SourceCode,
		SourceKey:     sourceKey,
		Status:        model.StatusPending,
		TotalTests:    len(problem.Testcases),
		TimeLimitMs:   limits.TimeLimitMs,
		MemoryLimitKB: limits.MemoryLimitKB,
		ScoringPolicy: policy,
		CreatedAt:     createdAt,
	}
	ctxDB := withTimeout(ctx, e.timeouts.DB)
	err = e.submissions.Create(ctxDB.ctx, sub)
	ctxDB.cancel()
	if err != nil {
		e.releaseIdempotency(ctx, p.UserID, req.IdempotencyKey, acquired)
		return "", appErr.Wrapf(err, appErr.SubmissionCreateFailed, "create submission failed")
	}
	e.finalizeIdempotency(ctx, p.UserID, req.IdempotencyKey, submissionID, acquired)
	metrics.SubmissionsCreated.Inc()

	ctxDispatch := withTimeout(ctx, e.timeouts.Dispatch)
	defer ctxDispatch.cancel()
	if _, err := e.dispatcher.Dispatch(ctxDispatch.ctx, sub, problem); err != nil {
		// The submission stays PENDING; the sweep resumes or finishes it.
		logger.Warn(ctx, "dispatch incomplete", zap.String("submission_id", submissionID), zap.Error(err))
	}
	return submissionID, nil
}

func (e *Engine) validate(ctx context.Context, req SubmitRequest) (*model.Problem, error) {
	if req.ProblemID <= 0 {
		return nil, appErr.ValidationError("problem_id", "required")
	}
	if strings.TrimSpace(req.Language) == "" {
		return nil, appErr.ValidationError("language", "required")
	}
	if !e.client.Supports(req.Language) {
		return nil, appErr.New(appErr.LanguageNotSupported).WithDetail("language", req.Language)
	}
	if strings.TrimSpace(req.SourceCode) == "" {
		return nil, appErr.ValidationError("source_code", "required")
	}
	if len(req.SourceCode) > e.maxSourceBytes {
		return nil, appErr.New(appErr.CodeTooLarge).WithDetail("max_bytes", e.maxSourceBytes)
	}
	ctxDB := withTimeout(ctx, e.timeouts.DB)
	defer ctxDB.cancel()
	problem, err := e.problems.Get(ctxDB.ctx, req.ProblemID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, appErr.New(appErr.ProblemNotFound)
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get problem failed")
	}
	if len(problem.Testcases) == 0 {
		return nil, appErr.New(appErr.ProblemHasNoTestcases)
	}
	return problem, nil
}

// GetSubmissionStatus returns the public status view.
func (e *Engine) GetSubmissionStatus(ctx context.Context, submissionID string) (model.StatusView, error) {
	if submissionID == "" {
		return model.StatusView{}, appErr.ValidationError("submission_id", "required")
	}
	load := func(ctx context.Context) (model.StatusView, error) {
		sub, err := e.submissions.Get(ctx, submissionID)
		if errors.Is(err, repository.ErrNotFound) {
			return model.StatusView{}, nil
		}
		if err != nil {
			return model.StatusView{}, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
		}
		return sub.View(), nil
	}
	var view model.StatusView
	var err error
	if e.statusRepo != nil {
		view, err = e.statusRepo.GetOrLoad(ctx, submissionID, load)
	} else {
		view, err = load(ctx)
	}
	if err != nil {
		return model.StatusView{}, err
	}
	if view.SubmissionID == "" {
		return model.StatusView{}, appErr.New(appErr.SubmissionNotFound)
	}
	return view, nil
}

// GetSubmissionDetail returns per-testcase results to the owner or an admin.
func (e *Engine) GetSubmissionDetail(ctx context.Context, p auth.Principal, submissionID string) (*model.SubmissionDetail, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	sub, err := e.submissions.Get(ctx, submissionID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, appErr.New(appErr.SubmissionNotFound)
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
	}
	if !p.CanAccessOwned(sub.UserID) {
		return nil, appErr.New(appErr.SubmissionAccessDenied)
	}
	execs, err := e.executions.ListBySubmission(ctx, submissionID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list executions failed")
	}
	detail := &model.SubmissionDetail{
		StatusView: sub.View(),
		UserID:     sub.UserID,
		ProblemID:  sub.ProblemID,
		ContestID:  sub.ContestID,
		Language:   sub.Language,
		CreatedAt:  sub.CreatedAt,
		FinishedAt: sub.FinishedAt,
		Executions: make([]model.ExecutionDetail, 0, len(execs)),
	}
	for _, ex := range execs {
		detail.Executions = append(detail.Executions, ex.Detail())
	}
	return detail, nil
}

// GetContestStandings returns the recomputed standings of a contest.
func (e *Engine) GetContestStandings(ctx context.Context, p auth.Principal, contestID string) (*contestmodel.Standings, error) {
	if e.contests == nil {
		return nil, appErr.New(appErr.ContestNotFound)
	}
	return e.contests.Standings(ctx, p, contestID)
}

func (e *Engine) archiveSource(ctx context.Context, submissionID, source string) (string, error) {
	if e.archive == nil {
		return "", nil
	}
	ctxStorage := withTimeout(ctx, e.timeouts.Storage)
	defer ctxStorage.cancel()
	key, err := e.archive.Put(ctxStorage.ctx, submissionID, []byte(source))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.SubmissionCreateFailed, "archive source failed")
	}
	return key, nil
}

// admit applies the contest rules and the per-user rate limit.
func (e *Engine) admit(ctx context.Context, p auth.Principal, req SubmitRequest, at time.Time) error {
	if req.ContestID != "" {
		if e.contests == nil {
			return appErr.New(appErr.ContestNotFound)
		}
		if err := e.contests.CheckSubmission(ctx, p, req.ContestID, req.ProblemID, at); err != nil {
			return err
		}
	}
	return e.checkRateLimit(ctx, p.UserID)
}

func (e *Engine) checkRateLimit(ctx context.Context, userID int64) error {
	if e.cache == nil || e.rateLimit.Window <= 0 || e.rateLimit.UserMax <= 0 {
		return nil
	}
	ctxCache := withTimeout(ctx, e.timeouts.Cache)
	defer ctxCache.cancel()

	key := fmt.Sprintf("%s%d", rateUserKeyPrefix, userID)
	count, err := e.cache.Incr(ctxCache.ctx, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.CacheError, "rate limit check failed")
	}
	if count == 1 {
		_ = e.cache.Expire(ctxCache.ctx, key, e.rateLimit.Window)
	}
	if int(count) > e.rateLimit.UserMax {
		return appErr.New(appErr.SubmitTooFrequently)
	}
	return nil
}

func idempotencyCacheKey(userID int64, key string) string {
	return fmt.Sprintf("%s%d:%s", idempotencyKeyPrefix, userID, strings.TrimSpace(key))
}

func (e *Engine) acquireIdempotency(ctx context.Context, userID int64, key string) (bool, string, error) {
	if e.cache == nil || strings.TrimSpace(key) == "" {
		return true, "", nil
	}
	cacheKey := idempotencyCacheKey(userID, key)
	ctxCache := withTimeout(ctx, e.timeouts.Cache)
	defer ctxCache.cancel()

	ok, err := e.cache.SetNX(ctxCache.ctx, cacheKey, processingMarker, e.idempotencyTTL)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "reserve idempotency key failed")
	}
	if ok {
		return true, "", nil
	}
	existing, err := e.cache.Get(ctxCache.ctx, cacheKey)
	if err != nil {
		return false, "", appErr.Wrapf(err, appErr.CacheError, "read idempotency key failed")
	}
	if existing != "" && existing != processingMarker {
		return false, existing, nil
	}
	return false, "", appErr.New(appErr.TooManyRequests).WithMessage("request is processing")
}

func (e *Engine) finalizeIdempotency(ctx context.Context, userID int64, key, submissionID string, acquired bool) {
	if !acquired || e.cache == nil || strings.TrimSpace(key) == "" {
		return
	}
	ctxCache := withTimeout(ctx, e.timeouts.Cache)
	defer ctxCache.cancel()
	if err := e.cache.Set(ctxCache.ctx, idempotencyCacheKey(userID, key), submissionID, e.idempotencyTTL); err != nil {
		logger.Warn(ctx, "update idempotency key failed", zap.Error(err))
	}
}

func (e *Engine) releaseIdempotency(ctx context.Context, userID int64, key string, acquired bool) {
	if !acquired || e.cache == nil || strings.TrimSpace(key) == "" {
		return
	}
	ctxCache := withTimeout(ctx, e.timeouts.Cache)
	defer ctxCache.cancel()
	if err := e.cache.Del(ctxCache.ctx, idempotencyCacheKey(userID, key)); err != nil {
		logger.Warn(ctx, "release idempotency key failed", zap.Error(err))
	}
}
