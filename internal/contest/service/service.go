// Package service scores contest submissions and computes standings.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ojcore/internal/common/auth"
	"ojcore/internal/common/cache"
	"ojcore/internal/contest/model"
	"ojcore/internal/contest/repository"
	judgemodel "ojcore/internal/judge/model"
	appErr "ojcore/pkg/errors"
	"ojcore/pkg/utils/logger"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const (
	lockKeyPrefix       = "contest:lock:"
	defaultLockTTL      = 10 * time.Second
	defaultLockWait     = 3 * time.Second
	lockPollInterval    = 25 * time.Millisecond
	defaultMetaCacheLen = 256
	defaultMetaCacheTTL = 30 * time.Second
)

// Config holds contest service dependencies.
type Config struct {
	Contests    repository.ContestRepository
	Submissions repository.ContestSubmissionRepository
	// Locker serializes scoring per (contest, user, problem). Nil relies on a single process.
	Locker   cache.LockOps
	LockTTL  time.Duration
	LockWait time.Duration

	MetaCacheSize int
	MetaCacheTTL  time.Duration
}

// Service implements contest scoring, standings and access rules.
type Service struct {
	contests    repository.ContestRepository
	submissions repository.ContestSubmissionRepository
	locker      cache.LockOps
	lockTTL     time.Duration
	lockWait    time.Duration
	meta        *expirable.LRU[string, *model.Contest]
	now         func() time.Time
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Contests == nil {
		return nil, fmt.Errorf("contest repository is required")
	}
	if cfg.Submissions == nil {
		return nil, fmt.Errorf("contest submission repository is required")
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = defaultLockWait
	}
	if cfg.MetaCacheSize <= 0 {
		cfg.MetaCacheSize = defaultMetaCacheLen
	}
	if cfg.MetaCacheTTL <= 0 {
		cfg.MetaCacheTTL = defaultMetaCacheTTL
	}
	return &Service{
		contests:    cfg.Contests,
		submissions: cfg.Submissions,
		locker:      cfg.Locker,
		lockTTL:     cfg.LockTTL,
		lockWait:    cfg.LockWait,
		meta:        expirable.NewLRU[string, *model.Contest](cfg.MetaCacheSize, nil, cfg.MetaCacheTTL),
		now:         time.Now,
	}, nil
}

// Contest returns contest metadata through the in-process cache.
func (s *Service) Contest(ctx context.Context, contestID string) (*model.Contest, error) {
	if contestID == "" {
		return nil, appErr.ValidationError("contest_id", "required")
	}
	if c, ok := s.meta.Get(contestID); ok {
		return c.Clone(), nil
	}
	return s.reload(ctx, contestID)
}

// reload reads contest metadata from the repository and refreshes the cache.
func (s *Service) reload(ctx context.Context, contestID string) (*model.Contest, error) {
	c, err := s.contests.Get(ctx, contestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, appErr.New(appErr.ContestNotFound)
	}
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get contest failed")
	}
	s.meta.Add(contestID, c.Clone())
	return c, nil
}

// CheckSubmission enforces phase, registration and problem membership for a submission at at.
func (s *Service) CheckSubmission(ctx context.Context, p auth.Principal, contestID string, problemID int64, at time.Time) error {
	c, err := s.Contest(ctx, contestID)
	if err != nil {
		return err
	}
	switch c.Phase(at) {
	case model.PhaseUpcoming:
		return appErr.New(appErr.ContestNotStarted)
	case model.PhaseEnded:
		return appErr.New(appErr.ContestEnded)
	}
	if !c.IsParticipant(p.UserID) {
		// Registration may have changed since the metadata was cached.
		if c, err = s.reload(ctx, contestID); err != nil {
			return err
		}
		if !c.IsParticipant(p.UserID) {
			return appErr.New(appErr.NotRegistered)
		}
	}
	if _, ok := c.Problem(problemID); !ok {
		return appErr.New(appErr.ProblemNotInContest)
	}
	return nil
}

// Score appends the contest record for a finished submission. Scoring the same
// submission again returns the existing record.
func (s *Service) Score(ctx context.Context, sub *judgemodel.Submission) (*model.ContestSubmission, error) {
	if sub == nil || !sub.InContest() {
		return nil, appErr.ValidationError("contest_id", "required")
	}
	if sub.Status != judgemodel.StatusDone {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("submission is not finished")
	}
	if existing, err := s.submissions.GetBySubmission(ctx, sub.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get contest submission failed")
	}

	c, err := s.Contest(ctx, sub.ContestID)
	if err != nil {
		return nil, err
	}
	cp, ok := c.Problem(sub.ProblemID)
	if !ok {
		return nil, appErr.New(appErr.ProblemNotInContest)
	}

	unlock, err := s.lock(ctx, lockKey(c.ID, sub.UserID, sub.ProblemID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	prior, err := s.submissions.ListByUserProblem(ctx, c.ID, sub.UserID, sub.ProblemID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list contest submissions failed")
	}
	rejected := 0
	for _, row := range prior {
		if row.SubmissionID == sub.ID {
			return row, nil
		}
		if !row.Accepted() && row.SubmittedAt.Before(sub.CreatedAt) {
			rejected++
		}
	}

	row := &model.ContestSubmission{
		ID:           uuid.NewString(),
		ContestID:    c.ID,
		UserID:       sub.UserID,
		ProblemID:    sub.ProblemID,
		SubmissionID: sub.ID,
		Verdict:      sub.Verdict,
		Score:        sub.Score,
		Points:       Points(cp.Weight, sub.Score, sub.Verdict, c.PointsMode),
		Penalty:      AttemptPenalty(c, sub.CreatedAt, rejected),
		SubmittedAt:  sub.CreatedAt,
		CreatedAt:    s.now(),
	}
	if err := s.submissions.Create(ctx, row); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return s.submissions.GetBySubmission(ctx, sub.ID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "create contest submission failed")
	}
	logger.Info(ctx, "contest submission recorded",
		zap.String("contest_id", c.ID),
		zap.String("submission_id", sub.ID),
		zap.Float64("points", row.Points),
		zap.Int64("penalty", row.Penalty),
	)
	return row, nil
}

// Standings recomputes the ranking. Hidden contests are limited to their creator,
// admins and participants.
func (s *Service) Standings(ctx context.Context, p auth.Principal, contestID string) (*model.Standings, error) {
	c, err := s.Contest(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if !CanViewStandings(c, p) {
		return nil, appErr.New(appErr.ContestAccessDenied)
	}
	rows, err := s.submissions.ListByContest(ctx, c.ID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list contest submissions failed")
	}
	return ComputeStandings(c, rows, s.now()), nil
}

// Phase returns the contest's current phase.
func (s *Service) Phase(ctx context.Context, contestID string) (model.Phase, error) {
	c, err := s.Contest(ctx, contestID)
	if err != nil {
		return "", err
	}
	return c.Phase(s.now()), nil
}

// CanViewStandings applies the visibility rule.
func CanViewStandings(c *model.Contest, p auth.Principal) bool {
	if c.Visible || p.IsAdmin() {
		return true
	}
	if p.Anonymous() {
		return false
	}
	return p.UserID == c.CreatorID || c.IsParticipant(p.UserID)
}

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	deadline := time.NewTimer(s.lockWait)
	defer deadline.Stop()
	ticker := time.NewTicker(lockPollInterval)
	defer ticker.Stop()
	for {
		token, ok, err := s.locker.TryLock(ctx, key, s.lockTTL)
		if err != nil {
			return nil, appErr.Wrapf(err, appErr.CacheError, "acquire scoring lock failed")
		}
		if ok {
			return func() {
				if err := s.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
					logger.Warn(ctx, "release scoring lock failed", zap.String("key", key), zap.Error(err))
				}
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, appErr.New(appErr.LockFailed).WithMessage("scoring lock busy")
		case <-ticker.C:
		}
	}
}

func lockKey(contestID string, userID, problemID int64) string {
	return fmt.Sprintf("%s%s:%d:%d", lockKeyPrefix, contestID, userID, problemID)
}
