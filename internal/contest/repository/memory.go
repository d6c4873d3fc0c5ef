package repository

import (
	"context"
	"sort"
	"sync"

	"ojcore/internal/contest/model"
)

// MemoryContestRepository serves contests registered with Put.
type MemoryContestRepository struct {
	mu       sync.RWMutex
	contests map[string]*model.Contest
}

func NewMemoryContestRepository(contests ...*model.Contest) *MemoryContestRepository {
	r := &MemoryContestRepository{contests: make(map[string]*model.Contest)}
	for _, c := range contests {
		r.Put(c)
	}
	return r
}

// Put registers or replaces a contest.
func (r *MemoryContestRepository) Put(c *model.Contest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contests[c.ID] = c.Clone()
}

func (r *MemoryContestRepository) Get(ctx context.Context, id string) (*model.Contest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// MemoryContestSubmissionRepository keeps contest submissions in insertion order.
type MemoryContestSubmissionRepository struct {
	mu           sync.RWMutex
	rows         []model.ContestSubmission
	bySubmission map[string]int
}

func NewMemoryContestSubmissionRepository() *MemoryContestSubmissionRepository {
	return &MemoryContestSubmissionRepository{bySubmission: make(map[string]int)}
}

func (r *MemoryContestSubmissionRepository) Create(ctx context.Context, cs *model.ContestSubmission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySubmission[cs.SubmissionID]; ok {
		return ErrDuplicate
	}
	r.bySubmission[cs.SubmissionID] = len(r.rows)
	r.rows = append(r.rows, *cs)
	return nil
}

func (r *MemoryContestSubmissionRepository) GetBySubmission(ctx context.Context, submissionID string) (*model.ContestSubmission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.bySubmission[submissionID]
	if !ok {
		return nil, ErrNotFound
	}
	row := r.rows[idx]
	return &row, nil
}

func (r *MemoryContestSubmissionRepository) ListByUserProblem(ctx context.Context, contestID string, userID, problemID int64) ([]*model.ContestSubmission, error) {
	return r.filter(func(cs *model.ContestSubmission) bool {
		return cs.ContestID == contestID && cs.UserID == userID && cs.ProblemID == problemID
	}), nil
}

func (r *MemoryContestSubmissionRepository) ListByContest(ctx context.Context, contestID string) ([]*model.ContestSubmission, error) {
	return r.filter(func(cs *model.ContestSubmission) bool { return cs.ContestID == contestID }), nil
}

func (r *MemoryContestSubmissionRepository) filter(keep func(*model.ContestSubmission) bool) []*model.ContestSubmission {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.ContestSubmission, 0)
	for i := range r.rows {
		if keep(&r.rows[i]) {
			row := r.rows[i]
			out = append(out, &row)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

var (
	_ ContestRepository           = (*MemoryContestRepository)(nil)
	_ ContestSubmissionRepository = (*MemoryContestSubmissionRepository)(nil)
)
