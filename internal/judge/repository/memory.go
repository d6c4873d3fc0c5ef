package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"ojcore/internal/judge/model"
)

// MemorySubmissionRepository keeps submissions in process memory.
type MemorySubmissionRepository struct {
	mu   sync.RWMutex
	subs map[string]*model.Submission
}

func NewMemorySubmissionRepository() *MemorySubmissionRepository {
	return &MemorySubmissionRepository{subs: make(map[string]*model.Submission)}
}

func (r *MemorySubmissionRepository) Create(ctx context.Context, sub *model.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.ID]; ok {
		return ErrDuplicate
	}
	stored := sub.Clone()
	stored.Version = 1
	r.subs[sub.ID] = stored
	sub.Version = 1
	return nil
}

func (r *MemorySubmissionRepository) Get(ctx context.Context, id string) (*model.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sub.Clone(), nil
}

func (r *MemorySubmissionRepository) Update(ctx context.Context, sub *model.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.subs[sub.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != sub.Version {
		return ErrConflict
	}
	stored := sub.Clone()
	stored.Version++
	r.subs[sub.ID] = stored
	sub.Version = stored.Version
	return nil
}

func (r *MemorySubmissionRepository) ListByStatus(ctx context.Context, status model.Status, before time.Time, limit int) ([]*model.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Submission, 0)
	for _, sub := range r.subs {
		if sub.Status != status {
			continue
		}
		if age := submissionAge(sub); age.IsZero() || age.Before(before) {
			out = append(out, sub.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return submissionAge(out[i]).Before(submissionAge(out[j])) })
	return truncate(out, limit), nil
}

func (r *MemorySubmissionRepository) ListHooksPending(ctx context.Context, finishedBefore time.Time, limit int) ([]*model.Submission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.Submission, 0)
	for _, sub := range r.subs {
		if sub.Status != model.StatusDone || sub.HooksComplete || sub.FinishedAt == nil {
			continue
		}
		if sub.FinishedAt.Before(finishedBefore) {
			out = append(out, sub.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FinishedAt.Before(*out[j].FinishedAt) })
	return truncate(out, limit), nil
}

func submissionAge(sub *model.Submission) time.Time {
	if sub.Status != model.StatusPending && sub.DispatchedAt != nil {
		return *sub.DispatchedAt
	}
	return sub.CreatedAt
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

// MemoryExecutionRepository keeps executions in process memory.
type MemoryExecutionRepository struct {
	mu       sync.RWMutex
	byID     map[string]*model.Execution
	byHandle map[string]string
	bySub    map[string][]string
}

func NewMemoryExecutionRepository() *MemoryExecutionRepository {
	return &MemoryExecutionRepository{
		byID:     make(map[string]*model.Execution),
		byHandle: make(map[string]string),
		bySub:    make(map[string][]string),
	}
}

func (r *MemoryExecutionRepository) CreateBatch(ctx context.Context, execs []*model.Execution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range execs {
		if _, ok := r.byID[e.ID]; ok {
			return ErrDuplicate
		}
		if _, ok := r.byHandle[e.Handle]; ok && e.Handle != "" {
			return ErrDuplicate
		}
	}
	for _, e := range execs {
		r.byID[e.ID] = e.Clone()
		if e.Handle != "" {
			r.byHandle[e.Handle] = e.ID
		}
		r.bySub[e.SubmissionID] = append(r.bySub[e.SubmissionID], e.ID)
	}
	return nil
}

func (r *MemoryExecutionRepository) ListBySubmission(ctx context.Context, submissionID string) ([]*model.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.bySub[submissionID]
	out := make([]*model.Execution, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.byID[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out, nil
}

func (r *MemoryExecutionRepository) GetByHandle(ctx context.Context, handle string) (*model.Execution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byHandle[handle]
	if !ok {
		return nil, ErrNotFound
	}
	return r.byID[id].Clone(), nil
}

func (r *MemoryExecutionRepository) Complete(ctx context.Context, id string, out model.Outcome, label model.Verdict, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	if e.Status.Terminal() {
		return ErrAlreadyTerminal
	}
	e.Status = model.StatusDone
	e.Outcome = out
	e.Verdict = label
	finished := at
	e.FinishedAt = &finished
	return nil
}

// MemoryProblemRepository serves problems registered with Put.
type MemoryProblemRepository struct {
	mu       sync.RWMutex
	problems map[int64]*model.Problem
}

func NewMemoryProblemRepository(problems ...*model.Problem) *MemoryProblemRepository {
	r := &MemoryProblemRepository{problems: make(map[int64]*model.Problem)}
	for _, p := range problems {
		r.Put(p)
	}
	return r
}

// Put registers or replaces a problem.
func (r *MemoryProblemRepository) Put(p *model.Problem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	cp.Testcases = append([]model.Testcase(nil), p.Testcases...)
	r.problems[p.ID] = &cp
}

func (r *MemoryProblemRepository) Get(ctx context.Context, id int64) (*model.Problem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.problems[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	cp.Testcases = append([]model.Testcase(nil), p.Testcases...)
	return &cp, nil
}

// MemoryStatsRepository keeps problem counters in process memory.
type MemoryStatsRepository struct {
	mu    sync.Mutex
	stats map[int64]model.ProblemStats
}

func NewMemoryStatsRepository() *MemoryStatsRepository {
	return &MemoryStatsRepository{stats: make(map[int64]model.ProblemStats)}
}

func (r *MemoryStatsRepository) Get(ctx context.Context, problemID int64) (*model.ProblemStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[problemID]
	if !ok {
		return &model.ProblemStats{ProblemID: problemID}, nil
	}
	return &s, nil
}

func (r *MemoryStatsRepository) Save(ctx context.Context, stats *model.ProblemStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := r.stats[stats.ProblemID]
	if cur.Version != stats.Version {
		return ErrConflict
	}
	next := *stats
	next.Version++
	r.stats[stats.ProblemID] = next
	stats.Version = next.Version
	return nil
}

// MemoryParkedResultStore keeps early results in process memory.
type MemoryParkedResultStore struct {
	mu     sync.Mutex
	parked map[string]model.Outcome
}

func NewMemoryParkedResultStore() *MemoryParkedResultStore {
	return &MemoryParkedResultStore{parked: make(map[string]model.Outcome)}
}

func (s *MemoryParkedResultStore) Park(ctx context.Context, handle string, out model.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parked[handle] = out
	return nil
}

func (s *MemoryParkedResultStore) Take(ctx context.Context, handle string) (*model.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, ok := s.parked[handle]
	if !ok {
		return nil, nil
	}
	delete(s.parked, handle)
	return &out, nil
}

var (
	_ SubmissionRepository = (*MemorySubmissionRepository)(nil)
	_ ExecutionRepository  = (*MemoryExecutionRepository)(nil)
	_ ProblemRepository    = (*MemoryProblemRepository)(nil)
	_ StatsRepository      = (*MemoryStatsRepository)(nil)
	_ ParkedResultStore    = (*MemoryParkedResultStore)(nil)
)
