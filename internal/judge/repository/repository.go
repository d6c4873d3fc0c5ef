// Package repository persists judge records.
// Every store has an in-memory and a MySQL implementation with the same semantics.
package repository

import (
	"context"
	"errors"
	"time"

	"ojcore/internal/judge/model"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict means the record's version changed since it was read.
	ErrConflict = errors.New("version conflict")
	// ErrAlreadyTerminal means an execution already holds its terminal outcome.
	ErrAlreadyTerminal = errors.New("execution already terminal")
	ErrDuplicate       = errors.New("duplicate record")
)

// SubmissionRepository stores submissions.
type SubmissionRepository interface {
	Create(ctx context.Context, sub *model.Submission) error
	Get(ctx context.Context, id string) (*model.Submission, error)
	// Update writes sub only if the stored version still equals sub.Version,
	// then increments sub.Version. A stale version yields ErrConflict.
	Update(ctx context.Context, sub *model.Submission) error
	// ListByStatus returns submissions in status, oldest first. For PENDING the age is
	// taken from CreatedAt, otherwise from DispatchedAt.
	ListByStatus(ctx context.Context, status model.Status, before time.Time, limit int) ([]*model.Submission, error)
	// ListHooksPending returns DONE submissions whose post-completion hooks have not all run.
	ListHooksPending(ctx context.Context, finishedBefore time.Time, limit int) ([]*model.Submission, error)
}

// ExecutionRepository stores per-testcase executions.
type ExecutionRepository interface {
	// CreateBatch inserts all executions or none.
	CreateBatch(ctx context.Context, execs []*model.Execution) error
	ListBySubmission(ctx context.Context, submissionID string) ([]*model.Execution, error)
	GetByHandle(ctx context.Context, handle string) (*model.Execution, error)
	// Complete moves a non-terminal execution to DONE. It returns ErrAlreadyTerminal
	// when another writer got there first.
	Complete(ctx context.Context, id string, out model.Outcome, label model.Verdict, at time.Time) error
}

// ProblemRepository reads problems with their testcases.
type ProblemRepository interface {
	Get(ctx context.Context, id int64) (*model.Problem, error)
}

// StatsRepository stores per-problem counters.
type StatsRepository interface {
	// Get returns the counters, or zero counters with Version 0 if none exist.
	Get(ctx context.Context, problemID int64) (*model.ProblemStats, error)
	// Save writes stats if the stored version equals stats.Version (0 means create).
	Save(ctx context.Context, stats *model.ProblemStats) error
}

// ParkedResultStore holds execution results that arrived before their execution rows existed.
type ParkedResultStore interface {
	Park(ctx context.Context, handle string, out model.Outcome) error
	// Take returns and removes the parked outcome for handle.
	Take(ctx context.Context, handle string) (*model.Outcome, error)
}
