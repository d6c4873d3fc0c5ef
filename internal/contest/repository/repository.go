// Package repository persists contests and contest submissions.
package repository

import (
	"context"
	"errors"

	"ojcore/internal/contest/model"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// ContestRepository reads contest metadata.
type ContestRepository interface {
	Get(ctx context.Context, id string) (*model.Contest, error)
}

// ContestSubmissionRepository stores the append-only contest attempt log.
type ContestSubmissionRepository interface {
	// Create appends a row. A second row for the same SubmissionID yields ErrDuplicate.
	Create(ctx context.Context, cs *model.ContestSubmission) error
	GetBySubmission(ctx context.Context, submissionID string) (*model.ContestSubmission, error)
	ListByUserProblem(ctx context.Context, contestID string, userID, problemID int64) ([]*model.ContestSubmission, error)
	ListByContest(ctx context.Context, contestID string) ([]*model.ContestSubmission, error)
}
