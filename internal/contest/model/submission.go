package model

import (
	"time"

	judgemodel "ojcore/internal/judge/model"
)

// ContestSubmission is the append-only record of one graded contest attempt.
type ContestSubmission struct {
	ID           string             `json:"id"`
	ContestID    string             `json:"contest_id"`
	UserID       int64              `json:"user_id"`
	ProblemID    int64              `json:"problem_id"`
	SubmissionID string             `json:"submission_id"`
	Verdict      judgemodel.Verdict `json:"verdict"`
	Score        float64            `json:"score"`
	Points       float64            `json:"points"`
	// Penalty is in minutes and only set for ACM contests. It reflects the rejections
	// scored before this row was written; standings recompute it from SubmittedAt.
	Penalty     int64     `json:"penalty"`
	SubmittedAt time.Time `json:"submitted_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Accepted reports whether the attempt solved the problem.
func (s *ContestSubmission) Accepted() bool {
	return s.Verdict == judgemodel.VerdictAccepted
}
