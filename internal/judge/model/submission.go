package model

import (
	"slices"
	"time"
)

// Submission is one graded attempt.
type Submission struct {
	ID        string `json:"id"`
	UserID    int64  `json:"user_id"`
	ProblemID int64  `json:"problem_id"`
	ContestID string `json:"contest_id,omitempty"`
	Language  string `json:"language"`

	SourceCode string `json:"-"`
	SourceKey  string `json:"source_key,omitempty"`

	Status      Status  `json:"status"`
	Verdict     Verdict `json:"verdict,omitempty"`
	Score       float64 `json:"score"`
	PassedTests int     `json:"passed_tests"`
	TotalTests  int     `json:"total_tests"`
	// DoneTests counts terminal executions; the write that makes it reach TotalTests finishes the submission.
	DoneTests int    `json:"-"`
	Message   string `json:"message,omitempty"`

	// Snapshot taken at dispatch.
	TimeLimitMs   int64         `json:"time_limit_ms"`
	MemoryLimitKB int64         `json:"memory_limit_kb"`
	ScoringPolicy ScoringPolicy `json:"scoring_policy"`

	HooksDone     []string `json:"-"`
	HooksComplete bool     `json:"-"`
	Version       int64    `json:"-"`

	CreatedAt    time.Time  `json:"created_at"`
	DispatchedAt *time.Time `json:"dispatched_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Limits returns the snapshotted limits.
func (s *Submission) Limits() Limits {
	return Limits{TimeLimitMs: s.TimeLimitMs, MemoryLimitKB: s.MemoryLimitKB}
}

// HookDone reports whether the named post-DONE hook already ran.
func (s *Submission) HookDone(name string) bool {
	return slices.Contains(s.HooksDone, name)
}

// InContest reports whether the submission counts toward a contest.
func (s *Submission) InContest() bool {
	return s.ContestID != ""
}

// Clone returns a deep copy safe to mutate.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	out := *s
	out.HooksDone = append([]string(nil), s.HooksDone...)
	if s.DispatchedAt != nil {
		t := *s.DispatchedAt
		out.DispatchedAt = &t
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}

// StatusView is the public status of a submission.
type StatusView struct {
	SubmissionID string  `json:"submission_id"`
	Status       Status  `json:"status"`
	Verdict      Verdict `json:"verdict,omitempty"`
	Score        float64 `json:"score"`
	PassedTests  int     `json:"passed_tests"`
	TotalTests   int     `json:"total_tests"`
	Message      string  `json:"message,omitempty"`
}

// View projects the submission to its status view.
// Verdict and score are only meaningful once DONE.
func (s *Submission) View() StatusView {
	v := StatusView{
		SubmissionID: s.ID,
		Status:       s.Status,
		TotalTests:   s.TotalTests,
	}
	if s.Status == StatusDone {
		v.Verdict = s.Verdict
		v.Score = s.Score
		v.PassedTests = s.PassedTests
		v.Message = s.Message
	}
	return v
}
