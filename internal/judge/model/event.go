package model

import "time"

// SubmissionFinalEvent is published once a submission reaches DONE.
type SubmissionFinalEvent struct {
	SubmissionID string    `json:"submission_id"`
	UserID       int64     `json:"user_id"`
	ProblemID    int64     `json:"problem_id"`
	ContestID    string    `json:"contest_id,omitempty"`
	Verdict      Verdict   `json:"verdict"`
	Score        float64   `json:"score"`
	PassedTests  int       `json:"passed_tests"`
	TotalTests   int       `json:"total_tests"`
	FinishedAt   time.Time `json:"finished_at"`
}

// ExecutionResultEvent carries one execution result from the callback endpoint to the collector.
// SubmissionID comes from the verified callback token and may be empty.
type ExecutionResultEvent struct {
	SubmissionID string    `json:"submission_id,omitempty"`
	Handle       string    `json:"handle"`
	Outcome      Outcome   `json:"outcome"`
	ReceivedAt   time.Time `json:"received_at"`
}
