package model

import "time"

// SubmissionDetail is the owner's view of a submission and its executions.
type SubmissionDetail struct {
	StatusView
	UserID     int64             `json:"user_id"`
	ProblemID  int64             `json:"problem_id"`
	ContestID  string            `json:"contest_id,omitempty"`
	Language   string            `json:"language"`
	CreatedAt  time.Time         `json:"created_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Executions []ExecutionDetail `json:"executions"`
}

// ExecutionDetail describes one testcase run. Input and outputs are only set for public testcases.
type ExecutionDetail struct {
	Ordinal       int     `json:"ordinal"`
	Status        Status  `json:"status"`
	Verdict       Verdict `json:"verdict,omitempty"`
	TimeMs        int64   `json:"time_ms"`
	MemoryKB      int64   `json:"memory_kb"`
	Public        bool    `json:"public"`
	CompileOutput string  `json:"compile_output,omitempty"`
	Input         string  `json:"input,omitempty"`
	Expected      string  `json:"expected_output,omitempty"`
	Stdout        string  `json:"stdout,omitempty"`
}

// Detail projects executions into their owner-visible form.
func (e *Execution) Detail() ExecutionDetail {
	d := ExecutionDetail{
		Ordinal:       e.Ordinal,
		Status:        e.Status,
		Verdict:       e.Verdict,
		TimeMs:        e.TimeMs,
		MemoryKB:      e.MemoryKB,
		Public:        e.Public,
		CompileOutput: e.CompileOutput,
	}
	if e.Public {
		d.Input = e.Input
		d.Expected = e.ExpectedOutput
		d.Stdout = e.Stdout
	}
	return d
}
