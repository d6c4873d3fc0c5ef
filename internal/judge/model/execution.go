package model

import "time"

// OutcomeKind is the execution service's coarse classification of a run.
type OutcomeKind string

const (
	// OutcomeCompleted means the program ran to exit; the exit code may still be nonzero.
	OutcomeCompleted     OutcomeKind = "COMPLETED"
	OutcomeCompileError  OutcomeKind = "COMPILE_ERROR"
	OutcomeTimeLimit     OutcomeKind = "TIME_LIMIT"
	OutcomeMemoryLimit   OutcomeKind = "MEMORY_LIMIT"
	OutcomeRuntimeError  OutcomeKind = "RUNTIME_ERROR"
	OutcomeInternalError OutcomeKind = "INTERNAL_ERROR"
	// OutcomeDeadline is written by the deadline sweep, never by the execution service.
	OutcomeDeadline OutcomeKind = "DEADLINE"
)

// Outcome is the terminal result of running one testcase.
type Outcome struct {
	Kind          OutcomeKind `json:"kind"`
	Stdout        string      `json:"stdout,omitempty"`
	Stderr        string      `json:"stderr,omitempty"`
	CompileOutput string      `json:"compile_output,omitempty"`
	TimeMs        int64       `json:"time_ms"`
	MemoryKB      int64       `json:"memory_kb"`
	ExitCode      int         `json:"exit_code"`
	Description   string      `json:"description,omitempty"`
}

// DeadlineOutcome is the outcome forced onto executions that never reported back.
func DeadlineOutcome() Outcome {
	return Outcome{Kind: OutcomeDeadline, ExitCode: -1, Description: "no result before grading deadline"}
}

// Execution is the record of running a submission against exactly one testcase.
type Execution struct {
	ID           string `json:"id"`
	SubmissionID string `json:"submission_id"`
	TestcaseID   int64  `json:"testcase_id"`
	Ordinal      int    `json:"ordinal"`
	Public       bool   `json:"public"`
	Handle       string `json:"-"`
	Status       Status `json:"status"`

	// Snapshot of the testcase at dispatch.
	Input          string `json:"-"`
	ExpectedOutput string `json:"-"`

	Outcome
	Verdict Verdict `json:"verdict,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Clone returns a copy safe to mutate.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	out := *e
	if e.FinishedAt != nil {
		t := *e.FinishedAt
		out.FinishedAt = &t
	}
	return &out
}
