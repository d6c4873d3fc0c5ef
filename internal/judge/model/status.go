// Package model defines the judge engine's records and enums.
package model

// Status is the lifecycle state shared by submissions and executions.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusDone
}

// Verdict is the classification of a submission or of one testcase.
type Verdict string

const (
	VerdictAccepted            Verdict = "ACCEPTED"
	VerdictWrongAnswer         Verdict = "WRONG_ANSWER"
	VerdictTimeLimitExceeded   Verdict = "TIME_LIMIT_EXCEEDED"
	VerdictMemoryLimitExceeded Verdict = "MEMORY_LIMIT_EXCEEDED"
	VerdictCompilationError    Verdict = "COMPILATION_ERROR"
	VerdictRuntimeError        Verdict = "RUNTIME_ERROR"
)

// ScoringPolicy decides how passed testcases turn into a score.
type ScoringPolicy string

const (
	ScoringPartial      ScoringPolicy = "PARTIAL"
	ScoringAllOrNothing ScoringPolicy = "ALL_OR_NOTHING"
)

// Valid reports whether p is a known policy.
func (p ScoringPolicy) Valid() bool {
	return p == ScoringPartial || p == ScoringAllOrNothing
}
