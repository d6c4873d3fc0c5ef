package model

import (
	"math"
	"sort"
)

// Problem is the grading target. The engine only reads problems.
type Problem struct {
	ID               int64         `json:"id"`
	Title            string        `json:"title"`
	TimeLimitSeconds float64       `json:"time_limit_seconds"`
	MemoryLimitMB    int64         `json:"memory_limit_mb"`
	ScoringPolicy    ScoringPolicy `json:"scoring_policy"`
	Testcases        []Testcase    `json:"testcases"`
}

// Testcase is one input/expected-output pair owned by a problem.
type Testcase struct {
	ID             int64  `json:"id"`
	ProblemID      int64  `json:"problem_id"`
	Ordinal        int    `json:"ordinal"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Public         bool   `json:"public"`
}

// Limits are the resource limits snapshotted onto a submission at dispatch.
type Limits struct {
	TimeLimitMs   int64 `json:"time_limit_ms"`
	MemoryLimitKB int64 `json:"memory_limit_kb"`
}

// Limits converts the problem's limits to the units executions are measured in.
func (p *Problem) Limits() Limits {
	return Limits{
		TimeLimitMs:   int64(math.Round(p.TimeLimitSeconds * 1000)),
		MemoryLimitKB: p.MemoryLimitMB * 1024,
	}
}

// SortedTestcases returns a copy of the testcases in grading order.
func (p *Problem) SortedTestcases() []Testcase {
	out := append([]Testcase(nil), p.Testcases...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Ordinal != out[j].Ordinal {
			return out[i].Ordinal < out[j].Ordinal
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ProblemStats are the aggregate submission counters for a problem.
type ProblemStats struct {
	ProblemID           int64 `json:"problem_id"`
	TotalSubmissions    int64 `json:"total_submissions"`
	AcceptedSubmissions int64 `json:"accepted_submissions"`
	Version             int64 `json:"-"`
}
