// Package verdict turns terminal executions into a submission verdict and score.
// Everything here is pure: the same inputs always produce the same Result.
package verdict

import (
	"sort"
	"strings"

	"ojcore/internal/judge/model"

	"github.com/shopspring/decimal"
)

// Result is the aggregated grading outcome of a submission.
type Result struct {
	Verdict model.Verdict `json:"verdict"`
	Score   float64       `json:"score"`
	Passed  int           `json:"passed"`
	Total   int           `json:"total"`
}

// Classify returns the label of a single testcase: ACCEPTED when it passed,
// otherwise the specific failure. Checks run in a fixed order so limit breaches
// win over exit status, and exit status wins over output comparison.
func Classify(out model.Outcome, expected string, limits model.Limits) model.Verdict {
	switch {
	case out.Kind == model.OutcomeCompileError:
		return model.VerdictCompilationError
	case out.Kind == model.OutcomeDeadline, out.Kind == model.OutcomeTimeLimit:
		return model.VerdictTimeLimitExceeded
	case limits.TimeLimitMs > 0 && out.TimeMs >= limits.TimeLimitMs:
		return model.VerdictTimeLimitExceeded
	case out.Kind == model.OutcomeMemoryLimit:
		return model.VerdictMemoryLimitExceeded
	case limits.MemoryLimitKB > 0 && out.MemoryKB >= limits.MemoryLimitKB:
		return model.VerdictMemoryLimitExceeded
	case out.Kind == model.OutcomeRuntimeError, out.Kind == model.OutcomeInternalError, out.ExitCode != 0:
		return model.VerdictRuntimeError
	case !OutputMatches(out.Stdout, expected):
		return model.VerdictWrongAnswer
	default:
		return model.VerdictAccepted
	}
}

// OutputMatches compares program output with the expected output,
// ignoring trailing whitespace on every line and trailing blank lines.
func OutputMatches(actual, expected string) bool {
	return normalize(actual) == normalize(expected)
}

func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r\v\f")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// Aggregate computes the submission result from its executions.
// Executions are evaluated in testcase order regardless of input order.
// A non-terminal execution is treated as timed out.
func Aggregate(executions []model.Execution, limits model.Limits, policy model.ScoringPolicy) Result {
	total := len(executions)
	res := Result{Total: total}
	if total == 0 {
		res.Verdict = model.VerdictRuntimeError
		return res
	}

	ordered := append([]model.Execution(nil), executions...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Ordinal < ordered[j].Ordinal })

	// Compilation runs once logically, so one compile failure decides everything.
	for i := range ordered {
		if ordered[i].Status.Terminal() && ordered[i].Kind == model.OutcomeCompileError {
			res.Verdict = model.VerdictCompilationError
			return res
		}
	}

	var firstFailure model.Verdict
	for i := range ordered {
		label := model.VerdictTimeLimitExceeded
		if ordered[i].Status.Terminal() {
			label = Classify(ordered[i].Outcome, ordered[i].ExpectedOutput, limits)
		}
		if label == model.VerdictAccepted {
			res.Passed++
			continue
		}
		if firstFailure == "" {
			firstFailure = label
		}
	}

	if res.Passed == total {
		res.Verdict = model.VerdictAccepted
	} else {
		res.Verdict = firstFailure
	}
	res.Score = Score(res.Passed, total, policy)
	return res
}

// Score converts passed/total into a 0-100 score with two decimals.
func Score(passed, total int, policy model.ScoringPolicy) float64 {
	if total <= 0 {
		return 0
	}
	if policy == model.ScoringAllOrNothing {
		if passed == total {
			return 100
		}
		return 0
	}
	return decimal.NewFromInt(int64(passed)).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(total))).
		Round(2).
		InexactFloat64()
}
