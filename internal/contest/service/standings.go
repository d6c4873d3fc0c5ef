package service

import (
	"sort"
	"time"

	"ojcore/internal/contest/model"
)

// ComputeStandings ranks every participant and submitter from the full attempt log.
// The result depends only on its inputs.
func ComputeStandings(c *model.Contest, rows []*model.ContestSubmission, now time.Time) *model.Standings {
	problems := c.SortedProblems()
	attempts := make(map[int64]map[int64][]*model.ContestSubmission)
	users := make(map[int64]struct{})
	for _, uid := range c.Participants {
		users[uid] = struct{}{}
	}
	for _, r := range rows {
		if r.ContestID != c.ID {
			continue
		}
		if _, ok := c.Problem(r.ProblemID); !ok {
			continue
		}
		users[r.UserID] = struct{}{}
		if attempts[r.UserID] == nil {
			attempts[r.UserID] = make(map[int64][]*model.ContestSubmission)
		}
		attempts[r.UserID][r.ProblemID] = append(attempts[r.UserID][r.ProblemID], r)
	}

	out := &model.Standings{
		ContestID:   c.ID,
		Style:       c.Style,
		Phase:       c.Phase(now),
		GeneratedAt: now,
		Problems:    make([]string, 0, len(problems)),
		Rows:        make([]model.StandingRow, 0, len(users)),
	}
	for _, p := range problems {
		out.Problems = append(out.Problems, p.Label)
	}

	for uid := range users {
		row := model.StandingRow{UserID: uid, Problems: make([]model.ProblemResult, 0, len(problems))}
		points := make([]float64, 0, len(problems))
		for _, p := range problems {
			list := attempts[uid][p.ProblemID]
			sortAttempts(list)
			var cell model.ProblemResult
			if c.Style == model.StyleACM {
				cell = acmCell(c, p, list)
				if cell.Solved {
					row.Solved++
					row.Penalty += cell.Penalty
					row.LastAcceptedAt = later(row.LastAcceptedAt, cell.FirstAcceptedAt)
				}
			} else {
				var counted *time.Time
				cell, counted = pointsCell(p, list, c.AttemptPolicy)
				if cell.Solved {
					row.Solved++
				}
				row.LastCountedAt = later(row.LastCountedAt, counted)
			}
			points = append(points, cell.Points)
			row.Problems = append(row.Problems, cell)
		}
		row.Points = sumPoints(points...)
		out.Rows = append(out.Rows, row)
	}

	if c.Style == model.StyleACM {
		sort.Slice(out.Rows, func(i, j int) bool { return acmLess(&out.Rows[i], &out.Rows[j]) })
		assignRanks(out.Rows, acmEqual)
	} else {
		sort.Slice(out.Rows, func(i, j int) bool { return pointsLess(&out.Rows[i], &out.Rows[j]) })
		assignRanks(out.Rows, pointsEqual)
	}
	return out
}

// acmCell counts attempts up to and including the first accepted one. The solved
// penalty is derived from submission times so grading order never changes it.
func acmCell(c *model.Contest, p model.ContestProblem, list []*model.ContestSubmission) model.ProblemResult {
	cell := model.ProblemResult{ProblemID: p.ProblemID, Label: p.Label}
	for _, a := range list {
		cell.Attempts++
		if a.Accepted() {
			at := a.SubmittedAt
			cell.Solved = true
			cell.Penalty = AttemptPenalty(c, a.SubmittedAt, cell.Attempts-1)
			cell.Points = a.Points
			cell.FirstAcceptedAt = &at
			break
		}
	}
	return cell
}

// pointsCell picks the counted attempt per policy and returns when it was submitted.
func pointsCell(p model.ContestProblem, list []*model.ContestSubmission, policy model.AttemptPolicy) (model.ProblemResult, *time.Time) {
	cell := model.ProblemResult{ProblemID: p.ProblemID, Label: p.Label, Attempts: len(list)}
	for _, a := range list {
		if a.Accepted() && cell.FirstAcceptedAt == nil {
			at := a.SubmittedAt
			cell.FirstAcceptedAt = &at
			cell.Solved = true
		}
	}
	if len(list) == 0 {
		return cell, nil
	}
	counted := list[len(list)-1]
	if policy != model.AttemptLatest {
		counted = list[0]
		for _, a := range list[1:] {
			// Strictly greater keeps the earliest of equal-point attempts.
			if a.Points > counted.Points {
				counted = a
			}
		}
	}
	cell.Points = counted.Points
	at := counted.SubmittedAt
	return cell, &at
}

func sortAttempts(list []*model.ContestSubmission) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].SubmittedAt.Equal(list[j].SubmittedAt) {
			return list[i].SubmittedAt.Before(list[j].SubmittedAt)
		}
		return list[i].SubmissionID < list[j].SubmissionID
	})
}

func later(cur, candidate *time.Time) *time.Time {
	if candidate == nil {
		return cur
	}
	if cur == nil || candidate.After(*cur) {
		t := *candidate
		return &t
	}
	return cur
}

// earlier orders optional times with nil last.
func earlier(a, b *time.Time) (less, equal bool) {
	switch {
	case a == nil && b == nil:
		return false, true
	case a == nil:
		return false, false
	case b == nil:
		return true, false
	default:
		return a.Before(*b), a.Equal(*b)
	}
}

func acmEqual(a, b *model.StandingRow) bool {
	_, eq := earlier(a.LastAcceptedAt, b.LastAcceptedAt)
	return a.Solved == b.Solved && a.Penalty == b.Penalty && eq
}

func acmLess(a, b *model.StandingRow) bool {
	if a.Solved != b.Solved {
		return a.Solved > b.Solved
	}
	if a.Penalty != b.Penalty {
		return a.Penalty < b.Penalty
	}
	if less, eq := earlier(a.LastAcceptedAt, b.LastAcceptedAt); !eq {
		return less
	}
	return a.UserID < b.UserID
}

func pointsEqual(a, b *model.StandingRow) bool {
	_, eq := earlier(a.LastCountedAt, b.LastCountedAt)
	return a.Points == b.Points && eq
}

func pointsLess(a, b *model.StandingRow) bool {
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	if less, eq := earlier(a.LastCountedAt, b.LastCountedAt); !eq {
		return less
	}
	return a.UserID < b.UserID
}

// assignRanks gives equal rows the same rank and skips the ranks they occupy.
func assignRanks(rows []model.StandingRow, equal func(a, b *model.StandingRow) bool) {
	for i := range rows {
		if i > 0 && equal(&rows[i-1], &rows[i]) {
			rows[i].Rank = rows[i-1].Rank
			continue
		}
		rows[i].Rank = i + 1
	}
}
