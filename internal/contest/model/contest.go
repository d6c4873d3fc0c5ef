// Package model defines contests, their append-only submission records and standings.
package model

import (
	"slices"
	"time"
)

// Style selects how standings are ranked.
type Style string

const (
	StyleACM    Style = "ACM"
	StylePoints Style = "POINTS"
)

// PointsMode decides how a graded score turns into contest points.
type PointsMode string

const (
	PointsPartial      PointsMode = "PARTIAL"
	PointsAllOrNothing PointsMode = "ALL_OR_NOTHING"
)

// AttemptPolicy selects which attempt per problem counts in points standings.
type AttemptPolicy string

const (
	AttemptBest   AttemptPolicy = "BEST"
	AttemptLatest AttemptPolicy = "LATEST"
)

// DefaultPenaltyMinutes is the ACM penalty per rejected attempt.
const DefaultPenaltyMinutes = 20

// Contest is a time-boxed set of problems. It is read-only to the engine.
type Contest struct {
	ID             string           `json:"id"`
	Title          string           `json:"title"`
	StartAt        time.Time        `json:"start_at"`
	EndAt          time.Time        `json:"end_at"`
	Visible        bool             `json:"visible"`
	Capacity       int              `json:"capacity"`
	CreatorID      int64            `json:"creator_id"`
	Style          Style            `json:"style"`
	PointsMode     PointsMode       `json:"points_mode"`
	AttemptPolicy  AttemptPolicy    `json:"attempt_policy"`
	PenaltyMinutes int64            `json:"penalty_minutes"`
	Participants   []int64          `json:"participants"`
	Problems       []ContestProblem `json:"problems"`
}

// ContestProblem places a problem in a contest.
type ContestProblem struct {
	ProblemID int64   `json:"problem_id"`
	Order     int     `json:"order"`
	Label     string  `json:"label"`
	Weight    float64 `json:"weight"`
}

// IsParticipant reports whether userID is registered.
func (c *Contest) IsParticipant(userID int64) bool {
	return slices.Contains(c.Participants, userID)
}

// Problem returns the contest entry for problemID.
func (c *Contest) Problem(problemID int64) (ContestProblem, bool) {
	for _, p := range c.Problems {
		if p.ProblemID == problemID {
			return p, true
		}
	}
	return ContestProblem{}, false
}

// SortedProblems returns the problems in display order.
func (c *Contest) SortedProblems() []ContestProblem {
	out := append([]ContestProblem(nil), c.Problems...)
	slices.SortStableFunc(out, func(a, b ContestProblem) int { return a.Order - b.Order })
	return out
}

// Penalty returns the configured per-attempt penalty, or the default.
func (c *Contest) Penalty() int64 {
	if c.PenaltyMinutes > 0 {
		return c.PenaltyMinutes
	}
	return DefaultPenaltyMinutes
}

// Phase is derived from the clock and never stored.
func (c *Contest) Phase(now time.Time) Phase {
	return PhaseAt(c.StartAt, c.EndAt, now)
}

// Clone returns a deep copy.
func (c *Contest) Clone() *Contest {
	out := *c
	out.Participants = append([]int64(nil), c.Participants...)
	out.Problems = append([]ContestProblem(nil), c.Problems...)
	return &out
}
