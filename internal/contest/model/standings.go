package model

import "time"

// Standings is a ranking computed from the full contest submission set.
type Standings struct {
	ContestID   string        `json:"contest_id"`
	Style       Style         `json:"style"`
	Phase       Phase         `json:"phase"`
	GeneratedAt time.Time     `json:"generated_at"`
	Problems    []string      `json:"problems"`
	Rows        []StandingRow `json:"rows"`
}

// StandingRow is one user's line in the standings.
type StandingRow struct {
	Rank    int     `json:"rank"`
	UserID  int64   `json:"user_id"`
	Solved  int     `json:"solved"`
	Points  float64 `json:"points"`
	Penalty int64   `json:"penalty"`
	// LastAcceptedAt breaks ACM ties; LastCountedAt breaks points ties.
	LastAcceptedAt *time.Time      `json:"last_accepted_at,omitempty"`
	LastCountedAt  *time.Time      `json:"last_counted_at,omitempty"`
	Problems       []ProblemResult `json:"problems"`
}

// ProblemResult is the per-problem cell of a standing row.
type ProblemResult struct {
	ProblemID       int64      `json:"problem_id"`
	Label           string     `json:"label"`
	Attempts        int        `json:"attempts"`
	Solved          bool       `json:"solved"`
	Points          float64    `json:"points"`
	Penalty         int64      `json:"penalty"`
	FirstAcceptedAt *time.Time `json:"first_accepted_at,omitempty"`
}
