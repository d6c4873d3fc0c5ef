package model

import (
	"testing"
	"time"
)

func TestPhaseAtBoundaries(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	cases := []struct {
		name string
		now  time.Time
		want Phase
	}{
		{"before start", start.Add(-time.Nanosecond), PhaseUpcoming},
		{"at start", start, PhaseOngoing},
		{"middle", start.Add(time.Hour), PhaseOngoing},
		{"just before end", end.Add(-time.Nanosecond), PhaseOngoing},
		{"at end", end, PhaseEnded},
		{"after end", end.Add(time.Hour), PhaseEnded},
	}
	for _, tc := range cases {
		if got := PhaseAt(start, end, tc.now); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestContestHelpers(t *testing.T) {
	t.Parallel()
	c := &Contest{
		Participants: []int64{1, 2},
		Problems: []ContestProblem{
			{ProblemID: 20, Order: 2, Label: "B"},
			{ProblemID: 10, Order: 1, Label: "A"},
		},
	}
	if !c.IsParticipant(2) || c.IsParticipant(3) {
		t.Fatalf("participant lookup failed")
	}
	if p, ok := c.Problem(20); !ok || p.Label != "B" {
		t.Fatalf("problem lookup failed")
	}
	if sorted := c.SortedProblems(); sorted[0].Label != "A" || c.Problems[0].Label != "B" {
		t.Fatalf("sorted problems must be a reordered copy: %+v", sorted)
	}
	if c.Penalty() != DefaultPenaltyMinutes {
		t.Fatalf("expected default penalty")
	}
	clone := c.Clone()
	clone.Participants[0] = 99
	if c.Participants[0] != 1 {
		t.Fatalf("clone shares participants")
	}
}
