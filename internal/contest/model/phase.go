package model

import "time"

// Phase is the state of a contest at a point in time.
type Phase string

const (
	PhaseUpcoming Phase = "UPCOMING"
	PhaseOngoing  Phase = "ONGOING"
	PhaseEnded    Phase = "ENDED"
)

// PhaseAt places now in the half-open window [start, end).
func PhaseAt(start, end, now time.Time) Phase {
	switch {
	case now.Before(start):
		return PhaseUpcoming
	case now.Before(end):
		return PhaseOngoing
	default:
		return PhaseEnded
	}
}
