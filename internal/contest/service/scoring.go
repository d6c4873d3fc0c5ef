package service

import (
	"time"

	"ojcore/internal/contest/model"
	judgemodel "ojcore/internal/judge/model"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Points converts a graded score into contest points for a problem of the given weight.
func Points(weight, score float64, label judgemodel.Verdict, mode model.PointsMode) float64 {
	w := decimal.NewFromFloat(weight)
	if mode == model.PointsAllOrNothing {
		if label == judgemodel.VerdictAccepted {
			return w.Round(2).InexactFloat64()
		}
		return 0
	}
	return w.Mul(decimal.NewFromFloat(score)).Div(hundred).Round(2).InexactFloat64()
}

// ElapsedMinutes is the whole number of minutes from start to at, never negative.
func ElapsedMinutes(start, at time.Time) int64 {
	if at.Before(start) {
		return 0
	}
	return int64(at.Sub(start) / time.Minute)
}

// AttemptPenalty is the ACM penalty of an attempt made at submittedAt after prior rejected attempts.
func AttemptPenalty(c *model.Contest, submittedAt time.Time, prior int) int64 {
	if c.Style != model.StyleACM {
		return 0
	}
	return ElapsedMinutes(c.StartAt, submittedAt) + c.Penalty()*int64(prior)
}

// sumPoints adds points without accumulating float error.
func sumPoints(values ...float64) float64 {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(decimal.NewFromFloat(v))
	}
	return total.Round(2).InexactFloat64()
}
