package penalty

import (
	"math"
	"time"
)

// DefaultHalfLifeHours is the decay half-life used when none is configured.
const DefaultHalfLifeHours = 24.0

// Decay returns the penalty's contribution after exponential time decay:
// points halve every halfLifeHours. Elapsed time is measured against the
// penalty's own timestamp; negative elapsed time (clock skew, future
// timestamp) is clamped to zero so the full points are returned unmodified,
// never amplified.
func Decay(p Schema, now time.Time, halfLifeHours float64) float64 {
	if halfLifeHours <= 0 {
		halfLifeHours = DefaultHalfLifeHours
	}
	elapsed := now.Sub(p.Timestamp).Hours()
	if elapsed <= 0 {
		return p.Points
	}
	return p.Points * math.Pow(0.5, elapsed/halfLifeHours)
}

// DecayedTotal sums the decayed contribution of a set of penalties.
func DecayedTotal(penalties []Schema, now time.Time, halfLifeHours float64) float64 {
	total := 0.0
	for _, p := range penalties {
		total += Decay(p, now, halfLifeHours)
	}
	return total
}
