package scoring

// Operational health states derived from a delivery score.
const (
	StateNormal   = "normal"
	StateAlert    = "alert"
	StateThrottle = "throttle"
	StateDegraded = "degraded"
)

// HealthState maps a delivery score to the operational state routing and
// alerting layers act on.
func HealthState(score float64) string {
	switch {
	case score > 90:
		return StateNormal
	case score > 75:
		return StateAlert
	case score >= 50:
		return StateThrottle
	default:
		return StateDegraded
	}
}
