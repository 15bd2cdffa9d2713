package scoring

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pactguard/pactguard/internal/metrics"
	"github.com/pactguard/pactguard/internal/penalty"
)

// Classification bands for a delivery score.
const (
	ClassificationExcellent = "EXCELLENT"
	ClassificationGood      = "GOOD"
	ClassificationDegraded  = "DEGRADED"
	ClassificationCritical  = "CRITICAL"
)

// historyCap bounds the per-endpoint score history ring.
const historyCap = 1000

// Adjustment is one penalty or bonus applied during a score calculation.
// Points are negative for penalties and positive for bonuses.
type Adjustment struct {
	Reason    string  `json:"reason"`
	Points    float64 `json:"points"`
	Actual    float64 `json:"actual,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

// DeliveryScore is the scored accountability health of one endpoint at one
// point in time.
type DeliveryScore struct {
	Endpoint         string       `json:"endpoint"`
	Score            float64      `json:"score"`
	Classification   string       `json:"classification"`
	PenaltiesApplied []Adjustment `json:"penaltiesApplied"`
	BonusesApplied   []Adjustment `json:"bonusesApplied"`
	Timestamp        time.Time    `json:"timestamp"`
	Recommendation   string       `json:"recommendation"`
}

// Trend summarizes score movement over a requested window.
type Trend struct {
	Trend                string  `json:"trend"`
	AverageScore         float64 `json:"averageScore"`
	DataPoints           int     `json:"dataPoints"`
	LatestClassification string  `json:"latestClassification"`
}

// EndpointSummary is the per-endpoint slice of an exported summary.
type EndpointSummary struct {
	Score          float64 `json:"score"`
	Classification string  `json:"classification"`
	HealthState    string  `json:"health_state"`
	PenaltyCount   int     `json:"penalty_count"`
}

// Summary is the service-wide delivery summary.
type Summary struct {
	Timestamp      time.Time                  `json:"timestamp"`
	TotalEndpoints int                        `json:"totalEndpoints"`
	AverageScore   float64                    `json:"averageScore"`
	Endpoints      map[string]EndpointSummary `json:"perEndpointSummaries"`
}

// Calculator derives delivery scores from operation metrics and registered
// penalties. All state is injected; one calculator is shared per process.
type Calculator struct {
	collector     *metrics.Collector
	penalties     *penalty.Registry
	halfLifeHours float64
	logger        *zap.Logger

	mu      sync.Mutex
	history map[string][]DeliveryScore

	now func() time.Time
}

// NewCalculator creates a delivery score calculator.
func NewCalculator(collector *metrics.Collector, penalties *penalty.Registry, halfLifeHours float64, logger *zap.Logger) *Calculator {
	if halfLifeHours <= 0 {
		halfLifeHours = penalty.DefaultHalfLifeHours
	}
	return &Calculator{
		collector:     collector,
		penalties:     penalties,
		halfLifeHours: halfLifeHours,
		logger:        logger,
		history:       make(map[string][]DeliveryScore),
		now:           time.Now,
	}
}

// CalculateScore computes the current delivery score for an endpoint.
// An optional request latency in milliseconds may be supplied; latencies
// under 100ms earn a bonus even when no metrics exist yet. The result is
// appended to the endpoint's capped history ring.
func (c *Calculator) CalculateScore(endpoint string, latencyMs ...float64) DeliveryScore {
	now := c.now()
	var penaltiesApplied, bonusesApplied []Adjustment

	if snap, ok := c.collector.Snapshot(endpoint); ok && snap.TotalAttempts > 0 {
		successRate := snap.SuccessRate()
		if successRate < 0.90 {
			penaltiesApplied = append(penaltiesApplied, Adjustment{
				Reason: "success_rate", Points: -25,
				Actual: successRate, Threshold: 0.90,
			})
		} else if successRate < 0.95 {
			penaltiesApplied = append(penaltiesApplied, Adjustment{
				Reason: "success_rate", Points: -10,
				Actual: successRate, Threshold: 0.95,
			})
		}

		if rate := snap.FallbackRate(); rate > 0.10 {
			penaltiesApplied = append(penaltiesApplied, Adjustment{
				Reason: "fallback_rate", Points: -15,
				Actual: rate, Threshold: 0.10,
			})
		}

		if avg := snap.AverageRetries(); avg > 2 {
			penaltiesApplied = append(penaltiesApplied, Adjustment{
				Reason: "retry_average", Points: -8,
				Actual: avg, Threshold: 2,
			})
		}

		if !snap.LastErrorAt.IsZero() && now.Sub(snap.LastErrorAt) < 5*time.Minute {
			penaltiesApplied = append(penaltiesApplied, Adjustment{
				Reason: "recent_error", Points: -5,
			})
		}

		if snap.TotalAttempts >= 10 && snap.FailedAttempts == 0 {
			bonusesApplied = append(bonusesApplied, Adjustment{
				Reason: "perfect_streak", Points: 5,
			})
		}
	}

	if len(latencyMs) > 0 && latencyMs[0] >= 0 && latencyMs[0] < 100 {
		bonusesApplied = append(bonusesApplied, Adjustment{
			Reason: "low_latency", Points: 3,
			Actual: latencyMs[0], Threshold: 100,
		})
	}

	for _, p := range c.penalties.Snapshot(endpoint) {
		decayed := penalty.Decay(p, now, c.halfLifeHours)
		if decayed <= 0 {
			continue
		}
		penaltiesApplied = append(penaltiesApplied, Adjustment{
			Reason: string(p.ViolationType), Points: -decayed,
		})
	}

	score := 100.0
	for _, adj := range penaltiesApplied {
		score += adj.Points
	}
	for _, adj := range bonusesApplied {
		score += adj.Points
	}
	if score < 0 {
		score = 0
	}

	result := DeliveryScore{
		Endpoint:         endpoint,
		Score:            score,
		Classification:   Classify(score),
		PenaltiesApplied: penaltiesApplied,
		BonusesApplied:   bonusesApplied,
		Timestamp:        now,
	}
	result.Recommendation = recommend(result)

	c.appendHistory(endpoint, result)
	return result
}

// Classify maps a score to its classification band.
func Classify(score float64) string {
	switch {
	case score >= 95:
		return ClassificationExcellent
	case score >= 80:
		return ClassificationGood
	case score >= 60:
		return ClassificationDegraded
	default:
		return ClassificationCritical
	}
}

func recommend(score DeliveryScore) string {
	if score.Classification == ClassificationExcellent {
		return "Maintain current performance"
	}
	for _, p := range score.PenaltiesApplied {
		if p.Points <= -15 {
			return fmt.Sprintf("CRITICAL: address %s immediately", p.Reason)
		}
	}
	if len(score.PenaltiesApplied) > 0 {
		first := score.PenaltiesApplied[0]
		if first.Threshold != 0 {
			return fmt.Sprintf("Improve %s: %.2f against a threshold of %.2f", first.Reason, first.Actual, first.Threshold)
		}
		return fmt.Sprintf("Improve %s", first.Reason)
	}
	return "Review monitoring configuration for this endpoint"
}

func (c *Calculator) appendHistory(endpoint string, score DeliveryScore) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ring := c.history[endpoint]
	if len(ring) >= historyCap {
		ring = ring[1:]
	}
	c.history[endpoint] = append(ring, score)
}

// GetTrend reports score movement for an endpoint over the trailing window
// of the given number of hours. Fewer than two in-window data points yield
// an insufficient_data trend.
func (c *Calculator) GetTrend(endpoint string, hours int) Trend {
	if hours <= 0 {
		hours = 24
	}
	cutoff := c.now().Add(-time.Duration(hours) * time.Hour)

	c.mu.Lock()
	var window []DeliveryScore
	for _, s := range c.history[endpoint] {
		if !s.Timestamp.Before(cutoff) {
			window = append(window, s)
		}
	}
	c.mu.Unlock()

	if len(window) < 2 {
		return Trend{Trend: "insufficient_data", DataPoints: len(window)}
	}

	mid := len(window) / 2
	firstAvg := averageScore(window[:mid])
	secondAvg := averageScore(window[mid:])

	trend := "stable"
	switch {
	case secondAvg-firstAvg > 2:
		trend = "improving"
	case secondAvg-firstAvg < -2:
		trend = "declining"
	}

	return Trend{
		Trend:                trend,
		AverageScore:         averageScore(window),
		DataPoints:           len(window),
		LatestClassification: window[len(window)-1].Classification,
	}
}

// ExportSummary computes a fresh score for every known endpoint and returns
// the service-wide summary.
func (c *Calculator) ExportSummary() Summary {
	endpoints := c.knownEndpoints()
	summary := Summary{
		Timestamp: c.now(),
		Endpoints: make(map[string]EndpointSummary, len(endpoints)),
	}

	total := 0.0
	for _, endpoint := range endpoints {
		score := c.CalculateScore(endpoint)
		total += score.Score
		summary.Endpoints[endpoint] = EndpointSummary{
			Score:          score.Score,
			Classification: score.Classification,
			HealthState:    HealthState(score.Score),
			PenaltyCount:   c.penalties.Count(endpoint),
		}
	}

	summary.TotalEndpoints = len(endpoints)
	if len(endpoints) > 0 {
		summary.AverageScore = total / float64(len(endpoints))
	}
	return summary
}

// Endpoints returns every endpoint known to the calculator through metrics,
// penalties, or score history.
func (c *Calculator) knownEndpoints() []string {
	seen := make(map[string]struct{})
	for _, e := range c.collector.Endpoints() {
		seen[e] = struct{}{}
	}
	for _, e := range c.penalties.Endpoints() {
		seen[e] = struct{}{}
	}
	c.mu.Lock()
	for e := range c.history {
		seen[e] = struct{}{}
	}
	c.mu.Unlock()

	endpoints := make([]string, 0, len(seen))
	for e := range seen {
		endpoints = append(endpoints, e)
	}
	sort.Strings(endpoints)
	return endpoints
}

// KnownEndpoints exposes the tracked endpoint set for periodic sweeps.
func (c *Calculator) KnownEndpoints() []string {
	return c.knownEndpoints()
}

func averageScore(scores []DeliveryScore) float64 {
	if len(scores) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range scores {
		sum += s.Score
	}
	return sum / float64(len(scores))
}
