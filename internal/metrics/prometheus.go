package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports enforcement and scoring metrics.
type PrometheusCollector struct {
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	enforcementsTotal   *prometheus.CounterVec
	violationsTotal     *prometheus.CounterVec
	rateLimitRejections *prometheus.CounterVec

	deliveryScore     *prometheus.GaugeVec
	scoreCalculations *prometheus.CounterVec
	penaltiesActive   *prometheus.GaugeVec
}

// NewPrometheusCollector registers and returns the service metrics.
func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pactguard_http_requests_total",
				Help: "Total number of HTTP requests processed",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pactguard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		enforcementsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pactguard_enforcements_total",
				Help: "Total number of contract enforcement evaluations",
			},
			[]string{"phase", "mode", "decision"},
		),
		violationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pactguard_contract_violations_total",
				Help: "Total number of detected contract violations",
			},
			[]string{"type", "severity"},
		),
		rateLimitRejections: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pactguard_rate_limit_rejections_total",
				Help: "Total number of rate-limited requests",
			},
			[]string{"path"},
		),
		deliveryScore: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pactguard_delivery_score",
				Help: "Latest delivery score per endpoint",
			},
			[]string{"endpoint"},
		),
		scoreCalculations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pactguard_score_calculations_total",
				Help: "Total number of delivery score calculations",
			},
			[]string{"classification"},
		),
		penaltiesActive: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pactguard_penalties_active",
				Help: "Number of registered penalties per endpoint",
			},
			[]string{"endpoint"},
		),
	}
}

// IncrementHTTPRequest increments the request counter.
func (p *PrometheusCollector) IncrementHTTPRequest(method, path, status string) {
	p.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// ObserveHTTPDuration observes a request duration.
func (p *PrometheusCollector) ObserveHTTPDuration(method, path string, duration time.Duration) {
	p.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncrementEnforcement records an enforcement evaluation decision.
func (p *PrometheusCollector) IncrementEnforcement(phase, mode, decision string) {
	p.enforcementsTotal.WithLabelValues(phase, mode, decision).Inc()
}

// IncrementViolation records one detected contract violation.
func (p *PrometheusCollector) IncrementViolation(vType, severity string) {
	p.violationsTotal.WithLabelValues(vType, severity).Inc()
}

// IncrementRateLimitRejection records a rate-limited request.
func (p *PrometheusCollector) IncrementRateLimitRejection(path string) {
	p.rateLimitRejections.WithLabelValues(path).Inc()
}

// SetDeliveryScore publishes the latest delivery score for an endpoint.
func (p *PrometheusCollector) SetDeliveryScore(endpoint string, score float64) {
	p.deliveryScore.WithLabelValues(endpoint).Set(score)
}

// IncrementScoreCalculation records a score calculation by classification.
func (p *PrometheusCollector) IncrementScoreCalculation(classification string) {
	p.scoreCalculations.WithLabelValues(classification).Inc()
}

// SetPenaltiesActive publishes the registered penalty count for an endpoint.
func (p *PrometheusCollector) SetPenaltiesActive(endpoint string, count int) {
	p.penaltiesActive.WithLabelValues(endpoint).Set(float64(count))
}
