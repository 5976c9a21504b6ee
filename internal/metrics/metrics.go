// Package metrics exposes Prometheus collectors for the pipeline stages.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Document outcomes recorded per stage.
const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
	OutcomeError   = "error"
)

var (
	documentsTotal         *prometheus.CounterVec
	stageDurationSeconds   *prometheus.HistogramVec
	fundingRoundsTotal     prometheus.Counter
	entitiesCreatedTotal   *prometheus.CounterVec
	chunksTotal            prometheus.Counter
	retriesTotal           *prometheus.CounterVec
	breakerState           *prometheus.GaugeVec
	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDurationSec *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call more than once and every
// Observe function calls it.
func Init() {
	once.Do(func() {
		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealflow_documents_total",
				Help: "Documents handled by a pipeline stage, labeled by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dealflow_stage_duration_seconds",
				Help:    "Wall time of one stage batch.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"stage"},
		)

		fundingRoundsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dealflow_funding_rounds_total",
				Help: "Funding rounds persisted by feature extraction.",
			},
		)

		entitiesCreatedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealflow_entities_created_total",
				Help: "Entities created on first sight, labeled by kind.",
			},
			[]string{"kind"},
		)

		chunksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "dealflow_chunks_total",
				Help: "Chunks stored by the processing stage.",
			},
		)

		retriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealflow_retries_total",
				Help: "Retried network calls, labeled by call.",
			},
			[]string{"call"},
		)

		breakerState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dealflow_breaker_state",
				Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
			},
			[]string{"name"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dealflow_http_requests_total",
				Help: "API requests, labeled by method, route and code.",
			},
			[]string{"method", "route", "code"},
		)

		httpRequestDurationSec = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dealflow_http_request_duration_seconds",
				Help:    "API request latency, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveDocument counts one document outcome for a stage.
func ObserveDocument(stage, outcome string) {
	Init()
	documentsTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveStage records a batch duration.
func ObserveStage(stage string, d time.Duration) {
	Init()
	stageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// AddFundingRounds counts persisted rounds.
func AddFundingRounds(n int) {
	Init()
	if n > 0 {
		fundingRoundsTotal.Add(float64(n))
	}
}

// AddChunks counts stored chunks.
func AddChunks(n int) {
	Init()
	if n > 0 {
		chunksTotal.Add(float64(n))
	}
}

// ObserveEntityCreated counts a newly created entity.
func ObserveEntityCreated(kind string) {
	Init()
	entitiesCreatedTotal.WithLabelValues(kind).Inc()
}

// ObserveRetry counts a retried call.
func ObserveRetry(call string) {
	Init()
	retriesTotal.WithLabelValues(call).Inc()
}

// SetBreakerState publishes a breaker transition.
func SetBreakerState(name string, state int) {
	Init()
	breakerState.WithLabelValues(name).Set(float64(state))
}

// ObserveHTTPRequest records one API request.
func ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSec.WithLabelValues(method, route).Observe(d.Seconds())
}
