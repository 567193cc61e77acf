package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/ragflow/internal/core/domain"
)

// RetrievalMetrics implements the retrieval and scoring observer ports and
// counts upstream retries.
type RetrievalMetrics struct {
	service string

	sourceDuration *prometheus.HistogramVec
	sourceResults  *prometheus.HistogramVec
	sourceFailures *prometheus.CounterVec
	mergeDuration  prometheus.Histogram

	cacheTotal      *prometheus.CounterVec
	scoringDuration *prometheus.HistogramVec
	scoringFailures *prometheus.CounterVec

	upstreamRetries *prometheus.CounterVec
}

func newRetrievalMetrics(service string, registerer prometheus.Registerer) *RetrievalMetrics {
	sourceDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "source_duration_seconds",
			Help:      "Per-source retrieval latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "source"},
	)
	sourceResults := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "source_results",
			Help:      "Results returned per source call.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"service", "source"},
	)
	sourceFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "source_failures_total",
			Help:      "Failed source calls.",
		},
		[]string{"service", "source"},
	)
	mergeDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "merge_duration_seconds",
			Help:      "Hybrid fan-out and merge latency in seconds.",
			Buckets:   prometheus.DefBuckets,
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	cacheTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "cache_requests_total",
			Help:      "Scoring cache lookups by result.",
		},
		[]string{"service", "scorer", "result"},
	)
	scoringDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "computation_duration_seconds",
			Help:      "Scoring computation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "scorer"},
	)
	scoringFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scoring",
			Name:      "computation_failures_total",
			Help:      "Failed scoring computations.",
		},
		[]string{"service", "scorer"},
	)
	upstreamRetries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Retried upstream calls by operation.",
		},
		[]string{"service", "operation"},
	)

	registerer.MustRegister(
		sourceDuration,
		sourceResults,
		sourceFailures,
		mergeDuration,
		cacheTotal,
		scoringDuration,
		scoringFailures,
		upstreamRetries,
	)

	return &RetrievalMetrics{
		service:         service,
		sourceDuration:  sourceDuration,
		sourceResults:   sourceResults,
		sourceFailures:  sourceFailures,
		mergeDuration:   mergeDuration,
		cacheTotal:      cacheTotal,
		scoringDuration: scoringDuration,
		scoringFailures: scoringFailures,
		upstreamRetries: upstreamRetries,
	}
}

func (m *RetrievalMetrics) ObserveSource(source domain.RetrieverType, duration time.Duration, results int, err error) {
	m.sourceDuration.WithLabelValues(m.service, source.String()).Observe(duration.Seconds())
	if err != nil {
		m.sourceFailures.WithLabelValues(m.service, source.String()).Inc()
		return
	}
	m.sourceResults.WithLabelValues(m.service, source.String()).Observe(float64(results))
}

func (m *RetrievalMetrics) ObserveMerge(duration time.Duration, _ int) {
	m.mergeDuration.Observe(duration.Seconds())
}

func (m *RetrievalMetrics) ObserveCache(scorer string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheTotal.WithLabelValues(m.service, scorer, result).Inc()
}

func (m *RetrievalMetrics) ObserveComputation(scorer string, duration time.Duration, err error) {
	m.scoringDuration.WithLabelValues(m.service, scorer).Observe(duration.Seconds())
	if err != nil {
		m.scoringFailures.WithLabelValues(m.service, scorer).Inc()
	}
}

func (m *RetrievalMetrics) ObserveRetry(operation string) {
	m.upstreamRetries.WithLabelValues(m.service, operation).Inc()
}
