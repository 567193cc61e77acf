package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/ragflow/internal/core/domain"
)

// Indexing outcomes used as the "outcome" label.
const (
	OutcomeIndexed   = "indexed"
	OutcomeRejected  = "rejected"
	OutcomeMissing   = "missing"
	OutcomeTimeout   = "timeout"
	OutcomeTransient = "transient"
	OutcomeFailed    = "failed"
)

// WorkerMetrics tracks document indexing in the ingestion worker. It owns
// its registry since the worker exposes nothing but these series.
type WorkerMetrics struct {
	service  string
	registry *prometheus.Registry

	indexed       *prometheus.CounterVec
	indexDuration *prometheus.HistogramVec
	chunks        prometheus.Histogram
	inFlight      prometheus.Gauge
	queueLag      prometheus.Histogram
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	indexed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "indexing",
			Name:        "documents_total",
			Help:        "Documents taken off the queue by indexing outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	indexDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "indexing",
			Name:        "duration_seconds",
			Help:        "Extract, chunk, embed and upsert time per document.",
			Buckets:     []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)
	chunks := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "indexing",
			Name:        "chunks_per_document",
			Help:        "Chunks written to the vector store per indexed document.",
			Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
			ConstLabels: constLabels,
		},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "indexing",
			Name:        "in_flight",
			Help:        "Documents currently being indexed.",
			ConstLabels: constLabels,
		},
	)
	queueLag := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "indexing",
			Name:        "queue_lag_seconds",
			Help:        "Delay between upload and the start of indexing.",
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		},
	)

	registry.MustRegister(indexed, indexDuration, chunks, inFlight, queueLag)

	return &WorkerMetrics{
		service:       service,
		registry:      registry,
		indexed:       indexed,
		indexDuration: indexDuration,
		chunks:        chunks,
		inFlight:      inFlight,
		queueLag:      queueLag,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartDocument marks one document in flight and returns the callback that
// records its outcome. chunks is only observed for indexed documents.
func (m *WorkerMetrics) StartDocument() func(chunks int, err error) {
	m.inFlight.Inc()
	started := time.Now()
	return func(chunks int, err error) {
		m.inFlight.Dec()
		outcome := IndexOutcome(err)
		m.indexed.WithLabelValues(outcome).Inc()
		m.indexDuration.WithLabelValues(outcome).Observe(time.Since(started).Seconds())
		if err == nil {
			m.chunks.Observe(float64(chunks))
		}
	}
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.Observe(lag.Seconds())
}

// IndexOutcome maps an indexing error onto the outcome label.
func IndexOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeIndexed
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		return OutcomeMissing
	case domain.IsKind(err, domain.ErrInvalidRequest):
		return OutcomeRejected
	case errors.Is(err, context.DeadlineExceeded) || domain.IsKind(err, domain.ErrTimeout):
		return OutcomeTimeout
	case domain.IsKind(err, domain.ErrTemporary):
		return OutcomeTransient
	default:
		return OutcomeFailed
	}
}
