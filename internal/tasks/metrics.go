package tasks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/desertthunder/witx/internal/models"
	"github.com/desertthunder/witx/internal/retry"
)

// Metrics contains Prometheus metrics for a migration run.
//
// All record methods are safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	recordsTotal    *prometheus.CounterVec
	batchesTotal    *prometheus.CounterVec
	batchDuration   *prometheus.HistogramVec
	retriesTotal    *prometheus.CounterVec
	failuresTotal   *prometheus.CounterVec
	identifiedGauge *prometheus.GaugeVec
}

// NewMetrics creates and registers run metrics on registry.
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "witx_records_total",
			Help: "Total number of work item records reconciled per phase",
		},
		[]string{"phase", "status"}, // status: succeeded, failed
	)

	m.batchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "witx_batches_total",
			Help: "Total number of batches processed per phase",
		},
		[]string{"phase", "status"}, // status: clean, partial, error
	)

	m.batchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "witx_batch_duration_seconds",
			Help:    "Time taken to process one batch",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		},
		[]string{"phase"},
	)

	m.retriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "witx_retry_attempts_failed_total",
			Help: "Total number of failed remote call attempts by classification",
		},
		[]string{"operation", "class"},
	)

	m.failuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "witx_record_failures_total",
			Help: "Total number of failure reasons recorded at the end of a run",
		},
		[]string{"reason"},
	)

	m.identifiedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "witx_identified_records",
			Help: "Number of source work items per identified action",
		},
		[]string{"action"},
	)
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.recordsTotal.Describe(ch)
	m.batchesTotal.Describe(ch)
	m.batchDuration.Describe(ch)
	m.retriesTotal.Describe(ch)
	m.failuresTotal.Describe(ch)
	m.identifiedGauge.Describe(ch)
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.recordsTotal.Collect(ch)
	m.batchesTotal.Collect(ch)
	m.batchDuration.Collect(ch)
	m.retriesTotal.Collect(ch)
	m.failuresTotal.Collect(ch)
	m.identifiedGauge.Collect(ch)
}

// ObserveAttempt is a [retry.WithObserver] callback.
func (m *Metrics) ObserveAttempt(a retry.Attempt) {
	if m == nil {
		return
	}
	m.retriesTotal.WithLabelValues(a.Name, a.Class.String()).Inc()
}

func (m *Metrics) observeBatch(phase models.PhaseSet, succeeded, failed int) {
	if m == nil {
		return
	}
	p := phase.String()
	m.recordsTotal.WithLabelValues(p, "succeeded").Add(float64(succeeded))
	m.recordsTotal.WithLabelValues(p, "failed").Add(float64(failed))

	status := "clean"
	if failed > 0 {
		status = "partial"
	}
	m.batchesTotal.WithLabelValues(p, status).Inc()
}

func (m *Metrics) observeBatchError(phase models.PhaseSet) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(phase.String(), "error").Inc()
}

func (m *Metrics) observeBatchDuration(phase models.PhaseSet, d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.WithLabelValues(phase.String()).Observe(d.Seconds())
}

func (m *Metrics) observeIdentified(create, update, none int) {
	if m == nil {
		return
	}
	m.identifiedGauge.WithLabelValues(models.ActionCreate.String()).Set(float64(create))
	m.identifiedGauge.WithLabelValues(models.ActionUpdate.String()).Set(float64(update))
	m.identifiedGauge.WithLabelValues(models.ActionNone.String()).Set(float64(none))
}

func (m *Metrics) observeSummary(s *models.RunSummary) {
	if m == nil {
		return
	}
	for reason, ids := range s.FailedByReason {
		m.failuresTotal.WithLabelValues(reason).Add(float64(len(ids)))
	}
}
