package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs and the rows they
// move.
type Metrics struct {
	runs         *prometheus.CounterVec
	failures     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	importRows   *prometheus.CounterVec
	declarations *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// AddImportRows counts LMA import rows by outcome (imported, skipped, error).
func (m *Metrics) AddImportRows(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.importRows.WithLabelValues(outcome).Add(float64(count))
}

// ObserveDeclarations counts lines handed to the declaration submitter.
func (m *Metrics) ObserveDeclarations(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.declarations.WithLabelValues(outcome).Add(float64(count))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wasteflow_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wasteflow_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wasteflow_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	importRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wasteflow_import_rows_total",
		Help: "LMA import rows partitioned by outcome.",
	}, []string{"outcome"})
	declarations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wasteflow_declarations_total",
		Help: "Weight ticket lines submitted for declaration partitioned by outcome.",
	}, []string{"outcome"})
	registerer.MustRegister(runs, failures, duration, importRows, declarations)
	return &Metrics{runs: runs, failures: failures, duration: duration, importRows: importRows, declarations: declarations}
}
