package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs          *prometheus.CounterVec
	failures      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	signals       *prometheus.CounterVec
	backfillLines *prometheus.CounterVec
}

// jobDurationBuckets reaches five minutes to cover PDF exports and wide backfills.
var jobDurationBuckets = []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120, 300}

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

// Tracker times one job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing a run of job. A nil Metrics yields a tracker that records nothing.
func (m *Metrics) Track(job string) *Tracker {
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End records the outcome and duration of the run and hands err back unchanged, so
// handlers can end with `return tracker.End(err)`.
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

// ObserveHealthSignal counts one evaluated health signal.
func (m *Metrics) ObserveHealthSignal(rule, level string) {
	if m == nil || rule == "" {
		return
	}
	m.signals.WithLabelValues(rule, level).Inc()
}

// ObserveBackfillLines adds n lines to the backfill outcome counter.
func (m *Metrics) ObserveBackfillLines(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.backfillLines.WithLabelValues(outcome).Add(float64(n))
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: jobDurationBuckets,
	}, []string{"job"})
	signals := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_health_signals_total",
		Help: "Health signals evaluated, grouped by rule and level.",
	}, []string{"rule", "level"})
	backfillLines := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_cogs_backfill_lines_total",
		Help: "Order lines visited by the COGS backfill, grouped by outcome.",
	}, []string{"outcome"})
	registerer.MustRegister(runs, failures, duration, signals, backfillLines)
	return &Metrics{
		runs:          runs,
		failures:      failures,
		duration:      duration,
		signals:       signals,
		backfillLines: backfillLines,
	}
}
