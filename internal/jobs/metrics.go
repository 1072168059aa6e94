package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	newVouchers *prometheus.CounterVec
	pollStatus  *prometheus.CounterVec
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

// End records duration and success or failure, returning err untouched.
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

// ObservePoll records the end state of one company poll and the number of
// new vouchers it found.
func (m *Metrics) ObservePoll(company, status string, newCount int) {
	if m == nil {
		return
	}
	if company == "" {
		company = "unknown"
	}
	m.pollStatus.WithLabelValues(company, status).Inc()
	if newCount > 0 {
		m.newVouchers.WithLabelValues(company).Add(float64(newCount))
	}
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tallybridge_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tallybridge_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tallybridge_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	newVouchers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tallybridge_optional_vouchers_new_total",
		Help: "Optional vouchers detected by the poller per company.",
	}, []string{"company"})
	pollStatus := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tallybridge_polls_total",
		Help: "Voucher polls per company and end state.",
	}, []string{"company", "status"})
	registerer.MustRegister(runs, failures, duration, newVouchers, pollStatus)
	return &Metrics{runs: runs, failures: failures, duration: duration, newVouchers: newVouchers, pollStatus: pollStatus}
}
