package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tbourn/bot-dispatch/internal/queue"
)

// DispatchMetrics is the Prometheus sink for the worker side of the pipeline.
// It satisfies queue.Observer, connpool.Observer and services.SweepObserver.
// All methods are non-blocking.
type DispatchMetrics struct {
	jobsTotal      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	retriesTotal   *prometheus.CounterVec
	deadTotal      prometheus.Counter
	staleRequeued  prometheus.Counter
	sessionsActive prometheus.Gauge
	loginFailures  prometheus.Counter
	sweepRequeued  prometheus.Counter
	sweepFailures  prometheus.Counter
	logger         zerolog.Logger
}

var _ queue.Observer = (*DispatchMetrics)(nil)

// NewDispatchMetrics creates the collectors and registers them with reg.
// Registration failures are logged and the sink stays usable.
func NewDispatchMetrics(reg prometheus.Registerer, logger zerolog.Logger) *DispatchMetrics {
	m := &DispatchMetrics{logger: logger}

	m.jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "botdispatch_jobs_processed_total",
		Help: "Jobs processed by the worker pool, by outcome.",
	}, []string{"outcome"})
	m.jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "botdispatch_job_duration_seconds",
		Help:    "Handler duration per job, by outcome.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"outcome"})
	m.retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "botdispatch_job_retries_total",
		Help: "Jobs scheduled for another attempt, by the attempt that failed.",
	}, []string{"attempt"})
	m.deadTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "botdispatch_jobs_dead_lettered_total",
		Help: "Jobs moved to the dead-letter set.",
	})
	m.staleRequeued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "botdispatch_jobs_stale_requeued_total",
		Help: "Claimed jobs returned to the ready set after the visibility timeout.",
	})
	m.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "botdispatch_sessions_active",
		Help: "Platform sessions currently held in the connection cache.",
	})
	m.loginFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "botdispatch_login_failures_total",
		Help: "Platform logins rejected.",
	})
	m.sweepRequeued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "botdispatch_sweeper_requeued_total",
		Help: "Orphaned deliveries re-enqueued by the sweeper.",
	})
	m.sweepFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "botdispatch_sweeper_failures_total",
		Help: "Orphaned deliveries the sweeper could not re-enqueue.",
	})

	for name, c := range map[string]prometheus.Collector{
		"botdispatch_jobs_processed_total":      m.jobsTotal,
		"botdispatch_job_duration_seconds":      m.jobDuration,
		"botdispatch_job_retries_total":         m.retriesTotal,
		"botdispatch_jobs_dead_lettered_total":  m.deadTotal,
		"botdispatch_jobs_stale_requeued_total": m.staleRequeued,
		"botdispatch_sessions_active":           m.sessionsActive,
		"botdispatch_login_failures_total":      m.loginFailures,
		"botdispatch_sweeper_requeued_total":    m.sweepRequeued,
		"botdispatch_sweeper_failures_total":    m.sweepFailures,
	} {
		m.register(reg, c, name)
	}
	return m
}

func (m *DispatchMetrics) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if reg == nil {
		return
	}
	if err := reg.Register(c); err != nil {
		m.logger.Warn().Err(err).Str("metric", name).Msg("metrics: register failed")
	}
}

// Pool events.

func (m *DispatchMetrics) JobFinished(kind queue.OutcomeKind, d time.Duration) {
	m.jobsTotal.WithLabelValues(kind.String()).Inc()
	m.jobDuration.WithLabelValues(kind.String()).Observe(d.Seconds())
}

func (m *DispatchMetrics) JobRetried(attempt int) {
	m.retriesTotal.WithLabelValues(strconv.Itoa(attempt)).Inc()
}

func (m *DispatchMetrics) JobDeadLettered() { m.deadTotal.Inc() }

func (m *DispatchMetrics) StaleRequeued(n int) { m.staleRequeued.Add(float64(n)) }

// Connection cache events.

func (m *DispatchMetrics) SessionOpened() { m.sessionsActive.Inc() }

func (m *DispatchMetrics) SessionClosed() { m.sessionsActive.Dec() }

func (m *DispatchMetrics) LoginFailed() { m.loginFailures.Inc() }

// Sweeper events.

func (m *DispatchMetrics) Swept(requeued, failed int) {
	m.sweepRequeued.Add(float64(requeued))
	m.sweepFailures.Add(float64(failed))
}
