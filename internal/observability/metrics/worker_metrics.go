package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/newsdesk/internal/apperr"
	"gorm.io/gorm"
)

const (
	JobOutcomeCompleted = "completed"
	JobOutcomeRequeued  = "requeued"
	JobOutcomeFailed    = "failed"
	JobOutcomeCancelled = "cancelled"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonUnknown              = "unknown"
)

const (
	LeaseResultAcquired = "acquired"
	LeaseResultEmpty    = "empty"
	LeaseResultLost     = "lost"
)

// WorkerMetrics captures queue and worker health signals.
type WorkerMetrics struct {
	jobRuns       *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	jobOutcomes   *prometheus.CounterVec
	jobErrors     *prometheus.CounterVec
	leases        *prometheus.CounterVec
	reaped        *prometheus.CounterVec
	slotsBusy     prometheus.Gauge
	runLoopLag    prometheus.Observer
	templateSteps *prometheus.CounterVec
}

var (
	workerMetricsOnce sync.Once
	workerMetrics     *WorkerMetrics
)

// Worker returns the singleton worker metrics registry.
func Worker() *WorkerMetrics {
	return WorkerWithConfig(Config{})
}

// WorkerWithConfig returns the singleton worker metrics registry using config labels.
func WorkerWithConfig(cfg Config) *WorkerMetrics {
	workerMetricsOnce.Do(func() {
		workerMetrics = newWorkerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return workerMetrics
}

// ResetWorkerMetricsForTest resets the worker metrics singleton for tests.
func ResetWorkerMetricsForTest() {
	workerMetricsOnce = sync.Once{}
	workerMetrics = nil
}

func newWorkerMetrics(registerer prometheus.Registerer, cfg Config) *WorkerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "newsdesk"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &WorkerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "newsdesk_worker_job_runs_total",
			Help:        "Jobs started by the worker, by job type.",
			ConstLabels: constLabels,
		}, []string{"job_type"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "newsdesk_worker_job_duration_seconds",
			Help:        "Wall time of one job attempt.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		}, []string{"job_type"}),
		jobOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "newsdesk_worker_job_outcomes_total",
			Help:        "Job attempt outcomes.",
			ConstLabels: constLabels,
		}, []string{"job_type", "outcome"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "newsdesk_worker_job_errors_total",
			Help:        "Job errors by error kind and low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job_type", "kind", "reason"}),
		leases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "newsdesk_worker_leases_total",
			Help:        "Lease attempts by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		reaped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "newsdesk_worker_reaped_total",
			Help:        "Stale leases reclaimed by the reaper.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		slotsBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "newsdesk_worker_slots_busy",
			Help:        "Worker slots currently executing a job.",
			ConstLabels: constLabels,
		}),
		templateSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "newsdesk_generation_template_steps_total",
			Help:        "Template chain steps by parsing method and outcome.",
			ConstLabels: constLabels,
		}, []string{"parsing_method", "outcome"}),
	}
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "newsdesk_worker_runloop_lag_seconds",
		Help:        "Worker poll loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	})
	m.runLoopLag = runLoopLag

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobOutcomes,
		m.jobErrors,
		m.leases,
		m.reaped,
		m.slotsBusy,
		runLoopLag,
		m.templateSteps,
	)
	return m
}

func (m *WorkerMetrics) IncJobRun(jobType string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(jobType).Inc()
}

func (m *WorkerMetrics) ObserveJobDuration(jobType string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

func (m *WorkerMetrics) IncJobOutcome(jobType, outcome string) {
	if m == nil {
		return
	}
	m.jobOutcomes.WithLabelValues(jobType, outcome).Inc()
}

// IncJobError classifies err by apperr kind and storage reason.
func (m *WorkerMetrics) IncJobError(jobType string, err error) {
	if m == nil || err == nil {
		return
	}
	kind := string(apperr.KindOf(err))
	if kind == "" {
		kind = "unknown"
	}
	m.jobErrors.WithLabelValues(jobType, kind, ClassifyJobReason(err)).Inc()
}

func (m *WorkerMetrics) IncLease(result string) {
	if m == nil {
		return
	}
	m.leases.WithLabelValues(result).Inc()
}

func (m *WorkerMetrics) AddReaped(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.reaped.WithLabelValues(outcome).Add(float64(count))
}

func (m *WorkerMetrics) SetSlotsBusy(n int) {
	if m == nil {
		return
	}
	m.slotsBusy.Set(float64(n))
}

func (m *WorkerMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil {
		return
	}
	m.runLoopLag.Observe(max(duration, 0).Seconds())
}

func (m *WorkerMetrics) IncTemplateStep(parsingMethod, outcome string) {
	if m == nil {
		return
	}
	m.templateSteps.WithLabelValues(parsingMethod, outcome).Inc()
}

// ClassifyJobReason maps storage and context errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	switch {
	case err == nil:
		return JobReasonUnknown
	case errors.Is(err, context.DeadlineExceeded):
		return JobReasonDeadlineExceeded
	case hasPGCode(err, "55P03"):
		return JobReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return JobReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return JobReasonUniqueViolation
	default:
		return JobReasonUnknown
	}
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
