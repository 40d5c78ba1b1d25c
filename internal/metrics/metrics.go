package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	TargetOutcomeApplied = "applied"
	TargetOutcomeSkipped = "skipped"
	TargetOutcomeFailed  = "failed"
)

const (
	DispatchOutcomeCompleted    = "completed"
	DispatchOutcomeRetried      = "retried"
	DispatchOutcomeDeadLettered = "dead_lettered"
)

// Config carries the const labels stamped onto every pipeline metric.
type Config struct {
	ServiceName string
	Environment string
}

// PipelineMetrics captures health signals for the three polling loops.
type PipelineMetrics struct {
	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	jobErrors   *prometheus.CounterVec

	rulesScheduled prometheus.Counter
	runsFinalized  *prometheus.CounterVec
	targetOutcomes *prometheus.CounterVec

	outboxDispatch *prometheus.CounterVec
	outboxBacklog  prometheus.Gauge
}

var (
	pipelineOnce    sync.Once
	pipelineMetrics *PipelineMetrics
)

// Pipeline returns the singleton pipeline metrics registry.
func Pipeline() *PipelineMetrics {
	return PipelineWithConfig(Config{})
}

// PipelineWithConfig returns the singleton pipeline metrics registry using config labels.
func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineOnce.Do(func() {
		pipelineMetrics = newPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

// ResetPipelineMetricsForTest resets the pipeline metrics singleton for tests.
func ResetPipelineMetricsForTest() {
	pipelineOnce = sync.Once{}
	pipelineMetrics = nil
}

// SetPipelineForTest installs the singleton against an isolated registry so
// tests never collide on the default registerer.
func SetPipelineForTest(registerer prometheus.Registerer) *PipelineMetrics {
	pipelineMetrics = newPipelineMetrics(registerer, Config{})
	pipelineOnce = sync.Once{}
	pipelineOnce.Do(func() {})
	return pipelineMetrics
}

func newPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "repricer"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &PipelineMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "repricer_pipeline_job_runs_total",
			Help:        "Polling loop iterations by job name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "repricer_pipeline_job_duration_seconds",
			Help:        "Polling loop iteration latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "repricer_pipeline_job_errors_total",
			Help:        "Polling loop iteration errors by job name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		rulesScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "repricer_rules_scheduled_total",
			Help:        "Pricing rules materialized into runs.",
			ConstLabels: constLabels,
		}),
		runsFinalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "repricer_runs_finalized_total",
			Help:        "Rule runs reaching a terminal status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		targetOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "repricer_targets_total",
			Help:        "Per-target apply outcomes.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		outboxDispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "repricer_outbox_dispatch_total",
			Help:        "Outbox dispatch attempts by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		outboxBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "repricer_outbox_backlog_age_seconds",
			Help:        "Age of the oldest pending outbox event.",
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.jobRuns,
		m.jobDuration,
		m.jobErrors,
		m.rulesScheduled,
		m.runsFinalized,
		m.targetOutcomes,
		m.outboxDispatch,
		m.outboxBacklog,
	)
	return m
}

func (m *PipelineMetrics) IncJobRun(job string) {
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *PipelineMetrics) ObserveJobDuration(job string, d time.Duration) {
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *PipelineMetrics) IncJobError(job string) {
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *PipelineMetrics) AddRulesScheduled(count int) {
	if count <= 0 {
		return
	}
	m.rulesScheduled.Add(float64(count))
}

func (m *PipelineMetrics) IncRunFinalized(status string) {
	m.runsFinalized.WithLabelValues(status).Inc()
}

func (m *PipelineMetrics) IncTargetOutcome(outcome string) {
	m.targetOutcomes.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) IncOutboxDispatch(outcome string) {
	m.outboxDispatch.WithLabelValues(outcome).Inc()
}

func (m *PipelineMetrics) SetOutboxBacklogAge(age time.Duration) {
	if age < 0 {
		age = 0
	}
	m.outboxBacklog.Set(age.Seconds())
}
