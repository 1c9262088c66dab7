// Package metrics exposes Prometheus collectors for the orchestration core.
//
// A single Metrics value implements the recorder interfaces of the retry,
// generation, outbound, workflow and pipeline packages, so each service gets
// it injected through its WithRecorder or WithObserver option. Collectors are
// registered on the registry passed to New rather than the global default,
// which keeps tests isolated.
package metrics

import (
	"time"

	"github.com/phrazzld/maintenance-orchestrator/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "orchestrator"

// Outcome label values shared by several collectors.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// Metrics holds every collector the orchestrator exports.
type Metrics struct {
	retryAttempts  *prometheus.CounterVec
	retryExhausted *prometheus.CounterVec

	providerCalls   *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec

	deliveries *prometheus.CounterVec
	queueDepth prometheus.Gauge

	workflowsCreated *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	conflicts        *prometheus.CounterVec

	stageRuns      *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	pipelineCost   prometheus.Histogram
	budgetExceeded prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		retryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Attempts made by retried operations, by operation and outcome",
		}, []string{"operation", "outcome"}),
		retryExhausted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "exhausted_total",
			Help:      "Operations that failed on every attempt",
		}, []string{"operation"}),

		providerCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "AI provider calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		providerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "call_duration_seconds",
			Help:      "AI provider call latency in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"provider"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Artifact cache lookups by cache and outcome",
		}, []string{"cache", "outcome"}),

		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "deliveries_total",
			Help:      "Outbound message delivery outcomes",
		}, []string{"outcome"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbound",
			Name:      "queue_depth",
			Help:      "Messages waiting in the outbound queue",
		}),

		workflowsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "created_total",
			Help:      "Workflows created by type",
		}, []string{"workflow_type"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "transitions_total",
			Help:      "Committed workflow transitions by type and edge",
		}, []string{"workflow_type", "from", "to"}),
		conflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "transition_conflicts_total",
			Help:      "Transitions that lost a compare-and-set race",
		}, []string{"workflow_type"}),

		stageRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_runs_total",
			Help:      "Pipeline stage executions by stage and outcome",
		}, []string{"stage", "outcome"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		pipelineCost: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_cost_usd",
			Help:      "Total cost of a pipeline run in US dollars",
			Buckets:   []float64{0, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		budgetExceeded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "budget_exceeded_total",
			Help:      "Pipeline runs whose cost exceeded the configured ceiling",
		}),
	}
}

func outcome(err error) string {
	if err != nil {
		return outcomeFailure
	}
	return outcomeSuccess
}

// ObserveAttempt implements retry.Observer.
func (m *Metrics) ObserveAttempt(name string, _ int, err error) {
	m.retryAttempts.WithLabelValues(name, outcome(err)).Inc()
}

// ObserveExhausted implements retry.Observer.
func (m *Metrics) ObserveExhausted(name string, _ int) {
	m.retryExhausted.WithLabelValues(name).Inc()
}

// ObserveProviderCall implements generation.Recorder.
func (m *Metrics) ObserveProviderCall(provider string, duration time.Duration, err error) {
	m.providerCalls.WithLabelValues(provider, outcome(err)).Inc()
	m.providerLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// ObserveCacheLookup implements generation.Recorder and pipeline.Recorder.
func (m *Metrics) ObserveCacheLookup(cacheName string, result string) {
	m.cacheLookups.WithLabelValues(cacheName, result).Inc()
}

// ObserveDelivery implements outbound.Recorder.
func (m *Metrics) ObserveDelivery(result string) {
	m.deliveries.WithLabelValues(result).Inc()
}

// ObserveQueueDepth implements outbound.Recorder.
func (m *Metrics) ObserveQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// ObserveCreated implements workflow.Recorder.
func (m *Metrics) ObserveCreated(workflowType string) {
	m.workflowsCreated.WithLabelValues(workflowType).Inc()
}

// ObserveTransition implements workflow.Recorder.
func (m *Metrics) ObserveTransition(workflowType string, from, to domain.State) {
	m.transitions.WithLabelValues(workflowType, from.String(), to.String()).Inc()
}

// ObserveConflict implements workflow.Recorder.
func (m *Metrics) ObserveConflict(workflowType string) {
	m.conflicts.WithLabelValues(workflowType).Inc()
}

// ObserveStage implements pipeline.Recorder.
func (m *Metrics) ObserveStage(stage string, result string, duration time.Duration) {
	m.stageRuns.WithLabelValues(stage, result).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveRun implements pipeline.Recorder.
func (m *Metrics) ObserveRun(totalCost float64, budgetExceeded bool) {
	m.pipelineCost.Observe(totalCost)
	if budgetExceeded {
		m.budgetExceeded.Inc()
	}
}
