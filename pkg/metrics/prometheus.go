package metrics

import (
	"log/slog"
	"strconv"
	"time"

	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink with client_golang collectors.
// Registration failures are logged and the collector keeps working unregistered.
type PrometheusSink struct {
	logger *slog.Logger

	transitionsTotal   *prometheus.CounterVec
	executionDuration  *prometheus.HistogramVec
	triggerFailures    *prometheus.CounterVec
	duplicateCallbacks prometheus.Counter
	retriesScheduled   *prometheus.CounterVec

	engineRequests *prometheus.CounterVec
	engineDuration prometheus.Histogram

	strategiesApplied *prometheus.CounterVec
	gatewayRequests   *prometheus.CounterVec
	retentionDeleted  prometheus.Counter
}

func NewPrometheusSink(reg prometheus.Registerer, logger *slog.Logger) *PrometheusSink {
	s := &PrometheusSink{logger: logger.With("module", "metrics")}
	s.initExecutionMetrics(reg)
	s.initEngineMetrics(reg)
	s.initRecoveryMetrics(reg)

	return s
}

func (s *PrometheusSink) initExecutionMetrics(reg prometheus.Registerer) {
	s.transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_execution_transitions_total",
		Help: "Accepted execution status transitions.",
	}, []string{"workflow_type", "status"})

	s.executionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "orchestrator_execution_duration_seconds",
		Help:    "Execution duration from start to terminal status.",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
	}, []string{"workflow_type", "status"})

	s.triggerFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_trigger_failures_total",
		Help: "Engine invocations that failed before the engine accepted the execution.",
	}, []string{"workflow_type"})

	s.duplicateCallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_duplicate_callbacks_total",
		Help: "Callbacks received for executions already in a terminal status.",
	})

	s.retriesScheduled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_retries_scheduled_total",
		Help: "Retry records created for failed executions.",
	}, []string{"workflow_type"})

	s.register(reg, s.transitionsTotal, "orchestrator_execution_transitions_total")
	s.register(reg, s.executionDuration, "orchestrator_execution_duration_seconds")
	s.register(reg, s.triggerFailures, "orchestrator_trigger_failures_total")
	s.register(reg, s.duplicateCallbacks, "orchestrator_duplicate_callbacks_total")
	s.register(reg, s.retriesScheduled, "orchestrator_retries_scheduled_total")
}

func (s *PrometheusSink) initEngineMetrics(reg prometheus.Registerer) {
	s.engineRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_engine_requests_total",
		Help: "Outbound automation engine requests.",
	}, []string{"workflow_type", "outcome"})

	s.engineDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orchestrator_engine_request_duration_seconds",
		Help:    "Automation engine request latency.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.register(reg, s.engineRequests, "orchestrator_engine_requests_total")
	s.register(reg, s.engineDuration, "orchestrator_engine_request_duration_seconds")
}

func (s *PrometheusSink) initRecoveryMetrics(reg prometheus.Registerer) {
	s.strategiesApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_recovery_strategies_applied_total",
		Help: "Recovery strategies executed, by whether the execution ended resolved.",
	}, []string{"strategy", "resolved"})

	s.gatewayRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_gateway_requests_total",
		Help: "Completion gateway requests by route and outcome.",
	}, []string{"route", "outcome"})

	s.retentionDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_retention_deleted_total",
		Help: "Terminal executions removed by the retention sweep.",
	})

	s.register(reg, s.strategiesApplied, "orchestrator_recovery_strategies_applied_total")
	s.register(reg, s.gatewayRequests, "orchestrator_gateway_requests_total")
	s.register(reg, s.retentionDeleted, "orchestrator_retention_deleted_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("failed to register collector", "name", name, "error", err)
	}
}

func (s *PrometheusSink) ExecutionTransitioned(workflowType models.WorkflowType, status models.ExecutionStatus, durationMs *int64) {
	s.transitionsTotal.WithLabelValues(string(workflowType), string(status)).Inc()

	if durationMs != nil {
		seconds := time.Duration(*durationMs) * time.Millisecond
		s.executionDuration.WithLabelValues(string(workflowType), string(status)).Observe(seconds.Seconds())
	}
}

func (s *PrometheusSink) TriggerFailed(workflowType models.WorkflowType) {
	s.triggerFailures.WithLabelValues(string(workflowType)).Inc()
}

func (s *PrometheusSink) DuplicateCallback() {
	s.duplicateCallbacks.Inc()
}

func (s *PrometheusSink) RetryScheduled(workflowType models.WorkflowType) {
	s.retriesScheduled.WithLabelValues(string(workflowType)).Inc()
}

func (s *PrometheusSink) EngineRequest(workflowType models.WorkflowType, outcome string, duration time.Duration) {
	s.engineRequests.WithLabelValues(string(workflowType), outcome).Inc()
	s.engineDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) RecoveryStrategyApplied(strategyID string, resolved bool) {
	s.strategiesApplied.WithLabelValues(strategyID, strconv.FormatBool(resolved)).Inc()
}

func (s *PrometheusSink) GatewayRequest(route, outcome string) {
	s.gatewayRequests.WithLabelValues(route, outcome).Inc()
}

func (s *PrometheusSink) RetentionSwept(deleted int64) {
	s.retentionDeleted.Add(float64(deleted))
}
