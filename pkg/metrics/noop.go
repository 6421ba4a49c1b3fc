package metrics

import (
	"time"

	"github.com/leadpipe/orchestrator/pkg/models"
)

// NoopSink discards every metric.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) ExecutionTransitioned(models.WorkflowType, models.ExecutionStatus, *int64) {}
func (n *NoopSink) TriggerFailed(models.WorkflowType)                                        {}
func (n *NoopSink) DuplicateCallback()                                                       {}
func (n *NoopSink) RetryScheduled(models.WorkflowType)                                       {}
func (n *NoopSink) EngineRequest(models.WorkflowType, string, time.Duration)                 {}
func (n *NoopSink) RecoveryStrategyApplied(string, bool)                                     {}
func (n *NoopSink) GatewayRequest(string, string)                                            {}
func (n *NoopSink) RetentionSwept(int64)                                                     {}
