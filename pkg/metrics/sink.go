// Package metrics records orchestrator counters and latencies.
package metrics

import (
	"time"

	"github.com/leadpipe/orchestrator/pkg/models"
)

// Sink records metrics. Implementations must not block or return errors.
type Sink interface {
	// Execution lifecycle
	ExecutionTransitioned(workflowType models.WorkflowType, status models.ExecutionStatus, durationMs *int64)
	TriggerFailed(workflowType models.WorkflowType)
	DuplicateCallback()
	RetryScheduled(workflowType models.WorkflowType)

	// Engine client
	EngineRequest(workflowType models.WorkflowType, outcome string, duration time.Duration)

	// Recovery
	RecoveryStrategyApplied(strategyID string, resolved bool)

	// Gateway
	GatewayRequest(route, outcome string)

	RetentionSwept(deleted int64)
}

// Outcome labels.
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeNotFound = "not_found"
	OutcomeInvalid  = "invalid"
	OutcomeRejected = "rejected"
)
