// Package models defines the core domain models for workflow execution tracking and recovery.
package models

import (
	"strings"
	"time"
)

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusStarted ExecutionStatus = "STARTED" // Record created, engine not yet invoked
	ExecutionStatusRunning ExecutionStatus = "RUNNING" // Engine accepted the trigger
	ExecutionStatusSuccess ExecutionStatus = "SUCCESS"
	ExecutionStatusFailed  ExecutionStatus = "FAILED"
	ExecutionStatusTimeout ExecutionStatus = "TIMEOUT"
	ExecutionStatusLogged  ExecutionStatus = "LOGGED" // Audit-only marker, never a real execution
)

// RetryPrefix is prepended to TriggeredBy for every retry attempt.
const RetryPrefix = "RETRY_"

// TerminalStatuses lists every status an execution cannot leave.
func TerminalStatuses() []ExecutionStatus {
	return []ExecutionStatus{
		ExecutionStatusSuccess,
		ExecutionStatusFailed,
		ExecutionStatusTimeout,
		ExecutionStatusLogged,
	}
}

// IsTerminal reports whether the status is final.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionStatusSuccess, ExecutionStatusFailed, ExecutionStatusTimeout, ExecutionStatusLogged:
		return true
	default:
		return false
	}
}

// IsFailure reports whether the status represents an unsuccessful outcome.
func (s ExecutionStatus) IsFailure() bool {
	return s == ExecutionStatusFailed || s == ExecutionStatusTimeout
}

func (s ExecutionStatus) IsValid() bool {
	switch s {
	case ExecutionStatusStarted, ExecutionStatusRunning:
		return true
	default:
		return s.IsTerminal()
	}
}

// WorkflowExecution is one attempt to run a workflow for an optional lead within a company.
type WorkflowExecution struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"`
	LeadID       string          `json:"lead_id,omitempty"`
	CompanyID    string          `json:"company_id"`
	WorkflowType WorkflowType    `json:"workflow_type,omitempty"`
	Status       ExecutionStatus `json:"status"`
	TriggeredBy  string          `json:"triggered_by"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      *time.Time      `json:"end_time,omitempty"`
	DurationMs   *int64          `json:"duration_ms,omitempty"`
	InputData    map[string]any  `json:"input_data,omitempty"`
	OutputData   map[string]any  `json:"output_data,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// RetryCount returns how many retries precede this execution in its lineage.
func (e *WorkflowExecution) RetryCount() int {
	return RetryCount(e.TriggeredBy)
}

// RetryCount counts the leading retry prefixes of a provenance tag.
func RetryCount(triggeredBy string) int {
	count := 0
	for strings.HasPrefix(triggeredBy, RetryPrefix) {
		count++
		triggeredBy = strings.TrimPrefix(triggeredBy, RetryPrefix)
	}

	return count
}

// Clone returns a shallow copy safe to mutate at the top level.
func (e *WorkflowExecution) Clone() *WorkflowExecution {
	c := *e

	return &c
}
