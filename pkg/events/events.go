// Package events defines event types published by the orchestrator on the event bus.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/leadpipe/orchestrator/pkg/models"
)

type EventType string

// Topic carries every orchestrator event.
const Topic = "orchestrator.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle.
	ExecutionStatusChangedEvent EventType = "execution.status_changed"

	// Error-notification path consumed by the recovery engine.
	ErrorReportedEvent EventType = "error.reported"

	AuditRecordedEvent EventType = "audit.recorded"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	CompanyID string         `json:"company_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ExecutionStatusChanged is emitted after every accepted ledger transition.
type ExecutionStatusChanged struct {
	BaseEvent

	ExecutionID  string                 `json:"execution_id"`
	WorkflowID   string                 `json:"workflow_id"`
	WorkflowType models.WorkflowType    `json:"workflow_type,omitempty"`
	LeadID       string                 `json:"lead_id,omitempty"`
	Status       models.ExecutionStatus `json:"status"`
	DurationMs   *int64                 `json:"duration_ms,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

func (e ExecutionStatusChanged) GetType() EventType {
	return ExecutionStatusChangedEvent
}

// ErrorReported carries an error context to the recovery engine.
type ErrorReported struct {
	BaseEvent

	ExecutionID  string              `json:"execution_id"`
	WorkflowID   string              `json:"workflow_id"`
	WorkflowType models.WorkflowType `json:"workflow_type,omitempty"`
	LeadID       string              `json:"lead_id,omitempty"`
	ErrorMessage string              `json:"error_message"`
	// ErrorKind is the classification of the original error, when it exposed one.
	ErrorKind  string         `json:"error_kind,omitempty"`
	Source     string         `json:"source"`
	RetryCount int            `json:"retry_count"`
	InputData  map[string]any `json:"input_data,omitempty"`
}

func (e ErrorReported) GetType() EventType {
	return ErrorReportedEvent
}

// AuditRecorded mirrors an action log entry for downstream consumers.
type AuditRecorded struct {
	BaseEvent

	Entry models.ActionLog `json:"entry"`
}

func (e AuditRecorded) GetType() EventType {
	return AuditRecordedEvent
}

func NewBaseEvent(eventType EventType, companyID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		CompanyID: companyID,
		Metadata:  make(map[string]any),
	}
}
