package models

import "time"

// ActionLevel grades an audit record.
type ActionLevel string

const (
	ActionLevelInfo     ActionLevel = "info"
	ActionLevelWarning  ActionLevel = "warning"
	ActionLevelCritical ActionLevel = "critical"
)

// ActionLog is a single audit trail entry.
type ActionLog struct {
	ID          string         `json:"id"`
	CompanyID   string         `json:"company_id"`
	LeadID      string         `json:"lead_id,omitempty"`
	ExecutionID string         `json:"execution_id,omitempty"`
	Action      string         `json:"action"`
	Source      string         `json:"source"`
	Level       ActionLevel    `json:"level"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
