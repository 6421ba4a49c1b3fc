package models

// ConditionField names the ErrorContext attribute a condition inspects.
type ConditionField string

const (
	ConditionFieldErrorMessage ConditionField = "error_message"
	ConditionFieldErrorType    ConditionField = "error_type"
	ConditionFieldRetryCount   ConditionField = "retry_count"
	ConditionFieldWorkflowType ConditionField = "workflow_type"
	ConditionFieldTimeOfDay    ConditionField = "time_of_day"
)

type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorContains    ConditionOperator = "contains"
	OperatorMatches     ConditionOperator = "matches"
	OperatorGreaterThan ConditionOperator = "greater_than"
	OperatorLessThan    ConditionOperator = "less_than"
)

type ActionType string

const (
	ActionRetry              ActionType = "retry"
	ActionFallbackProvider   ActionType = "fallback_provider"
	ActionSkipStep           ActionType = "skip_step"
	ActionManualIntervention ActionType = "manual_intervention"
	ActionNotifyAdmin        ActionType = "notify_admin"
)

// Condition is a single predicate over an error context.
type Condition struct {
	Field    ConditionField    `json:"field"    validate:"required"`
	Operator ConditionOperator `json:"operator" validate:"required"`
	Value    any               `json:"value"`
}

// RecoveryAction is a step executed when a strategy matches.
type RecoveryAction struct {
	Type   ActionType     `json:"type"             validate:"required"`
	Params map[string]any `json:"params,omitempty"`
}

// RecoveryStrategy pairs conditions (all must hold) with ordered actions.
type RecoveryStrategy struct {
	ID         string           `json:"id"         validate:"required"`
	Name       string           `json:"name"       validate:"required"`
	Conditions []Condition      `json:"conditions" validate:"dive"`
	Actions    []RecoveryAction `json:"actions"    validate:"required,min=1,dive"`
	Priority   int              `json:"priority"`
}
