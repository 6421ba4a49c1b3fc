package recovery

import "github.com/leadpipe/orchestrator/pkg/models"

// TransientPattern matches the same markers as the orchestrator retry gate.
const TransientPattern = `(?i)(timeout|network|rate limit|temporary|service unavailable)`

// DefaultEnrichmentProviders is the fallback order used when none is configured.
var DefaultEnrichmentProviders = []string{"apollo", "hunter", "clearbit"}

// DefaultStrategies returns the built-in strategies. enrichmentFallbacks overrides
// DefaultEnrichmentProviders when non-empty.
func DefaultStrategies(enrichmentFallbacks ...string) []models.RecoveryStrategy {
	if len(enrichmentFallbacks) == 0 {
		enrichmentFallbacks = DefaultEnrichmentProviders
	}

	fallbacks := make([]any, 0, len(enrichmentFallbacks))
	for _, provider := range enrichmentFallbacks {
		fallbacks = append(fallbacks, provider)
	}

	return []models.RecoveryStrategy{
		{
			ID:       "transient-retry",
			Name:     "Retry transient failures",
			Priority: 1,
			Conditions: []models.Condition{
				{Field: models.ConditionFieldErrorMessage, Operator: models.OperatorMatches, Value: TransientPattern},
				{Field: models.ConditionFieldRetryCount, Operator: models.OperatorLessThan, Value: 2},
			},
			Actions: []models.RecoveryAction{
				{Type: models.ActionRetry, Params: map[string]any{"backoffMs": 1000, "maxRetries": 2}},
			},
		},
		{
			ID:       "enrichment-provider-fallback",
			Name:     "Switch enrichment provider",
			Priority: 2,
			Conditions: []models.Condition{
				{Field: models.ConditionFieldWorkflowType, Operator: models.OperatorEquals, Value: string(models.WorkflowTypeLeadEnrichment)},
				{Field: models.ConditionFieldErrorMessage, Operator: models.OperatorMatches, Value: `(?i)(provider|service unavailable)`},
			},
			Actions: []models.RecoveryAction{
				{Type: models.ActionFallbackProvider, Params: map[string]any{"fallbacks": fallbacks}},
				{Type: models.ActionRetry, Params: map[string]any{"backoffMs": 1000, "maxRetries": 3}},
			},
		},
		{
			ID:       "escalate-exhausted",
			Name:     "Escalate exhausted retries",
			Priority: 3,
			Conditions: []models.Condition{
				{Field: models.ConditionFieldRetryCount, Operator: models.OperatorGreaterThan, Value: 3},
			},
			Actions: []models.RecoveryAction{
				{Type: models.ActionManualIntervention, Params: map[string]any{"reason": "retries exhausted"}},
				{Type: models.ActionNotifyAdmin, Params: map[string]any{"severity": string(models.ActionLevelCritical)}},
			},
		},
	}
}
