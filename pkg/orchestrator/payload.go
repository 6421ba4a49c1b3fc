package orchestrator

import (
	"context"
	"fmt"
	"maps"

	"github.com/leadpipe/orchestrator/pkg/models"
)

// Gateway paths the engine calls back on.
const (
	CompletePath   = "/workflows/complete"
	LogPath        = "/workflows/log"
	EnrichmentPath = "/workflows/enrichment/complete"
	RepliesPath    = "/workflows/replies/complete"
)

func (o *Orchestrator) buildPayload(ctx context.Context, workflow *models.Workflow, execution *models.WorkflowExecution) (map[string]any, error) {
	input := make(map[string]any, len(execution.InputData))
	maps.Copy(input, execution.InputData)

	payload := map[string]any{
		"executionId":        execution.ID,
		"workflowId":         workflow.ID,
		"externalWorkflowId": workflow.ExternalID,
		"workflowType":       string(workflow.Type),
		"companyId":          execution.CompanyID,
		"leadId":             execution.LeadID,
		"input":              input,
		"callbacks": map[string]string{
			"complete":   o.cfg.CallbackURL(CompletePath),
			"log":        o.cfg.CallbackURL(LogPath),
			"enrichment": o.cfg.CallbackURL(EnrichmentPath),
			"replies":    o.cfg.CallbackURL(RepliesPath),
		},
	}

	switch workflow.Type {
	case models.WorkflowTypeLeadEnrichment:
		provider, err := o.provider(ctx, execution.CompanyID, workflow.Type)
		if err != nil {
			return nil, err
		}

		if provider != "" {
			payload["provider"] = provider
			payload["credentials"] = map[string]string{"apiKey": o.cfg.ProviderCredentials[provider]}
		}

	case models.WorkflowTypeEmailSequence:
		if o.cfg.AIPersona == nil {
			return nil, ErrPersonaRequired
		}

		payload["persona"] = o.cfg.AIPersona

		if execution.LeadID != "" {
			lead, err := o.leads.GetByID(ctx, execution.LeadID)
			if err != nil {
				return nil, fmt.Errorf("failed to load lead for email drafting: %w", err)
			}

			payload["lead"] = lead
		}

	case models.WorkflowTypeLeadRouting:
		payload["routing"] = o.cfg.Routing
	}

	return payload, nil
}

// provider returns the stored selection, falling back to the configured default.
func (o *Orchestrator) provider(ctx context.Context, companyID string, workflowType models.WorkflowType) (string, error) {
	if o.providers != nil {
		current, err := o.providers.Current(ctx, companyID, workflowType)
		if err != nil {
			return "", fmt.Errorf("failed to read provider selection: %w", err)
		}

		if current != "" {
			return current, nil
		}
	}

	return o.cfg.DefaultProviders[workflowType], nil
}
