package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/leadpipe/orchestrator/pkg/audit"
	"github.com/leadpipe/orchestrator/pkg/models"
)

// SuccessHandler applies the domain effect of a successful execution.
type SuccessHandler func(ctx context.Context, execution *models.WorkflowExecution, workflow *models.Workflow, output map[string]any) error

var (
	errNoLead         = errors.New("execution has no lead")
	errNoEnrichedData = errors.New("output has no enrichedData")
	errNoCampaign     = errors.New("no campaign in output and no default configured")
	errNoInterest     = errors.New("output has no interest classification")
)

// RegisterSuccessHandler installs or replaces the handler for a workflow type.
func (o *Orchestrator) RegisterSuccessHandler(workflowType models.WorkflowType, handler SuccessHandler) {
	o.handlersMu.Lock()
	defer o.handlersMu.Unlock()

	o.successHandlers[workflowType] = handler
}

func (o *Orchestrator) successHandler(workflowType models.WorkflowType) (SuccessHandler, bool) {
	o.handlersMu.RLock()
	defer o.handlersMu.RUnlock()

	handler, ok := o.successHandlers[workflowType]

	return handler, ok
}

func (o *Orchestrator) registerDefaultHandlers() {
	o.successHandlers[models.WorkflowTypeLeadEnrichment] = o.handleEnrichment
	o.successHandlers[models.WorkflowTypeEmailSequence] = o.handleEmailSequence
	o.successHandlers[models.WorkflowTypeLeadRouting] = o.handleRouting
	o.successHandlers[models.WorkflowTypeTargetAudienceTranslator] = o.handleAudienceTranslation
}

func (o *Orchestrator) handleEnrichment(ctx context.Context, execution *models.WorkflowExecution, _ *models.Workflow, output map[string]any) error {
	enriched, ok := output["enrichedData"].(map[string]any)
	if !ok {
		return errNoEnrichedData
	}

	return o.updateLead(ctx, execution, func(lead *models.Lead) error {
		if lead.EnrichmentData == nil {
			lead.EnrichmentData = make(map[string]any, len(enriched))
		}

		maps.Copy(lead.EnrichmentData, enriched)

		return nil
	})
}

func (o *Orchestrator) handleEmailSequence(ctx context.Context, execution *models.WorkflowExecution, _ *models.Workflow, output map[string]any) error {
	status, ok := ClassifyInterest(output)
	if !ok {
		return errNoInterest
	}

	return o.updateLead(ctx, execution, func(lead *models.Lead) error {
		lead.Status = status

		return nil
	})
}

func (o *Orchestrator) handleRouting(ctx context.Context, execution *models.WorkflowExecution, _ *models.Workflow, output map[string]any) error {
	campaignID, _ := output["campaignId"].(string)
	if campaignID == "" {
		campaignID = o.cfg.Routing.DefaultCampaignID
	}

	if campaignID == "" {
		return errNoCampaign
	}

	return o.updateLead(ctx, execution, func(lead *models.Lead) error {
		lead.CampaignID = campaignID

		return nil
	})
}

func (o *Orchestrator) handleAudienceTranslation(ctx context.Context, execution *models.WorkflowExecution, workflow *models.Workflow, output map[string]any) error {
	return o.audit.Record(ctx, audit.Entry{
		CompanyID:   execution.CompanyID,
		LeadID:      execution.LeadID,
		ExecutionID: execution.ID,
		Action:      audit.ActionAudienceTranslated,
		Source:      source,
		Level:       models.ActionLevelInfo,
		Details: map[string]any{
			"workflowId": workflow.ID,
			"leads":      output["leads"],
			"schema":     output["schema"],
			"criteria":   output["criteria"],
		},
	})
}

func (o *Orchestrator) updateLead(ctx context.Context, execution *models.WorkflowExecution, mutate func(lead *models.Lead) error) error {
	if execution.LeadID == "" {
		return errNoLead
	}

	lead, err := o.leads.GetByID(ctx, execution.LeadID)
	if err != nil {
		return err
	}

	if lead.CompanyID != execution.CompanyID {
		return fmt.Errorf("lead %s belongs to another company", lead.ID)
	}

	err = mutate(lead)
	if err != nil {
		return err
	}

	lead.UpdatedAt = o.now()

	return o.leads.Save(ctx, lead)
}

// ClassifyInterest reads an interest verdict from engine output. It looks at "status" and
// "classification" strings first, then an "interested" boolean.
func ClassifyInterest(output map[string]any) (models.LeadStatus, bool) {
	for _, key := range []string{"status", "classification"} {
		raw, ok := output[key].(string)
		if !ok {
			continue
		}

		normalized := strings.NewReplacer(" ", "_", "-", "_").Replace(strings.ToLower(strings.TrimSpace(raw)))

		switch normalized {
		case "interested", "positive":
			return models.LeadStatusInterested, true
		case "not_interested", "negative", "uninterested":
			return models.LeadStatusNotInterested, true
		}
	}

	if interested, ok := output["interested"].(bool); ok {
		if interested {
			return models.LeadStatusInterested, true
		}

		return models.LeadStatusNotInterested, true
	}

	return "", false
}
