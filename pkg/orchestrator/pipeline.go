package orchestrator

import (
	"context"
	"fmt"
	"maps"

	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/leadpipe/orchestrator/pkg/otelhelper"
	"github.com/leadpipe/orchestrator/pkg/persistence"
	"github.com/leadpipe/orchestrator/pkg/tracker"
	"go.opentelemetry.io/otel/attribute"
)

const pipelineTriggerPrefix = "pipeline:"

// Advance starts the stage after the workflow's own. It returns nil, nil at the end of the
// pipeline and ErrStepSkipped when the next stage has no workflow or webhook.
func (o *Orchestrator) Advance(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.WorkflowExecution,
	output map[string]any,
) (*models.WorkflowExecution, error) {
	next := workflow.EffectiveStage().Next()
	if next == models.StageNone {
		return nil, nil
	}

	input := make(map[string]any, len(execution.InputData)+len(output))
	maps.Copy(input, execution.InputData)
	maps.Copy(input, output)

	return o.StartStage(ctx, execution.CompanyID, execution.LeadID, next, input)
}

// StartStage creates and triggers the company's workflow for a pipeline stage.
func (o *Orchestrator) StartStage(
	ctx context.Context,
	companyID, leadID string,
	stage models.Stage,
	input map[string]any,
) (*models.WorkflowExecution, error) {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "orchestrator.pipeline.stage",
		attribute.String(otelhelper.CompanyIDKey, companyID),
		attribute.String(otelhelper.LeadIDKey, leadID),
		attribute.String(otelhelper.StageKey, string(stage)),
	)
	defer span.End()

	workflow, err := o.workflows.FindByStage(ctx, companyID, stage)
	if persistence.IsWorkflowNotFound(err) {
		return nil, fmt.Errorf("%w: no %s workflow for company %s", ErrStepSkipped, stage, companyID)
	}

	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	_, hasURL := o.cfg.WebhookURL(workflow.Type)
	_, inline := o.inlineExecutor(workflow.Type)

	if !hasURL && !inline {
		return nil, fmt.Errorf("%w: no webhook configured for %s", ErrStepSkipped, workflow.Type)
	}

	execution, err := o.tracker.Create(ctx, tracker.CreateParams{
		WorkflowID:   workflow.ID,
		LeadID:       leadID,
		CompanyID:    companyID,
		WorkflowType: workflow.Type,
		InputData:    input,
		TriggeredBy:  pipelineTriggerPrefix + string(stage),
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	err = o.TriggerWorkflowExecution(ctx, workflow, execution)
	if err != nil {
		return execution, err
	}

	return execution, nil
}

// SkipStep advances the pipeline past the stage of a failed execution.
func (o *Orchestrator) SkipStep(ctx context.Context, executionID string) error {
	execution, err := o.tracker.Get(ctx, executionID)
	if err != nil {
		return err
	}

	workflow, err := o.workflows.GetByID(ctx, execution.WorkflowID)
	if err != nil {
		return err
	}

	next, err := o.Advance(ctx, workflow, execution, nil)
	if err != nil {
		return err
	}

	if next != nil {
		o.logger.InfoContext(ctx, "skipped failed step",
			"execution_id", executionID,
			"next_execution_id", next.ID,
			"stage", workflow.EffectiveStage())
	}

	return nil
}
