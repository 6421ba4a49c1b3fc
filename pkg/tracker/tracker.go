// Package tracker creates execution records and applies status transitions to the ledger.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/leadpipe/orchestrator/pkg/persistence"
)

type Tracker struct {
	repo   persistence.ExecutionRepository
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(newID func() string) Option {
	return func(t *Tracker) { t.newID = newID }
}

func New(repo persistence.ExecutionRepository, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		repo:   repo,
		logger: logger.With("module", "tracker"),
		now:    time.Now,
		newID:  uuid.NewString,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

type CreateParams struct {
	WorkflowID   string
	LeadID       string
	CompanyID    string
	WorkflowType models.WorkflowType
	InputData    map[string]any
	TriggeredBy  string
}

// Create persists a STARTED execution stamped with the current time.
func (t *Tracker) Create(ctx context.Context, params CreateParams) (*models.WorkflowExecution, error) {
	execution := &models.WorkflowExecution{
		ID:           t.newID(),
		WorkflowID:   params.WorkflowID,
		LeadID:       params.LeadID,
		CompanyID:    params.CompanyID,
		WorkflowType: params.WorkflowType,
		Status:       models.ExecutionStatusStarted,
		TriggeredBy:  params.TriggeredBy,
		StartTime:    t.now(),
		InputData:    params.InputData,
	}

	err := t.repo.Create(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	t.logger.DebugContext(ctx, "execution created",
		"execution_id", execution.ID,
		"workflow_id", execution.WorkflowID,
		"workflow_type", execution.WorkflowType,
		"triggered_by", execution.TriggeredBy)

	return execution, nil
}

// CreateRetry appends a fresh STARTED record for the same work as original.
func (t *Tracker) CreateRetry(ctx context.Context, original *models.WorkflowExecution) (*models.WorkflowExecution, error) {
	return t.Create(ctx, CreateParams{
		WorkflowID:   original.WorkflowID,
		LeadID:       original.LeadID,
		CompanyID:    original.CompanyID,
		WorkflowType: original.WorkflowType,
		InputData:    original.InputData,
		TriggeredBy:  models.RetryPrefix + original.TriggeredBy,
	})
}

type UpdateParams struct {
	ExecutionID string
	// CompanyID scopes the lookup when set.
	CompanyID    string
	Status       models.ExecutionStatus
	OutputData   map[string]any
	ErrorMessage string
}

// UpdateStatus re-reads the stored record and applies the transition. Terminal transitions
// stamp EndTime and derive DurationMs from the stored StartTime. A non-empty ErrorMessage
// replaces OutputData with {"error": message}.
func (t *Tracker) UpdateStatus(ctx context.Context, params UpdateParams) (*models.WorkflowExecution, error) {
	stored, err := t.repo.GetByID(ctx, params.ExecutionID)
	if err != nil {
		return nil, err
	}

	if params.CompanyID != "" && stored.CompanyID != params.CompanyID {
		return nil, persistence.NewExecutionError("UpdateStatus", params.ExecutionID, persistence.ErrExecutionNotFound)
	}

	if stored.Status.IsTerminal() {
		return nil, persistence.NewExecutionError("UpdateStatus", params.ExecutionID, persistence.ErrExecutionTerminal)
	}

	updated := stored.Clone()
	updated.Status = params.Status

	switch {
	case params.ErrorMessage != "":
		updated.ErrorMessage = params.ErrorMessage
		updated.OutputData = map[string]any{"error": params.ErrorMessage}
	case params.OutputData != nil:
		updated.OutputData = params.OutputData
	}

	if params.Status.IsTerminal() {
		end := t.now()
		duration := end.Sub(stored.StartTime).Milliseconds()
		updated.EndTime = &end
		updated.DurationMs = &duration
	}

	err = t.repo.Update(ctx, updated)
	if err != nil {
		return nil, err
	}

	t.logger.DebugContext(ctx, "execution status updated",
		"execution_id", updated.ID,
		"from", stored.Status,
		"to", updated.Status)

	return updated, nil
}

func (t *Tracker) Get(ctx context.Context, executionID string) (*models.WorkflowExecution, error) {
	return t.repo.GetByID(ctx, executionID)
}

type LogParams struct {
	WorkflowID   string
	LeadID       string
	CompanyID    string
	WorkflowType models.WorkflowType
	NodeName     string
	OutputData   map[string]any
	Timestamp    time.Time
}

// RecordLog appends a LOGGED marker for intermediate engine telemetry.
func (t *Tracker) RecordLog(ctx context.Context, params LogParams) (*models.WorkflowExecution, error) {
	at := params.Timestamp
	if at.IsZero() {
		at = t.now()
	}

	var zero int64

	execution := &models.WorkflowExecution{
		ID:           t.newID(),
		WorkflowID:   params.WorkflowID,
		LeadID:       params.LeadID,
		CompanyID:    params.CompanyID,
		WorkflowType: params.WorkflowType,
		Status:       models.ExecutionStatusLogged,
		TriggeredBy:  params.NodeName,
		StartTime:    at,
		EndTime:      &at,
		DurationMs:   &zero,
		OutputData:   params.OutputData,
	}

	err := t.repo.Create(ctx, execution)
	if err != nil {
		return nil, fmt.Errorf("failed to record log entry: %w", err)
	}

	return execution, nil
}
