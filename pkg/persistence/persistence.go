// Package persistence provides the data storage abstraction for the execution ledger
// and the domain records the orchestrator mutates.
package persistence

import (
	"context"
	"time"

	"github.com/leadpipe/orchestrator/pkg/models"
)

type Persistence interface {
	ExecutionRepository() ExecutionRepository
	WorkflowRepository() WorkflowRepository
	LeadRepository() LeadRepository
	ReplyRepository() ReplyRepository
	BookingRepository() BookingRepository
	ActionLogRepository() ActionLogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ExecutionRepository is the execution ledger.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error)
	// Update persists status, timing and output. It fails with ErrExecutionTerminal when the
	// stored record is already terminal, and the check is atomic with the write.
	Update(ctx context.Context, execution *models.WorkflowExecution) error
	// FindOpen returns the most recent RUNNING execution for the triple. STARTED records
	// have not reached the engine yet, so no callback can belong to them.
	FindOpen(ctx context.Context, workflowID, leadID, companyID string) (*models.WorkflowExecution, error)
	// ListByWorkflowSince returns executions started at or after since, oldest first.
	ListByWorkflowSince(ctx context.Context, workflowID string, since time.Time) ([]*models.WorkflowExecution, error)
	// DeleteTerminalBefore removes terminal executions that ended before the cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type WorkflowRepository interface {
	Save(ctx context.Context, workflow *models.Workflow) error
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	// FindByStage returns the company's workflow occupying the pipeline stage.
	FindByStage(ctx context.Context, companyID string, stage models.Stage) (*models.Workflow, error)
}

type LeadRepository interface {
	Save(ctx context.Context, lead *models.Lead) error
	GetByID(ctx context.Context, id string) (*models.Lead, error)
}

type ReplyRepository interface {
	Save(ctx context.Context, reply *models.Reply) error
	GetByID(ctx context.Context, id string) (*models.Reply, error)
}

type BookingRepository interface {
	Create(ctx context.Context, booking *models.Booking) error
	ListByLead(ctx context.Context, leadID string) ([]*models.Booking, error)
}

// ActionLogFilter narrows ActionLogRepository.List; empty fields match everything.
type ActionLogFilter struct {
	CompanyID   string
	ExecutionID string
	Action      string
}

type ActionLogRepository interface {
	Append(ctx context.Context, entry *models.ActionLog) error
	List(ctx context.Context, filter ActionLogFilter) ([]*models.ActionLog, error)
}

// Matches reports whether the entry passes the filter.
func (f ActionLogFilter) Matches(entry *models.ActionLog) bool {
	if f.CompanyID != "" && entry.CompanyID != f.CompanyID {
		return false
	}

	if f.ExecutionID != "" && entry.ExecutionID != f.ExecutionID {
		return false
	}

	if f.Action != "" && entry.Action != f.Action {
		return false
	}

	return true
}
