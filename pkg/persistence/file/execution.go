package file

import (
	"context"
	"sort"
	"time"

	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/leadpipe/orchestrator/pkg/persistence"
)

// ExecutionRepository handles execution ledger file operations.
type ExecutionRepository struct {
	store *jsonStore[models.WorkflowExecution]
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{store: newJSONStore[models.WorkflowExecution](root, "executions")}
}

func (r *ExecutionRepository) Create(_ context.Context, execution *models.WorkflowExecution) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(execution.ID, execution)
}

func (r *ExecutionRepository) GetByID(_ context.Context, id string) (*models.WorkflowExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	return r.get("GetByID", id)
}

func (r *ExecutionRepository) get(op, id string) (*models.WorkflowExecution, error) {
	execution, err := r.store.read(id)
	if err != nil {
		if isMissing(err) {
			return nil, persistence.NewExecutionError(op, id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError(op, id, err)
	}

	return execution, nil
}

// Update rewrites the record unless the stored copy is already terminal.
func (r *ExecutionRepository) Update(_ context.Context, execution *models.WorkflowExecution) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	stored, err := r.get("Update", execution.ID)
	if err != nil {
		return err
	}

	if stored.Status.IsTerminal() {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionTerminal)
	}

	return r.store.write(execution.ID, execution)
}

func (r *ExecutionRepository) FindOpen(_ context.Context, workflowID, leadID, companyID string) (*models.WorkflowExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	executions, err := r.store.all()
	if err != nil {
		return nil, err
	}

	var latest *models.WorkflowExecution

	for _, execution := range executions {
		if execution.WorkflowID != workflowID || execution.LeadID != leadID || execution.CompanyID != companyID {
			continue
		}

		// STARTED records are scheduled retries the engine has not been handed yet.
		if execution.Status != models.ExecutionStatusRunning {
			continue
		}

		if latest == nil || execution.StartTime.After(latest.StartTime) {
			latest = execution
		}
	}

	if latest == nil {
		return nil, persistence.NewExecutionError("FindOpen", workflowID, persistence.ErrExecutionNotFound)
	}

	return latest, nil
}

func (r *ExecutionRepository) ListByWorkflowSince(_ context.Context, workflowID string, since time.Time) ([]*models.WorkflowExecution, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	executions, err := r.store.all()
	if err != nil {
		return nil, err
	}

	result := make([]*models.WorkflowExecution, 0)

	for _, execution := range executions {
		if execution.WorkflowID == workflowID && !execution.StartTime.Before(since) {
			result = append(result, execution)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].StartTime.Before(result[j].StartTime)
	})

	return result, nil
}

func (r *ExecutionRepository) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	executions, err := r.store.all()
	if err != nil {
		return 0, err
	}

	var deleted int64

	for _, execution := range executions {
		if !execution.Status.IsTerminal() {
			continue
		}

		ended := execution.StartTime
		if execution.EndTime != nil {
			ended = *execution.EndTime
		}

		if !ended.Before(cutoff) {
			continue
		}

		err := r.store.remove(execution.ID)
		if err != nil {
			return deleted, err
		}

		deleted++
	}

	return deleted, nil
}
