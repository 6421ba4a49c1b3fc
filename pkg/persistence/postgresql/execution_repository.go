package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/leadpipe/orchestrator/pkg/persistence"
)

const executionColumns = `id, workflow_id, lead_id, company_id, workflow_type, status, triggered_by,
	start_time, end_time, duration_ms, input_data, output_data, error_message`

const terminalStatusList = `('SUCCESS', 'FAILED', 'TIMEOUT', 'LOGGED')`

// ExecutionRepository handles execution ledger database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	inputJSON, err := marshalJSONB(execution.InputData)
	if err != nil {
		return err
	}

	outputJSON, err := marshalJSONB(execution.OutputData)
	if err != nil {
		return err
	}

	query := `INSERT INTO workflow_executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.LeadID,
		execution.CompanyID,
		string(execution.WorkflowType),
		string(execution.Status),
		execution.TriggeredBy,
		execution.StartTime,
		execution.EndTime,
		execution.DurationMs,
		inputJSON,
		outputJSON,
		execution.ErrorMessage,
	)
	if err != nil {
		return persistence.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions WHERE id = $1`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

// Update applies the transition only while the stored status is non-terminal.
func (r *ExecutionRepository) Update(ctx context.Context, execution *models.WorkflowExecution) error {
	outputJSON, err := marshalJSONB(execution.OutputData)
	if err != nil {
		return err
	}

	query := `
		UPDATE workflow_executions
		SET status = $2, end_time = $3, duration_ms = $4, output_data = $5, error_message = $6
		WHERE id = $1 AND status NOT IN ` + terminalStatusList

	result, err := r.db.ExecContext(ctx, query,
		execution.ID,
		string(execution.Status),
		execution.EndTime,
		execution.DurationMs,
		outputJSON,
		execution.ErrorMessage,
	)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if rows > 0 {
		return nil
	}

	// Nothing updated: tell a missing record apart from a terminal one.
	var exists bool

	err = r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM workflow_executions WHERE id = $1)`, execution.ID).Scan(&exists)
	if err != nil {
		return persistence.NewExecutionError("Update", execution.ID, err)
	}

	if !exists {
		return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionNotFound)
	}

	return persistence.NewExecutionError("Update", execution.ID, persistence.ErrExecutionTerminal)
}

func (r *ExecutionRepository) FindOpen(ctx context.Context, workflowID, leadID, companyID string) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions
		WHERE workflow_id = $1 AND lead_id = $2 AND company_id = $3 AND status = 'RUNNING'
		ORDER BY start_time DESC
		LIMIT 1`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, workflowID, leadID, companyID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("FindOpen", workflowID, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("FindOpen", workflowID, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListByWorkflowSince(ctx context.Context, workflowID string, since time.Time) ([]*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + ` FROM workflow_executions
		WHERE workflow_id = $1 AND start_time >= $2
		ORDER BY start_time ASC`

	rows, err := r.db.QueryContext(ctx, query, workflowID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM workflow_executions
		WHERE status IN ` + terminalStatusList + ` AND COALESCE(end_time, start_time) < $1`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal executions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted executions: %w", err)
	}

	return deleted, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*models.WorkflowExecution, error) {
	var (
		execution    models.WorkflowExecution
		workflowType string
		status       string
		endTime      sql.NullTime
		durationMs   sql.NullInt64
		inputJSON    []byte
		outputJSON   []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.LeadID,
		&execution.CompanyID,
		&workflowType,
		&status,
		&execution.TriggeredBy,
		&execution.StartTime,
		&endTime,
		&durationMs,
		&inputJSON,
		&outputJSON,
		&execution.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}

	execution.WorkflowType = models.WorkflowType(workflowType)
	execution.Status = models.ExecutionStatus(status)

	if endTime.Valid {
		end := endTime.Time
		execution.EndTime = &end
	}

	if durationMs.Valid {
		duration := durationMs.Int64
		execution.DurationMs = &duration
	}

	execution.InputData, err = unmarshalJSONB(inputJSON)
	if err != nil {
		return nil, err
	}

	execution.OutputData, err = unmarshalJSONB(outputJSON)
	if err != nil {
		return nil, err
	}

	return &execution, nil
}
