package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/leadpipe/orchestrator/pkg/persistence"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db *sql.DB
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	query := `
		INSERT INTO workflows (id, name, type, company_id, external_id, stage)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			company_id = EXCLUDED.company_id,
			external_id = EXCLUDED.external_id,
			stage = EXCLUDED.stage
	`

	_, err := r.db.ExecContext(ctx, query,
		workflow.ID,
		workflow.Name,
		string(workflow.Type),
		workflow.CompanyID,
		workflow.ExternalID,
		string(workflow.Stage),
	)
	if err != nil {
		return persistence.NewEntityError("Save", "workflow", workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `SELECT id, name, type, company_id, external_id, stage FROM workflows WHERE id = $1`

	workflow, err := scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("GetByID", "workflow", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewEntityError("GetByID", "workflow", id, err)
	}

	return workflow, nil
}

// FindByStage resolves implicit stages the same way models.Workflow.EffectiveStage does.
func (r *WorkflowRepository) FindByStage(ctx context.Context, companyID string, stage models.Stage) (*models.Workflow, error) {
	query := `
		SELECT id, name, type, company_id, external_id, stage FROM workflows
		WHERE company_id = $1 AND (
			stage = $2
			OR (stage = '' AND $2 = 'ENRICHMENT' AND type = 'LEAD_ENRICHMENT')
			OR (stage = '' AND $2 = 'EMAIL_DRAFTING' AND type = 'EMAIL_SEQUENCE')
		)
		ORDER BY id ASC
		LIMIT 1
	`

	workflow, err := scanWorkflow(r.db.QueryRowContext(ctx, query, companyID, string(stage)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewEntityError("FindByStage", "workflow", string(stage), persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewEntityError("FindByStage", "workflow", string(stage), err)
	}

	return workflow, nil
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	var (
		workflow     models.Workflow
		workflowType string
		stage        string
	)

	err := row.Scan(&workflow.ID, &workflow.Name, &workflowType, &workflow.CompanyID, &workflow.ExternalID, &stage)
	if err != nil {
		return nil, err
	}

	workflow.Type = models.WorkflowType(workflowType)
	workflow.Stage = models.Stage(stage)

	return &workflow, nil
}
