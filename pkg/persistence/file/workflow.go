package file

import (
	"context"
	"sort"

	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/leadpipe/orchestrator/pkg/persistence"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	store *jsonStore[models.Workflow]
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{store: newJSONStore[models.Workflow](root, "workflows")}
}

func (r *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(workflow.ID, workflow)
}

func (r *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	workflow, err := r.store.read(id)
	if err != nil {
		if isMissing(err) {
			return nil, persistence.NewEntityError("GetByID", "workflow", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewEntityError("GetByID", "workflow", id, err)
	}

	return workflow, nil
}

// FindByStage picks the lowest-ID match so repeated lookups are deterministic.
func (r *WorkflowRepository) FindByStage(_ context.Context, companyID string, stage models.Stage) (*models.Workflow, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	workflows, err := r.store.all()
	if err != nil {
		return nil, err
	}

	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].ID < workflows[j].ID
	})

	for _, workflow := range workflows {
		if workflow.CompanyID == companyID && workflow.EffectiveStage() == stage {
			return workflow, nil
		}
	}

	return nil, persistence.NewEntityError("FindByStage", "workflow", string(stage), persistence.ErrWorkflowNotFound)
}
