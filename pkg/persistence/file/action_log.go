package file

import (
	"context"
	"sort"

	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/leadpipe/orchestrator/pkg/persistence"
)

// ActionLogRepository stores the audit trail.
type ActionLogRepository struct {
	store *jsonStore[models.ActionLog]
}

func NewActionLogRepository(root string) *ActionLogRepository {
	return &ActionLogRepository{store: newJSONStore[models.ActionLog](root, "action_logs")}
}

func (r *ActionLogRepository) Append(_ context.Context, entry *models.ActionLog) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.write(entry.ID, entry)
}

// List returns matching entries oldest first.
func (r *ActionLogRepository) List(_ context.Context, filter persistence.ActionLogFilter) ([]*models.ActionLog, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	entries, err := r.store.all()
	if err != nil {
		return nil, err
	}

	result := make([]*models.ActionLog, 0)

	for _, entry := range entries {
		if filter.Matches(entry) {
			result = append(result, entry)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}
