package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/leadpipe/orchestrator/pkg/persistence"
)

// ActionLogRepository stores the audit trail.
type ActionLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewActionLogRepository(db *sql.DB, logger *slog.Logger) *ActionLogRepository {
	return &ActionLogRepository{db: db, logger: logger}
}

func (r *ActionLogRepository) Append(ctx context.Context, entry *models.ActionLog) error {
	detailsJSON, err := marshalJSONB(entry.Details)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO action_logs (id, company_id, lead_id, execution_id, action, source, level, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.ID, entry.CompanyID, entry.LeadID, entry.ExecutionID, entry.Action,
		entry.Source, string(entry.Level), detailsJSON, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append action log: %w", err)
	}

	return nil
}

func (r *ActionLogRepository) List(ctx context.Context, filter persistence.ActionLogFilter) ([]*models.ActionLog, error) {
	query := `
		SELECT id, company_id, lead_id, execution_id, action, source, level, details, created_at
		FROM action_logs
		WHERE ($1 = '' OR company_id = $1)
			AND ($2 = '' OR execution_id = $2)
			AND ($3 = '' OR action = $3)
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, filter.CompanyID, filter.ExecutionID, filter.Action)
	if err != nil {
		return nil, fmt.Errorf("failed to query action logs: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	entries := make([]*models.ActionLog, 0)

	for rows.Next() {
		entry, err := scanActionLog(rows)
		if err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func scanActionLog(rows *sql.Rows) (*models.ActionLog, error) {
	var (
		entry       models.ActionLog
		level       string
		detailsJSON []byte
	)

	err := rows.Scan(
		&entry.ID, &entry.CompanyID, &entry.LeadID, &entry.ExecutionID, &entry.Action,
		&entry.Source, &level, &detailsJSON, &entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan action log: %w", err)
	}

	entry.Level = models.ActionLevel(level)

	entry.Details, err = unmarshalJSONB(detailsJSON)
	if err != nil {
		return nil, err
	}

	return &entry, nil
}
