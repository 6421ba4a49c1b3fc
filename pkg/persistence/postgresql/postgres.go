// Package postgresql provides PostgreSQL persistence for the execution ledger and domain records.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/leadpipe/orchestrator/pkg/persistence"
	"github.com/leadpipe/orchestrator/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db            *sql.DB
	logger        *slog.Logger
	executionRepo *ExecutionRepository
	workflowRepo  *WorkflowRepository
	leadRepo      *LeadRepository
	replyRepo     *ReplyRepository
	bookingRepo   *BookingRepository
	actionLogRepo *ActionLogRepository
}

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	postgres := &Persistence{
		db:            database,
		logger:        logger,
		executionRepo: NewExecutionRepository(database, logger),
		workflowRepo:  NewWorkflowRepository(database),
		leadRepo:      NewLeadRepository(database),
		replyRepo:     NewReplyRepository(database),
		bookingRepo:   NewBookingRepository(database, logger),
		actionLogRepo: NewActionLogRepository(database, logger),
	}

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository { return p.executionRepo }
func (p *Persistence) WorkflowRepository() persistence.WorkflowRepository   { return p.workflowRepo }
func (p *Persistence) LeadRepository() persistence.LeadRepository           { return p.leadRepo }
func (p *Persistence) ReplyRepository() persistence.ReplyRepository         { return p.replyRepo }
func (p *Persistence) BookingRepository() persistence.BookingRepository     { return p.bookingRepo }
func (p *Persistence) ActionLogRepository() persistence.ActionLogRepository { return p.actionLogRepo }

func marshalJSONB(value map[string]any) ([]byte, error) {
	if value == nil {
		value = map[string]any{}
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jsonb column: %w", err)
	}

	return data, nil
}

// unmarshalJSONB returns nil for empty objects so callers see absent payloads as nil.
func unmarshalJSONB(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}

	var value map[string]any

	err := json.Unmarshal(data, &value)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal jsonb column: %w", err)
	}

	if len(value) == 0 {
		return nil, nil
	}

	return value, nil
}

func closeRows(ctx context.Context, logger *slog.Logger, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
