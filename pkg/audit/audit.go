// Package audit records action log entries for inbound callbacks, failures and recovery steps.
package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/leadpipe/orchestrator/pkg/eventbus"
	"github.com/leadpipe/orchestrator/pkg/events"
	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/leadpipe/orchestrator/pkg/persistence"
)

// Well-known action names.
const (
	ActionCallbackReceived           = "callback_received"
	ActionCallbackFailed             = "callback_failed"
	ActionExecutionFailed            = "execution_failed"
	ActionAdminAlert                 = "admin_alert"
	ActionManualInterventionRequired = "manual_intervention_required"
	ActionStepSkipped                = "step_skipped"
	ActionRecoveryNotification       = "recovery_notification"
	ActionEnrichmentFailed           = "enrichment_failed"
	ActionAudienceTranslated         = "audience_translated"
	ActionWorkflowLog                = "workflow_log"
)

type Entry struct {
	CompanyID   string
	LeadID      string
	ExecutionID string
	Action      string
	Source      string
	Level       models.ActionLevel
	Details     map[string]any
}

type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// RepositorySink appends entries to the action log repository.
type RepositorySink struct {
	repo  persistence.ActionLogRepository
	now   func() time.Time
	newID func() string
}

func NewRepositorySink(repo persistence.ActionLogRepository, now func() time.Time) *RepositorySink {
	if now == nil {
		now = time.Now
	}

	return &RepositorySink{repo: repo, now: now, newID: uuid.NewString}
}

func (s *RepositorySink) Record(ctx context.Context, entry Entry) error {
	err := s.repo.Append(ctx, toActionLog(entry, s.newID(), s.now()))
	if err != nil {
		return fmt.Errorf("failed to append action log: %w", err)
	}

	return nil
}

// BusSink publishes an AuditRecorded event per entry.
type BusSink struct {
	publisher eventbus.EventPublisher
	now       func() time.Time
}

func NewBusSink(publisher eventbus.EventPublisher, now func() time.Time) *BusSink {
	if now == nil {
		now = time.Now
	}

	return &BusSink{publisher: publisher, now: now}
}

func (s *BusSink) Record(ctx context.Context, entry Entry) error {
	event := &events.AuditRecorded{
		BaseEvent: events.NewBaseEvent(events.AuditRecordedEvent, entry.CompanyID),
		Entry:     *toActionLog(entry, "", s.now()),
	}

	key := entry.ExecutionID
	if key == "" {
		key = entry.CompanyID
	}

	return s.publisher.Publish(ctx, key, event)
}

// Multi fans an entry out to every sink and joins their errors.
type Multi []Sink

func (m Multi) Record(ctx context.Context, entry Entry) error {
	var errs []error

	for _, sink := range m {
		if err := sink.Record(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func toActionLog(entry Entry, id string, at time.Time) *models.ActionLog {
	level := entry.Level
	if level == "" {
		level = models.ActionLevelInfo
	}

	return &models.ActionLog{
		ID:          id,
		CompanyID:   entry.CompanyID,
		LeadID:      entry.LeadID,
		ExecutionID: entry.ExecutionID,
		Action:      entry.Action,
		Source:      entry.Source,
		Level:       level,
		Details:     entry.Details,
		CreatedAt:   at,
	}
}
