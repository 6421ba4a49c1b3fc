package services

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/leadpipe/orchestrator/pkg/audit"
	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/leadpipe/orchestrator/pkg/orchestrator"
	"github.com/leadpipe/orchestrator/pkg/persistence"
	"github.com/leadpipe/orchestrator/pkg/recovery"
	"github.com/leadpipe/orchestrator/pkg/tracker"
)

// Gateway sources recorded in the audit trail.
const (
	SourceComplete   = "/workflows/complete"
	SourceLog        = "/workflows/log"
	SourceEnrichment = "/workflows/enrichment/complete"
	SourceReplies    = "/workflows/replies/complete"
)

// Orchestrator is the part of the workflow orchestrator the gateway drives.
type Orchestrator interface {
	HandleExecutionWebhook(ctx context.Context, executionID string, status models.ExecutionStatus, outputData map[string]any, errorMessage string) error
	StartStage(ctx context.Context, companyID, leadID string, stage models.Stage, input map[string]any) (*models.WorkflowExecution, error)
}

type CompletionRequest struct {
	WorkflowID   string                 `json:"workflowId"             validate:"required"`
	LeadID       string                 `json:"leadId,omitempty"`
	CompanyID    string                 `json:"companyId"              validate:"required"`
	Status       models.ExecutionStatus `json:"status"                 validate:"required,oneof=SUCCESS FAILED TIMEOUT"`
	OutputData   map[string]any         `json:"outputData,omitempty"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
	WorkflowName string                 `json:"workflowName,omitempty"`
}

type LogRequest struct {
	WorkflowID string         `json:"workflowId,omitempty"`
	LeadID     string         `json:"leadId,omitempty"`
	CompanyID  string         `json:"companyId"            validate:"required"`
	NodeName   string         `json:"nodeName"             validate:"required"`
	OutputData map[string]any `json:"outputData,omitempty"`
	Timestamp  time.Time      `json:"timestamp,omitempty"`
}

type EnrichmentRequest struct {
	LeadID       string                 `json:"leadId"                 validate:"required"`
	CompanyID    string                 `json:"companyId"              validate:"required"`
	Status       models.ExecutionStatus `json:"status"                 validate:"required,oneof=SUCCESS FAILED"`
	EnrichedData map[string]any         `json:"enrichedData,omitempty"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
}

type ReplyRequest struct {
	LeadID     string         `json:"leadId"     validate:"required"`
	ReplyID    string         `json:"replyId"    validate:"required"`
	CompanyID  string         `json:"companyId"  validate:"required"`
	OutputData map[string]any `json:"outputData" validate:"required"`
}

// Result is the gateway's answer to the engine.
type Result struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
}

type CompletionDependencies struct {
	Orchestrator Orchestrator
	Tracker      *tracker.Tracker
	Executions   persistence.ExecutionRepository
	Leads        persistence.LeadRepository
	Replies      persistence.ReplyRepository
	Bookings     persistence.BookingRepository
	Audit        audit.Sink
	Reporter     recovery.Reporter
	Logger       *slog.Logger
}

// Completion normalizes engine callbacks and routes them into the orchestrator.
type Completion struct {
	orchestrator Orchestrator
	tracker      *tracker.Tracker
	executions   persistence.ExecutionRepository
	leads        persistence.LeadRepository
	replies      persistence.ReplyRepository
	bookings     persistence.BookingRepository
	audit        audit.Sink
	reporter     recovery.Reporter
	logger       *slog.Logger
	now          func() time.Time
}

type CompletionOption func(*Completion)

func WithClock(now func() time.Time) CompletionOption {
	return func(c *Completion) { c.now = now }
}

func NewCompletion(deps CompletionDependencies, opts ...CompletionOption) *Completion {
	c := &Completion{
		orchestrator: deps.Orchestrator,
		tracker:      deps.Tracker,
		executions:   deps.Executions,
		leads:        deps.Leads,
		replies:      deps.Replies,
		bookings:     deps.Bookings,
		audit:        deps.Audit,
		reporter:     deps.Reporter,
		logger:       deps.Logger.With("module", "completion"),
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Complete routes a generic completion to the open execution for the triple. A callback with
// no open execution is acknowledged without effect.
func (c *Completion) Complete(ctx context.Context, req CompletionRequest) (*Result, error) {
	c.received(ctx, SourceComplete, req.CompanyID, req.LeadID, req)

	logger := c.logger.With("workflow_id", req.WorkflowID, "lead_id", req.LeadID, "company_id", req.CompanyID)

	execution, err := c.executions.FindOpen(ctx, req.WorkflowID, req.LeadID, req.CompanyID)
	if persistence.IsExecutionNotFound(err) {
		logger.WarnContext(ctx, "no open execution for completion callback", "status", req.Status)

		return &Result{Success: true, Message: "no open execution"}, nil
	}

	if err != nil {
		return nil, c.fail(ctx, "Complete", SourceComplete, failure{companyID: req.CompanyID, leadID: req.LeadID, workflowID: req.WorkflowID}, err)
	}

	err = c.orchestrator.HandleExecutionWebhook(ctx, execution.ID, req.Status, req.OutputData, req.ErrorMessage)
	if err != nil {
		return nil, c.fail(ctx, "Complete", SourceComplete, failure{
			companyID:    req.CompanyID,
			leadID:       req.LeadID,
			workflowID:   req.WorkflowID,
			executionID:  execution.ID,
			workflowType: execution.WorkflowType,
		}, err)
	}

	return &Result{Success: true, ExecutionID: execution.ID}, nil
}

// Log appends intermediate engine telemetry. It never changes an execution's status.
func (c *Completion) Log(ctx context.Context, req LogRequest) (*Result, error) {
	c.received(ctx, SourceLog, req.CompanyID, req.LeadID, req)

	err := c.audit.Record(ctx, audit.Entry{
		CompanyID: req.CompanyID,
		LeadID:    req.LeadID,
		Action:    audit.ActionWorkflowLog,
		Source:    SourceLog,
		Details: map[string]any{
			"nodeName":   req.NodeName,
			"outputData": req.OutputData,
		},
	})
	if err != nil {
		return nil, c.fail(ctx, "Log", SourceLog, failure{companyID: req.CompanyID, leadID: req.LeadID}, err)
	}

	entry, err := c.tracker.RecordLog(ctx, tracker.LogParams{
		WorkflowID: req.WorkflowID,
		LeadID:     req.LeadID,
		CompanyID:  req.CompanyID,
		NodeName:   req.NodeName,
		OutputData: req.OutputData,
		Timestamp:  req.Timestamp,
	})
	if err != nil {
		return nil, c.fail(ctx, "Log", SourceLog, failure{companyID: req.CompanyID, leadID: req.LeadID}, err)
	}

	return &Result{Success: true, ExecutionID: entry.ID}, nil
}

// EnrichmentComplete stores enrichment results on the lead and starts email drafting.
func (c *Completion) EnrichmentComplete(ctx context.Context, req EnrichmentRequest) (*Result, error) {
	c.received(ctx, SourceEnrichment, req.CompanyID, req.LeadID, req)

	ref := failure{companyID: req.CompanyID, leadID: req.LeadID, workflowType: models.WorkflowTypeLeadEnrichment}

	lead, err := c.lead(ctx, "EnrichmentComplete", req.LeadID, req.CompanyID)
	if err != nil {
		return nil, c.failUnlessNotFound(ctx, "EnrichmentComplete", SourceEnrichment, ref, err)
	}

	if req.Status == models.ExecutionStatusFailed {
		err = c.audit.Record(ctx, audit.Entry{
			CompanyID: req.CompanyID,
			LeadID:    req.LeadID,
			Action:    audit.ActionEnrichmentFailed,
			Source:    SourceEnrichment,
			Level:     models.ActionLevelWarning,
			Details:   map[string]any{"error": req.ErrorMessage},
		})
		if err != nil {
			return nil, c.fail(ctx, "EnrichmentComplete", SourceEnrichment, ref, err)
		}

		return &Result{Success: true, Message: "enrichment failure recorded"}, nil
	}

	if lead.EnrichmentData == nil {
		lead.EnrichmentData = make(map[string]any, len(req.EnrichedData))
	}

	maps.Copy(lead.EnrichmentData, req.EnrichedData)
	lead.UpdatedAt = c.now()

	err = c.leads.Save(ctx, lead)
	if err != nil {
		return nil, c.fail(ctx, "EnrichmentComplete", SourceEnrichment, ref, err)
	}

	execution, err := c.orchestrator.StartStage(ctx, req.CompanyID, req.LeadID, models.StageEmailDrafting, map[string]any{
		"leadId":       req.LeadID,
		"enrichedData": lead.EnrichmentData,
	})

	switch {
	case orchestrator.IsStepSkipped(err):
		c.logger.WarnContext(ctx, "email drafting not started", "lead_id", req.LeadID, "reason", err)

		return &Result{Success: true, Message: "lead enriched"}, nil
	case err != nil:
		return nil, c.fail(ctx, "EnrichmentComplete", SourceEnrichment, ref, err)
	}

	return &Result{Success: true, Message: "lead enriched", ExecutionID: execution.ID}, nil
}

// ReplyComplete stores a reply classification and books a meeting for interested leads
// that supplied a meeting link.
func (c *Completion) ReplyComplete(ctx context.Context, req ReplyRequest) (*Result, error) {
	c.received(ctx, SourceReplies, req.CompanyID, req.LeadID, req)

	ref := failure{companyID: req.CompanyID, leadID: req.LeadID}

	reply, err := c.replies.GetByID(ctx, req.ReplyID)
	if err == nil && (reply.CompanyID != req.CompanyID || reply.LeadID != req.LeadID) {
		err = persistence.NewEntityError("ReplyComplete", "reply", req.ReplyID, persistence.ErrReplyNotFound)
	}

	if err != nil {
		return nil, c.failUnlessNotFound(ctx, "ReplyComplete", SourceReplies, ref, err)
	}

	lead, err := c.lead(ctx, "ReplyComplete", req.LeadID, req.CompanyID)
	if err != nil {
		return nil, c.failUnlessNotFound(ctx, "ReplyComplete", SourceReplies, ref, err)
	}

	status, classified := orchestrator.ClassifyInterest(req.OutputData)

	now := c.now()
	reply.Classification = classification(req.OutputData, status)
	reply.ProcessedAt = &now

	err = c.replies.Save(ctx, reply)
	if err != nil {
		return nil, c.fail(ctx, "ReplyComplete", SourceReplies, ref, err)
	}

	if !classified {
		return &Result{Success: true, Message: "reply stored"}, nil
	}

	lead.Status = status
	lead.UpdatedAt = now

	meetingLink, _ := req.OutputData["meetingLink"].(string)
	if status == models.LeadStatusInterested && meetingLink != "" {
		err = c.bookings.Create(ctx, &models.Booking{
			ID:          uuid.NewString(),
			LeadID:      lead.ID,
			CompanyID:   lead.CompanyID,
			ReplyID:     reply.ID,
			MeetingLink: meetingLink,
			CreatedAt:   now,
		})
		if err != nil {
			return nil, c.fail(ctx, "ReplyComplete", SourceReplies, ref, err)
		}

		lead.Status = models.LeadStatusMeetingBooked
	}

	err = c.leads.Save(ctx, lead)
	if err != nil {
		return nil, c.fail(ctx, "ReplyComplete", SourceReplies, ref, err)
	}

	return &Result{Success: true, Message: "reply classified as " + string(lead.Status)}, nil
}

func (c *Completion) lead(ctx context.Context, op, leadID, companyID string) (*models.Lead, error) {
	lead, err := c.leads.GetByID(ctx, leadID)
	if err != nil {
		return nil, err
	}

	if lead.CompanyID != companyID {
		return nil, persistence.NewEntityError(op, "lead", leadID, persistence.ErrLeadNotFound)
	}

	return lead, nil
}

func (c *Completion) received(ctx context.Context, source, companyID, leadID string, payload any) {
	err := c.audit.Record(ctx, audit.Entry{
		CompanyID: companyID,
		LeadID:    leadID,
		Action:    audit.ActionCallbackReceived,
		Source:    source,
		Details:   map[string]any{"payload": payload},
	})
	if err != nil {
		c.logger.WarnContext(ctx, "failed to audit callback", "source", source, "error", err)
	}
}

type failure struct {
	companyID    string
	leadID       string
	workflowID   string
	executionID  string
	workflowType models.WorkflowType
}

func (c *Completion) failUnlessNotFound(ctx context.Context, op, source string, ref failure, err error) error {
	switch {
	case persistence.IsLeadNotFound(err):
		c.logger.WarnContext(ctx, "callback for unknown lead", "source", source, "lead_id", ref.leadID)

		return newNotFoundError(op, "lead", err)
	case persistence.IsReplyNotFound(err):
		c.logger.WarnContext(ctx, "callback for unknown reply", "source", source, "lead_id", ref.leadID)

		return newNotFoundError(op, "reply", err)
	default:
		return c.fail(ctx, op, source, ref, err)
	}
}

// fail logs the cause, reports it to the recovery path, records a callback_failed entry
// and returns the generic error.
func (c *Completion) fail(ctx context.Context, op, source string, ref failure, cause error) error {
	c.logger.ErrorContext(ctx, "callback processing failed", "source", source, "op", op, "error", cause)

	if c.reporter != nil {
		err := c.reporter.ReportError(ctx, recovery.ErrorContext{
			ExecutionID:  ref.executionID,
			WorkflowID:   ref.workflowID,
			WorkflowType: ref.workflowType,
			CompanyID:    ref.companyID,
			LeadID:       ref.leadID,
			Err:          fmt.Errorf("%s: %w", source, cause),
			Timestamp:    c.now(),
		})
		if err != nil {
			c.logger.WarnContext(ctx, "failed to report callback error", "error", err)
		}
	}

	err := c.audit.Record(ctx, audit.Entry{
		CompanyID:   ref.companyID,
		LeadID:      ref.leadID,
		ExecutionID: ref.executionID,
		Action:      audit.ActionCallbackFailed,
		Source:      source,
		Level:       models.ActionLevelWarning,
		Details: map[string]any{
			"op":         op,
			"workflowId": ref.workflowID,
			"error":      cause.Error(),
		},
	})
	if err != nil {
		c.logger.WarnContext(ctx, "failed to audit callback failure", "source", source, "error", err)
	}

	return newProcessingError(op)
}

func classification(output map[string]any, status models.LeadStatus) string {
	if raw, ok := output["classification"].(string); ok && raw != "" {
		return raw
	}

	return strings.ToLower(string(status))
}
