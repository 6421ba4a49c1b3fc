package services_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leadpipe/orchestrator/pkg/audit"
	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/leadpipe/orchestrator/pkg/orchestrator"
	"github.com/leadpipe/orchestrator/pkg/persistence"
	"github.com/leadpipe/orchestrator/pkg/persistence/file"
	"github.com/leadpipe/orchestrator/pkg/recovery"
	"github.com/leadpipe/orchestrator/pkg/services"
	"github.com/leadpipe/orchestrator/pkg/testutil"
	"github.com/leadpipe/orchestrator/pkg/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type webhookCall struct {
	executionID  string
	status       models.ExecutionStatus
	outputData   map[string]any
	errorMessage string
}

type stageCall struct {
	companyID string
	leadID    string
	stage     models.Stage
	input     map[string]any
}

type fakeOrchestrator struct {
	mu         sync.Mutex
	webhooks   []webhookCall
	stages     []stageCall
	webhookErr error
	stageErr   error
}

func (f *fakeOrchestrator) HandleExecutionWebhook(_ context.Context, executionID string, status models.ExecutionStatus, outputData map[string]any, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.webhooks = append(f.webhooks, webhookCall{executionID, status, outputData, errorMessage})

	return f.webhookErr
}

func (f *fakeOrchestrator) StartStage(_ context.Context, companyID, leadID string, stage models.Stage, input map[string]any) (*models.WorkflowExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stages = append(f.stages, stageCall{companyID, leadID, stage, input})

	if f.stageErr != nil {
		return nil, f.stageErr
	}

	return &models.WorkflowExecution{ID: "draft-1"}, nil
}

type fakeReporter struct {
	contexts []recovery.ErrorContext
}

func (f *fakeReporter) ReportError(_ context.Context, ec recovery.ErrorContext) error {
	f.contexts = append(f.contexts, ec)

	return nil
}

type fixture struct {
	completion   *services.Completion
	store        *file.Persistence
	tracker      *tracker.Tracker
	orchestrator *fakeOrchestrator
	reporter     *fakeReporter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := testutil.NewFakeClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC))
	store := file.NewPersistence(t.TempDir())
	logger := testutil.DiscardLogger()
	tr := tracker.New(store.ExecutionRepository(), logger, tracker.WithClock(clock.Now))

	f := &fixture{
		store:        store,
		tracker:      tr,
		orchestrator: &fakeOrchestrator{},
		reporter:     &fakeReporter{},
	}

	f.completion = services.NewCompletion(services.CompletionDependencies{
		Orchestrator: f.orchestrator,
		Tracker:      tr,
		Executions:   store.ExecutionRepository(),
		Leads:        store.LeadRepository(),
		Replies:      store.ReplyRepository(),
		Bookings:     store.BookingRepository(),
		Audit:        audit.NewRepositorySink(store.ActionLogRepository(), clock.Now),
		Reporter:     f.reporter,
		Logger:       logger,
	}, services.WithClock(clock.Now))

	ctx := context.Background()

	require.NoError(t, store.LeadRepository().Save(ctx, &models.Lead{ID: "lead-1", CompanyID: "company-1", Status: models.LeadStatusContacted}))
	require.NoError(t, store.ReplyRepository().Save(ctx, &models.Reply{ID: "reply-1", LeadID: "lead-1", CompanyID: "company-1", Body: "Sounds great"}))

	return f
}

func (f *fixture) received(t *testing.T, source string) []*models.ActionLog {
	t.Helper()

	entries, err := f.store.ActionLogRepository().List(context.Background(), persistence.ActionLogFilter{Action: audit.ActionCallbackReceived})
	require.NoError(t, err)

	var matched []*models.ActionLog

	for _, entry := range entries {
		if entry.Source == source {
			matched = append(matched, entry)
		}
	}

	return matched
}

// running creates an execution and hands it to the engine the way the orchestrator does.
func (f *fixture) running(t *testing.T, params tracker.CreateParams) *models.WorkflowExecution {
	t.Helper()

	ctx := context.Background()

	execution, err := f.tracker.Create(ctx, params)
	require.NoError(t, err)

	execution, err = f.tracker.UpdateStatus(ctx, tracker.UpdateParams{ExecutionID: execution.ID, Status: models.ExecutionStatusRunning})
	require.NoError(t, err)

	return execution
}

func TestComplete_RoutesToOpenExecution(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	execution := f.running(t, tracker.CreateParams{
		WorkflowID:   "wf-1",
		LeadID:       "lead-1",
		CompanyID:    "company-1",
		WorkflowType: models.WorkflowTypeLeadEnrichment,
		TriggeredBy:  "campaign-service",
	})

	result, err := f.completion.Complete(ctx, services.CompletionRequest{
		WorkflowID: "wf-1",
		LeadID:     "lead-1",
		CompanyID:  "company-1",
		Status:     models.ExecutionStatusSuccess,
		OutputData: map[string]any{"ok": true},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, execution.ID, result.ExecutionID)
	require.Len(t, f.orchestrator.webhooks, 1)
	assert.Equal(t, execution.ID, f.orchestrator.webhooks[0].executionID)
	assert.Equal(t, models.ExecutionStatusSuccess, f.orchestrator.webhooks[0].status)
	assert.Len(t, f.received(t, services.SourceComplete), 1)
}

func TestComplete_NoOpenExecutionIsTolerated(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	result, err := f.completion.Complete(context.Background(), services.CompletionRequest{
		WorkflowID: "wf-unknown",
		CompanyID:  "company-1",
		Status:     models.ExecutionStatusFailed,
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Empty(t, f.orchestrator.webhooks)
	assert.Len(t, f.received(t, services.SourceComplete), 1)
}

func TestComplete_ProcessingFailureIsGenericAndReported(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)
	f.orchestrator.webhookErr = errors.New("pq: connection refused on 10.0.0.4")

	execution := f.running(t, tracker.CreateParams{WorkflowID: "wf-1", LeadID: "lead-1", CompanyID: "company-1"})

	_, err := f.completion.Complete(ctx, services.CompletionRequest{
		WorkflowID: "wf-1",
		LeadID:     "lead-1",
		CompanyID:  "company-1",
		Status:     models.ExecutionStatusSuccess,
	})
	require.Error(t, err)

	assert.True(t, services.IsProcessingError(err))
	assert.NotContains(t, err.Error(), "10.0.0.4")

	require.Len(t, f.reporter.contexts, 1)
	assert.Contains(t, f.reporter.contexts[0].Message(), "connection refused")

	failed, err := f.store.ActionLogRepository().List(ctx, persistence.ActionLogFilter{Action: audit.ActionCallbackFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, services.SourceComplete, failed[0].Source)
	assert.Equal(t, "company-1", failed[0].CompanyID)
	assert.Equal(t, execution.ID, failed[0].ExecutionID)
	assert.Equal(t, models.ActionLevelWarning, failed[0].Level)
	assert.Contains(t, failed[0].Details["error"], "connection refused")
	assert.Equal(t, "wf-1", failed[0].Details["workflowId"])
}

func TestComplete_StartedExecutionIsNotOpen(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	_, err := f.tracker.Create(ctx, tracker.CreateParams{WorkflowID: "wf-1", LeadID: "lead-1", CompanyID: "company-1", TriggeredBy: "RETRY_campaign-service"})
	require.NoError(t, err)

	result, err := f.completion.Complete(ctx, services.CompletionRequest{
		WorkflowID:   "wf-1",
		LeadID:       "lead-1",
		CompanyID:    "company-1",
		Status:       models.ExecutionStatusFailed,
		ErrorMessage: "network timeout",
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Empty(t, result.ExecutionID)
	assert.Empty(t, f.orchestrator.webhooks)
}

func TestLog_AppendsLoggedEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	result, err := f.completion.Log(ctx, services.LogRequest{
		LeadID:     "lead-1",
		CompanyID:  "company-1",
		NodeName:   "draft-email",
		OutputData: map[string]any{"tokens": 512},
	})
	require.NoError(t, err)

	entry, err := f.tracker.Get(ctx, result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusLogged, entry.Status)
	assert.Equal(t, "draft-email", entry.TriggeredBy)

	logs, err := f.store.ActionLogRepository().List(ctx, persistence.ActionLogFilter{Action: audit.ActionWorkflowLog})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
	assert.Empty(t, f.orchestrator.webhooks)
}

func TestEnrichmentComplete_Success(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	result, err := f.completion.EnrichmentComplete(ctx, services.EnrichmentRequest{
		LeadID:       "lead-1",
		CompanyID:    "company-1",
		Status:       models.ExecutionStatusSuccess,
		EnrichedData: map[string]any{"title": "CTO"},
	})
	require.NoError(t, err)
	assert.Equal(t, "draft-1", result.ExecutionID)

	lead, err := f.store.LeadRepository().GetByID(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "CTO", lead.EnrichmentData["title"])

	require.Len(t, f.orchestrator.stages, 1)
	assert.Equal(t, models.StageEmailDrafting, f.orchestrator.stages[0].stage)
	assert.Equal(t, "lead-1", f.orchestrator.stages[0].leadID)
}

func TestEnrichmentComplete_SkippedStageStillSucceeds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.orchestrator.stageErr = fmt.Errorf("%w: no workflow", orchestrator.ErrStepSkipped)

	result, err := f.completion.EnrichmentComplete(context.Background(), services.EnrichmentRequest{
		LeadID:    "lead-1",
		CompanyID: "company-1",
		Status:    models.ExecutionStatusSuccess,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Empty(t, f.reporter.contexts)
}

func TestEnrichmentComplete_FailedOnlyAudits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	_, err := f.completion.EnrichmentComplete(ctx, services.EnrichmentRequest{
		LeadID:       "lead-1",
		CompanyID:    "company-1",
		Status:       models.ExecutionStatusFailed,
		ErrorMessage: "provider quota exhausted",
	})
	require.NoError(t, err)

	assert.Empty(t, f.orchestrator.stages)

	entries, err := f.store.ActionLogRepository().List(ctx, persistence.ActionLogFilter{Action: audit.ActionEnrichmentFailed})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "provider quota exhausted", entries[0].Details["error"])
}

func TestEnrichmentComplete_UnknownLead(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	for _, req := range []services.EnrichmentRequest{
		{LeadID: "lead-404", CompanyID: "company-1", Status: models.ExecutionStatusSuccess},
		{LeadID: "lead-1", CompanyID: "company-2", Status: models.ExecutionStatusSuccess},
	} {
		_, err := f.completion.EnrichmentComplete(context.Background(), req)
		require.Error(t, err)
		assert.True(t, services.IsNotFoundError(err))
		assert.Equal(t, "EnrichmentComplete: lead not found", err.Error())
	}

	assert.Empty(t, f.reporter.contexts)
	assert.Len(t, f.received(t, services.SourceEnrichment), 2)
}

func TestReplyComplete_InterestedWithMeetingBooks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	_, err := f.completion.ReplyComplete(ctx, services.ReplyRequest{
		LeadID:    "lead-1",
		ReplyID:   "reply-1",
		CompanyID: "company-1",
		OutputData: map[string]any{
			"classification": "interested",
			"meetingLink":    "https://cal.example.com/ada",
		},
	})
	require.NoError(t, err)

	lead, err := f.store.LeadRepository().GetByID(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, models.LeadStatusMeetingBooked, lead.Status)

	bookings, err := f.store.BookingRepository().ListByLead(ctx, "lead-1")
	require.NoError(t, err)
	require.Len(t, bookings, 1)
	assert.Equal(t, "https://cal.example.com/ada", bookings[0].MeetingLink)
	assert.Equal(t, "reply-1", bookings[0].ReplyID)

	reply, err := f.store.ReplyRepository().GetByID(ctx, "reply-1")
	require.NoError(t, err)
	assert.Equal(t, "interested", reply.Classification)
	assert.NotNil(t, reply.ProcessedAt)
}

func TestReplyComplete_NotInterested(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t)

	_, err := f.completion.ReplyComplete(ctx, services.ReplyRequest{
		LeadID:     "lead-1",
		ReplyID:    "reply-1",
		CompanyID:  "company-1",
		OutputData: map[string]any{"interested": false, "meetingLink": "https://cal.example.com/ada"},
	})
	require.NoError(t, err)

	lead, err := f.store.LeadRepository().GetByID(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, models.LeadStatusNotInterested, lead.Status)

	bookings, err := f.store.BookingRepository().ListByLead(ctx, "lead-1")
	require.NoError(t, err)
	assert.Empty(t, bookings)
}

func TestReplyComplete_UnknownReply(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.completion.ReplyComplete(context.Background(), services.ReplyRequest{
		LeadID:     "lead-1",
		ReplyID:    "reply-404",
		CompanyID:  "company-1",
		OutputData: map[string]any{"interested": true},
	})
	require.Error(t, err)
	assert.True(t, services.IsNotFoundError(err))
	assert.Equal(t, "ReplyComplete: reply not found", err.Error())
}
