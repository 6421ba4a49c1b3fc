package orchestrator_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leadpipe/orchestrator/pkg/audit"
	"github.com/leadpipe/orchestrator/pkg/config"
	"github.com/leadpipe/orchestrator/pkg/engine"
	"github.com/leadpipe/orchestrator/pkg/eventbus"
	"github.com/leadpipe/orchestrator/pkg/events"
	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/leadpipe/orchestrator/pkg/orchestrator"
	"github.com/leadpipe/orchestrator/pkg/persistence"
	"github.com/leadpipe/orchestrator/pkg/persistence/file"
	"github.com/leadpipe/orchestrator/pkg/providers"
	"github.com/leadpipe/orchestrator/pkg/recovery"
	"github.com/leadpipe/orchestrator/pkg/services"
	"github.com/leadpipe/orchestrator/pkg/testutil"
	"github.com/leadpipe/orchestrator/pkg/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	companyID = "company-1"
	leadID    = "lead-1"
)

type fakeEngine struct {
	mu       sync.Mutex
	requests []engine.Request
	// failures is how many Invoke calls fail before the engine starts accepting.
	failures int
	err      error
}

func (f *fakeEngine) Invoke(_ context.Context, req engine.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)

	if f.failures > 0 {
		f.failures--

		return errors.New("engine network error: connection refused")
	}

	return f.err
}

func (f *fakeEngine) Requests() []engine.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]engine.Request(nil), f.requests...)
}

type fakeReporter struct {
	mu       sync.Mutex
	contexts []recovery.ErrorContext
}

func (f *fakeReporter) ReportError(_ context.Context, ec recovery.ErrorContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.contexts = append(f.contexts, ec)

	return nil
}

func (f *fakeReporter) Reported() []recovery.ErrorContext {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]recovery.ErrorContext(nil), f.contexts...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

type fixture struct {
	orch      *orchestrator.Orchestrator
	store     *file.Persistence
	tracker   *tracker.Tracker
	engine    *fakeEngine
	reporter  *fakeReporter
	publisher *recordingPublisher
	providers *providers.MemoryStore
	clock     *testutil.FakeClock
	cfg       *config.Config
}

func newFixture(t *testing.T, mutate func(cfg *config.Config)) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.CallbackBaseURL = "https://orchestrator.example.com"
	cfg.WebhookURLs[models.WorkflowTypeLeadEnrichment] = "https://engine.example.com/enrich"
	cfg.WebhookURLs[models.WorkflowTypeEmailSequence] = "https://engine.example.com/email"
	cfg.WebhookURLs[models.WorkflowTypeLeadRouting] = "https://engine.example.com/route"
	cfg.ProviderCredentials["apollo"] = "apollo-key"
	cfg.DefaultProviders[models.WorkflowTypeLeadEnrichment] = "apollo"
	cfg.AIPersona = &config.AIPersona{Name: "Ava", Tone: "friendly"}
	cfg.Retry.BackoffUnit = time.Millisecond

	if mutate != nil {
		mutate(cfg)
	}

	clock := testutil.NewFakeClock(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	store := file.NewPersistence(t.TempDir())
	logger := testutil.DiscardLogger()
	tr := tracker.New(store.ExecutionRepository(), logger, tracker.WithClock(clock.Now))

	f := &fixture{
		store:     store,
		tracker:   tr,
		engine:    &fakeEngine{},
		reporter:  &fakeReporter{},
		publisher: &recordingPublisher{},
		providers: providers.NewMemoryStore(),
		clock:     clock,
		cfg:       cfg,
	}

	f.orch = orchestrator.New(cfg, orchestrator.Dependencies{
		Tracker:   tr,
		Workflows: store.WorkflowRepository(),
		Leads:     store.LeadRepository(),
		Engine:    f.engine,
		Providers: f.providers,
		Audit:     audit.NewRepositorySink(store.ActionLogRepository(), clock.Now),
		Logger:    logger,
	},
		orchestrator.WithClock(clock.Now),
		orchestrator.WithPublisher(f.publisher),
		orchestrator.WithErrorReporter(f.reporter),
	)

	t.Cleanup(func() {
		_ = f.orch.Shutdown(context.Background())
	})

	ctx := context.Background()

	for _, workflow := range []*models.Workflow{
		{ID: "wf-enrich", Name: "Enrich", Type: models.WorkflowTypeLeadEnrichment, CompanyID: companyID, ExternalID: "ext-enrich"},
		{ID: "wf-email", Name: "Draft", Type: models.WorkflowTypeEmailSequence, CompanyID: companyID, ExternalID: "ext-email"},
		{ID: "wf-route", Name: "Route", Type: models.WorkflowTypeLeadRouting, CompanyID: companyID, ExternalID: "ext-route"},
		{ID: "wf-scrape", Name: "Scrape", Type: models.WorkflowTypeLeadEnrichment, CompanyID: companyID, Stage: models.StageScraping},
		{ID: "wf-tat", Name: "Translate", Type: models.WorkflowTypeTargetAudienceTranslator, CompanyID: companyID},
	} {
		require.NoError(t, store.WorkflowRepository().Save(ctx, workflow))
	}

	require.NoError(t, store.LeadRepository().Save(ctx, &models.Lead{
		ID:        leadID,
		CompanyID: companyID,
		Email:     "ada@example.com",
		Status:    models.LeadStatusNew,
	}))

	return f
}

func (f *fixture) workflow(t *testing.T, id string) *models.Workflow {
	t.Helper()

	workflow, err := f.store.WorkflowRepository().GetByID(context.Background(), id)
	require.NoError(t, err)

	return workflow
}

func (f *fixture) start(t *testing.T, workflowID string) (*models.Workflow, *models.WorkflowExecution) {
	t.Helper()

	workflow := f.workflow(t, workflowID)

	execution, err := f.tracker.Create(context.Background(), tracker.CreateParams{
		WorkflowID:   workflow.ID,
		LeadID:       leadID,
		CompanyID:    companyID,
		WorkflowType: workflow.Type,
		InputData:    map[string]any{"email": "ada@example.com"},
		TriggeredBy:  "campaign-service",
	})
	require.NoError(t, err)

	return workflow, execution
}

func (f *fixture) triggered(t *testing.T, workflowID string) *models.WorkflowExecution {
	t.Helper()

	workflow, execution := f.start(t, workflowID)
	require.NoError(t, f.orch.TriggerWorkflowExecution(context.Background(), workflow, execution))

	return execution
}

func (f *fixture) get(t *testing.T, id string) *models.WorkflowExecution {
	t.Helper()

	execution, err := f.tracker.Get(context.Background(), id)
	require.NoError(t, err)

	return execution
}

func (f *fixture) executions(t *testing.T, workflowID string) []*models.WorkflowExecution {
	t.Helper()

	executions, err := f.store.ExecutionRepository().ListByWorkflowSince(context.Background(), workflowID, time.Time{})
	require.NoError(t, err)

	return executions
}

func (f *fixture) actions(t *testing.T, action string) []*models.ActionLog {
	t.Helper()

	entries, err := f.store.ActionLogRepository().List(context.Background(), persistence.ActionLogFilter{Action: action})
	require.NoError(t, err)

	return entries
}

func TestTriggerWorkflowExecution(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	execution := f.triggered(t, "wf-enrich")

	assert.Equal(t, models.ExecutionStatusRunning, f.get(t, execution.ID).Status)

	requests := f.engine.Requests()
	require.Len(t, requests, 1)

	req := requests[0]
	assert.Equal(t, "https://engine.example.com/enrich", req.URL)
	assert.Equal(t, execution.ID, req.ExecutionID)
	assert.Equal(t, "ext-enrich", req.Body["externalWorkflowId"])
	assert.Equal(t, "apollo", req.Body["provider"])
	assert.Equal(t, map[string]string{"apiKey": "apollo-key"}, req.Body["credentials"])
	assert.Equal(t, map[string]any{"email": "ada@example.com"}, req.Body["input"])

	callbacks, ok := req.Body["callbacks"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "https://orchestrator.example.com/workflows/complete", callbacks["complete"])
	assert.Equal(t, "https://orchestrator.example.com/workflows/enrichment/complete", callbacks["enrichment"])
}

func TestTriggerWorkflowExecution_UsesSelectedProvider(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	require.NoError(t, f.providers.Set(context.Background(), companyID, models.WorkflowTypeLeadEnrichment, "hunter"))

	f.triggered(t, "wf-enrich")

	requests := f.engine.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "hunter", requests[0].Body["provider"])
}

func TestTriggerWorkflowExecution_NoWebhookSkips(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *config.Config) {
		delete(cfg.WebhookURLs, models.WorkflowTypeLeadRouting)
	})

	workflow, execution := f.start(t, "wf-route")

	err := f.orch.TriggerWorkflowExecution(context.Background(), workflow, execution)
	require.ErrorIs(t, err, orchestrator.ErrStepSkipped)
	assert.True(t, orchestrator.IsStepSkipped(err))

	assert.Equal(t, models.ExecutionStatusStarted, f.get(t, execution.ID).Status)
	assert.Empty(t, f.engine.Requests())
}

func TestTriggerWorkflowExecution_EngineFailureMarksFailed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.engine.err = errors.New("engine rate limit exceeded (429)")

	workflow, execution := f.start(t, "wf-enrich")
	f.clock.Advance(1500 * time.Millisecond)

	err := f.orch.TriggerWorkflowExecution(context.Background(), workflow, execution)
	require.Error(t, err)

	stored := f.get(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	require.NotNil(t, stored.DurationMs)
	assert.Equal(t, int64(1500), *stored.DurationMs)
	assert.Contains(t, stored.ErrorMessage, "rate limit")
}

func TestTriggerWorkflowExecution_PersonaRequired(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *config.Config) { cfg.AIPersona = nil })
	workflow, execution := f.start(t, "wf-email")

	err := f.orch.TriggerWorkflowExecution(context.Background(), workflow, execution)
	require.ErrorIs(t, err, orchestrator.ErrPersonaRequired)

	assert.Equal(t, models.ExecutionStatusFailed, f.get(t, execution.ID).Status)
	assert.Empty(t, f.engine.Requests())
}

func TestTriggerWorkflowExecution_EmailPayloadCarriesPersonaAndLead(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.triggered(t, "wf-email")

	requests := f.engine.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, f.cfg.AIPersona, requests[0].Body["persona"])

	lead, ok := requests[0].Body["lead"].(*models.Lead)
	require.True(t, ok)
	assert.Equal(t, leadID, lead.ID)
}

// Enrichment success writes the lead and chains into email drafting.
func TestScenario_EnrichmentSuccessAdvancesPipeline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	execution := f.triggered(t, "wf-enrich")

	f.clock.Advance(3 * time.Second)

	err := f.orch.HandleExecutionWebhook(ctx, execution.ID, models.ExecutionStatusSuccess,
		map[string]any{"enrichedData": map[string]any{"industry": "SaaS", "size": "50-200"}}, "")
	require.NoError(t, err)

	stored := f.get(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusSuccess, stored.Status)
	require.NotNil(t, stored.DurationMs)
	assert.Equal(t, int64(3000), *stored.DurationMs)

	lead, err := f.store.LeadRepository().GetByID(ctx, leadID)
	require.NoError(t, err)
	assert.Equal(t, "SaaS", lead.EnrichmentData["industry"])

	drafts := f.executions(t, "wf-email")
	require.Len(t, drafts, 1)
	assert.Equal(t, "pipeline:EMAIL_DRAFTING", drafts[0].TriggeredBy)
	assert.Equal(t, models.ExecutionStatusRunning, drafts[0].Status)
	assert.Equal(t, "SaaS", drafts[0].InputData["enrichedData"].(map[string]any)["industry"])

	requests := f.engine.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, "https://engine.example.com/email", requests[1].URL)

	f.publisher.mu.Lock()
	defer f.publisher.mu.Unlock()

	var statuses []models.ExecutionStatus

	for _, event := range f.publisher.events {
		changed, ok := event.(*events.ExecutionStatusChanged)
		require.True(t, ok)

		if changed.ExecutionID == execution.ID {
			statuses = append(statuses, changed.Status)
		}
	}

	assert.Equal(t, []models.ExecutionStatus{models.ExecutionStatusRunning, models.ExecutionStatusSuccess}, statuses)
}

// A transient failure produces a retry record and no admin alert.
func TestScenario_TransientFailureSchedulesRetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	execution := f.triggered(t, "wf-enrich")

	err := f.orch.HandleExecutionWebhook(ctx, execution.ID, models.ExecutionStatusFailed, nil, "Connection timeout after 30s")
	require.NoError(t, err)

	stored := f.get(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	assert.Equal(t, map[string]any{"error": "Connection timeout after 30s"}, stored.OutputData)

	executions := f.executions(t, "wf-enrich")
	require.Len(t, executions, 2)

	var retry *models.WorkflowExecution

	for _, candidate := range executions {
		if candidate.ID != execution.ID {
			retry = candidate
		}
	}

	require.NotNil(t, retry)
	assert.Equal(t, "RETRY_campaign-service", retry.TriggeredBy)

	assert.Eventually(t, func() bool {
		return len(f.engine.Requests()) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Empty(t, f.actions(t, audit.ActionAdminAlert))
	assert.Len(t, f.actions(t, audit.ActionExecutionFailed), 1)

	reported := f.reporter.Reported()
	require.Len(t, reported, 1)
	assert.Equal(t, execution.ID, reported[0].ExecutionID)
	assert.Equal(t, orchestrator.KindTransient, recovery.ErrorType(reported[0].Err))
}

// A critical failure raises an admin alert and is not retried by the gate.
func TestScenario_CriticalFailureAlertsAdmin(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	execution := f.triggered(t, "wf-enrich")

	err := f.orch.HandleExecutionWebhook(ctx, execution.ID, models.ExecutionStatusFailed, nil, "invalid configuration: missing api key")
	require.NoError(t, err)

	alerts := f.actions(t, audit.ActionAdminAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, models.ActionLevelCritical, alerts[0].Level)
	assert.Equal(t, execution.ID, alerts[0].ExecutionID)

	assert.Len(t, f.executions(t, "wf-enrich"), 1)
	assert.Equal(t, 0, f.orch.PendingRetries())
}

// The first terminal callback wins. Later ones are acknowledged without effect.
func TestScenario_DuplicateCallbackIsNoOp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	execution := f.triggered(t, "wf-route")

	f.clock.Advance(time.Second)
	require.NoError(t, f.orch.HandleExecutionWebhook(ctx, execution.ID, models.ExecutionStatusSuccess, map[string]any{"campaignId": "camp-7"}, ""))

	first := f.get(t, execution.ID)

	f.clock.Advance(time.Second)
	require.NoError(t, f.orch.HandleExecutionWebhook(ctx, execution.ID, models.ExecutionStatusFailed, nil, "network unreachable"))

	stored := f.get(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusSuccess, stored.Status)
	assert.Equal(t, *first.DurationMs, *stored.DurationMs)
	assert.Empty(t, f.actions(t, audit.ActionExecutionFailed))
	assert.Empty(t, f.reporter.Reported())

	lead, err := f.store.LeadRepository().GetByID(ctx, leadID)
	require.NoError(t, err)
	assert.Equal(t, "camp-7", lead.CampaignID)
}

func TestHandleExecutionWebhook_InvalidStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	execution := f.triggered(t, "wf-enrich")

	for _, status := range []models.ExecutionStatus{"PAUSED", models.ExecutionStatusLogged, models.ExecutionStatusStarted} {
		err := f.orch.HandleExecutionWebhook(context.Background(), execution.ID, status, nil, "")
		assert.ErrorIs(t, err, orchestrator.ErrInvalidStatus, status)
	}

	assert.Equal(t, models.ExecutionStatusRunning, f.get(t, execution.ID).Status)
}

func TestHandleExecutionWebhook_UnknownExecution(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	err := f.orch.HandleExecutionWebhook(context.Background(), "missing", models.ExecutionStatusSuccess, nil, "")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestHandleExecutionWebhook_TimeoutDefaultsMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *config.Config) { cfg.Retry.MaxRetries = 0 })
	execution := f.triggered(t, "wf-enrich")

	require.NoError(t, f.orch.HandleExecutionWebhook(context.Background(), execution.ID, models.ExecutionStatusTimeout, nil, ""))

	stored := f.get(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusTimeout, stored.Status)
	assert.Equal(t, "execution timed out", stored.ErrorMessage)
	assert.Len(t, f.executions(t, "wf-enrich"), 1)
}

func TestHandleFailedExecution_RetryLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)

	workflow := f.workflow(t, "wf-enrich")

	execution, err := f.tracker.Create(ctx, tracker.CreateParams{
		WorkflowID:   workflow.ID,
		LeadID:       leadID,
		CompanyID:    companyID,
		WorkflowType: workflow.Type,
		TriggeredBy:  "RETRY_RETRY_RETRY_campaign-service",
	})
	require.NoError(t, err)

	require.NoError(t, f.orch.HandleExecutionWebhook(ctx, execution.ID, models.ExecutionStatusFailed, nil, "temporary network glitch"))

	assert.Len(t, f.executions(t, "wf-enrich"), 1)

	reported := f.reporter.Reported()
	require.Len(t, reported, 1)
	assert.Equal(t, 3, reported[0].RetryCount)
}

func TestHandleSuccessfulExecution_HandlerFailureIsLogged(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.orch.RegisterSuccessHandler(models.WorkflowTypeLeadRouting, func(context.Context, *models.WorkflowExecution, *models.Workflow, map[string]any) error {
		return errors.New("crm unavailable")
	})

	execution := f.triggered(t, "wf-route")

	err := f.orch.HandleExecutionWebhook(context.Background(), execution.ID, models.ExecutionStatusSuccess, nil, "")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusSuccess, f.get(t, execution.ID).Status)
}

func TestHandleSuccessfulExecution_EmailClassification(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	execution := f.triggered(t, "wf-email")

	require.NoError(t, f.orch.HandleExecutionWebhook(ctx, execution.ID, models.ExecutionStatusSuccess, map[string]any{"status": "interested"}, ""))

	lead, err := f.store.LeadRepository().GetByID(ctx, leadID)
	require.NoError(t, err)
	assert.Equal(t, models.LeadStatusInterested, lead.Status)

	// Email drafting is the last stage.
	assert.Len(t, f.engine.Requests(), 1)
}

func TestScheduleRetry_Deduplicates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, func(cfg *config.Config) { cfg.Retry.BackoffUnit = time.Hour })
	execution := f.triggered(t, "wf-enrich")

	first, err := f.orch.ScheduleRetry(ctx, execution.ID, time.Hour)
	require.NoError(t, err)

	second, err := f.orch.ScheduleRetry(ctx, execution.ID, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, f.executions(t, "wf-enrich"), 2)
	assert.Equal(t, 1, f.orch.PendingRetries())

	require.NoError(t, f.orch.Shutdown(ctx))
	assert.Equal(t, 0, f.orch.PendingRetries())

	_, err = f.orch.ScheduleRetry(ctx, "another", time.Millisecond)
	assert.ErrorIs(t, err, orchestrator.ErrShuttingDown)
}

func TestScheduleRetry_ReleasesDedupeAfterTrigger(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	execution := f.triggered(t, "wf-enrich")

	require.NoError(t, f.orch.HandleExecutionWebhook(context.Background(), execution.ID, models.ExecutionStatusFailed, nil, "network timeout"))

	assert.Eventually(t, func() bool {
		return len(f.engine.Requests()) == 2 && f.orch.PendingRetries() == 0 && f.orch.TrackedRetries() == 0
	}, time.Second, 5*time.Millisecond)
}

// A FAILED completion delivered twice schedules one retry, and the pending retry is not
// mistaken for the open execution.
func TestComplete_DuplicateFailureSchedulesOneRetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, func(cfg *config.Config) { cfg.Retry.BackoffUnit = time.Hour })
	execution := f.triggered(t, "wf-enrich")

	completion := services.NewCompletion(services.CompletionDependencies{
		Orchestrator: f.orch,
		Tracker:      f.tracker,
		Executions:   f.store.ExecutionRepository(),
		Leads:        f.store.LeadRepository(),
		Replies:      f.store.ReplyRepository(),
		Bookings:     f.store.BookingRepository(),
		Audit:        audit.NewRepositorySink(f.store.ActionLogRepository(), f.clock.Now),
		Logger:       testutil.DiscardLogger(),
	}, services.WithClock(f.clock.Now))

	req := services.CompletionRequest{
		WorkflowID:   "wf-enrich",
		LeadID:       leadID,
		CompanyID:    companyID,
		Status:       models.ExecutionStatusFailed,
		ErrorMessage: "network timeout",
	}

	first, err := completion.Complete(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, execution.ID, first.ExecutionID)

	second, err := completion.Complete(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.Empty(t, second.ExecutionID)

	var retries []*models.WorkflowExecution

	for _, candidate := range f.executions(t, "wf-enrich") {
		if strings.HasPrefix(candidate.TriggeredBy, "RETRY_") {
			retries = append(retries, candidate)
		}
	}

	require.Len(t, retries, 1)
	assert.Equal(t, models.ExecutionStatusStarted, retries[0].Status)
	assert.Equal(t, models.ExecutionStatusFailed, f.get(t, execution.ID).Status)
	assert.Equal(t, 1, f.orch.PendingRetries())
	assert.Len(t, f.actions(t, audit.ActionExecutionFailed), 1)
}

func TestHandleExecutionWebhook_SuccessWithMissingWorkflow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)

	execution, err := f.tracker.Create(ctx, tracker.CreateParams{
		WorkflowID:   "wf-deleted",
		LeadID:       leadID,
		CompanyID:    companyID,
		WorkflowType: models.WorkflowTypeLeadRouting,
		TriggeredBy:  "campaign-service",
	})
	require.NoError(t, err)

	_, err = f.tracker.UpdateStatus(ctx, tracker.UpdateParams{ExecutionID: execution.ID, Status: models.ExecutionStatusRunning})
	require.NoError(t, err)

	err = f.orch.HandleExecutionWebhook(ctx, execution.ID, models.ExecutionStatusSuccess, map[string]any{"campaignId": "camp-7"}, "")
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSuccess, f.get(t, execution.ID).Status)
	assert.Empty(t, f.engine.Requests())
}

func TestTriggerWorkflowWithRetry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.engine.failures = 2

	workflow, execution := f.start(t, "wf-enrich")

	final, err := f.orch.TriggerWorkflowWithRetry(context.Background(), workflow, execution, 3)
	require.NoError(t, err)

	assert.Equal(t, "RETRY_RETRY_campaign-service", final.TriggeredBy)
	assert.Equal(t, models.ExecutionStatusRunning, f.get(t, final.ID).Status)
	assert.Equal(t, models.ExecutionStatusFailed, f.get(t, execution.ID).Status)
	assert.Len(t, f.engine.Requests(), 3)
}

func TestTriggerWorkflowWithRetry_Exhausted(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.engine.err = errors.New("engine service unavailable")

	workflow, execution := f.start(t, "wf-enrich")

	_, err := f.orch.TriggerWorkflowWithRetry(context.Background(), workflow, execution, 2)
	require.ErrorIs(t, err, orchestrator.ErrRetryLimitReached)
	assert.Len(t, f.executions(t, "wf-enrich"), 2)
}

func TestPipeline_ScrapingChainsToEnrichment(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	execution := f.triggered(t, "wf-scrape")

	output := map[string]any{"name": "Ada Lovelace", "email": "ada@example.com"}
	require.NoError(t, f.orch.HandleExecutionWebhook(ctx, execution.ID, models.ExecutionStatusSuccess, output, ""))

	enrichments := f.executions(t, "wf-enrich")
	require.Len(t, enrichments, 1)
	assert.Equal(t, "pipeline:ENRICHMENT", enrichments[0].TriggeredBy)
	assert.Equal(t, "Ada Lovelace", enrichments[0].InputData["name"])
	assert.Equal(t, "ada@example.com", enrichments[0].InputData["email"])

	// Scraping advances exactly one stage.
	assert.Empty(t, f.executions(t, "wf-email"))
}

func TestPipeline_MissingStageWorkflowSkips(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	_, err := f.orch.StartStage(context.Background(), "company-2", leadID, models.StageEmailDrafting, nil)
	assert.ErrorIs(t, err, orchestrator.ErrStepSkipped)
}

func TestSkipStep(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, func(cfg *config.Config) { cfg.Retry.MaxRetries = 0 })
	execution := f.triggered(t, "wf-enrich")

	require.NoError(t, f.orch.HandleExecutionWebhook(ctx, execution.ID, models.ExecutionStatusFailed, nil, "provider returned garbage"))
	require.NoError(t, f.orch.SkipStep(ctx, execution.ID))

	drafts := f.executions(t, "wf-email")
	require.Len(t, drafts, 1)
	assert.Equal(t, "pipeline:EMAIL_DRAFTING", drafts[0].TriggeredBy)
}

func TestInlineExecution(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, nil)
	f.orch.RegisterInlineExecutor(models.WorkflowTypeTargetAudienceTranslator,
		func(_ context.Context, _ string, payload map[string]any) (map[string]any, error) {
			return map[string]any{
				"leads":    []any{"lead-9"},
				"criteria": payload["input"],
			}, nil
		})

	execution := f.triggered(t, "wf-tat")

	assert.Eventually(t, func() bool {
		return f.get(t, execution.ID).Status == models.ExecutionStatusSuccess
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.orch.Shutdown(ctx))

	translated := f.actions(t, audit.ActionAudienceTranslated)
	require.Len(t, translated, 1)
	assert.Equal(t, []any{"lead-9"}, translated[0].Details["leads"])
	assert.Empty(t, f.engine.Requests())
}

func TestInlineExecution_Timeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *config.Config) {
		cfg.InlineTimeout = 20 * time.Millisecond
		cfg.Retry.MaxRetries = 0
	})
	f.orch.RegisterInlineExecutor(models.WorkflowTypeTargetAudienceTranslator,
		func(ctx context.Context, _ string, _ map[string]any) (map[string]any, error) {
			<-ctx.Done()

			return nil, ctx.Err()
		})

	execution := f.triggered(t, "wf-tat")

	require.NoError(t, f.orch.Shutdown(context.Background()))

	stored := f.get(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusTimeout, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "timeout")
}

func TestRecoveryRetryIsDeduplicatedWithGate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := newFixture(t, func(cfg *config.Config) { cfg.Retry.BackoffUnit = time.Hour })

	recoveryEngine := recovery.New(
		f.store.ExecutionRepository(),
		f.providers,
		audit.NewRepositorySink(f.store.ActionLogRepository(), f.clock.Now),
		testutil.DiscardLogger(),
		recovery.WithStrategies(recovery.DefaultStrategies()...),
	)
	recoveryEngine.SetCollaborators(f.orch, f.orch)
	f.orch.SetErrorReporter(recoveryEngine)

	execution := f.triggered(t, "wf-enrich")

	require.NoError(t, f.orch.HandleExecutionWebhook(ctx, execution.ID, models.ExecutionStatusFailed, nil, "network unreachable"))

	assert.Len(t, f.executions(t, "wf-enrich"), 2)
	assert.Equal(t, 1, f.orch.PendingRetries())
}
