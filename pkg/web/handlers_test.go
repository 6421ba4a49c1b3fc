package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/leadpipe/orchestrator/pkg/audit"
	"github.com/leadpipe/orchestrator/pkg/metrics"
	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/leadpipe/orchestrator/pkg/persistence/file"
	"github.com/leadpipe/orchestrator/pkg/providers"
	"github.com/leadpipe/orchestrator/pkg/recovery"
	"github.com/leadpipe/orchestrator/pkg/services"
	"github.com/leadpipe/orchestrator/pkg/testutil"
	"github.com/leadpipe/orchestrator/pkg/tracker"
	"github.com/leadpipe/orchestrator/pkg/web"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOrchestrator struct {
	err error
}

func (s *stubOrchestrator) HandleExecutionWebhook(context.Context, string, models.ExecutionStatus, map[string]any, string) error {
	return s.err
}

func (s *stubOrchestrator) StartStage(context.Context, string, string, models.Stage, map[string]any) (*models.WorkflowExecution, error) {
	return &models.WorkflowExecution{ID: "draft-1"}, nil
}

type testApp struct {
	app          *fiber.App
	store        *file.Persistence
	tracker      *tracker.Tracker
	orchestrator *stubOrchestrator
	registry     *prometheus.Registry
}

func setupTestApp(t *testing.T) *testApp {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	logger := testutil.DiscardLogger()
	tr := tracker.New(store.ExecutionRepository(), logger)
	sink := audit.NewRepositorySink(store.ActionLogRepository(), time.Now)
	orch := &stubOrchestrator{}
	reg := prometheus.NewRegistry()

	completion := services.NewCompletion(services.CompletionDependencies{
		Orchestrator: orch,
		Tracker:      tr,
		Executions:   store.ExecutionRepository(),
		Leads:        store.LeadRepository(),
		Replies:      store.ReplyRepository(),
		Bookings:     store.BookingRepository(),
		Audit:        sink,
		Logger:       logger,
	})

	recoveryEngine := recovery.New(store.ExecutionRepository(), providers.NewMemoryStore(), sink, logger)

	handlers := web.NewAPIHandlers(completion, tr, recoveryEngine, store, web.NewValidator(), metrics.NewPrometheusSink(reg, logger))

	return &testApp{
		app:          web.NewApp(handlers),
		store:        store,
		tracker:      tr,
		orchestrator: orch,
		registry:     reg,
	}
}

func (a *testApp) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader

	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)

		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp.StatusCode, data
}

func TestCompleteWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		body           any
		expectedStatus int
		validate       func(t *testing.T, body []byte)
	}{
		{
			name: "no open execution is acknowledged",
			body: map[string]any{
				"workflowId": "wf-1",
				"leadId":     "lead-1",
				"companyId":  "company-1",
				"status":     "SUCCESS",
			},
			expectedStatus: http.StatusOK,
			validate: func(t *testing.T, body []byte) {
				t.Helper()

				var resp web.CallbackResponse

				require.NoError(t, json.Unmarshal(body, &resp))
				assert.True(t, resp.Success)
			},
		},
		{
			name:           "malformed json",
			body:           `{"workflowId": `,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "missing fields and bad status",
			body: map[string]any{
				"leadId": "lead-1",
				"status": "RUNNING",
			},
			expectedStatus: http.StatusBadRequest,
			validate: func(t *testing.T, body []byte) {
				t.Helper()

				var problem struct {
					Type   string            `json:"type"`
					Errors map[string]string `json:"errors"`
				}

				require.NoError(t, json.Unmarshal(body, &problem))
				assert.Equal(t, "validation_error", problem.Type)
				assert.Equal(t, "is required", problem.Errors["workflowId"])
				assert.Equal(t, "is required", problem.Errors["companyId"])
				assert.Contains(t, problem.Errors["status"], "must be one of")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app := setupTestApp(t)

			status, body := app.do(t, http.MethodPost, "/workflows/complete", tt.body)
			assert.Equal(t, tt.expectedStatus, status, string(body))

			if tt.validate != nil {
				tt.validate(t, body)
			}
		})
	}
}

func TestCompleteWorkflow_ProcessingFailureIsGeneric(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)
	app.orchestrator.err = errors.New("pq: password authentication failed for user orchestrator")

	ctx := context.Background()

	execution, err := app.tracker.Create(ctx, tracker.CreateParams{WorkflowID: "wf-1", LeadID: "lead-1", CompanyID: "company-1"})
	require.NoError(t, err)

	_, err = app.tracker.UpdateStatus(ctx, tracker.UpdateParams{ExecutionID: execution.ID, Status: models.ExecutionStatusRunning})
	require.NoError(t, err)

	status, body := app.do(t, http.MethodPost, "/workflows/complete", map[string]any{
		"workflowId": "wf-1",
		"leadId":     "lead-1",
		"companyId":  "company-1",
		"status":     "FAILED",
	})
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.NotContains(t, string(body), "password")

	var resp web.CallbackResponse

	require.NoError(t, json.Unmarshal(body, &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "failed to process request", resp.Error)

	count, err := promtest.GatherAndCount(app.registry, "orchestrator_gateway_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLogWorkflow(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := app.do(t, http.MethodPost, "/workflows/log", map[string]any{
		"leadId":     "lead-1",
		"companyId":  "company-1",
		"nodeName":   "draft-email",
		"outputData": map[string]any{"tokens": 120},
		"timestamp":  "2026-05-04T10:00:00Z",
	})
	require.Equal(t, http.StatusOK, status, string(body))

	var resp web.CallbackResponse

	require.NoError(t, json.Unmarshal(body, &resp))

	entry, err := app.tracker.Get(context.Background(), resp.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusLogged, entry.Status)
}

func TestCompleteEnrichment_UnknownLead(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := app.do(t, http.MethodPost, "/workflows/enrichment/complete", map[string]any{
		"leadId":    "lead-404",
		"companyId": "company-1",
		"status":    "SUCCESS",
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.JSONEq(t, `{"success":false,"error":"lead not found"}`, string(body))
}

func TestCompleteEnrichment_Success(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app := setupTestApp(t)
	require.NoError(t, app.store.LeadRepository().Save(ctx, &models.Lead{ID: "lead-1", CompanyID: "company-1"}))

	status, body := app.do(t, http.MethodPost, "/workflows/enrichment/complete", map[string]any{
		"leadId":       "lead-1",
		"companyId":    "company-1",
		"status":       "SUCCESS",
		"enrichedData": map[string]any{"title": "VP Sales"},
	})
	require.Equal(t, http.StatusOK, status, string(body))

	lead, err := app.store.LeadRepository().GetByID(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "VP Sales", lead.EnrichmentData["title"])
}

func TestCompleteReply_UnknownReply(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := app.do(t, http.MethodPost, "/workflows/replies/complete", map[string]any{
		"leadId":     "lead-1",
		"replyId":    "reply-404",
		"companyId":  "company-1",
		"outputData": map[string]any{"interested": true},
	})
	assert.Equal(t, http.StatusNotFound, status)
	assert.JSONEq(t, `{"success":false,"error":"reply not found"}`, string(body))
}

func TestGetExecution(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	execution, err := app.tracker.Create(context.Background(), tracker.CreateParams{
		WorkflowID:   "wf-1",
		CompanyID:    "company-1",
		WorkflowType: models.WorkflowTypeLeadRouting,
		TriggeredBy:  "campaign-service",
	})
	require.NoError(t, err)

	status, body := app.do(t, http.MethodGet, "/executions/"+execution.ID, nil)
	require.Equal(t, http.StatusOK, status)

	var fetched models.WorkflowExecution

	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, execution.ID, fetched.ID)
	assert.Equal(t, models.ExecutionStatusStarted, fetched.Status)

	status, _ = app.do(t, http.MethodGet, "/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestGetWorkflowAnalytics(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := app.do(t, http.MethodGet, "/workflows/wf-1/analytics", nil)
	require.Equal(t, http.StatusOK, status)

	var analytics recovery.Analytics

	require.NoError(t, json.Unmarshal(body, &analytics))
	assert.Equal(t, "wf-1", analytics.WorkflowID)
	assert.Equal(t, 0, analytics.TotalErrors)
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	app := setupTestApp(t)

	status, body := app.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), `"status":"healthy"`)

	status, _ = app.do(t, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, status)
}
