// Package orchestrator drives execution state transitions, success handling,
// pipeline chaining, retries and failure escalation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leadpipe/orchestrator/pkg/audit"
	"github.com/leadpipe/orchestrator/pkg/config"
	"github.com/leadpipe/orchestrator/pkg/engine"
	"github.com/leadpipe/orchestrator/pkg/eventbus"
	"github.com/leadpipe/orchestrator/pkg/events"
	"github.com/leadpipe/orchestrator/pkg/metrics"
	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/leadpipe/orchestrator/pkg/otelhelper"
	"github.com/leadpipe/orchestrator/pkg/persistence"
	"github.com/leadpipe/orchestrator/pkg/providers"
	"github.com/leadpipe/orchestrator/pkg/recovery"
	"github.com/leadpipe/orchestrator/pkg/tracker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const source = "orchestrator"

type Dependencies struct {
	Tracker   *tracker.Tracker
	Workflows persistence.WorkflowRepository
	Leads     persistence.LeadRepository
	Engine    engine.Client
	Providers providers.Store
	Audit     audit.Sink
	Logger    *slog.Logger
}

type Orchestrator struct {
	cfg       *config.Config
	tracker   *tracker.Tracker
	workflows persistence.WorkflowRepository
	leads     persistence.LeadRepository
	engine    engine.Client
	providers providers.Store
	audit     audit.Sink
	logger    *slog.Logger

	publisher eventbus.EventPublisher
	metrics   metrics.Sink
	tracer    trace.Tracer
	now       func() time.Time

	handlersMu      sync.RWMutex
	successHandlers map[models.WorkflowType]SuccessHandler
	inline          map[models.WorkflowType]InlineExecutor

	reporterMu sync.RWMutex
	reporter   recovery.Reporter

	retryMu sync.Mutex
	retries map[string]string // failed execution id -> retry execution id
	timers  map[string]*time.Timer
	closed  bool

	wg sync.WaitGroup
}

type Option func(*Orchestrator)

// WithPublisher publishes ExecutionStatusChanged events for every accepted transition.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(o *Orchestrator) { o.publisher = publisher }
}

func WithMetrics(sink metrics.Sink) Option {
	return func(o *Orchestrator) { o.metrics = sink }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithErrorReporter(reporter recovery.Reporter) Option {
	return func(o *Orchestrator) { o.reporter = reporter }
}

func New(cfg *config.Config, deps Dependencies, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:             cfg,
		tracker:         deps.Tracker,
		workflows:       deps.Workflows,
		leads:           deps.Leads,
		engine:          deps.Engine,
		providers:       deps.Providers,
		audit:           deps.Audit,
		logger:          deps.Logger.With("module", "orchestrator"),
		metrics:         metrics.NewNoopSink(),
		tracer:          otelhelper.NoopTracer(),
		now:             time.Now,
		successHandlers: make(map[models.WorkflowType]SuccessHandler),
		inline:          make(map[models.WorkflowType]InlineExecutor),
		retries:         make(map[string]string),
		timers:          make(map[string]*time.Timer),
	}

	for _, opt := range opts {
		opt(o)
	}

	o.registerDefaultHandlers()

	if caller, ok := deps.Engine.(engine.Caller); ok {
		if url, ok := cfg.WebhookURL(models.WorkflowTypeTargetAudienceTranslator); ok {
			o.RegisterInlineExecutor(models.WorkflowTypeTargetAudienceTranslator, EngineInlineExecutor(caller, url))
		}
	}

	return o
}

// SetErrorReporter wires the recovery engine once it has been built.
func (o *Orchestrator) SetErrorReporter(reporter recovery.Reporter) {
	o.reporterMu.Lock()
	defer o.reporterMu.Unlock()

	o.reporter = reporter
}

func (o *Orchestrator) errorReporter() recovery.Reporter {
	o.reporterMu.RLock()
	defer o.reporterMu.RUnlock()

	return o.reporter
}

// TriggerWorkflowExecution builds the engine payload, marks the execution RUNNING and
// invokes the engine. Build or invocation failures mark it FAILED and are returned.
func (o *Orchestrator) TriggerWorkflowExecution(ctx context.Context, workflow *models.Workflow, execution *models.WorkflowExecution) error {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "orchestrator.trigger",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.String(otelhelper.WorkflowTypeKey, string(workflow.Type)),
		attribute.String(otelhelper.CompanyIDKey, execution.CompanyID),
	)
	defer span.End()

	logger := o.logger.With("execution_id", execution.ID, "workflow_id", workflow.ID, "workflow_type", workflow.Type)

	executor, inline := o.inlineExecutor(workflow.Type)

	url, hasURL := o.cfg.WebhookURL(workflow.Type)
	if !inline && !hasURL {
		logger.WarnContext(ctx, "no webhook configured for workflow type, skipping")

		return fmt.Errorf("%w: no webhook configured for %s", ErrStepSkipped, workflow.Type)
	}

	payload, err := o.buildPayload(ctx, workflow, execution)
	if err != nil {
		otelhelper.SetError(span, err)

		return o.failTrigger(ctx, logger, execution, fmt.Errorf("failed to build payload: %w", err))
	}

	_, err = o.transition(ctx, tracker.UpdateParams{ExecutionID: execution.ID, Status: models.ExecutionStatusRunning})
	if err != nil {
		otelhelper.SetError(span, err)

		return fmt.Errorf("failed to mark execution running: %w", err)
	}

	if inline {
		o.runInline(ctx, execution.ID, payload, executor)
		logger.InfoContext(ctx, "inline execution started")

		return nil
	}

	err = o.engine.Invoke(ctx, engine.Request{
		URL:          url,
		ExecutionID:  execution.ID,
		WorkflowType: workflow.Type,
		Body:         payload,
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return o.failTrigger(ctx, logger, execution, err)
	}

	logger.InfoContext(ctx, "workflow execution triggered")

	return nil
}

func (o *Orchestrator) failTrigger(ctx context.Context, logger *slog.Logger, execution *models.WorkflowExecution, cause error) error {
	o.metrics.TriggerFailed(execution.WorkflowType)
	logger.ErrorContext(ctx, "workflow trigger failed", "error", cause)

	_, err := o.transition(ctx, tracker.UpdateParams{
		ExecutionID:  execution.ID,
		Status:       models.ExecutionStatusFailed,
		ErrorMessage: cause.Error(),
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to mark execution failed", "error", err)
	}

	return fmt.Errorf("failed to trigger execution %s: %w", execution.ID, cause)
}

// TriggerWorkflowWithRetry attempts the trigger up to attempts times, waiting 2^attempt
// backoff units between tries. Each retry is a fresh RETRY_ record.
func (o *Orchestrator) TriggerWorkflowWithRetry(
	ctx context.Context,
	workflow *models.Workflow,
	execution *models.WorkflowExecution,
	attempts int,
) (*models.WorkflowExecution, error) {
	if attempts < 1 {
		attempts = 1
	}

	current := execution

	var lastErr error

	for attempt := range attempts {
		if attempt > 0 {
			timer := time.NewTimer(backoff(o.cfg.Retry.BackoffUnit, attempt))

			select {
			case <-ctx.Done():
				timer.Stop()

				return current, ctx.Err()
			case <-timer.C:
			}

			retry, err := o.tracker.CreateRetry(ctx, current)
			if err != nil {
				return current, err
			}

			current = retry
		}

		err := o.TriggerWorkflowExecution(ctx, workflow, current)
		if err == nil || errors.Is(err, ErrStepSkipped) || errors.Is(err, ErrPersonaRequired) {
			return current, err
		}

		lastErr = err
		o.logger.WarnContext(ctx, "trigger attempt failed",
			"execution_id", current.ID,
			"attempt", attempt+1,
			"attempts", attempts,
			"error", err)
	}

	return current, fmt.Errorf("%w after %d attempts: %w", ErrRetryLimitReached, attempts, lastErr)
}

// HandleExecutionWebhook is the single entry point for status changes reported by the engine.
// Callbacks for executions already in a terminal status are acknowledged without effect.
func (o *Orchestrator) HandleExecutionWebhook(
	ctx context.Context,
	executionID string,
	status models.ExecutionStatus,
	outputData map[string]any,
	errorMessage string,
) error {
	ctx, span := otelhelper.StartSpan(ctx, o.tracer, "orchestrator.webhook",
		attribute.String(otelhelper.ExecutionIDKey, executionID),
		attribute.String(otelhelper.StatusKey, string(status)),
	)
	defer span.End()

	if !status.IsValid() || status == models.ExecutionStatusLogged || status == models.ExecutionStatusStarted {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	if status == models.ExecutionStatusTimeout && errorMessage == "" {
		errorMessage = "execution timed out"
	}

	updated, err := o.transition(ctx, tracker.UpdateParams{
		ExecutionID:  executionID,
		Status:       status,
		OutputData:   outputData,
		ErrorMessage: errorMessage,
	})
	if persistence.IsExecutionTerminal(err) {
		o.metrics.DuplicateCallback()
		o.logger.InfoContext(ctx, "ignoring callback for terminal execution", "execution_id", executionID, "status", status)

		return nil
	}

	if err != nil {
		otelhelper.SetError(span, err)

		return err
	}

	switch {
	case updated.Status == models.ExecutionStatusSuccess:
		return o.HandleSuccessfulExecution(ctx, executionID, outputData)
	case updated.Status.IsFailure():
		return o.HandleFailedExecution(ctx, executionID, updated.ErrorMessage)
	default:
		return nil
	}
}

// HandleSuccessfulExecution runs the workflow type's success handler, then advances the
// pipeline. Handler and pipeline failures are logged, not returned.
func (o *Orchestrator) HandleSuccessfulExecution(ctx context.Context, executionID string, outputData map[string]any) error {
	execution, err := o.tracker.Get(ctx, executionID)
	if err != nil {
		return err
	}

	workflow, err := o.workflows.GetByID(ctx, execution.WorkflowID)
	if err != nil {
		// SUCCESS is already recorded.
		o.logger.ErrorContext(ctx, "failed to load workflow for successful execution",
			"execution_id", executionID, "workflow_id", execution.WorkflowID, "error", err)

		return nil
	}

	logger := o.logger.With("execution_id", executionID, "workflow_id", workflow.ID, "workflow_type", workflow.Type)

	if handler, ok := o.successHandler(workflow.Type); ok {
		err = handler(ctx, execution, workflow, outputData)
		if err != nil {
			logger.ErrorContext(ctx, "success handler failed", "error", err)
		}
	}

	next, err := o.Advance(ctx, workflow, execution, outputData)

	switch {
	case errors.Is(err, ErrStepSkipped):
		logger.WarnContext(ctx, "pipeline step skipped", "reason", err)
	case err != nil:
		logger.ErrorContext(ctx, "pipeline continuation failed", "error", err)
	case next != nil:
		logger.InfoContext(ctx, "pipeline advanced", "next_execution_id", next.ID)
	}

	return nil
}

// HandleFailedExecution audits the failure, applies the retry and critical gates
// independently, then reports the failure to the recovery engine.
func (o *Orchestrator) HandleFailedExecution(ctx context.Context, executionID, errorMessage string) error {
	execution, err := o.tracker.Get(ctx, executionID)
	if err != nil {
		return err
	}

	logger := o.logger.With("execution_id", executionID, "workflow_type", execution.WorkflowType)
	retryCount := execution.RetryCount()

	o.record(ctx, audit.Entry{
		CompanyID:   execution.CompanyID,
		LeadID:      execution.LeadID,
		ExecutionID: executionID,
		Action:      audit.ActionExecutionFailed,
		Source:      source,
		Level:       models.ActionLevelWarning,
		Details: map[string]any{
			"workflowId":   execution.WorkflowID,
			"workflowType": string(execution.WorkflowType),
			"status":       string(execution.Status),
			"error":        errorMessage,
			"retryCount":   retryCount,
		},
	})

	if ShouldRetry(errorMessage) {
		if retryCount < o.cfg.Retry.MaxRetries {
			_, err = o.ScheduleRetry(ctx, executionID, backoff(o.cfg.Retry.BackoffUnit, retryCount))
			if err != nil {
				logger.ErrorContext(ctx, "failed to schedule retry", "error", err)
			}
		} else {
			logger.WarnContext(ctx, "retry limit reached", "retry_count", retryCount, "max_retries", o.cfg.Retry.MaxRetries)
		}
	}

	if IsCriticalFailure(errorMessage) {
		logger.ErrorContext(ctx, "critical workflow failure", "error", errorMessage)
		o.record(ctx, audit.Entry{
			CompanyID:   execution.CompanyID,
			LeadID:      execution.LeadID,
			ExecutionID: executionID,
			Action:      audit.ActionAdminAlert,
			Source:      source,
			Level:       models.ActionLevelCritical,
			Details: map[string]any{
				"workflowType": string(execution.WorkflowType),
				"error":        errorMessage,
			},
		})
	}

	reporter := o.errorReporter()
	if reporter == nil {
		return nil
	}

	err = reporter.ReportError(ctx, recovery.ErrorContext{
		ExecutionID:  executionID,
		WorkflowID:   execution.WorkflowID,
		WorkflowType: execution.WorkflowType,
		CompanyID:    execution.CompanyID,
		LeadID:       execution.LeadID,
		Err:          &FailureError{ExecutionID: executionID, Message: errorMessage},
		Timestamp:    o.now(),
		RetryCount:   retryCount,
		InputData:    execution.InputData,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to report error to recovery", "error", err)
	}

	return nil
}

// transition applies a status change and emits metrics and the lifecycle event.
func (o *Orchestrator) transition(ctx context.Context, params tracker.UpdateParams) (*models.WorkflowExecution, error) {
	updated, err := o.tracker.UpdateStatus(ctx, params)
	if err != nil {
		return nil, err
	}

	o.metrics.ExecutionTransitioned(updated.WorkflowType, updated.Status, updated.DurationMs)

	if o.publisher != nil {
		event := &events.ExecutionStatusChanged{
			BaseEvent:    events.NewBaseEvent(events.ExecutionStatusChangedEvent, updated.CompanyID),
			ExecutionID:  updated.ID,
			WorkflowID:   updated.WorkflowID,
			WorkflowType: updated.WorkflowType,
			LeadID:       updated.LeadID,
			Status:       updated.Status,
			DurationMs:   updated.DurationMs,
			ErrorMessage: updated.ErrorMessage,
		}

		err = o.publisher.Publish(ctx, updated.ID, event)
		if err != nil {
			o.logger.WarnContext(ctx, "failed to publish status event", "execution_id", updated.ID, "error", err)
		}
	}

	return updated, nil
}

func (o *Orchestrator) record(ctx context.Context, entry audit.Entry) {
	err := o.audit.Record(ctx, entry)
	if err != nil {
		o.logger.WarnContext(ctx, "failed to record audit entry", "action", entry.Action, "error", err)
	}
}

// Shutdown stops pending retry timers and waits for in-flight inline executions.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.retryMu.Lock()
	o.closed = true

	for id, timer := range o.timers {
		if timer.Stop() {
			o.wg.Done()
		}

		delete(o.timers, id)
	}
	o.retryMu.Unlock()

	done := make(chan struct{})

	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// backoff returns 2^n units.
func backoff(unit time.Duration, n int) time.Duration {
	return unit * time.Duration(int64(1)<<n)
}
