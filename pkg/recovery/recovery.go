// Package recovery matches failed executions against prioritized strategies and
// executes their corrective actions.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/leadpipe/orchestrator/pkg/audit"
	"github.com/leadpipe/orchestrator/pkg/metrics"
	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/leadpipe/orchestrator/pkg/persistence"
	"github.com/leadpipe/orchestrator/pkg/providers"
)

// ErrorContext describes one failure handed to the engine.
type ErrorContext struct {
	ExecutionID  string
	WorkflowID   string
	WorkflowType models.WorkflowType
	CompanyID    string
	LeadID       string
	Err          error
	Timestamp    time.Time
	RetryCount   int
	InputData    map[string]any
}

// Message returns the error text, or "" when Err is nil.
func (ec ErrorContext) Message() string {
	if ec.Err == nil {
		return ""
	}

	return ec.Err.Error()
}

// Reporter is the error-notification path into the engine.
type Reporter interface {
	ReportError(ctx context.Context, ec ErrorContext) error
}

// Retrier schedules a retry of a failed execution and returns the retry record id.
type Retrier interface {
	ScheduleRetry(ctx context.Context, executionID string, delay time.Duration) (string, error)
}

// StepSkipper advances the pipeline past a failed execution's stage.
type StepSkipper interface {
	SkipStep(ctx context.Context, executionID string) error
}

// Result summarizes one HandleError run.
type Result struct {
	Matched          []string
	Applied          []string
	Resolved         bool
	RetryExecutionID string
}

type Engine struct {
	executions persistence.ExecutionRepository
	providers  providers.Store
	audit      audit.Sink
	logger     *slog.Logger
	metrics    metrics.Sink
	now        func() time.Time

	retrier Retrier
	skipper StepSkipper

	mu         sync.RWMutex
	strategies []models.RecoveryStrategy
	patterns   sync.Map // map[string]*regexp.Regexp
}

type Option func(*Engine)

func WithMetrics(sink metrics.Sink) Option {
	return func(e *Engine) { e.metrics = sink }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithStrategies(strategies ...models.RecoveryStrategy) Option {
	return func(e *Engine) { e.strategies = append(e.strategies, strategies...) }
}

// WithRetrier and WithStepSkipper are usually satisfied by the orchestrator.
func WithRetrier(retrier Retrier) Option {
	return func(e *Engine) { e.retrier = retrier }
}

func WithStepSkipper(skipper StepSkipper) Option {
	return func(e *Engine) { e.skipper = skipper }
}

func New(
	executions persistence.ExecutionRepository,
	store providers.Store,
	sink audit.Sink,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	e := &Engine{
		executions: executions,
		providers:  store,
		audit:      sink,
		logger:     logger.With("module", "recovery"),
		metrics:    metrics.NewNoopSink(),
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// SetCollaborators wires the orchestrator after both sides are constructed.
func (e *Engine) SetCollaborators(retrier Retrier, skipper StepSkipper) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.retrier = retrier
	e.skipper = skipper
}

func (e *Engine) AddRecoveryStrategy(strategy models.RecoveryStrategy) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.strategies = append(e.strategies, strategy)
}

// Strategies returns a copy of the registered strategies.
func (e *Engine) Strategies() []models.RecoveryStrategy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return append([]models.RecoveryStrategy(nil), e.strategies...)
}

// ReportError runs HandleError synchronously.
func (e *Engine) ReportError(ctx context.Context, ec ErrorContext) error {
	e.HandleError(ctx, ec)

	return nil
}

// HandleError applies every matching strategy in descending priority until the
// execution is observed as SUCCESS. A failing strategy does not stop the next one.
func (e *Engine) HandleError(ctx context.Context, ec ErrorContext) Result {
	if ec.Timestamp.IsZero() {
		ec.Timestamp = e.now()
	}

	logger := e.logger.With(
		"execution_id", ec.ExecutionID,
		"workflow_id", ec.WorkflowID,
		"workflow_type", ec.WorkflowType,
		"company_id", ec.CompanyID,
		"retry_count", ec.RetryCount,
	)

	logger.ErrorContext(ctx, "workflow error received", "error", ec.Message())

	result := Result{}
	matched := e.matching(ec)

	if len(matched) == 0 {
		logger.WarnContext(ctx, "no recovery strategy matched")

		return result
	}

	state := &actionState{}

	for _, strategy := range matched {
		result.Matched = append(result.Matched, strategy.ID)

		err := e.applyStrategy(ctx, logger, strategy, ec, state)
		if state.retryExecutionID != "" {
			result.RetryExecutionID = state.retryExecutionID
		}

		if err != nil {
			logger.ErrorContext(ctx, "recovery strategy failed", "strategy", strategy.ID, "error", err)
			e.metrics.RecoveryStrategyApplied(strategy.ID, false)

			continue
		}

		result.Applied = append(result.Applied, strategy.ID)

		if state.resolved {
			result.Resolved = true
			e.metrics.RecoveryStrategyApplied(strategy.ID, true)
			logger.InfoContext(ctx, "execution recovered", "strategy", strategy.ID)

			return result
		}

		e.metrics.RecoveryStrategyApplied(strategy.ID, false)
	}

	return result
}

func (e *Engine) matching(ec ErrorContext) []models.RecoveryStrategy {
	e.mu.RLock()
	candidates := append([]models.RecoveryStrategy(nil), e.strategies...)
	e.mu.RUnlock()

	matched := make([]models.RecoveryStrategy, 0, len(candidates))

	for _, strategy := range candidates {
		if e.matches(strategy, ec) {
			matched = append(matched, strategy)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority > matched[j].Priority
	})

	return matched
}

func (e *Engine) matches(strategy models.RecoveryStrategy, ec ErrorContext) bool {
	for _, condition := range strategy.Conditions {
		if !e.evaluate(condition, ec) {
			return false
		}
	}

	return true
}

type actionState struct {
	retryExecutionID string
	resolved         bool
}

func (e *Engine) applyStrategy(
	ctx context.Context,
	logger *slog.Logger,
	strategy models.RecoveryStrategy,
	ec ErrorContext,
	state *actionState,
) error {
	logger.InfoContext(ctx, "applying recovery strategy", "strategy", strategy.ID, "priority", strategy.Priority)

	for _, action := range strategy.Actions {
		err := e.runAction(ctx, logger, action, ec, state)
		if err != nil {
			return fmt.Errorf("action %s: %w", action.Type, err)
		}

		if e.isResolved(ctx, ec, state) {
			state.resolved = true

			return nil
		}
	}

	return nil
}

func (e *Engine) runAction(
	ctx context.Context,
	logger *slog.Logger,
	action models.RecoveryAction,
	ec ErrorContext,
	state *actionState,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrActionPanicked, r)
		}
	}()

	handler, ok := actionHandlers[action.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAction, action.Type)
	}

	return handler(ctx, e, logger, action.Params, ec, state)
}

// isResolved re-reads the newest execution in the lineage.
func (e *Engine) isResolved(ctx context.Context, ec ErrorContext, state *actionState) bool {
	id := ec.ExecutionID
	if state.retryExecutionID != "" {
		id = state.retryExecutionID
	}

	if id == "" {
		return false
	}

	execution, err := e.executions.GetByID(ctx, id)
	if err != nil {
		return false
	}

	return execution.Status == models.ExecutionStatusSuccess
}

var (
	ErrUnknownAction     = errors.New("unknown recovery action")
	ErrActionPanicked    = errors.New("recovery action panicked")
	ErrNoRetrier         = errors.New("no retrier configured")
	ErrNoStepSkipper     = errors.New("no step skipper configured")
	ErrNoExecution       = errors.New("error context has no execution")
	ErrNoFallbackOption  = errors.New("no fallback provider available")
	ErrInvalidStrategies = errors.New("invalid recovery strategies")
)

// ReportedError rebuilds an error received over the event bus, keeping its kind.
type ReportedError struct {
	kind    string
	message string
}

func NewReportedError(kind, message string) *ReportedError {
	return &ReportedError{kind: kind, message: message}
}

func (e *ReportedError) Error() string { return e.message }

func (e *ReportedError) Kind() string { return e.kind }
