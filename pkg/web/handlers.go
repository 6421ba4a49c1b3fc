package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/leadpipe/orchestrator/pkg/metrics"
	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/leadpipe/orchestrator/pkg/persistence"
	"github.com/leadpipe/orchestrator/pkg/recovery"
	"github.com/leadpipe/orchestrator/pkg/services"
)

type ExecutionReader interface {
	Get(ctx context.Context, executionID string) (*models.WorkflowExecution, error)
}

type AnalyticsReader interface {
	GetErrorAnalytics(ctx context.Context, workflowID string) (*recovery.Analytics, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type APIHandlers struct {
	completion *services.Completion
	executions ExecutionReader
	analytics  AnalyticsReader
	health     HealthChecker
	validator  *validator.Validate
	metrics    metrics.Sink
}

func NewAPIHandlers(
	completion *services.Completion,
	executions ExecutionReader,
	analytics AnalyticsReader,
	health HealthChecker,
	validator *validator.Validate,
	sink metrics.Sink,
) *APIHandlers {
	if sink == nil {
		sink = metrics.NewNoopSink()
	}

	return &APIHandlers{
		completion: completion,
		executions: executions,
		analytics:  analytics,
		health:     health,
		validator:  validator,
		metrics:    sink,
	}
}

// callback binds and validates T, then runs the completion operation.
func callback[T any](h *APIHandlers, route string, run func(ctx context.Context, req T) (*services.Result, error)) fiber.Handler {
	return func(c fiber.Ctx) error {
		var req T

		err := c.Bind().JSON(&req)
		if err != nil {
			h.metrics.GatewayRequest(route, metrics.OutcomeInvalid)

			return badRequest(c, "Invalid JSON format")
		}

		err = h.validator.Struct(req)
		if err != nil {
			h.metrics.GatewayRequest(route, metrics.OutcomeInvalid)

			return invalidFields(c, err)
		}

		result, err := run(c.Context(), req)
		if err != nil {
			outcome := metrics.OutcomeFailed
			if services.IsNotFoundError(err) {
				outcome = metrics.OutcomeNotFound
			}

			h.metrics.GatewayRequest(route, outcome)

			return callbackFailure(c, err)
		}

		h.metrics.GatewayRequest(route, metrics.OutcomeSuccess)

		return c.JSON(fromResult(result))
	}
}

func (h *APIHandlers) CompleteWorkflow() fiber.Handler {
	return callback(h, services.SourceComplete, h.completion.Complete)
}

func (h *APIHandlers) LogWorkflow() fiber.Handler {
	return callback(h, services.SourceLog, h.completion.Log)
}

func (h *APIHandlers) CompleteEnrichment() fiber.Handler {
	return callback(h, services.SourceEnrichment, h.completion.EnrichmentComplete)
}

func (h *APIHandlers) CompleteReply() fiber.Handler {
	return callback(h, services.SourceReplies, h.completion.ReplyComplete)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.executions.Get(c.Context(), id)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return notFound(c, "Execution not found")
		}

		return internalError(c)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) GetWorkflowAnalytics(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	analytics, err := h.analytics.GetErrorAnalytics(c.Context(), id)
	if err != nil {
		return internalError(c)
	}

	return c.JSON(analytics)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "Orchestrator is healthy"
	repositoryCheck := "Persistence layer is healthy"
	httpStatus := http.StatusOK

	err := h.health.HealthCheck(c.Context())
	if err != nil {
		status = "unhealthy"
		message = "Orchestrator is unhealthy"
		repositoryCheck = "Persistence layer is unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
