package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leadpipe/orchestrator/pkg/audit"
	"github.com/leadpipe/orchestrator/pkg/models"
)

const (
	defaultRetryBackoffMs = 1000
	defaultRetryLimit     = 3
	recoverySource        = "recovery"
)

type actionHandler func(ctx context.Context, e *Engine, logger *slog.Logger, params map[string]any, ec ErrorContext, state *actionState) error

var actionHandlers = map[models.ActionType]actionHandler{
	models.ActionRetry:              retryAction,
	models.ActionFallbackProvider:   fallbackProviderAction,
	models.ActionSkipStep:           skipStepAction,
	models.ActionManualIntervention: manualInterventionAction,
	models.ActionNotifyAdmin:        notifyAdminAction,
}

// RetryDelay is backoffMs * 2^retryCount.
func RetryDelay(backoffMs float64, retryCount int) time.Duration {
	return time.Duration(backoffMs*float64(int64(1)<<retryCount)) * time.Millisecond
}

func retryAction(ctx context.Context, e *Engine, logger *slog.Logger, params map[string]any, ec ErrorContext, state *actionState) error {
	backoffMs := floatParam(params, "backoffMs", defaultRetryBackoffMs)
	maxRetries := int(floatParam(params, "maxRetries", defaultRetryLimit))

	if ec.ExecutionID == "" {
		return ErrNoExecution
	}

	if ec.RetryCount >= maxRetries {
		logger.InfoContext(ctx, "retry limit reached, skipping retry action", "max_retries", maxRetries)

		return nil
	}

	e.mu.RLock()
	retrier := e.retrier
	e.mu.RUnlock()

	if retrier == nil {
		return ErrNoRetrier
	}

	delay := RetryDelay(backoffMs, ec.RetryCount)

	retryID, err := retrier.ScheduleRetry(ctx, ec.ExecutionID, delay)
	if err != nil {
		return err
	}

	state.retryExecutionID = retryID
	logger.InfoContext(ctx, "retry scheduled by recovery", "retry_execution_id", retryID, "delay", delay)

	return nil
}

func fallbackProviderAction(ctx context.Context, e *Engine, logger *slog.Logger, params map[string]any, ec ErrorContext, _ *actionState) error {
	current, err := e.providers.Current(ctx, ec.CompanyID, ec.WorkflowType)
	if err != nil {
		return err
	}

	next := stringParam(params, "provider")
	if next == "" {
		for _, candidate := range stringsParam(params, "fallbacks") {
			if candidate != current {
				next = candidate

				break
			}
		}
	}

	if next == "" || next == current {
		return ErrNoFallbackOption
	}

	err = e.providers.Set(ctx, ec.CompanyID, ec.WorkflowType, next)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "switched data provider", "from", current, "to", next)

	return nil
}

func skipStepAction(ctx context.Context, e *Engine, logger *slog.Logger, params map[string]any, ec ErrorContext, _ *actionState) error {
	e.mu.RLock()
	skipper := e.skipper
	e.mu.RUnlock()

	if skipper == nil {
		return ErrNoStepSkipper
	}

	if ec.ExecutionID == "" {
		return ErrNoExecution
	}

	err := e.audit.Record(ctx, audit.Entry{
		CompanyID:   ec.CompanyID,
		LeadID:      ec.LeadID,
		ExecutionID: ec.ExecutionID,
		Action:      audit.ActionStepSkipped,
		Source:      recoverySource,
		Level:       models.ActionLevelWarning,
		Details:     map[string]any{"workflowType": string(ec.WorkflowType), "error": ec.Message(), "reason": stringParam(params, "reason")},
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to audit skipped step", "error", err)
	}

	return skipper.SkipStep(ctx, ec.ExecutionID)
}

func manualInterventionAction(ctx context.Context, e *Engine, _ *slog.Logger, params map[string]any, ec ErrorContext, _ *actionState) error {
	return e.audit.Record(ctx, audit.Entry{
		CompanyID:   ec.CompanyID,
		LeadID:      ec.LeadID,
		ExecutionID: ec.ExecutionID,
		Action:      audit.ActionManualInterventionRequired,
		Source:      recoverySource,
		Level:       models.ActionLevelWarning,
		Details: map[string]any{
			"workflowId":   ec.WorkflowID,
			"workflowType": string(ec.WorkflowType),
			"error":        ec.Message(),
			"retryCount":   ec.RetryCount,
			"reason":       stringParam(params, "reason"),
		},
	})
}

func notifyAdminAction(ctx context.Context, e *Engine, logger *slog.Logger, params map[string]any, ec ErrorContext, _ *actionState) error {
	level := models.ActionLevel(stringParam(params, "severity"))

	slogLevel := slog.LevelWarn

	switch level {
	case models.ActionLevelCritical:
		slogLevel = slog.LevelError
	case models.ActionLevelInfo:
		slogLevel = slog.LevelInfo
	default:
		level = models.ActionLevelWarning
	}

	message := stringParam(params, "message")
	if message == "" {
		message = fmt.Sprintf("workflow %s failed after %d retries: %s", ec.WorkflowType, ec.RetryCount, ec.Message())
	}

	logger.Log(ctx, slogLevel, "admin notification", "severity", level, "message", message)

	return e.audit.Record(ctx, audit.Entry{
		CompanyID:   ec.CompanyID,
		LeadID:      ec.LeadID,
		ExecutionID: ec.ExecutionID,
		Action:      audit.ActionRecoveryNotification,
		Source:      recoverySource,
		Level:       level,
		Details:     map[string]any{"message": message, "workflowType": string(ec.WorkflowType)},
	})
}

func floatParam(params map[string]any, name string, fallback float64) float64 {
	if value, ok := toFloat(params[name]); ok {
		return value
	}

	return fallback
}

func stringParam(params map[string]any, name string) string {
	value, _ := params[name].(string)

	return value
}

func stringsParam(params map[string]any, name string) []string {
	switch values := params[name].(type) {
	case []string:
		return values
	case []any:
		result := make([]string, 0, len(values))

		for _, value := range values {
			if s, ok := value.(string); ok {
				result = append(result, s)
			}
		}

		return result
	default:
		return nil
	}
}
