package orchestrator

import (
	"context"
	"fmt"
	"time"
)

// ScheduleRetry appends the retry record now and triggers it after delay. A second request
// for the same failed execution returns the existing retry until the retry has been triggered.
func (o *Orchestrator) ScheduleRetry(ctx context.Context, executionID string, delay time.Duration) (string, error) {
	o.retryMu.Lock()
	defer o.retryMu.Unlock()

	if o.closed {
		return "", ErrShuttingDown
	}

	if retryID, ok := o.retries[executionID]; ok {
		o.logger.DebugContext(ctx, "retry already scheduled", "execution_id", executionID, "retry_execution_id", retryID)

		return retryID, nil
	}

	failed, err := o.tracker.Get(ctx, executionID)
	if err != nil {
		return "", err
	}

	workflow, err := o.workflows.GetByID(ctx, failed.WorkflowID)
	if err != nil {
		return "", fmt.Errorf("failed to load workflow for retry: %w", err)
	}

	retry, err := o.tracker.CreateRetry(ctx, failed)
	if err != nil {
		return "", err
	}

	o.retries[executionID] = retry.ID
	o.metrics.RetryScheduled(failed.WorkflowType)

	logger := o.logger.With("execution_id", executionID, "retry_execution_id", retry.ID)
	logger.InfoContext(ctx, "retry scheduled", "delay", delay, "retry_count", retry.RetryCount())

	detached := context.WithoutCancel(ctx)

	o.wg.Add(1)
	o.timers[retry.ID] = time.AfterFunc(delay, func() {
		defer o.wg.Done()

		o.retryMu.Lock()
		delete(o.timers, retry.ID)
		o.retryMu.Unlock()

		err := o.TriggerWorkflowExecution(detached, workflow, retry)
		if err != nil {
			logger.ErrorContext(detached, "retry trigger failed", "error", err)
		}

		// The failed execution is terminal by now, so its callbacks can no longer reach the gate.
		o.retryMu.Lock()
		delete(o.retries, executionID)
		o.retryMu.Unlock()
	})

	return retry.ID, nil
}

// PendingRetries returns how many retry timers have not fired yet.
func (o *Orchestrator) PendingRetries() int {
	o.retryMu.Lock()
	defer o.retryMu.Unlock()

	return len(o.timers)
}
