package orchestrator

import (
	"context"
	"fmt"

	"github.com/leadpipe/orchestrator/pkg/engine"
	"github.com/leadpipe/orchestrator/pkg/models"
)

// InlineExecutor runs a workflow synchronously and returns its output.
type InlineExecutor func(ctx context.Context, executionID string, payload map[string]any) (map[string]any, error)

// EngineInlineExecutor calls the engine at url and waits for the response body.
func EngineInlineExecutor(caller engine.Caller, url string) InlineExecutor {
	return func(ctx context.Context, executionID string, payload map[string]any) (map[string]any, error) {
		return caller.Call(ctx, engine.Request{
			URL:          url,
			ExecutionID:  executionID,
			WorkflowType: models.WorkflowTypeTargetAudienceTranslator,
			Body:         payload,
		})
	}
}

// RegisterInlineExecutor makes executions of workflowType run through executor instead of
// the asynchronous engine webhook.
func (o *Orchestrator) RegisterInlineExecutor(workflowType models.WorkflowType, executor InlineExecutor) {
	o.handlersMu.Lock()
	defer o.handlersMu.Unlock()

	o.inline[workflowType] = executor
}

func (o *Orchestrator) inlineExecutor(workflowType models.WorkflowType) (InlineExecutor, bool) {
	o.handlersMu.RLock()
	defer o.handlersMu.RUnlock()

	executor, ok := o.inline[workflowType]

	return executor, ok
}

type inlineResult struct {
	output map[string]any
	err    error
}

// runInline waits for the executor's result or the inline timeout, whichever comes first,
// and feeds the outcome back through HandleExecutionWebhook.
func (o *Orchestrator) runInline(ctx context.Context, executionID string, payload map[string]any, executor InlineExecutor) {
	base := context.WithoutCancel(ctx)
	timeout := o.cfg.InlineTimeout

	o.wg.Add(1)

	go func() {
		defer o.wg.Done()

		runCtx, cancel := context.WithTimeout(base, timeout)
		defer cancel()

		done := make(chan inlineResult, 1)

		go func() {
			output, err := executor(runCtx, executionID, payload)
			done <- inlineResult{output: output, err: err}
		}()

		var (
			status  models.ExecutionStatus
			output  map[string]any
			message string
		)

		select {
		case result := <-done:
			if result.err != nil {
				status = models.ExecutionStatusFailed
				message = result.err.Error()
			} else {
				status = models.ExecutionStatusSuccess
				output = result.output
			}
		case <-runCtx.Done():
			status = models.ExecutionStatusTimeout
			message = fmt.Sprintf("inline execution timeout after %s", timeout)
		}

		err := o.HandleExecutionWebhook(base, executionID, status, output, message)
		if err != nil {
			o.logger.ErrorContext(base, "failed to complete inline execution", "execution_id", executionID, "error", err)
		}
	}()
}
