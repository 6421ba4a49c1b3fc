package recovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/leadpipe/orchestrator/pkg/models"
)

const AnalyticsWindow = 30 * 24 * time.Hour

type Analytics struct {
	WorkflowID              string    `json:"workflowId"`
	Since                   time.Time `json:"since"`
	TotalErrors             int       `json:"totalErrors"`
	ResolvedErrors          int       `json:"resolvedErrors"`
	UnresolvedErrors        int       `json:"unresolvedErrors"`
	AverageResolutionTimeMs int64     `json:"averageResolutionTimeMs"`
	MostCommonError         string    `json:"mostCommonError,omitempty"`
	RecoverySuccessRate     float64   `json:"recoverySuccessRate"`
}

// GetErrorAnalytics summarizes failures of a workflow over the last 30 days. A failure
// counts as resolved when a later execution for the same lead and company succeeded.
func (e *Engine) GetErrorAnalytics(ctx context.Context, workflowID string) (*Analytics, error) {
	since := e.now().Add(-AnalyticsWindow)

	executions, err := e.executions.ListByWorkflowSince(ctx, workflowID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	analytics := &Analytics{WorkflowID: workflowID, Since: since}
	messages := map[string]int{}

	var totalResolution time.Duration

	for _, failure := range executions {
		if !failure.Status.IsFailure() {
			continue
		}

		analytics.TotalErrors++

		message := failure.ErrorMessage
		if message == "" {
			message = "unknown error"
		}

		messages[message]++

		resolvedAt, ok := laterSuccess(executions, failure)
		if !ok {
			continue
		}

		analytics.ResolvedErrors++
		totalResolution += resolvedAt.Sub(finishedAt(failure))
	}

	analytics.UnresolvedErrors = analytics.TotalErrors - analytics.ResolvedErrors

	if analytics.ResolvedErrors > 0 {
		analytics.AverageResolutionTimeMs = (totalResolution / time.Duration(analytics.ResolvedErrors)).Milliseconds()
	}

	if analytics.TotalErrors > 0 {
		analytics.RecoverySuccessRate = float64(analytics.ResolvedErrors) / float64(analytics.TotalErrors)
	}

	analytics.MostCommonError = mostCommon(messages)

	return analytics, nil
}

func finishedAt(execution *models.WorkflowExecution) time.Time {
	if execution.EndTime != nil {
		return *execution.EndTime
	}

	return execution.StartTime
}

// laterSuccess returns when the earliest success after failure finished.
func laterSuccess(executions []*models.WorkflowExecution, failure *models.WorkflowExecution) (time.Time, bool) {
	failedAt := finishedAt(failure)

	var (
		earliest time.Time
		found    bool
	)

	for _, candidate := range executions {
		if candidate.Status != models.ExecutionStatusSuccess ||
			candidate.LeadID != failure.LeadID ||
			candidate.CompanyID != failure.CompanyID {
			continue
		}

		at := finishedAt(candidate)
		if !at.After(failedAt) {
			continue
		}

		if !found || at.Before(earliest) {
			earliest = at
			found = true
		}
	}

	return earliest, found
}

// mostCommon breaks ties lexicographically.
func mostCommon(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	best := ""
	bestCount := 0

	for _, key := range keys {
		if counts[key] > bestCount {
			best = key
			bestCount = counts[key]
		}
	}

	return best
}
