package recovery

import (
	"context"
	"errors"
	"fmt"

	"github.com/leadpipe/orchestrator/pkg/eventbus"
	"github.com/leadpipe/orchestrator/pkg/events"
)

// BusReporter publishes error contexts so recovery runs off the caller's path.
type BusReporter struct {
	publisher eventbus.EventPublisher
	source    string
}

func NewBusReporter(publisher eventbus.EventPublisher, source string) *BusReporter {
	return &BusReporter{publisher: publisher, source: source}
}

func (r *BusReporter) ReportError(ctx context.Context, ec ErrorContext) error {
	event := &events.ErrorReported{
		BaseEvent:    events.NewBaseEvent(events.ErrorReportedEvent, ec.CompanyID),
		ExecutionID:  ec.ExecutionID,
		WorkflowID:   ec.WorkflowID,
		WorkflowType: ec.WorkflowType,
		LeadID:       ec.LeadID,
		ErrorMessage: ec.Message(),
		Source:       r.source,
		RetryCount:   ec.RetryCount,
		InputData:    ec.InputData,
	}

	var k kinded
	if errors.As(ec.Err, &k) {
		event.ErrorKind = k.Kind()
	}

	if !ec.Timestamp.IsZero() {
		event.Timestamp = ec.Timestamp
	}

	key := ec.ExecutionID
	if key == "" {
		key = ec.CompanyID
	}

	err := r.publisher.Publish(ctx, key, event)
	if err != nil {
		return fmt.Errorf("failed to publish error report: %w", err)
	}

	return nil
}

// Subscribe registers the engine as the consumer of ErrorReported events.
func (e *Engine) Subscribe(bus eventbus.EventSubscriber) error {
	return bus.Handle(events.ErrorReportedEvent, func(ctx context.Context, event any) error {
		reported, ok := event.(*events.ErrorReported)
		if !ok {
			return fmt.Errorf("unexpected event %T", event)
		}

		e.HandleError(ctx, FromEvent(reported))

		return nil
	})
}

// FromEvent rebuilds an ErrorContext from its bus representation.
func FromEvent(event *events.ErrorReported) ErrorContext {
	return ErrorContext{
		ExecutionID:  event.ExecutionID,
		WorkflowID:   event.WorkflowID,
		WorkflowType: event.WorkflowType,
		CompanyID:    event.CompanyID,
		LeadID:       event.LeadID,
		Err:          NewReportedError(event.ErrorKind, event.ErrorMessage),
		Timestamp:    event.Timestamp,
		RetryCount:   event.RetryCount,
		InputData:    event.InputData,
	}
}
