package orchestrator

import "errors"

var (
	// ErrStepSkipped means no workflow or webhook is configured for the step. Nothing was mutated.
	ErrStepSkipped = errors.New("workflow step skipped")

	// ErrPersonaRequired is returned when an email drafting payload has no AI persona.
	ErrPersonaRequired = errors.New("AI persona is required for email drafting")

	ErrRetryLimitReached = errors.New("retry limit reached")
	ErrShuttingDown      = errors.New("orchestrator is shutting down")
	ErrInvalidStatus     = errors.New("invalid execution status")
)

func IsStepSkipped(err error) bool {
	return errors.Is(err, ErrStepSkipped)
}
