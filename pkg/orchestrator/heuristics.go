package orchestrator

import "strings"

// Failure classifications.
const (
	KindTransient    = "transient"
	KindCritical     = "critical"
	KindUnclassified = "unclassified"
)

var (
	transientMarkers = []string{"timeout", "network", "rate limit", "temporary", "service unavailable"}
	criticalMarkers  = []string{"authentication", "authorization", "invalid configuration", "database", "critical"}
)

// ShouldRetry reports whether the message looks like a transient failure.
func ShouldRetry(message string) bool {
	return containsAny(message, transientMarkers)
}

// IsCriticalFailure reports whether the message needs an administrator.
func IsCriticalFailure(message string) bool {
	return containsAny(message, criticalMarkers)
}

// Classify returns the failure kind, preferring transient when both match.
func Classify(message string) string {
	switch {
	case ShouldRetry(message):
		return KindTransient
	case IsCriticalFailure(message):
		return KindCritical
	default:
		return KindUnclassified
	}
}

func containsAny(message string, markers []string) bool {
	lower := strings.ToLower(message)

	for _, marker := range markers {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	return false
}

// FailureError is the error handed to the recovery engine for a failed execution.
type FailureError struct {
	ExecutionID string
	Message     string
}

func (e *FailureError) Error() string {
	return e.Message
}

func (e *FailureError) Kind() string {
	return Classify(e.Message)
}
