package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/leadpipe/orchestrator/pkg/models"
)

type kinded interface {
	Kind() string
}

// ErrorType returns the error's Kind() when it has one, otherwise its Go type name.
func ErrorType(err error) string {
	if err == nil {
		return ""
	}

	var k kinded
	if errors.As(err, &k) && k.Kind() != "" {
		return k.Kind()
	}

	return fmt.Sprintf("%T", err)
}

func (e *Engine) evaluate(condition models.Condition, ec ErrorContext) bool {
	var actual any

	switch condition.Field {
	case models.ConditionFieldErrorMessage:
		actual = ec.Message()
	case models.ConditionFieldErrorType:
		actual = ErrorType(ec.Err)
	case models.ConditionFieldRetryCount:
		actual = float64(ec.RetryCount)
	case models.ConditionFieldWorkflowType:
		actual = string(ec.WorkflowType)
	case models.ConditionFieldTimeOfDay:
		actual = float64(ec.Timestamp.Hour())
	default:
		return false
	}

	switch condition.Operator {
	case models.OperatorEquals:
		return equals(actual, condition.Value)
	case models.OperatorContains:
		return strings.Contains(strings.ToLower(fmt.Sprint(actual)), strings.ToLower(fmt.Sprint(condition.Value)))
	case models.OperatorMatches:
		pattern, ok := e.compile(fmt.Sprint(condition.Value))
		if !ok {
			return false
		}

		return pattern.MatchString(fmt.Sprint(actual))
	case models.OperatorGreaterThan, models.OperatorLessThan:
		left, okLeft := toFloat(actual)
		right, okRight := toFloat(condition.Value)

		if !okLeft || !okRight {
			return false
		}

		if condition.Operator == models.OperatorGreaterThan {
			return left > right
		}

		return left < right
	default:
		return false
	}
}

func equals(actual, expected any) bool {
	if left, ok := actual.(float64); ok {
		right, ok := toFloat(expected)

		return ok && left == right
	}

	return fmt.Sprint(actual) == fmt.Sprint(expected)
}

// compile caches patterns. Invalid patterns never match.
func (e *Engine) compile(expr string) (*regexp.Regexp, bool) {
	if cached, ok := e.patterns.Load(expr); ok {
		pattern, valid := cached.(*regexp.Regexp)

		return pattern, valid
	}

	pattern, err := regexp.Compile(expr)
	if err != nil {
		e.logger.Warn("invalid recovery condition pattern", "pattern", expr, "error", err)
		e.patterns.Store(expr, false)

		return nil, false
	}

	e.patterns.Store(expr, pattern)

	return pattern, true
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)

		return f, err == nil
	default:
		return 0, false
	}
}
