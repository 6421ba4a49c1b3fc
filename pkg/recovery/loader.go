package recovery

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

const strategySchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "name", "actions"],
    "properties": {
      "id": {"type": "string", "minLength": 1},
      "name": {"type": "string", "minLength": 1},
      "priority": {"type": "integer"},
      "conditions": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["field", "operator", "value"],
          "properties": {
            "field": {"enum": ["error_message", "error_type", "retry_count", "workflow_type", "time_of_day"]},
            "operator": {"enum": ["equals", "contains", "matches", "greater_than", "less_than"]}
          }
        }
      },
      "actions": {
        "type": "array",
        "minItems": 1,
        "items": {
          "type": "object",
          "required": ["type"],
          "properties": {
            "type": {"enum": ["retry", "fallback_provider", "skip_step", "manual_intervention", "notify_admin"]},
            "params": {"type": "object"}
          }
        }
      }
    }
  }
}`

// LoadStrategies validates a JSON strategy document and decodes it.
func LoadStrategies(data []byte) ([]models.RecoveryStrategy, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(strategySchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStrategies, err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}

		return nil, fmt.Errorf("%w: %s", ErrInvalidStrategies, strings.Join(problems, "; "))
	}

	var strategies []models.RecoveryStrategy

	err = json.Unmarshal(data, &strategies)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidStrategies, err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	seen := make(map[string]bool, len(strategies))

	for _, strategy := range strategies {
		err = validate.Struct(strategy)
		if err != nil {
			return nil, fmt.Errorf("%w: strategy %q: %w", ErrInvalidStrategies, strategy.ID, err)
		}

		if seen[strategy.ID] {
			return nil, fmt.Errorf("%w: duplicate strategy id %q", ErrInvalidStrategies, strategy.ID)
		}

		seen[strategy.ID] = true
	}

	return strategies, nil
}
