// Package config holds the orchestrator configuration object, built once at startup
// and passed into constructors.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/robfig/cron/v3"
)

const (
	DefaultMaxRetries      = 3
	DefaultBackoffUnit     = time.Second
	DefaultTriggerAttempts = 3
	DefaultInlineTimeout   = 30 * time.Second
	DefaultRetentionAge    = 30 * 24 * time.Hour
	DefaultRetentionCron   = "0 3 * * *"
)

// AIPersona is required for any email drafting payload.
type AIPersona struct {
	Name         string `json:"name"                   validate:"required"`
	Role         string `json:"role,omitempty"`
	Tone         string `json:"tone,omitempty"`
	Signature    string `json:"signature,omitempty"`
	Instructions string `json:"instructions,omitempty"`
}

// Routing is forwarded to the engine for LEAD_ROUTING workflows.
type Routing struct {
	DefaultCampaignID string            `json:"defaultCampaignId,omitempty"`
	Rules             map[string]string `json:"rules,omitempty"`
}

type Retry struct {
	MaxRetries      int           `validate:"gte=0"`
	BackoffUnit     time.Duration `validate:"gt=0"`
	TriggerAttempts int           `validate:"gte=1"`
}

type Retention struct {
	MaxAge   time.Duration `validate:"gt=0"`
	Schedule string        `validate:"required"`
}

type Config struct {
	// CallbackBaseURL is where the engine reaches the completion gateway.
	CallbackBaseURL string `validate:"required,url"`
	WebhookSecret   string
	WebhookURLs     map[models.WorkflowType]string `validate:"dive,url"`

	// ProviderCredentials maps a data provider name to its API key.
	ProviderCredentials map[string]string
	DefaultProviders    map[models.WorkflowType]string

	AIPersona *AIPersona
	Routing   Routing

	Retry         Retry
	InlineTimeout time.Duration `validate:"gt=0"`
	Retention     Retention
}

// Default returns a configuration with every tunable at its default value.
func Default() *Config {
	return &Config{
		CallbackBaseURL:     "http://localhost:9091",
		WebhookURLs:         map[models.WorkflowType]string{},
		ProviderCredentials: map[string]string{},
		DefaultProviders:    map[models.WorkflowType]string{},
		Retry: Retry{
			MaxRetries:      DefaultMaxRetries,
			BackoffUnit:     DefaultBackoffUnit,
			TriggerAttempts: DefaultTriggerAttempts,
		},
		InlineTimeout: DefaultInlineTimeout,
		Retention: Retention{
			MaxAge:   DefaultRetentionAge,
			Schedule: DefaultRetentionCron,
		},
	}
}

// Validate checks struct tags, workflow type keys and the retention schedule.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	err := validate.Struct(c)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	for workflowType := range c.WebhookURLs {
		if !workflowType.IsValid() {
			return fmt.Errorf("invalid configuration: unknown workflow type %q in webhook URLs", workflowType)
		}
	}

	for workflowType := range c.DefaultProviders {
		if !workflowType.IsValid() {
			return fmt.Errorf("invalid configuration: unknown workflow type %q in default providers", workflowType)
		}
	}

	_, err = cron.ParseStandard(c.Retention.Schedule)
	if err != nil {
		return fmt.Errorf("invalid configuration: retention schedule: %w", err)
	}

	return nil
}

// WebhookURL returns the engine endpoint for a workflow type.
func (c *Config) WebhookURL(workflowType models.WorkflowType) (string, bool) {
	url, ok := c.WebhookURLs[workflowType]
	if !ok || url == "" {
		return "", false
	}

	return url, true
}

// CallbackURL joins a gateway path onto the callback base URL.
func (c *Config) CallbackURL(path string) string {
	return strings.TrimRight(c.CallbackBaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// ParsePairs turns KEY=VALUE entries into a map.
func ParsePairs(pairs []string) (map[string]string, error) {
	result := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)

		if !found || key == "" {
			return nil, fmt.Errorf("malformed pair %q: expected KEY=VALUE", pair)
		}

		result[key] = strings.TrimSpace(value)
	}

	return result, nil
}

// WorkflowTypePairs parses KEY=VALUE entries keyed by workflow type.
func WorkflowTypePairs(pairs []string) (map[models.WorkflowType]string, error) {
	raw, err := ParsePairs(pairs)
	if err != nil {
		return nil, err
	}

	result := make(map[models.WorkflowType]string, len(raw))

	for key, value := range raw {
		workflowType := models.WorkflowType(strings.ToUpper(key))
		if !workflowType.IsValid() {
			return nil, errors.New("unknown workflow type " + key)
		}

		result[workflowType] = value
	}

	return result, nil
}
