package main

import (
	"encoding/json"
	"fmt"

	"github.com/leadpipe/orchestrator/pkg/config"
	cli "github.com/urfave/cli/v3"
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

func databaseFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "database-url",
		Usage:    "Ledger location: a postgres:// URL or a directory for file persistence",
		Required: true,
		Sources:  cli.EnvVars("DATABASE_URL"),
	}
}

func retentionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.DurationFlag{
			Name:    "retention-max-age",
			Usage:   "Terminal executions older than this are deleted",
			Value:   config.DefaultRetentionAge,
			Sources: cli.EnvVars("RETENTION_MAX_AGE"),
		},
		&cli.StringFlag{
			Name:    "retention-schedule",
			Usage:   "Cron expression for the retention sweep",
			Value:   config.DefaultRetentionCron,
			Sources: cli.EnvVars("RETENTION_SCHEDULE"),
		},
	}
}

func orchestrationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "callback-base-url",
			Usage:    "Base URL the automation engine uses to reach the completion gateway",
			Required: true,
			Sources:  cli.EnvVars("CALLBACK_BASE_URL"),
		},
		&cli.StringFlag{
			Name:    "webhook-secret",
			Usage:   "Shared secret used to sign engine requests",
			Sources: cli.EnvVars("ENGINE_WEBHOOK_SECRET"),
		},
		&cli.StringSliceFlag{
			Name:    "webhook-url",
			Usage:   "Engine webhook per workflow type, as WORKFLOW_TYPE=URL",
			Sources: cli.EnvVars("ENGINE_WEBHOOK_URLS"),
		},
		&cli.StringSliceFlag{
			Name:    "provider-credential",
			Usage:   "Data provider API key, as PROVIDER=KEY",
			Sources: cli.EnvVars("PROVIDER_CREDENTIALS"),
		},
		&cli.StringSliceFlag{
			Name:    "default-provider",
			Usage:   "Default data provider per workflow type, as WORKFLOW_TYPE=PROVIDER",
			Sources: cli.EnvVars("DEFAULT_PROVIDERS"),
		},
		&cli.StringFlag{
			Name:    "ai-persona",
			Usage:   "AI persona for email drafting, as a JSON object",
			Sources: cli.EnvVars("AI_PERSONA"),
		},
		&cli.StringFlag{
			Name:    "default-campaign-id",
			Usage:   "Campaign assigned when a routing workflow returns none",
			Sources: cli.EnvVars("DEFAULT_CAMPAIGN_ID"),
		},
		&cli.StringSliceFlag{
			Name:    "routing-rule",
			Usage:   "Routing rule forwarded to the engine, as KEY=VALUE",
			Sources: cli.EnvVars("ROUTING_RULES"),
		},
		&cli.IntFlag{
			Name:    "max-retries",
			Usage:   "Retries scheduled for a transient failure before giving up",
			Value:   config.DefaultMaxRetries,
			Sources: cli.EnvVars("MAX_RETRIES"),
		},
		&cli.DurationFlag{
			Name:    "backoff-unit",
			Usage:   "Base delay doubled on every retry",
			Value:   config.DefaultBackoffUnit,
			Sources: cli.EnvVars("BACKOFF_UNIT"),
		},
		&cli.IntFlag{
			Name:    "trigger-attempts",
			Usage:   "Attempts made by a retrying trigger",
			Value:   config.DefaultTriggerAttempts,
			Sources: cli.EnvVars("TRIGGER_ATTEMPTS"),
		},
		&cli.DurationFlag{
			Name:    "inline-timeout",
			Usage:   "Deadline for workflows executed inline",
			Value:   config.DefaultInlineTimeout,
			Sources: cli.EnvVars("INLINE_TIMEOUT"),
		},
	}
}

// buildConfig assembles and validates the configuration from parsed flags.
func buildConfig(command *cli.Command) (*config.Config, error) {
	cfg := config.Default()
	cfg.CallbackBaseURL = command.String("callback-base-url")
	cfg.WebhookSecret = command.String("webhook-secret")
	cfg.Routing.DefaultCampaignID = command.String("default-campaign-id")
	cfg.Retry.MaxRetries = command.Int("max-retries")
	cfg.Retry.BackoffUnit = command.Duration("backoff-unit")
	cfg.Retry.TriggerAttempts = command.Int("trigger-attempts")
	cfg.InlineTimeout = command.Duration("inline-timeout")
	cfg.Retention.MaxAge = command.Duration("retention-max-age")
	cfg.Retention.Schedule = command.String("retention-schedule")

	var err error

	cfg.WebhookURLs, err = config.WorkflowTypePairs(command.StringSlice("webhook-url"))
	if err != nil {
		return nil, fmt.Errorf("webhook-url: %w", err)
	}

	cfg.DefaultProviders, err = config.WorkflowTypePairs(command.StringSlice("default-provider"))
	if err != nil {
		return nil, fmt.Errorf("default-provider: %w", err)
	}

	cfg.ProviderCredentials, err = config.ParsePairs(command.StringSlice("provider-credential"))
	if err != nil {
		return nil, fmt.Errorf("provider-credential: %w", err)
	}

	cfg.Routing.Rules, err = config.ParsePairs(command.StringSlice("routing-rule"))
	if err != nil {
		return nil, fmt.Errorf("routing-rule: %w", err)
	}

	if raw := command.String("ai-persona"); raw != "" {
		var persona config.AIPersona

		err = json.Unmarshal([]byte(raw), &persona)
		if err != nil {
			return nil, fmt.Errorf("ai-persona: %w", err)
		}

		cfg.AIPersona = &persona
	}

	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}
