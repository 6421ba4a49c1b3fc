package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leadpipe/orchestrator/pkg/config"
	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/leadpipe/orchestrator/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cli "github.com/urfave/cli/v3"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	command := NewCommand()
	command.Writer = &out
	command.ErrWriter = &out

	err := command.Run(context.Background(), append([]string{"orchestrator"}, args...))

	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestBuildConfig(t *testing.T) {
	t.Parallel()

	var cfg *config.Config

	flags := append(orchestrationFlags(), retentionFlags()...)
	command := &cli.Command{
		Name:  "test",
		Flags: flags,
		Action: func(_ context.Context, command *cli.Command) error {
			var err error

			cfg, err = buildConfig(command)

			return err
		},
	}

	err := command.Run(context.Background(), []string{
		"test",
		"--callback-base-url", "https://orchestrator.example.com",
		"--webhook-url", "LEAD_ENRICHMENT=https://engine.example.com/webhook/enrich",
		"--provider-credential", "apollo=key-1",
		"--default-provider", "LEAD_ENRICHMENT=apollo",
		"--ai-persona", `{"name":"Ava","tone":"friendly"}`,
		"--max-retries", "5",
		"--backoff-unit", "2s",
	})
	require.NoError(t, err)
	require.NotNil(t, cfg)

	url, ok := cfg.WebhookURL(models.WorkflowTypeLeadEnrichment)
	assert.True(t, ok)
	assert.Equal(t, "https://engine.example.com/webhook/enrich", url)
	assert.Equal(t, "key-1", cfg.ProviderCredentials["apollo"])
	assert.Equal(t, "apollo", cfg.DefaultProviders[models.WorkflowTypeLeadEnrichment])
	assert.Equal(t, "Ava", cfg.AIPersona.Name)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Retry.BackoffUnit)
	assert.Equal(t, config.DefaultRetentionCron, cfg.Retention.Schedule)
}

func TestBuildConfig_Invalid(t *testing.T) {
	t.Parallel()

	tests := map[string][]string{
		"unknown workflow type": {"--callback-base-url", "https://x.example.com", "--webhook-url", "SCRAPING=https://engine.example.com"},
		"malformed pair":        {"--callback-base-url", "https://x.example.com", "--provider-credential", "apollo"},
		"bad persona json":      {"--callback-base-url", "https://x.example.com", "--ai-persona", "{"},
		"bad retention cron":    {"--callback-base-url", "https://x.example.com", "--retention-schedule", "every day"},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			command := &cli.Command{
				Name:  "test",
				Flags: append(orchestrationFlags(), retentionFlags()...),
				Action: func(_ context.Context, command *cli.Command) error {
					_, err := buildConfig(command)

					return err
				},
			}

			err := command.Run(context.Background(), append([]string{"test"}, args...))
			require.Error(t, err)
		})
	}
}

func TestStrategiesValidate(t *testing.T) {
	valid := writeFile(t, "strategies.json", `[
		{"id": "retry-timeouts", "name": "Retry timeouts", "priority": 1,
		 "conditions": [{"field": "error_message", "operator": "contains", "value": "timeout"}],
		 "actions": [{"type": "retry", "params": {"backoffMs": 500}}]}
	]`)

	out, err := run(t, "strategies", "validate", valid)
	require.NoError(t, err)
	assert.Contains(t, out, "retry-timeouts")
	assert.Contains(t, out, "1 strategies valid")

	invalid := writeFile(t, "broken.json", `[{"id": "x", "name": "x", "actions": [{"type": "reboot"}]}]`)

	_, err = run(t, "strategies", "validate", invalid)
	require.Error(t, err)

	_, err = run(t, "strategies", "validate")
	require.ErrorIs(t, err, errMissingFile)
}

func TestWorkflowsImport(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, "workflows.json", `[
		{"id": "wf-enrich", "name": "Enrich", "type": "LEAD_ENRICHMENT", "company_id": "company-1", "external_id": "n8n-1"},
		{"id": "wf-scrape", "name": "Scrape", "type": "LEAD_ENRICHMENT", "company_id": "company-1", "stage": "SCRAPING"}
	]`)

	out, err := run(t, "workflows", "import", "--database-url", dir, path)
	require.NoError(t, err)
	assert.Contains(t, out, "imported 2 workflows")

	workflow, err := file.NewPersistence(dir).WorkflowRepository().GetByID(context.Background(), "wf-scrape")
	require.NoError(t, err)
	assert.Equal(t, models.StageScraping, workflow.Stage)

	bad := writeFile(t, "bad.json", `[{"id": "wf-x", "type": "UNKNOWN", "company_id": "company-1"}]`)

	_, err = run(t, "workflows", "import", "--database-url", dir, bad)
	require.Error(t, err)
}

func TestSweep(t *testing.T) {
	out, err := run(t, "sweep", "--database-url", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 0 executions")
}
