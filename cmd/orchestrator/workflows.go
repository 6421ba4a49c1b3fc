package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/leadpipe/orchestrator/pkg/cmd"
	"github.com/leadpipe/orchestrator/pkg/log"
	"github.com/leadpipe/orchestrator/pkg/models"
	cli "github.com/urfave/cli/v3"
)

func WorkflowsCommand() *cli.Command {
	flags := []cli.Flag{databaseFlag()}
	flags = append(flags, loggingFlags()...)

	return &cli.Command{
		Name:  "workflows",
		Usage: "Manage workflow definitions",
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Save the workflows in a JSON array file to the ledger",
				ArgsUsage: "<file>",
				Flags:     flags,
				Action:    importWorkflows,
			},
		},
	}
}

func importWorkflows(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("workflows")

	path := command.Args().First()
	if path == "" {
		return errMissingFile
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var workflows []*models.Workflow

	err = json.Unmarshal(data, &workflows)
	if err != nil {
		return fmt.Errorf("failed to decode workflows: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	for i, workflow := range workflows {
		err := validate.Struct(workflow)
		if err != nil {
			return fmt.Errorf("workflow %d: %w", i, err)
		}

		if workflow.ID == "" || !workflow.Type.IsValid() {
			return fmt.Errorf("workflow %d: id and a known type are required", i)
		}
	}

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return fmt.Errorf("failed to open persistence: %w", err)
	}

	defer func() {
		err := store.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	for _, workflow := range workflows {
		err := store.WorkflowRepository().Save(ctx, workflow)
		if err != nil {
			return fmt.Errorf("failed to save workflow %s: %w", workflow.ID, err)
		}
	}

	_, err = fmt.Fprintf(command.Root().Writer, "imported %d workflows\n", len(workflows))

	return err
}
