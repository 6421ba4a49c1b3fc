package main

import (
	"context"
	"fmt"

	"github.com/leadpipe/orchestrator/pkg/cmd"
	"github.com/leadpipe/orchestrator/pkg/log"
	"github.com/leadpipe/orchestrator/pkg/retention"
	cli "github.com/urfave/cli/v3"
)

func SweepCommand() *cli.Command {
	flags := []cli.Flag{databaseFlag()}
	flags = append(flags, loggingFlags()...)
	flags = append(flags, retentionFlags()...)

	return &cli.Command{
		Name:  "sweep",
		Usage: "Delete aged terminal executions once and exit",
		Flags: flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("sweep")

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

			sweeper := retention.NewSweeper(store.ExecutionRepository(), command.Duration("retention-max-age"), logger)

			deleted, err := sweeper.Sweep(ctx)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(command.Root().Writer, "deleted %d executions\n", deleted)

			return err
		},
	}
}
