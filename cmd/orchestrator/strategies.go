package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/leadpipe/orchestrator/pkg/recovery"
	cli "github.com/urfave/cli/v3"
)

var errMissingFile = errors.New("a file argument is required")

func StrategiesCommand() *cli.Command {
	return &cli.Command{
		Name:  "strategies",
		Usage: "Inspect recovery strategy files",
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "Check a recovery strategy file against the strategy schema",
				ArgsUsage: "<file>",
				Action: func(_ context.Context, command *cli.Command) error {
					path := command.Args().First()
					if path == "" {
						return errMissingFile
					}

					data, err := os.ReadFile(path)
					if err != nil {
						return fmt.Errorf("failed to read %s: %w", path, err)
					}

					strategies, err := recovery.LoadStrategies(data)
					if err != nil {
						return err
					}

					out := command.Root().Writer
					for _, strategy := range strategies {
						_, err := fmt.Fprintf(out, "%-32s priority=%d conditions=%d actions=%d\n",
							strategy.ID, strategy.Priority, len(strategy.Conditions), len(strategy.Actions))
						if err != nil {
							return err
						}
					}

					_, err = fmt.Fprintf(out, "%d strategies valid\n", len(strategies))

					return err
				},
			},
		},
	}
}
