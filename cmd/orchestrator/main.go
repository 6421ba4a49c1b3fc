package main

import (
	"context"
	"os"

	"github.com/leadpipe/orchestrator/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	logger := log.WithModule("orchestrator")

	err := NewCommand().Run(context.Background(), os.Args)
	if err != nil {
		logger.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func NewCommand() *cli.Command {
	return &cli.Command{
		Name:                  "orchestrator",
		Usage:                 "Trigger lead pipeline workflows, track their executions and recover failures",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			ServeCommand(),
			SweepCommand(),
			StrategiesCommand(),
			WorkflowsCommand(),
		},
	}
}
