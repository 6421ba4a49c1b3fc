package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/leadpipe/orchestrator/pkg/persistence"
	"github.com/leadpipe/orchestrator/pkg/persistence/file"
	"github.com/leadpipe/orchestrator/pkg/persistence/postgresql"
)

// NewPersistence picks the ledger backend from the URL scheme. Anything that is not a
// postgres URL is treated as a file path, with an optional file:// prefix.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres":
		postgres, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return postgres, nil
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://")), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgres"
	default:
		return "file"
	}
}
