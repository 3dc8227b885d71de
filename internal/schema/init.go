package schema

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackzampolin/epubify/internal/defra"
)

// Initialize applies all schemas to DefraDB.
// Schemas that already exist are skipped, so it is safe to call on every start.
func Initialize(ctx context.Context, client *defra.Client, logger *slog.Logger) error {
	schemas, err := All()
	if err != nil {
		return fmt.Errorf("failed to load schemas: %w", err)
	}

	for _, s := range schemas {
		if err := applySchema(ctx, client, s, logger); err != nil {
			return err
		}
	}
	return nil
}

func applySchema(ctx context.Context, client *defra.Client, s Schema, logger *slog.Logger) error {
	if err := client.AddSchema(ctx, s.SDL); err != nil {
		if isAlreadyExistsError(err) {
			logger.Info("schema already exists", "name", s.Name)
			return nil
		}
		return fmt.Errorf("failed to add schema %s: %w", s.Name, err)
	}

	logger.Info("schema added", "name", s.Name)
	return nil
}

// isAlreadyExistsError reports whether a schema error means the collection is
// already present. DefraDB is reached over HTTP so only the body text is available.
func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "already exists")
}
