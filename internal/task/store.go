package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackzampolin/epubify/internal/defra"
	"github.com/jackzampolin/epubify/internal/schema"
)

// StoreContainer runs the DefraDB instance behind a DefraRecorder.
// *defra.Container implements it.
type StoreContainer interface {
	Ensure(ctx context.Context) error
	URL() string
}

// OpenDefra starts the task store container if needed, applies the
// ConversionTask schema and returns a recorder on it. Both steps are
// idempotent so it runs on every server start.
func OpenDefra(ctx context.Context, store StoreContainer, retention time.Duration, logger *slog.Logger) (*DefraRecorder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("starting DefraDB task store")
	if err := store.Ensure(ctx); err != nil {
		return nil, fmt.Errorf("failed to start DefraDB: %w", err)
	}

	client := defra.NewClient(store.URL())
	if err := client.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("DefraDB health check failed: %w", err)
	}
	logger.Info("DefraDB is ready", "url", store.URL())

	if err := schema.Initialize(ctx, client, logger); err != nil {
		return nil, fmt.Errorf("schema initialization failed: %w", err)
	}
	return NewDefraRecorder(client, retention, logger), nil
}

// Client returns the DefraDB client the recorder writes through.
func (d *DefraRecorder) Client() *defra.Client {
	return d.client
}
