// Package jobs runs submitted work on a bounded pool of worker goroutines.
package jobs

import (
	"context"
	"log/slog"
)

// Job is the interface that all job types must implement.
type Job interface {
	// ID returns the unique job identifier.
	ID() string

	// Type returns the job type identifier.
	Type() string

	// Execute runs the job. It should respect context cancellation.
	// Dependencies are retrieved via DepsFromContext(ctx).
	Execute(ctx context.Context) error
}

// Abandoner is implemented by jobs that must record something when they are
// dropped from the queue without running, e.g. on shutdown.
type Abandoner interface {
	Abandon(reason string)
}

// Dependencies provides access to shared resources for job execution.
type Dependencies struct {
	Logger *slog.Logger
}

type depsKey struct{}

// ContextWithDeps returns a new context with Dependencies attached.
func ContextWithDeps(ctx context.Context, deps Dependencies) context.Context {
	return context.WithValue(ctx, depsKey{}, deps)
}

// DepsFromContext retrieves Dependencies from the context.
// Missing dependencies are filled with defaults.
func DepsFromContext(ctx context.Context) Dependencies {
	deps, _ := ctx.Value(depsKey{}).(Dependencies)
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return deps
}

// State is where a job is in the scheduler.
type State string

const (
	StateQueued  State = "queued"
	StateRunning State = "running"
)
