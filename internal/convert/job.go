package convert

import (
	"context"
	"errors"

	"github.com/jackzampolin/epubify/internal/jobs"
	"github.com/jackzampolin/epubify/internal/task"
)

// JobType identifies conversion jobs in the scheduler.
const JobType = "convert"

// ConversionJob runs one conversion on a scheduler worker.
type ConversionJob struct {
	req       Request
	converter *Converter
	recorder  task.Recorder
}

var (
	_ jobs.Job       = (*ConversionJob)(nil)
	_ jobs.Abandoner = (*ConversionJob)(nil)
)

// NewConversionJob wraps req for the scheduler.
func NewConversionJob(req Request, converter *Converter, recorder task.Recorder) *ConversionJob {
	return &ConversionJob{req: req, converter: converter, recorder: recorder}
}

func (j *ConversionJob) ID() string   { return j.req.TaskID }
func (j *ConversionJob) Type() string { return JobType }

// Execute runs the conversion. Failures are recorded on the task rather
// than returned.
func (j *ConversionJob) Execute(ctx context.Context) error {
	deps := jobs.DepsFromContext(ctx)
	deps.Logger.Debug("starting conversion", "task_id", j.req.TaskID)
	j.converter.Run(ctx, j.req)
	return nil
}

// Abandon marks a task that never started as failed.
func (j *ConversionJob) Abandon(reason string) {
	progress := newProgressReporter(j.recorder, j.req.TaskID, j.converter.logger.With("task_id", j.req.TaskID))
	progress.fail(context.Background(), errors.New(reason))
}
