package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// ExecutionPruner removes terminal workflow executions finished before the
// cutoff; the workflow store implements it.
type ExecutionPruner interface {
	DeleteTerminalExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ExecutionRetentionJob prunes old workflow run history.
type ExecutionRetentionJob struct {
	pruner    ExecutionPruner
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewExecutionRetentionJob constructs the job.
func NewExecutionRetentionJob(pruner ExecutionPruner, retention time.Duration, logger *slog.Logger) *ExecutionRetentionJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionRetentionJob{pruner: pruner, retention: retention, logger: logger, now: time.Now}
}

// Run deletes terminal executions older than the retention window.
func (j *ExecutionRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.retention)
	deleted, err := j.pruner.DeleteTerminalExecutionsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	j.logger.Info("workflow execution history pruned",
		slog.Int64("deleted", deleted),
		slog.Time("cutoff", cutoff))
	return nil
}

// Handler adapts the job to Asynq.
func (j *ExecutionRetentionJob) Handler() asynq.HandlerFunc {
	return func(ctx context.Context, _ *asynq.Task) error {
		return j.Run(ctx)
	}
}
