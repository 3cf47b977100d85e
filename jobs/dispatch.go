package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-suite/meridian/internal/workflow"
)

// TaskTypeWorkflowEvent is the task type carrying domain events from remote
// producers into the automation engine. The engine itself stays synchronous;
// the queue is only the transport.
const TaskTypeWorkflowEvent = "workflow:event"

// WorkflowEventPayload is the wire form of a workflow trigger event.
type WorkflowEventPayload struct {
	Trigger string           `json:"trigger"`
	Context workflow.Context `json:"context"`
}

// NewWorkflowEventTask constructs the dispatch task for an event.
func NewWorkflowEventTask(evt workflow.Event) (*asynq.Task, error) {
	data, err := json.Marshal(WorkflowEventPayload{
		Trigger: string(evt.Trigger),
		Context: evt.Context,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeWorkflowEvent, data), nil
}

// EventDispatcher runs every workflow matching an event; the workflow engine
// implements it.
type EventDispatcher interface {
	Dispatch(ctx context.Context, evt workflow.Event) ([]workflow.WorkflowExecution, error)
}

// NewWorkflowEventHandler returns the Asynq handler for TaskTypeWorkflowEvent.
// Malformed payloads and unknown trigger kinds are dropped rather than
// retried; step failures live inside the execution records and never fail the
// task.
func NewWorkflowEventHandler(dispatcher EventDispatcher, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload WorkflowEventPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		executions, err := dispatcher.Dispatch(ctx, workflow.Event{
			Trigger: workflow.TriggerKind(payload.Trigger),
			Context: payload.Context,
		})
		if err != nil {
			if errors.Is(err, workflow.ErrUnknownTrigger) {
				logger.Warn("dropping event with unknown trigger", slog.String("trigger", payload.Trigger))
				return asynq.SkipRetry
			}
			return err
		}
		logger.Info("workflow event dispatched",
			slog.String("trigger", payload.Trigger),
			slog.Int("executions", len(executions)))
		return nil
	}
}
