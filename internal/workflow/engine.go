package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/meridian-suite/meridian/internal/shared"
)

// DefinitionStore provides workflow definitions to the engine.
type DefinitionStore interface {
	GetWorkflow(ctx context.Context, id int64) (Workflow, error)
	ListActiveByTrigger(ctx context.Context, kind TriggerKind) ([]Workflow, error)
	StepsOf(ctx context.Context, workflowID int64) ([]WorkflowStep, error)
}

// ExecutionStore persists run records.
type ExecutionStore interface {
	InsertExecution(ctx context.Context, exec WorkflowExecution) (WorkflowExecution, error)
	UpdateExecution(ctx context.Context, exec WorkflowExecution) error
}

// Engine matches domain events against workflows and executes their steps
// synchronously. It performs no retries, no deduplication and no background
// scheduling; the caller blocks until every triggered run is terminal.
type Engine struct {
	definitions DefinitionStore
	executions  ExecutionStore
	registry    *Registry
	audit       shared.AuditSink
	logger      *slog.Logger
	now         func() time.Time
}

// NewEngine constructs the execution engine.
func NewEngine(definitions DefinitionStore, executions ExecutionStore, registry *Registry, audit shared.AuditSink, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		definitions: definitions,
		executions:  executions,
		registry:    registry,
		audit:       audit,
		logger:      logger,
		now:         time.Now,
	}
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Dispatch runs every workflow matching the event and returns their
// execution records. Step failures end up inside the records; only storage
// faults surface as errors.
func (e *Engine) Dispatch(ctx context.Context, evt Event) ([]WorkflowExecution, error) {
	if !evt.Trigger.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTrigger, evt.Trigger)
	}
	workflows, err := e.definitions.ListActiveByTrigger(ctx, evt.Trigger)
	if err != nil {
		return nil, err
	}
	var executions []WorkflowExecution
	for _, wf := range workflows {
		if !wf.Matches(evt) {
			continue
		}
		exec, err := e.run(ctx, wf, evt.Context)
		if err != nil {
			return executions, err
		}
		executions = append(executions, exec)
	}
	return executions, nil
}

// RunManual executes one workflow on operator request, bypassing trigger
// matching. Deactivated workflows are refused.
func (e *Engine) RunManual(ctx context.Context, workflowID int64, evtCtx Context) (WorkflowExecution, error) {
	wf, err := e.definitions.GetWorkflow(ctx, workflowID)
	if err != nil {
		return WorkflowExecution{}, err
	}
	if !wf.IsActive {
		return WorkflowExecution{}, ErrWorkflowInactive
	}
	return e.run(ctx, wf, evtCtx)
}

func (e *Engine) run(ctx context.Context, wf Workflow, evtCtx Context) (WorkflowExecution, error) {
	exec, err := e.executions.InsertExecution(ctx, WorkflowExecution{
		WorkflowID: wf.ID,
		Status:     ExecutionQueued,
	})
	if err != nil {
		return WorkflowExecution{}, err
	}
	exec.Status = ExecutionRunning
	exec.StartedAt = e.now()
	if err := e.executions.UpdateExecution(ctx, exec); err != nil {
		return WorkflowExecution{}, err
	}

	steps, err := e.definitions.StepsOf(ctx, wf.ID)
	if err != nil {
		return WorkflowExecution{}, err
	}

	status := ExecutionSuccess
	var messages []string
	for _, step := range steps {
		message, stepErr := e.runStep(ctx, step, evtCtx)
		if stepErr != nil {
			messages = append(messages, fmt.Sprintf("step %q: %v", step.Name, stepErr))
			status = ExecutionFailed
			break
		}
		messages = append(messages, fmt.Sprintf("step %q: %s", step.Name, message))
	}

	finished := e.now()
	exec.Status = status
	exec.Message = strings.Join(messages, "\n")
	exec.FinishedAt = &finished
	if err := e.executions.UpdateExecution(ctx, exec); err != nil {
		return WorkflowExecution{}, err
	}

	e.logger.Info("workflow executed",
		slog.Int64("workflow_id", wf.ID),
		slog.String("workflow", wf.Name),
		slog.String("status", string(exec.Status)))
	if e.audit != nil {
		_ = e.audit.Record(ctx, shared.AuditLog{
			Action:   "workflow.execute",
			Entity:   "workflow_execution",
			EntityID: fmt.Sprintf("%d", exec.ID),
			New: map[string]any{
				"workflow_id": wf.ID,
				"status":      string(exec.Status),
				"steps":       len(steps),
			},
			At: e.now(),
		})
	}
	return exec, nil
}

// runStep dispatches one step to its handler. Unknown action kinds and
// handler panics fail the step like any handler error.
func (e *Engine) runStep(ctx context.Context, step WorkflowStep, evtCtx Context) (message string, err error) {
	handler, ok := e.registry.Handler(step.Action)
	if !ok {
		return "", fmt.Errorf("no handler registered for action %s", step.Action)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, step.Config, evtCtx)
}
