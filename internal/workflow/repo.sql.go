package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-suite/meridian/internal/shared"
)

// Store persists workflow definitions, steps and execution history.
// Definitions are validated at save time, so the engine can trust what it
// loads.
type Store struct {
	pool  *pgxpool.Pool
	audit shared.AuditSink
}

// NewStore constructs Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithAudit attaches an audit sink; definition mutations publish to it after
// commit.
func (s *Store) WithAudit(sink shared.AuditSink) *Store {
	s.audit = sink
	return s
}

func (s *Store) publish(ctx context.Context, action string, id int64, old, next map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Action:   action,
		Entity:   "workflow",
		EntityID: fmt.Sprintf("%d", id),
		Old:      old,
		New:      next,
		At:       time.Now(),
	})
}

func workflowSnapshot(w Workflow) map[string]any {
	return map[string]any{
		"name":      w.Name,
		"is_active": w.IsActive,
		"trigger":   string(w.Trigger),
		"filters":   len(w.Filter),
	}
}

// CreateWorkflow validates and inserts a workflow definition.
func (s *Store) CreateWorkflow(ctx context.Context, w Workflow) (Workflow, error) {
	if err := ValidateWorkflow(w); err != nil {
		return Workflow{}, err
	}
	filterJSON, err := json.Marshal(w.Filter)
	if err != nil {
		return Workflow{}, err
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO workflows (name, is_active, trigger_kind, trigger_filter)
VALUES ($1,$2,$3,$4) RETURNING id, created_at, updated_at`, w.Name, w.IsActive, string(w.Trigger), filterJSON)
	if err := row.Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Workflow{}, err
	}
	s.publish(ctx, "workflow.create", w.ID, nil, workflowSnapshot(w))
	return w, nil
}

// UpdateWorkflow validates and overwrites a workflow definition.
func (s *Store) UpdateWorkflow(ctx context.Context, w Workflow) error {
	if err := ValidateWorkflow(w); err != nil {
		return err
	}
	filterJSON, err := json.Marshal(w.Filter)
	if err != nil {
		return err
	}
	cmd, err := s.pool.Exec(ctx, `UPDATE workflows SET name=$2, is_active=$3, trigger_kind=$4, trigger_filter=$5, updated_at=NOW() WHERE id=$1`,
		w.ID, w.Name, w.IsActive, string(w.Trigger), filterJSON)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrWorkflowNotFound
	}
	s.publish(ctx, "workflow.update", w.ID, nil, workflowSnapshot(w))
	return nil
}

// GetWorkflow loads one workflow by id.
func (s *Store) GetWorkflow(ctx context.Context, id int64) (Workflow, error) {
	var w Workflow
	var trigger string
	var filterJSON []byte
	err := s.pool.QueryRow(ctx, `SELECT id, name, is_active, trigger_kind, trigger_filter, created_at, updated_at
FROM workflows WHERE id=$1`, id).
		Scan(&w.ID, &w.Name, &w.IsActive, &trigger, &filterJSON, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Workflow{}, ErrWorkflowNotFound
		}
		return Workflow{}, err
	}
	w.Trigger = TriggerKind(trigger)
	if len(filterJSON) > 0 {
		if err := json.Unmarshal(filterJSON, &w.Filter); err != nil {
			return Workflow{}, err
		}
	}
	return w, nil
}

// ListActiveByTrigger returns active workflows for a trigger kind in id
// order, so dispatch order is stable.
func (s *Store) ListActiveByTrigger(ctx context.Context, kind TriggerKind) ([]Workflow, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, is_active, trigger_kind, trigger_filter, created_at, updated_at
FROM workflows WHERE is_active AND trigger_kind=$1 ORDER BY id ASC`, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var workflows []Workflow
	for rows.Next() {
		var w Workflow
		var trigger string
		var filterJSON []byte
		if err := rows.Scan(&w.ID, &w.Name, &w.IsActive, &trigger, &filterJSON, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		w.Trigger = TriggerKind(trigger)
		if len(filterJSON) > 0 {
			if err := json.Unmarshal(filterJSON, &w.Filter); err != nil {
				return nil, err
			}
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

// AddStep validates and inserts a workflow step.
func (s *Store) AddStep(ctx context.Context, step WorkflowStep) (WorkflowStep, error) {
	if err := ValidateStep(step); err != nil {
		return WorkflowStep{}, err
	}
	configJSON, err := json.Marshal(step.Config)
	if err != nil {
		return WorkflowStep{}, err
	}
	row := s.pool.QueryRow(ctx, `INSERT INTO workflow_steps (workflow_id, name, action_kind, config, step_order)
VALUES ($1,$2,$3,$4,$5) RETURNING id, created_at, updated_at`,
		step.WorkflowID, step.Name, string(step.Action), configJSON, step.Order)
	if err := row.Scan(&step.ID, &step.CreatedAt, &step.UpdatedAt); err != nil {
		return WorkflowStep{}, err
	}
	s.publish(ctx, "workflow.step.add", step.WorkflowID, nil, map[string]any{
		"step":   step.Name,
		"action": string(step.Action),
		"order":  step.Order,
	})
	return step, nil
}

// StepsOf returns the steps of a workflow in execution order.
func (s *Store) StepsOf(ctx context.Context, workflowID int64) ([]WorkflowStep, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, workflow_id, name, action_kind, config, step_order, created_at, updated_at
FROM workflow_steps WHERE workflow_id=$1 ORDER BY step_order ASC, id ASC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var steps []WorkflowStep
	for rows.Next() {
		var step WorkflowStep
		var action string
		var configJSON []byte
		if err := rows.Scan(&step.ID, &step.WorkflowID, &step.Name, &action, &configJSON, &step.Order, &step.CreatedAt, &step.UpdatedAt); err != nil {
			return nil, err
		}
		step.Action = ActionKind(action)
		if len(configJSON) > 0 {
			if err := json.Unmarshal(configJSON, &step.Config); err != nil {
				return nil, err
			}
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// InsertExecution creates a run record.
func (s *Store) InsertExecution(ctx context.Context, exec WorkflowExecution) (WorkflowExecution, error) {
	row := s.pool.QueryRow(ctx, `INSERT INTO workflow_executions (workflow_id, status, message)
VALUES ($1,$2,$3) RETURNING id`, exec.WorkflowID, string(exec.Status), exec.Message)
	if err := row.Scan(&exec.ID); err != nil {
		return WorkflowExecution{}, err
	}
	return exec, nil
}

// UpdateExecution overwrites a run record's state.
func (s *Store) UpdateExecution(ctx context.Context, exec WorkflowExecution) error {
	cmd, err := s.pool.Exec(ctx, `UPDATE workflow_executions SET status=$2, message=$3, started_at=$4, finished_at=$5 WHERE id=$1`,
		exec.ID, string(exec.Status), exec.Message, nullTime(exec.StartedAt), exec.FinishedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return errors.New("workflow: execution not found")
	}
	return nil
}

// ListExecutions returns the run history of a workflow, newest first.
func (s *Store) ListExecutions(ctx context.Context, workflowID int64) ([]WorkflowExecution, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, workflow_id, status, message, started_at, finished_at
FROM workflow_executions WHERE workflow_id=$1 ORDER BY id DESC`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var executions []WorkflowExecution
	for rows.Next() {
		var exec WorkflowExecution
		var status string
		var started *time.Time
		if err := rows.Scan(&exec.ID, &exec.WorkflowID, &status, &exec.Message, &started, &exec.FinishedAt); err != nil {
			return nil, err
		}
		exec.Status = ExecutionStatus(status)
		if started != nil {
			exec.StartedAt = *started
		}
		executions = append(executions, exec)
	}
	return executions, rows.Err()
}

// DeleteTerminalExecutionsBefore removes terminal run records finished
// before cutoff; used by the retention job.
func (s *Store) DeleteTerminalExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM workflow_executions WHERE status IN ('SUCCESS','FAILED') AND finished_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
