package projects

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-suite/meridian/internal/platform/db"
)

// Repository persists projects, tasks and team memberships.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("projects repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetTask loads a task outside a transaction.
func (r *Repository) GetTask(ctx context.Context, taskID int64) (Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `SELECT id, project_id, title, status, assignee_id, created_at, updated_at
FROM tasks WHERE id=$1`, taskID))
}

type txRepository struct {
	tx pgx.Tx
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var status string
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &status, &t.AssigneeID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, err
	}
	t.Status = TaskStatus(status)
	return t, nil
}

func (r *txRepository) GetTaskForUpdate(ctx context.Context, taskID int64) (Task, error) {
	return scanTask(r.tx.QueryRow(ctx, `SELECT id, project_id, title, status, assignee_id, created_at, updated_at
FROM tasks WHERE id=$1 FOR UPDATE`, taskID))
}

func (r *txRepository) GetProject(ctx context.Context, projectID int64) (Project, error) {
	var p Project
	err := r.tx.QueryRow(ctx, `SELECT id, name, limit_todo, limit_in_progress, limit_blocked, limit_done, limit_per_assignee, limit_per_team, created_at, updated_at
FROM projects WHERE id=$1 FOR UPDATE`, projectID).
		Scan(&p.ID, &p.Name, &p.Limits.Todo, &p.Limits.InProgress, &p.Limits.Blocked, &p.Limits.Done, &p.Limits.PerAssignee, &p.Limits.PerTeam, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, ErrProjectNotFound
		}
		return Project{}, err
	}
	return p, nil
}

func (r *txRepository) InsertTask(ctx context.Context, task Task) (Task, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO tasks (project_id, title, status, assignee_id)
VALUES ($1,$2,$3,$4) RETURNING id, created_at, updated_at`,
		task.ProjectID, task.Title, string(task.Status), task.AssigneeID)
	if err := row.Scan(&task.ID, &task.CreatedAt, &task.UpdatedAt); err != nil {
		return Task{}, err
	}
	return task, nil
}

func (r *txRepository) UpdateTaskStatus(ctx context.Context, taskID int64, status TaskStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE tasks SET status=$2, updated_at=NOW() WHERE id=$1`, taskID, string(status))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (r *txRepository) UpdateLimits(ctx context.Context, projectID int64, limits Limits) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE projects SET limit_todo=$2, limit_in_progress=$3, limit_blocked=$4, limit_done=$5, limit_per_assignee=$6, limit_per_team=$7, updated_at=NOW() WHERE id=$1`,
		projectID, limits.Todo, limits.InProgress, limits.Blocked, limits.Done, limits.PerAssignee, limits.PerTeam)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrProjectNotFound
	}
	return nil
}

func (r *txRepository) CountInStatus(ctx context.Context, projectID int64, status TaskStatus, excludeTaskID int64) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE project_id=$1 AND status=$2 AND id<>$3`,
		projectID, string(status), excludeTaskID).Scan(&count)
	return count, err
}

func (r *txRepository) CountAssigneeInProgress(ctx context.Context, projectID, assigneeID, excludeTaskID int64) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM tasks WHERE project_id=$1 AND assignee_id=$2 AND status='IN_PROGRESS' AND id<>$3`,
		projectID, assigneeID, excludeTaskID).Scan(&count)
	return count, err
}

func (r *txRepository) FirstTeamOf(ctx context.Context, userID int64) (int64, bool, error) {
	var teamID int64
	err := r.tx.QueryRow(ctx, `SELECT team_id FROM team_members WHERE user_id=$1 ORDER BY joined_at ASC, team_id ASC LIMIT 1`, userID).Scan(&teamID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return teamID, true, nil
}

func (r *txRepository) CountTeamInProgress(ctx context.Context, projectID, teamID, excludeTaskID int64) (int, error) {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM tasks t
JOIN team_members m ON m.user_id = t.assignee_id
WHERE t.project_id=$1 AND m.team_id=$2 AND t.status='IN_PROGRESS' AND t.id<>$3`,
		projectID, teamID, excludeTaskID).Scan(&count)
	return count, err
}
