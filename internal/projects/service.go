package projects

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-suite/meridian/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	GetTask(ctx context.Context, taskID int64) (Task, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the counts and mutations the admission checks need.
// Counting queries exclude the moving task itself.
type TxRepository interface {
	GetTaskForUpdate(ctx context.Context, taskID int64) (Task, error)
	GetProject(ctx context.Context, projectID int64) (Project, error)
	InsertTask(ctx context.Context, task Task) (Task, error)
	UpdateTaskStatus(ctx context.Context, taskID int64, status TaskStatus) error
	UpdateLimits(ctx context.Context, projectID int64, limits Limits) error
	CountInStatus(ctx context.Context, projectID int64, status TaskStatus, excludeTaskID int64) (int, error)
	CountAssigneeInProgress(ctx context.Context, projectID, assigneeID, excludeTaskID int64) (int, error)
	FirstTeamOf(ctx context.Context, userID int64) (int64, bool, error)
	CountTeamInProgress(ctx context.Context, projectID, teamID, excludeTaskID int64) (int, error)
}

// Locker serializes a critical section across processes. cache.Mutex
// implements it; a nil locker falls back to transaction-level isolation
// only.
type Locker interface {
	Acquire(ctx context.Context, key string) (func(), error)
}

// Service is the WIP admission controller: every task status change passes
// its check-then-act sequence.
type Service struct {
	repo   RepositoryPort
	lock   Locker
	audit  shared.AuditSink
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the admission controller.
func NewService(repo RepositoryPort, lock Locker, audit shared.AuditSink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, lock: lock, audit: audit, logger: logger, now: time.Now}
}

// CreateTask inserts a task in the TODO column.
func (s *Service) CreateTask(ctx context.Context, projectID int64, title string, assigneeID *int64) (Task, error) {
	var task Task
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetProject(ctx, projectID); err != nil {
			return err
		}
		var err error
		task, err = tx.InsertTask(ctx, Task{
			ProjectID:  projectID,
			Title:      title,
			Status:     StatusTodo,
			AssigneeID: assigneeID,
		})
		return err
	})
	return task, err
}

// GetTask loads one task.
func (s *Service) GetTask(ctx context.Context, taskID int64) (Task, error) {
	return s.repo.GetTask(ctx, taskID)
}

// SetLimits overwrites a project's WIP ceilings.
func (s *Service) SetLimits(ctx context.Context, projectID int64, limits Limits) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetProject(ctx, projectID); err != nil {
			return err
		}
		return tx.UpdateLimits(ctx, projectID, limits)
	})
}

// RequestTransition applies the admission checks in fixed order and commits
// the move only when all of them pass. The first violated check's reason is
// reported; a denial leaves the task untouched. The whole check-then-act
// sequence runs under a per-project lock plus one transaction, so two
// concurrent transitions cannot jointly exceed a ceiling.
func (s *Service) RequestTransition(ctx context.Context, taskID int64, newStatus TaskStatus) (Decision, error) {
	if !newStatus.Valid() {
		return denied(fmt.Sprintf("invalid status %q", string(newStatus))), nil
	}

	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return Decision{}, err
	}

	if s.lock != nil {
		release, err := s.lock.Acquire(ctx, shared.ProjectWIPLockKey(task.ProjectID))
		if err != nil {
			return Decision{}, err
		}
		defer release()
	}

	var decision Decision
	var before TaskStatus
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetTaskForUpdate(ctx, taskID)
		if err != nil {
			return err
		}
		before = current.Status
		project, err := tx.GetProject(ctx, current.ProjectID)
		if err != nil {
			return err
		}

		decision, err = s.admit(ctx, tx, project, current, newStatus)
		if err != nil || !decision.Approved {
			return err
		}
		return tx.UpdateTaskStatus(ctx, taskID, newStatus)
	})
	if err != nil {
		return Decision{}, err
	}

	if decision.Approved {
		s.logger.Info("task transition approved",
			slog.Int64("task_id", taskID),
			slog.String("from", string(before)),
			slog.String("to", string(newStatus)))
		if s.audit != nil {
			_ = s.audit.Record(ctx, shared.AuditLog{
				Action:   "task.transition",
				Entity:   "task",
				EntityID: fmt.Sprintf("%d", taskID),
				Old:      map[string]any{"status": string(before)},
				New:      map[string]any{"status": string(newStatus)},
				At:       s.now(),
			})
		}
	}
	return decision, nil
}

// admit runs the ordered checks: column ceiling, then per-assignee, then
// per-team. Only transitions into IN_PROGRESS are subject to the latter two.
func (s *Service) admit(ctx context.Context, tx TxRepository, project Project, task Task, newStatus TaskStatus) (Decision, error) {
	if limit := project.Limits.Column(newStatus); limit != nil {
		count, err := tx.CountInStatus(ctx, project.ID, newStatus, task.ID)
		if err != nil {
			return Decision{}, err
		}
		if count >= *limit {
			return denied(fmt.Sprintf("column limit reached (%d)", *limit)), nil
		}
	}

	if newStatus != StatusInProgress || task.AssigneeID == nil {
		return approved(), nil
	}

	if limit := project.Limits.PerAssignee; limit != nil {
		count, err := tx.CountAssigneeInProgress(ctx, project.ID, *task.AssigneeID, task.ID)
		if err != nil {
			return Decision{}, err
		}
		if count >= *limit {
			return denied(fmt.Sprintf("assignee limit reached (%d)", *limit)), nil
		}
	}

	if limit := project.Limits.PerTeam; limit != nil {
		teamID, ok, err := tx.FirstTeamOf(ctx, *task.AssigneeID)
		if err != nil {
			return Decision{}, err
		}
		if ok {
			count, err := tx.CountTeamInProgress(ctx, project.ID, teamID, task.ID)
			if err != nil {
				return Decision{}, err
			}
			if count >= *limit {
				return denied(fmt.Sprintf("team limit reached (%d)", *limit)), nil
			}
		}
	}

	return approved(), nil
}
