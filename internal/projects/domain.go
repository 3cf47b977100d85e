// Package projects guards task state transitions against configured
// work-in-progress ceilings.
package projects

import (
	"errors"
	"time"
)

// TaskStatus enumerates the four board columns.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "TODO"
	StatusInProgress TaskStatus = "IN_PROGRESS"
	StatusBlocked    TaskStatus = "BLOCKED"
	StatusDone       TaskStatus = "DONE"
)

// Valid reports whether the status is one of the four defined states.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusBlocked, StatusDone:
		return true
	}
	return false
}

// Limits holds optional WIP ceilings for one project. Nil means unlimited.
// PerAssignee and PerTeam cap concurrently in-progress tasks.
type Limits struct {
	Todo        *int
	InProgress  *int
	Blocked     *int
	Done        *int
	PerAssignee *int
	PerTeam     *int
}

// Column returns the ceiling configured for a board column, if any.
func (l Limits) Column(status TaskStatus) *int {
	switch status {
	case StatusTodo:
		return l.Todo
	case StatusInProgress:
		return l.InProgress
	case StatusBlocked:
		return l.Blocked
	case StatusDone:
		return l.Done
	}
	return nil
}

// Project owns tasks and their WIP limits.
type Project struct {
	ID        int64
	Name      string
	Limits    Limits
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Task belongs to a project. Its status is mutated only through approved
// transitions; direct writes bypass the admission invariant.
type Task struct {
	ID         int64
	ProjectID  int64
	Title      string
	Status     TaskStatus
	AssigneeID *int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Decision is the admission verdict for a requested transition.
type Decision struct {
	Approved bool
	Reason   string
}

func approved() Decision {
	return Decision{Approved: true}
}

func denied(reason string) Decision {
	return Decision{Reason: reason}
}

var (
	// ErrTaskNotFound indicates a missing task.
	ErrTaskNotFound = errors.New("projects: task not found")
	// ErrProjectNotFound indicates a missing project.
	ErrProjectNotFound = errors.New("projects: project not found")
)
