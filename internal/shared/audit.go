package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog represents a record stored in audit_logs. Old and New carry entity
// snapshots around the mutation; either may be nil.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Old      map[string]any
	New      map[string]any
	At       time.Time
}

// AuditSink consumes committed-mutation records. Services publish to it after
// every committed ledger, workflow, and task mutation.
type AuditSink interface {
	Record(ctx context.Context, log AuditLog) error
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	oldJSON, err := json.Marshal(log.Old)
	if err != nil {
		return err
	}
	newJSON, err := json.Marshal(log.New)
	if err != nil {
		return err
	}
	var occurredAt any
	if !log.At.IsZero() {
		occurredAt = log.At
	}
	_, err = l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, old_value, new_value, occurred_at) VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7::timestamptz, NOW()))`,
		log.ActorID, log.Action, log.Entity, log.EntityID, oldJSON, newJSON, occurredAt)
	return err
}
