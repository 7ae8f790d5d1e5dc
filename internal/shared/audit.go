package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// AuditEntry records a data-changing finance operation.
type AuditEntry struct {
	TenantID int64
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger writes entries into finance_audit_log.
type AuditLogger struct {
	db execer
}

// NewAuditLogger returns a new AuditLogger over a pool or transaction.
func NewAuditLogger(db execer) *AuditLogger {
	return &AuditLogger{db: db}
}

// Record persists the entry. A zero At uses the database clock.
func (l *AuditLogger) Record(ctx context.Context, entry AuditEntry) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if entry.TenantID <= 0 || entry.Action == "" || entry.Entity == "" || entry.EntityID == "" {
		return errors.New("audit entry requires tenant/action/entity/entity_id")
	}
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !entry.At.IsZero() {
		utc := entry.At.UTC()
		at = &utc
	}
	_, err = l.db.Exec(ctx, `
		INSERT INTO finance_audit_log (tenant_id, actor, action, entity, entity_id, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))`,
		entry.TenantID, entry.Actor, entry.Action, entry.Entity, entry.EntityID, meta, at)
	return err
}
