package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audited entity types.
const (
	AuditEntityWeightTicket = "weight_ticket"
	AuditEntityTransport    = "transport"
)

// AuditEntry is one row of audit_logs: who did what to which entity.
type AuditEntry struct {
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	// At defaults to the logger clock.
	At time.Time
}

func (e AuditEntry) validate() error {
	switch {
	case e.Actor == "":
		return errors.New("audit entry requires actor")
	case e.Action == "":
		return errors.New("audit entry requires action")
	case e.Entity == "" || e.EntityID == "":
		return errors.New("audit entry requires entity and entity id")
	}
	return nil
}

// AuditLogger appends entries to audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool, now: time.Now}
}

// Record persists the entry.
func (l *AuditLogger) Record(ctx context.Context, entry AuditEntry) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if err := entry.validate(); err != nil {
		return err
	}
	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return fmt.Errorf("audit meta: %w", err)
	}
	at := entry.At
	if at.IsZero() {
		at = l.now()
	}
	_, err = l.pool.Exec(ctx,
		`INSERT INTO audit_logs (actor, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Actor, entry.Action, entry.Entity, entry.EntityID, meta, at.UTC())
	return err
}
