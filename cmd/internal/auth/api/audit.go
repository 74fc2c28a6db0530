package authapi

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEvent is one security-relevant action.
type AuditEvent struct {
	Action    string
	UserID    string
	IP        string
	UserAgent string
	Meta      map[string]any
	At        time.Time
}

// Auditor persists audit events. Failures are logged by the handler and
// never fail the request.
type Auditor interface {
	Record(ctx context.Context, ev AuditEvent) error
}

// PostgresAuditor writes events to schema.audit_log.
type PostgresAuditor struct {
	pool  *pgxpool.Pool
	table string
}

var auditSchemaRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func NewPostgresAuditor(pool *pgxpool.Pool, schema string) (*PostgresAuditor, error) {
	if pool == nil {
		return nil, fmt.Errorf("authapi: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if !auditSchemaRe.MatchString(schema) {
		return nil, fmt.Errorf("authapi: invalid schema identifier")
	}
	return &PostgresAuditor{
		pool:  pool,
		table: pgx.Identifier{schema, "audit_log"}.Sanitize(),
	}, nil
}

// EnsureSchema creates the audit table if missing.
func (a *PostgresAuditor) EnsureSchema(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS `+a.table+` (
  id BIGSERIAL PRIMARY KEY,
  user_id TEXT NULL,
  action TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  ip INET NULL,
  user_agent TEXT NULL,
  meta JSONB NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_action_created_at ON `+a.table+` (action, created_at);
`)
	if err != nil {
		return fmt.Errorf("authapi: apply audit schema: %w", err)
	}
	return nil
}

func (a *PostgresAuditor) Record(ctx context.Context, ev AuditEvent) error {
	var metaVal *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO `+a.table+` (
			user_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, $4, $5, $6::jsonb)
	`, trimOrNil(ev.UserID), ev.Action, ev.At, trimOrNil(ev.IP), trimOrNil(ev.UserAgent), metaVal)
	return err
}

func (h *Handler) audit(ctx context.Context, ev AuditEvent) {
	ev.Action = strings.TrimSpace(ev.Action)
	if ev.Action == "" {
		return
	}
	if ev.At.IsZero() {
		ev.At = h.now()
	}
	if len(ev.UserAgent) > 512 {
		ev.UserAgent = ev.UserAgent[:512]
	}

	attrs := []any{"user_id", ev.UserID, "ip", ev.IP}
	if reason, ok := ev.Meta["reason"]; ok {
		attrs = append(attrs, "reason", reason)
	}
	h.log.Info(ev.Action, attrs...)

	if h.auditor == nil {
		return
	}
	if err := h.auditor.Record(ctx, ev); err != nil {
		h.log.Error("auth.audit.insert.fail", "err", err, "action", ev.Action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
