package invite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"eduplay/cmd/identity"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists invites in PostgreSQL next to the identity tables.
// The pool is owned by the caller.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var _ Store = (*PostgresStore)(nil)

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: identity.DefaultSchema).
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !identity.ValidSchemaName(schema) {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: identity.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// EnsureSchema creates the invites table. The identity users table must
// already exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	invites := pgIdent(s.schema, "invites")
	users := pgIdent(s.schema, "users")

	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  id TEXT PRIMARY KEY,
  token_hash TEXT NOT NULL,
  role TEXT NOT NULL,
  created_by TEXT NULL REFERENCES %[2]s(id) ON DELETE SET NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  expires_at TIMESTAMPTZ NOT NULL,
  max_uses INT NOT NULL DEFAULT 1,
  used_count INT NOT NULL DEFAULT 0,
  revoked_at TIMESTAMPTZ NULL,
  note TEXT NULL,
  consumed_at TIMESTAMPTZ NULL,
  consumed_by TEXT NULL,
  CONSTRAINT chk_invites_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT chk_invites_token_hash_len CHECK (char_length(token_hash) = 64),
  CONSTRAINT chk_invites_role CHECK (role IN ('parent', 'specialist', 'admin')),
  CONSTRAINT chk_invites_max_uses CHECK (max_uses >= 1),
  CONSTRAINT chk_invites_used_count CHECK (used_count >= 0 AND used_count <= max_uses)
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_invites_token_hash ON %[1]s (token_hash);
`, invites, users))
	if err != nil {
		return fmt.Errorf("invite: apply schema: %w", err)
	}
	return nil
}

const inviteColumns = `id, role, COALESCE(created_by, ''), created_at, expires_at, max_uses, used_count,
       revoked_at, COALESCE(note, ''), consumed_at, COALESCE(consumed_by, '')`

// Create inserts a new invite record.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (Invite, error) {
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" || in.MaxUses <= 0 {
		return Invite{}, ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+pgIdent(s.schema, "invites")+` (
		     id, token_hash, role, created_by, created_at, expires_at, max_uses, note
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING `+inviteColumns,
		in.ID,
		in.TokenHash,
		string(in.Role),
		nilIfEmpty(in.CreatedBy),
		in.CreatedAt,
		in.ExpiresAt,
		in.MaxUses,
		nilIfEmpty(in.Note),
	)
	return scanInvite(row)
}

// GetByTokenHash fetches an invite by token hash.
func (s *PostgresStore) GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error) {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return Invite{}, ErrInvalidInput
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+inviteColumns+`
		   FROM `+pgIdent(s.schema, "invites")+`
		  WHERE token_hash = $1`,
		tokenHash,
	)
	return scanInvite(row)
}

// Consume increments used_count in a single conditional UPDATE.
func (s *PostgresStore) Consume(ctx context.Context, in ConsumeRecord) (Invite, error) {
	if strings.TrimSpace(in.TokenHash) == "" || strings.TrimSpace(in.ConsumedBy) == "" {
		return Invite{}, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE `+pgIdent(s.schema, "invites")+`
		    SET used_count = used_count + 1,
		        consumed_at = $1,
		        consumed_by = $2
		  WHERE token_hash = $3
		    AND revoked_at IS NULL
		    AND expires_at > $1
		    AND used_count < max_uses
		RETURNING `+inviteColumns,
		in.Now,
		in.ConsumedBy,
		in.TokenHash,
	)
	out, err := scanInvite(row)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Invite{}, err
	}

	// Distinguish not-found vs not-active.
	if _, err := s.GetByTokenHash(ctx, in.TokenHash); err != nil {
		return Invite{}, err
	}
	return Invite{}, ErrNotActive
}

// Revoke sets revoked_at once; revoking twice keeps the first timestamp.
func (s *PostgresStore) Revoke(ctx context.Context, id string, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+pgIdent(s.schema, "invites")+`
		    SET revoked_at = COALESCE(revoked_at, $2)
		  WHERE id = $1`,
		id, now,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanInvite(row pgx.Row) (Invite, error) {
	var (
		out  Invite
		role string
	)
	err := row.Scan(
		&out.ID,
		&role,
		&out.CreatedBy,
		&out.CreatedAt,
		&out.ExpiresAt,
		&out.MaxUses,
		&out.UsedCount,
		&out.RevokedAt,
		&out.Note,
		&out.ConsumedAt,
		&out.ConsumedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invite{}, ErrNotFound
		}
		return Invite{}, err
	}
	out.Role = identity.Role(role)
	return out, nil
}

func nilIfEmpty(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
