package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDenylist implements Denylist over a session_revocations table.
// The pool is owned by the caller.
type PostgresDenylist struct {
	pool       *pgxpool.Pool
	table      string
	usersTable string
}

var _ Denylist = (*PostgresDenylist)(nil)

var schemaRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewPostgresDenylist returns a denylist stored in schema.session_revocations.
func NewPostgresDenylist(pool *pgxpool.Pool, schema string) (*PostgresDenylist, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	schema = strings.TrimSpace(schema)
	if !schemaRe.MatchString(schema) {
		return nil, fmt.Errorf("session: invalid schema identifier")
	}
	return &PostgresDenylist{
		pool:  pool,
		table:      pgx.Identifier{schema, "session_revocations"}.Sanitize(),
		usersTable: pgx.Identifier{schema, "session_user_cutoffs"}.Sanitize(),
	}, nil
}

// EnsureSchema creates the revocation tables if missing. The schema itself
// must already exist.
func (d *PostgresDenylist) EnsureSchema(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS `+d.table+` (
  jti TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL,
  revoked_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CONSTRAINT chk_session_revocations_jti_len CHECK (char_length(jti) = 26)
);
CREATE INDEX IF NOT EXISTS idx_session_revocations_expires_at ON `+d.table+` (expires_at);

CREATE TABLE IF NOT EXISTS `+d.usersTable+` (
  user_id TEXT PRIMARY KEY,
  cutoff TIMESTAMPTZ NOT NULL,
  keep_jti TEXT NOT NULL DEFAULT '',
  expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_user_cutoffs_expires_at ON `+d.usersTable+` (expires_at);
`)
	if err != nil {
		return fmt.Errorf("session: apply schema: %w", err)
	}
	return nil
}

// Revoke inserts the token id (idempotent).
func (d *PostgresDenylist) Revoke(ctx context.Context, r Revocation) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO `+d.table+` (jti, user_id, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (jti) DO NOTHING
	`, r.TokenID, r.UserID, r.ExpiresAt, r.RevokedAt)
	return err
}

func (d *PostgresDenylist) IsRevoked(ctx context.Context, tokenID string, now time.Time) (bool, error) {
	var revoked bool
	err := d.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM `+d.table+`
			WHERE jti = $1 AND expires_at > $2
		)
	`, tokenID, now).Scan(&revoked)
	if err != nil {
		return false, err
	}
	return revoked, nil
}

// RevokeUser upserts the user's cutoff. An older cutoff never replaces a
// newer one.
func (d *PostgresDenylist) RevokeUser(ctx context.Context, c UserCutoff) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO `+d.usersTable+` AS u (user_id, cutoff, keep_jti, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET cutoff = EXCLUDED.cutoff,
		    keep_jti = EXCLUDED.keep_jti,
		    expires_at = EXCLUDED.expires_at
		WHERE u.cutoff <= EXCLUDED.cutoff
	`, c.UserID, c.Cutoff, c.KeepTokenID, c.ExpiresAt)
	return err
}

func (d *PostgresDenylist) CutoffFor(ctx context.Context, userID string, now time.Time) (UserCutoff, bool, error) {
	c := UserCutoff{UserID: userID}
	err := d.pool.QueryRow(ctx, `
		SELECT cutoff, keep_jti, expires_at
		FROM `+d.usersTable+`
		WHERE user_id = $1 AND expires_at > $2
	`, userID, now).Scan(&c.Cutoff, &c.KeepTokenID, &c.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserCutoff{}, false, nil
	}
	if err != nil {
		return UserCutoff{}, false, err
	}
	return c, true, nil
}

func (d *PostgresDenylist) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	ct, err := d.pool.Exec(ctx, `DELETE FROM `+d.table+` WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	n := ct.RowsAffected()

	ct, err = d.pool.Exec(ctx, `DELETE FROM `+d.usersTable+` WHERE expires_at <= $1`, now)
	if err != nil {
		return n, err
	}
	return n + ct.RowsAffected(), nil
}
