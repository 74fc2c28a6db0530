package identity

import "fmt"

// SchemaSQL returns idempotent DDL for the identity tables in schema.
// The caller must have validated schema (see WithSchema).
func SchemaSQL(schema string) string {
	users := pgIdent(schema, "users")
	links := pgIdent(schema, "account_links")

	return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL,
  username_norm TEXT NOT NULL,
  role TEXT NOT NULL,
  password_hash TEXT NOT NULL,
  password_salt TEXT NOT NULL,
  password_iterations INTEGER NOT NULL,
  password_algo TEXT NOT NULL DEFAULT 'pbkdf2-sha256',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_users_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT chk_users_role CHECK (role IN ('child', 'parent', 'specialist', 'admin')),
  CONSTRAINT chk_users_password_iterations CHECK (password_iterations > 0),
  CONSTRAINT uq_users_username_norm UNIQUE (username_norm)
);

CREATE INDEX IF NOT EXISTS idx_users_created_at ON %[1]s (created_at);

CREATE TABLE IF NOT EXISTS %[2]s (
  id TEXT PRIMARY KEY,
  supervisor_id TEXT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
  child_id TEXT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
  kind TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_account_links_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT chk_account_links_kind CHECK (kind IN ('parent', 'specialist')),
  CONSTRAINT chk_account_links_not_self CHECK (supervisor_id <> child_id),
  CONSTRAINT uq_account_links_pair UNIQUE (supervisor_id, child_id)
);

CREATE INDEX IF NOT EXISTS idx_account_links_child_id ON %[2]s (child_id);
`, users, links)
}
