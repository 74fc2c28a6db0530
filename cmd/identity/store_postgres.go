package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"eduplay/cmd/security/password"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements identity persistence over PostgreSQL.
//
// Design notes:
// - The pgx pool is owned by the caller; this store must NOT close it.
// - Schema/table identifiers are safely quoted to avoid SQL injection via identifiers.
// - Errors are mapped to identity sentinel kinds where appropriate.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

var _ Store = (*PostgresStore)(nil)

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultSchema is the Postgres schema used when WithSchema is not given.
const DefaultSchema = "eduplay"

// WithSchema sets the Postgres schema used by the identity store.
// The schema name is validated to be a legal PostgreSQL identifier.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !ValidSchemaName(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

// EnsureSchema creates the schema and identity tables if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{s.schema}.Sanitize()); err != nil {
		return fmt.Errorf("identity: create schema: %w", err)
	}
	if _, err := s.pool.Exec(ctx, SchemaSQL(s.schema)); err != nil {
		return fmt.Errorf("identity: apply schema: %w", err)
	}
	return nil
}

const userAuthColumns = `id, username, username_norm, role, created_at,
       password_hash, password_salt, password_iterations, password_algo`

// CreateUser inserts a user with its credential columns.
func (s *PostgresStore) CreateUser(ctx context.Context, in CreateUserInput) (CreateUserResult, error) {
	const op = "identity.CreateUser"

	if s == nil || s.pool == nil {
		return CreateUserResult{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return CreateUserResult{}, err
	}

	username, norm, err := validateCreateUser(op, in)
	if err != nil {
		return CreateUserResult{}, err
	}

	now := nowOr(in.Now)
	userID, err := NewULID(now)
	if err != nil {
		return CreateUserResult{}, err
	}

	users := pgIdent(s.schema, "users")
	c := in.Credential

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+users+` (
		     id, username, username_norm, role,
		     password_hash, password_salt, password_iterations, password_algo,
		     created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		userID, username, norm, string(in.Role),
		c.Key, c.Salt, c.Iterations, c.Algorithm,
		now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return CreateUserResult{}, ConflictError{Op: op, Field: field}
		}
		return CreateUserResult{}, err
	}

	return CreateUserResult{User: User{
		ID:           userID,
		Username:     username,
		UsernameNorm: norm,
		Role:         in.Role,
		CreatedAt:    now,
	}}, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.GetUserByID"

	if s == nil || s.pool == nil {
		return User{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if strings.TrimSpace(id) == "" {
		return User{}, invalid(op, "missing user_id")
	}

	users := pgIdent(s.schema, "users")

	var (
		u    User
		role string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, username_norm, role, created_at
		   FROM `+users+`
		  WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Username, &u.UsernameNorm, &role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, NotFoundError{Op: op, Resource: "user"}
		}
		return User{}, err
	}
	u.Role = Role(role)
	return u, nil
}

func (s *PostgresStore) GetUserAuthByID(ctx context.Context, id string) (UserAuth, error) {
	const op = "identity.GetUserAuthByID"

	if s == nil || s.pool == nil {
		return UserAuth{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if strings.TrimSpace(id) == "" {
		return UserAuth{}, invalid(op, "missing user_id")
	}

	users := pgIdent(s.schema, "users")
	row := s.pool.QueryRow(ctx, `SELECT `+userAuthColumns+` FROM `+users+` WHERE id = $1`, id)
	return scanUserAuth(op, row)
}

// GetUserAuthByUsername looks a user up by its normalized username.
func (s *PostgresStore) GetUserAuthByUsername(ctx context.Context, username string) (UserAuth, error) {
	const op = "identity.GetUserAuthByUsername"

	if s == nil || s.pool == nil {
		return UserAuth{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	norm := NormalizeUsername(username)
	if norm == "" {
		return UserAuth{}, invalid(op, "missing username")
	}

	users := pgIdent(s.schema, "users")
	row := s.pool.QueryRow(ctx, `SELECT `+userAuthColumns+` FROM `+users+` WHERE username_norm = $1`, norm)
	return scanUserAuth(op, row)
}

// UpdateCredential replaces all four credential columns in one statement.
func (s *PostgresStore) UpdateCredential(ctx context.Context, userID string, cred password.Credential, now time.Time) error {
	const op = "identity.UpdateCredential"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if strings.TrimSpace(userID) == "" {
		return invalid(op, "missing user_id")
	}
	if err := validateCredential(op, cred); err != nil {
		return err
	}

	users := pgIdent(s.schema, "users")

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+users+`
		    SET password_hash = $1,
		        password_salt = $2,
		        password_iterations = $3,
		        password_algo = $4,
		        updated_at = $5
		  WHERE id = $6`,
		cred.Key, cred.Salt, cred.Iterations, cred.Algorithm, nowOr(now), userID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// LinkAccount links supervisor -> child. The child row is locked while the
// link is written so a concurrent role change cannot slip in between.
func (s *PostgresStore) LinkAccount(ctx context.Context, in LinkInput) (Link, error) {
	const op = "identity.LinkAccount"

	if s == nil || s.pool == nil {
		return Link{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Link{}, err
	}
	if err := validateLink(op, in); err != nil {
		return Link{}, err
	}

	now := nowOr(in.Now)
	linkID, err := NewULID(now)
	if err != nil {
		return Link{}, err
	}

	users := pgIdent(s.schema, "users")
	links := pgIdent(s.schema, "account_links")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Link{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var childRole string
	err = tx.QueryRow(ctx,
		`SELECT role FROM `+users+` WHERE id = $1 FOR SHARE`,
		in.ChildID,
	).Scan(&childRole)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Link{}, NotFoundError{Op: op, Resource: "child"}
		}
		return Link{}, err
	}
	if Role(childRole) != RoleChild {
		return Link{}, invalid(op, "target is not a child account")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO `+links+` (id, supervisor_id, child_id, kind, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT ON CONSTRAINT uq_account_links_pair DO NOTHING`,
		linkID, in.SupervisorID, in.ChildID, string(in.Kind), now,
	)
	if err != nil {
		if pgIsForeignKeyViolation(err) {
			return Link{}, NotFoundError{Op: op, Resource: "supervisor"}
		}
		return Link{}, err
	}

	var (
		out  Link
		kind string
	)
	err = tx.QueryRow(ctx,
		`SELECT id, supervisor_id, child_id, kind, created_at
		   FROM `+links+`
		  WHERE supervisor_id = $1 AND child_id = $2`,
		in.SupervisorID, in.ChildID,
	).Scan(&out.ID, &out.SupervisorID, &out.ChildID, &kind, &out.CreatedAt)
	if err != nil {
		return Link{}, err
	}
	out.Kind = LinkKind(kind)

	if err := tx.Commit(ctx); err != nil {
		return Link{}, err
	}
	return out, nil
}

func (s *PostgresStore) UnlinkAccount(ctx context.Context, supervisorID, childID string) error {
	const op = "identity.UnlinkAccount"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if strings.TrimSpace(supervisorID) == "" || strings.TrimSpace(childID) == "" {
		return invalid(op, "supervisor_id and child_id are required")
	}

	links := pgIdent(s.schema, "account_links")

	ct, err := s.pool.Exec(ctx,
		`DELETE FROM `+links+` WHERE supervisor_id = $1 AND child_id = $2`,
		supervisorID, childID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "link"}
	}
	return nil
}

func (s *PostgresStore) ListLinkedChildren(ctx context.Context, supervisorID string) ([]LinkedChild, error) {
	const op = "identity.ListLinkedChildren"

	if s == nil || s.pool == nil {
		return nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if strings.TrimSpace(supervisorID) == "" {
		return nil, invalid(op, "missing supervisor_id")
	}

	users := pgIdent(s.schema, "users")
	links := pgIdent(s.schema, "account_links")

	rows, err := s.pool.Query(ctx,
		`SELECT u.id, u.username, u.username_norm, u.role, u.created_at, l.kind, l.created_at
		   FROM `+links+` l
		   JOIN `+users+` u ON u.id = l.child_id
		  WHERE l.supervisor_id = $1
		  ORDER BY l.created_at ASC, u.id ASC`,
		supervisorID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]LinkedChild, 0)
	for rows.Next() {
		var (
			lc         LinkedChild
			role, kind string
		)
		if err := rows.Scan(
			&lc.User.ID, &lc.User.Username, &lc.User.UsernameNorm, &role, &lc.User.CreatedAt,
			&kind, &lc.LinkedAt,
		); err != nil {
			return nil, err
		}
		lc.User.Role = Role(role)
		lc.Kind = LinkKind(kind)
		out = append(out, lc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ---- helpers ----

func scanUserAuth(op string, row pgx.Row) (UserAuth, error) {
	var (
		ua   UserAuth
		role string
	)
	err := row.Scan(
		&ua.User.ID, &ua.User.Username, &ua.User.UsernameNorm, &role, &ua.User.CreatedAt,
		&ua.Credential.Key, &ua.Credential.Salt, &ua.Credential.Iterations, &ua.Credential.Algorithm,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
		}
		return UserAuth{}, err
	}
	ua.User.Role = Role(role)
	return ua, nil
}

// ValidSchemaName reports whether s is a safe Postgres identifier.
func ValidSchemaName(s string) bool {
	return pgIdentRe.MatchString(s)
}

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable schema constraint names. Fall back to substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))

	switch c {
	case "uq_users_username_norm":
		return "username", true
	case "uq_account_links_pair":
		return "link", true
	default:
		switch {
		case strings.Contains(c, "username"):
			return "username", true
		case strings.Contains(c, "link"):
			return "link", true
		default:
			return "unique", true
		}
	}
}

func (s *PostgresStore) GetLinkedChild(ctx context.Context, supervisorID, childID string) (LinkedChild, error) {
	const op = "identity.GetLinkedChild"

	if s == nil || s.pool == nil {
		return LinkedChild{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if strings.TrimSpace(supervisorID) == "" || strings.TrimSpace(childID) == "" {
		return LinkedChild{}, invalid(op, "supervisor_id and child_id are required")
	}

	users := pgIdent(s.schema, "users")
	links := pgIdent(s.schema, "account_links")

	var (
		lc         LinkedChild
		role, kind string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT u.id, u.username, u.username_norm, u.role, u.created_at, l.kind, l.created_at
		   FROM `+links+` l
		   JOIN `+users+` u ON u.id = l.child_id
		  WHERE l.supervisor_id = $1 AND l.child_id = $2`,
		supervisorID, childID,
	).Scan(
		&lc.User.ID, &lc.User.Username, &lc.User.UsernameNorm, &role, &lc.User.CreatedAt,
		&kind, &lc.LinkedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LinkedChild{}, NotFoundError{Op: op, Resource: "link"}
		}
		return LinkedChild{}, err
	}
	lc.User.Role = Role(role)
	lc.Kind = LinkKind(kind)
	return lc, nil
}
