package identity

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"eduplay/cmd/security/password"
)

// Role is the account type of a user.
type Role string

const (
	RoleChild      Role = "child"
	RoleParent     Role = "parent"
	RoleSpecialist Role = "specialist"
	RoleAdmin      Role = "admin"
)

// ParseRole maps a client-supplied role name to a Role.
// "medical" is accepted as a legacy alias for RoleSpecialist.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "child":
		return RoleChild, true
	case "parent":
		return RoleParent, true
	case "specialist", "medical":
		return RoleSpecialist, true
	case "admin":
		return RoleAdmin, true
	default:
		return "", false
	}
}

// CanSupervise reports whether users with this role may link child accounts.
func (r Role) CanSupervise() bool {
	switch r {
	case RoleParent, RoleSpecialist, RoleAdmin:
		return true
	default:
		return false
	}
}

// LinkKind classifies a supervisor -> child link.
type LinkKind string

const (
	LinkParent     LinkKind = "parent"
	LinkSpecialist LinkKind = "specialist"
)

// LinkKindFor derives the link kind from the supervisor's role.
func LinkKindFor(r Role) LinkKind {
	if r == RoleSpecialist {
		return LinkSpecialist
	}
	return LinkParent
}

// User is eduplay's canonical security principal.
type User struct {
	ID           string
	Username     string
	UsernameNorm string
	Role         Role
	CreatedAt    time.Time
}

// UserAuth is a user together with its stored password credential.
// It is only handed to code that verifies passwords.
type UserAuth struct {
	User       User
	Credential password.Credential
}

// LogValue logs the user only; the credential never reaches a log.
func (ua UserAuth) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user_id", ua.User.ID),
		slog.String("username", ua.User.Username),
		slog.String("role", string(ua.User.Role)),
	)
}

// CreateUserInput describes a registration. Credential is already hashed.
type CreateUserInput struct {
	Username   string
	Role       Role
	Credential password.Credential
	Now        time.Time
}

// CreateUserResult returns the created user.
type CreateUserResult struct {
	User User
}

// LinkInput links a supervisor account to a child account.
type LinkInput struct {
	SupervisorID string
	ChildID      string
	Kind         LinkKind
	Now          time.Time
}

// Link is a persisted supervisor -> child relation.
type Link struct {
	ID           string
	SupervisorID string
	ChildID      string
	Kind         LinkKind
	CreatedAt    time.Time
}

// LinkedChild is one entry of a supervisor's children listing.
type LinkedChild struct {
	User     User
	Kind     LinkKind
	LinkedAt time.Time
}

// Store is the identity persistence boundary.
type Store interface {
	// CreateUser inserts a user. Usernames are unique case-insensitively;
	// a duplicate yields a ConflictError with Field "username".
	CreateUser(ctx context.Context, in CreateUserInput) (CreateUserResult, error)

	GetUserByID(ctx context.Context, id string) (User, error)
	GetUserAuthByID(ctx context.Context, id string) (UserAuth, error)
	GetUserAuthByUsername(ctx context.Context, username string) (UserAuth, error)

	// UpdateCredential replaces the stored credential record as a whole.
	UpdateCredential(ctx context.Context, userID string, cred password.Credential, now time.Time) error

	// LinkAccount is idempotent: linking an existing pair returns the
	// existing link.
	LinkAccount(ctx context.Context, in LinkInput) (Link, error)
	UnlinkAccount(ctx context.Context, supervisorID, childID string) error
	ListLinkedChildren(ctx context.Context, supervisorID string) ([]LinkedChild, error)
	// GetLinkedChild returns childID if it is linked to supervisorID, and
	// a NotFoundError otherwise.
	GetLinkedChild(ctx context.Context, supervisorID, childID string) (LinkedChild, error)
}

// validateCreateUser normalizes and checks in. It returns the trimmed
// username and its normalized form.
func validateCreateUser(op string, in CreateUserInput) (string, string, error) {
	username := strings.TrimSpace(in.Username)
	if err := ValidateUsername(username); err != nil {
		return "", "", OpError{Op: op, Kind: ErrInvalidInput, Msg: "username must be 3..50 printable characters"}
	}
	switch in.Role {
	case RoleChild, RoleParent, RoleSpecialist, RoleAdmin:
	default:
		return "", "", invalid(op, "unknown role")
	}
	if err := validateCredential(op, in.Credential); err != nil {
		return "", "", err
	}
	return username, NormalizeUsername(username), nil
}

func validateCredential(op string, c password.Credential) error {
	if strings.TrimSpace(c.Algorithm) == "" || c.Iterations <= 0 || c.Salt == "" || c.Key == "" {
		return invalid(op, "incomplete credential")
	}
	return nil
}

func validateLink(op string, in LinkInput) error {
	if strings.TrimSpace(in.SupervisorID) == "" || strings.TrimSpace(in.ChildID) == "" {
		return invalid(op, "supervisor_id and child_id are required")
	}
	if in.SupervisorID == in.ChildID {
		return invalid(op, "cannot link an account to itself")
	}
	switch in.Kind {
	case LinkParent, LinkSpecialist:
	default:
		return invalid(op, "unknown link kind")
	}
	return nil
}

func nowOr(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
