package identity

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"eduplay/cmd/security/password"
)

// MemoryStore is an in-process Store for development runs without a
// database and for tests. Data is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]UserAuth // by id
	byName map[string]string   // username_norm -> id
	links  map[linkKey]Link
}

type linkKey struct {
	supervisorID string
	childID      string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]UserAuth),
		byName: make(map[string]string),
		links:  make(map[linkKey]Link),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (CreateUserResult, error) {
	const op = "identity.CreateUser"

	if err := ctx.Err(); err != nil {
		return CreateUserResult{}, err
	}
	username, norm, err := validateCreateUser(op, in)
	if err != nil {
		return CreateUserResult{}, err
	}

	now := nowOr(in.Now)
	id, err := NewULID(now)
	if err != nil {
		return CreateUserResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byName[norm]; taken {
		return CreateUserResult{}, ConflictError{Op: op, Field: "username"}
	}

	u := User{
		ID:           id,
		Username:     username,
		UsernameNorm: norm,
		Role:         in.Role,
		CreatedAt:    now,
	}
	s.users[id] = UserAuth{User: u, Credential: in.Credential}
	s.byName[norm] = id

	return CreateUserResult{User: u}, nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (User, error) {
	ua, err := s.GetUserAuthByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	return ua.User, nil
}

func (s *MemoryStore) GetUserAuthByID(ctx context.Context, id string) (UserAuth, error) {
	const op = "identity.GetUserAuthByID"

	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}
	if strings.TrimSpace(id) == "" {
		return UserAuth{}, invalid(op, "missing user_id")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ua, ok := s.users[id]
	if !ok {
		return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
	}
	return ua, nil
}

func (s *MemoryStore) GetUserAuthByUsername(ctx context.Context, username string) (UserAuth, error) {
	const op = "identity.GetUserAuthByUsername"

	if err := ctx.Err(); err != nil {
		return UserAuth{}, err
	}
	norm := NormalizeUsername(username)
	if norm == "" {
		return UserAuth{}, invalid(op, "missing username")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[norm]
	if !ok {
		return UserAuth{}, NotFoundError{Op: op, Resource: "user"}
	}
	return s.users[id], nil
}

func (s *MemoryStore) UpdateCredential(ctx context.Context, userID string, cred password.Credential, now time.Time) error {
	const op = "identity.UpdateCredential"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(userID) == "" {
		return invalid(op, "missing user_id")
	}
	if err := validateCredential(op, cred); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ua, ok := s.users[userID]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	ua.Credential = cred
	s.users[userID] = ua
	return nil
}

func (s *MemoryStore) LinkAccount(ctx context.Context, in LinkInput) (Link, error) {
	const op = "identity.LinkAccount"

	if err := ctx.Err(); err != nil {
		return Link{}, err
	}
	if err := validateLink(op, in); err != nil {
		return Link{}, err
	}

	now := nowOr(in.Now)
	id, err := NewULID(now)
	if err != nil {
		return Link{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[in.SupervisorID]; !ok {
		return Link{}, NotFoundError{Op: op, Resource: "supervisor"}
	}
	child, ok := s.users[in.ChildID]
	if !ok {
		return Link{}, NotFoundError{Op: op, Resource: "child"}
	}
	if child.User.Role != RoleChild {
		return Link{}, invalid(op, "target is not a child account")
	}

	key := linkKey{supervisorID: in.SupervisorID, childID: in.ChildID}
	if existing, ok := s.links[key]; ok {
		return existing, nil
	}

	l := Link{
		ID:           id,
		SupervisorID: in.SupervisorID,
		ChildID:      in.ChildID,
		Kind:         in.Kind,
		CreatedAt:    now,
	}
	s.links[key] = l
	return l, nil
}

func (s *MemoryStore) UnlinkAccount(ctx context.Context, supervisorID, childID string) error {
	const op = "identity.UnlinkAccount"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(supervisorID) == "" || strings.TrimSpace(childID) == "" {
		return invalid(op, "supervisor_id and child_id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := linkKey{supervisorID: supervisorID, childID: childID}
	if _, ok := s.links[key]; !ok {
		return NotFoundError{Op: op, Resource: "link"}
	}
	delete(s.links, key)
	return nil
}

func (s *MemoryStore) ListLinkedChildren(ctx context.Context, supervisorID string) ([]LinkedChild, error) {
	const op = "identity.ListLinkedChildren"

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(supervisorID) == "" {
		return nil, invalid(op, "missing supervisor_id")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]LinkedChild, 0)
	for key, l := range s.links {
		if key.supervisorID != supervisorID {
			continue
		}
		child, ok := s.users[key.childID]
		if !ok {
			continue
		}
		out = append(out, LinkedChild{User: child.User, Kind: l.Kind, LinkedAt: l.CreatedAt})
	}

	// Same order as the Postgres query: oldest link first, then by id.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LinkedAt.Equal(out[j].LinkedAt) {
			return out[i].LinkedAt.Before(out[j].LinkedAt)
		}
		return out[i].User.ID < out[j].User.ID
	})
	return out, nil
}

func (s *MemoryStore) GetLinkedChild(ctx context.Context, supervisorID, childID string) (LinkedChild, error) {
	const op = "identity.GetLinkedChild"

	if err := ctx.Err(); err != nil {
		return LinkedChild{}, err
	}
	if strings.TrimSpace(supervisorID) == "" || strings.TrimSpace(childID) == "" {
		return LinkedChild{}, invalid(op, "supervisor_id and child_id are required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.links[linkKey{supervisorID: supervisorID, childID: childID}]
	if !ok {
		return LinkedChild{}, NotFoundError{Op: op, Resource: "link"}
	}
	child, ok := s.users[childID]
	if !ok {
		return LinkedChild{}, NotFoundError{Op: op, Resource: "child"}
	}
	return LinkedChild{User: child.User, Kind: l.Kind, LinkedAt: l.CreatedAt}, nil
}
