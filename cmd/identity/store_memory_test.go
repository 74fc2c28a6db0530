package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"eduplay/cmd/security/password"
)

func mustCredential(t *testing.T, pw string) password.Credential {
	t.Helper()

	c, err := password.Hash(pw, password.WithIterations(1000))
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return c
}

func mustCreateUser(t *testing.T, s Store, username string, role Role) User {
	t.Helper()

	res, err := s.CreateUser(context.Background(), CreateUserInput{
		Username:   username,
		Role:       role,
		Credential: mustCredential(t, "very-strong-password-1"),
		Now:        time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create user %q: %v", username, err)
	}
	return res.User
}

func TestMemoryStore_CreateUser_ConflictUsername_CaseInsensitive(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	u := mustCreateUser(t, s, "  Lucia ", RoleChild)

	if u.Username != "Lucia" || u.UsernameNorm != "lucia" {
		t.Fatalf("unexpected username fields: %+v", u)
	}
	if !IsULID(u.ID) {
		t.Fatalf("expected ULID id, got %q", u.ID)
	}

	_, err := s.CreateUser(context.Background(), CreateUserInput{
		Username:   "LUCIA",
		Role:       RoleParent,
		Credential: mustCredential(t, "another-password"),
	})
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var ce ConflictError
	if !errors.As(err, &ce) || ce.Field != "username" {
		t.Fatalf("expected username conflict, got %#v", err)
	}
}

func TestMemoryStore_CreateUser_InvalidInput(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	good := mustCredential(t, "very-strong-password-1")

	cases := []struct {
		name string
		in   CreateUserInput
	}{
		{name: "short username", in: CreateUserInput{Username: "ab", Role: RoleChild, Credential: good}},
		{name: "long username", in: CreateUserInput{Username: string(make([]byte, 51)), Role: RoleChild, Credential: good}},
		{name: "control char", in: CreateUserInput{Username: "ab\x07cd", Role: RoleChild, Credential: good}},
		{name: "unknown role", in: CreateUserInput{Username: "abcd", Role: "wizard", Credential: good}},
		{name: "empty credential", in: CreateUserInput{Username: "abcd", Role: RoleChild}},
	}

	for _, tc := range cases {
		if _, err := s.CreateUser(context.Background(), tc.in); !IsInvalidInput(err) {
			t.Fatalf("%s: expected invalid input, got %v", tc.name, err)
		}
	}
}

func TestMemoryStore_GetUserAuth_RoundTripsCredential(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	cred := mustCredential(t, "correct-horse")

	res, err := s.CreateUser(context.Background(), CreateUserInput{
		Username: "Mateo", Role: RoleParent, Credential: cred,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ua, err := s.GetUserAuthByUsername(context.Background(), "mateo")
	if err != nil {
		t.Fatalf("get by username: %v", err)
	}
	if ua.User.ID != res.User.ID || ua.Credential != cred {
		t.Fatalf("unexpected user auth: %+v", ua)
	}
	if !password.Verify("correct-horse", &ua.Credential) {
		t.Fatalf("stored credential does not verify")
	}

	byID, err := s.GetUserAuthByID(context.Background(), res.User.ID)
	if err != nil || byID.User.Username != "Mateo" {
		t.Fatalf("get by id: %+v %v", byID, err)
	}

	if _, err := s.GetUserAuthByUsername(context.Background(), "nobody"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := s.GetUserByID(context.Background(), "01ARZ3NDEKTSV4RRFFQ69G5FAV"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStore_UpdateCredential_ReplacesRecord(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	u := mustCreateUser(t, s, "sofia", RoleParent)

	next := mustCredential(t, "brand-new-password")
	if err := s.UpdateCredential(context.Background(), u.ID, next, time.Now()); err != nil {
		t.Fatalf("update: %v", err)
	}

	ua, err := s.GetUserAuthByID(context.Background(), u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if password.Verify("very-strong-password-1", &ua.Credential) {
		t.Fatalf("old password still verifies")
	}
	if !password.Verify("brand-new-password", &ua.Credential) {
		t.Fatalf("new password does not verify")
	}

	if err := s.UpdateCredential(context.Background(), "missing", next, time.Now()); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.UpdateCredential(context.Background(), u.ID, password.Credential{}, time.Now()); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestMemoryStore_Links(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	parent := mustCreateUser(t, s, "parent-1", RoleParent)
	child1 := mustCreateUser(t, s, "child-1", RoleChild)
	child2 := mustCreateUser(t, s, "child-2", RoleChild)
	other := mustCreateUser(t, s, "parent-2", RoleParent)

	t0 := time.Now().UTC()
	l1, err := s.LinkAccount(ctx, LinkInput{SupervisorID: parent.ID, ChildID: child1.ID, Kind: LinkParent, Now: t0})
	if err != nil {
		t.Fatalf("link 1: %v", err)
	}

	// Same pair again returns the original link.
	again, err := s.LinkAccount(ctx, LinkInput{SupervisorID: parent.ID, ChildID: child1.ID, Kind: LinkParent, Now: t0.Add(time.Minute)})
	if err != nil {
		t.Fatalf("relink: %v", err)
	}
	if again.ID != l1.ID || !again.CreatedAt.Equal(l1.CreatedAt) {
		t.Fatalf("expected idempotent link, got %+v vs %+v", again, l1)
	}

	if _, err := s.LinkAccount(ctx, LinkInput{SupervisorID: parent.ID, ChildID: child2.ID, Kind: LinkParent, Now: t0.Add(time.Second)}); err != nil {
		t.Fatalf("link 2: %v", err)
	}

	kids, err := s.ListLinkedChildren(ctx, parent.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(kids) != 2 || kids[0].User.ID != child1.ID || kids[1].User.ID != child2.ID {
		t.Fatalf("unexpected children: %+v", kids)
	}
	if kids[0].Kind != LinkParent {
		t.Fatalf("kind=%q", kids[0].Kind)
	}

	none, err := s.ListLinkedChildren(ctx, other.ID)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no children, got %+v %v", none, err)
	}

	lc, err := s.GetLinkedChild(ctx, parent.ID, child1.ID)
	if err != nil || lc.User.ID != child1.ID || lc.Kind != LinkParent {
		t.Fatalf("GetLinkedChild=%+v err=%v", lc, err)
	}
	if _, err := s.GetLinkedChild(ctx, other.ID, child1.ID); !IsNotFound(err) {
		t.Fatalf("expected not found for unlinked supervisor, got %v", err)
	}

	if err := s.UnlinkAccount(ctx, parent.ID, child1.ID); err != nil {
		t.Fatalf("unlink: %v", err)
	}
	if err := s.UnlinkAccount(ctx, parent.ID, child1.ID); !IsNotFound(err) {
		t.Fatalf("expected not found on second unlink, got %v", err)
	}
	if _, err := s.GetLinkedChild(ctx, parent.ID, child1.ID); !IsNotFound(err) {
		t.Fatalf("expected not found after unlink, got %v", err)
	}
	kids, _ = s.ListLinkedChildren(ctx, parent.ID)
	if len(kids) != 1 || kids[0].User.ID != child2.ID {
		t.Fatalf("unexpected children after unlink: %+v", kids)
	}
}

func TestMemoryStore_LinkAccount_Rejects(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()

	parent := mustCreateUser(t, s, "parent-1", RoleParent)
	notChild := mustCreateUser(t, s, "parent-2", RoleParent)
	child := mustCreateUser(t, s, "child-1", RoleChild)

	if _, err := s.LinkAccount(ctx, LinkInput{SupervisorID: parent.ID, ChildID: parent.ID, Kind: LinkParent}); !IsInvalidInput(err) {
		t.Fatalf("self link: expected invalid input, got %v", err)
	}
	if _, err := s.LinkAccount(ctx, LinkInput{SupervisorID: parent.ID, ChildID: notChild.ID, Kind: LinkParent}); !IsInvalidInput(err) {
		t.Fatalf("non-child: expected invalid input, got %v", err)
	}
	if _, err := s.LinkAccount(ctx, LinkInput{SupervisorID: parent.ID, ChildID: child.ID, Kind: "cousin"}); !IsInvalidInput(err) {
		t.Fatalf("bad kind: expected invalid input, got %v", err)
	}
	if _, err := s.LinkAccount(ctx, LinkInput{SupervisorID: "missing", ChildID: child.ID, Kind: LinkParent}); !IsNotFound(err) {
		t.Fatalf("missing supervisor: expected not found, got %v", err)
	}
	if _, err := s.LinkAccount(ctx, LinkInput{SupervisorID: parent.ID, ChildID: "missing", Kind: LinkParent}); !IsNotFound(err) {
		t.Fatalf("missing child: expected not found, got %v", err)
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewMemoryStore()
	if _, err := s.GetUserAuthByUsername(ctx, "anyone"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
