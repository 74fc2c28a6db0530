package authapi

import (
	"context"
	"net/http"
	"regexp"
	"testing"
	"time"

	"eduplay/cmd/identity"
	"eduplay/cmd/internal/auth/session"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

var childUsernameRe = regexp.MustCompile(`^child_[\p{Ll}\p{N}]+_[0-9a-f]{8}$`)

func (e *testEnv) seedUser(t *testing.T, username, pw string, role identity.Role) identity.User {
	t.Helper()

	cred, err := e.pw.Hash(pw)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	res, err := e.store.CreateUser(context.Background(), identity.CreateUserInput{
		Username:   username,
		Role:       role,
		Credential: cred,
		Now:        e.clock.Now(),
	})
	if err != nil {
		t.Fatalf("seed %s: %v", username, err)
	}
	return res.User
}

func TestCreateChild(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.mustRegister(t, "parent-ana", "sunflower-42", "parent")
	env.seedUser(t, "dr-ruiz", "clinic-hours-9", identity.RoleSpecialist)
	parent := env.mustLogin(t, "parent-ana", "sunflower-42")
	specialist := env.mustLogin(t, "dr-ruiz", "clinic-hours-9")

	cases := []struct {
		name   string
		cookie *http.Cookie
		body   string
		kind   identity.LinkKind
	}{
		{"parent", parent, `{"name":"Lucía Pérez"}`, identity.LinkParent},
		{"specialist", specialist, `{"name":"  Ben 2 "}`, identity.LinkSpecialist},
	}
	for _, tc := range cases {
		rec := env.do(t, http.MethodPost, "/api/create-child", tc.body, tc.cookie)
		if rec.Code != http.StatusCreated {
			t.Fatalf("%s: status=%d body=%s", tc.name, rec.Code, rec.Body.String())
		}
		var out createChildResponse
		decodeBody(t, rec, &out)
		if !out.OK || !identity.IsULID(out.Child.ID) || out.Child.Kind != string(tc.kind) {
			t.Fatalf("%s: unexpected response %+v", tc.name, out)
		}
		if !childUsernameRe.MatchString(out.Child.Username) {
			t.Fatalf("%s: unexpected generated username %q", tc.name, out.Child.Username)
		}

		rec = env.do(t, http.MethodGet, "/api/children", "", tc.cookie)
		var list childrenResponse
		decodeBody(t, rec, &list)
		if len(list.Children) != 1 || list.Children[0].ID != out.Child.ID {
			t.Fatalf("%s: children=%s", tc.name, rec.Body.String())
		}

		u, err := env.store.GetUserByID(context.Background(), out.Child.ID)
		if err != nil || u.Role != identity.RoleChild {
			t.Fatalf("%s: stored child=%+v err=%v", tc.name, u, err)
		}
	}

	if got := testutil.ToFloat64(env.metrics.LinkChanges.WithLabelValues("create_child", resultOK)); got != 2 {
		t.Fatalf("create_child ok=%v", got)
	}
}

func TestCreateChild_Rejections(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.mustRegister(t, "parent-ana", "sunflower-42", "parent")
	env.mustRegister(t, "kid-ben", "rocket-ship-9", "child")
	parent := env.mustLogin(t, "parent-ana", "sunflower-42")
	kid := env.mustLogin(t, "kid-ben", "rocket-ship-9")

	if rec := env.do(t, http.MethodPost, "/api/create-child", `{"name":"Mia"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: status=%d", rec.Code)
	}
	if rec := env.do(t, http.MethodPost, "/api/create-child", `{"name":"Mia"}`, kid); rec.Code != http.StatusForbidden {
		t.Fatalf("child caller: status=%d", rec.Code)
	}
	for _, body := range []string{`{"name":""}`, `{"name":"  !! "}`, `{}`} {
		rec := env.do(t, http.MethodPost, "/api/create-child", body, parent)
		if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "invalid_request" {
			t.Fatalf("body %s: status=%d body=%s", body, rec.Code, rec.Body.String())
		}
	}
	if rec := env.do(t, http.MethodGet, "/api/create-child", "", parent); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET: status=%d", rec.Code)
	}
}

func TestPlayAsChild(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, nil)
	env.mustRegister(t, "parent-ana", "sunflower-42", "parent")
	env.mustRegister(t, "parent-eva", "moonlight-77", "parent")
	ana := env.mustLogin(t, "parent-ana", "sunflower-42")
	eva := env.mustLogin(t, "parent-eva", "moonlight-77")

	rec := env.do(t, http.MethodPost, "/api/create-child", `{"name":"Mia"}`, ana)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create child: status=%d body=%s", rec.Code, rec.Body.String())
	}
	var created createChildResponse
	decodeBody(t, rec, &created)
	childBody := `{"child_id":"` + created.Child.ID + `"}`

	rec = env.do(t, http.MethodPost, "/api/play-as-child", childBody, eva)
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "not_linked" {
		t.Fatalf("unlinked supervisor: status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/play-as-child", childBody, ana)
	if rec.Code != http.StatusOK {
		t.Fatalf("play as child: status=%d body=%s", rec.Code, rec.Body.String())
	}
	if sessionCookie(rec) != nil {
		t.Fatalf("play-as-child must not set a session cookie")
	}
	var out playAsChildResponse
	decodeBody(t, rec, &out)
	if !out.OK || out.Token == "" || out.User.ID != created.Child.ID || out.User.Role != string(identity.RoleChild) {
		t.Fatalf("unexpected response: %+v", out)
	}
	if want := env.clock.Now().Add(time.Hour); !out.ExpiresAt.Equal(want) {
		t.Fatalf("expires_at=%v want %v", out.ExpiresAt, want)
	}

	childCookie := &http.Cookie{Name: session.DefaultCookieName, Value: out.Token}
	rec = env.do(t, http.MethodGet, "/api/me", "", childCookie)
	var me meResponse
	decodeBody(t, rec, &me)
	if rec.Code != http.StatusOK || me.User.ID != created.Child.ID {
		t.Fatalf("me as child: status=%d body=%s", rec.Code, rec.Body.String())
	}

	// The child session cannot act as a supervisor.
	if rec := env.do(t, http.MethodPost, "/api/create-child", `{"name":"Zoe"}`, childCookie); rec.Code != http.StatusForbidden {
		t.Fatalf("child creating child: status=%d", rec.Code)
	}

	// The supervisor's own session is untouched.
	rec = env.do(t, http.MethodGet, "/api/me", "", ana)
	decodeBody(t, rec, &me)
	if rec.Code != http.StatusOK || me.User.Username != "parent-ana" {
		t.Fatalf("supervisor session: status=%d body=%s", rec.Code, rec.Body.String())
	}

	if rec := env.do(t, http.MethodPost, "/api/unlink-account", childBody, ana); rec.Code != http.StatusOK {
		t.Fatalf("unlink: status=%d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/api/play-as-child", childBody, ana)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("after unlink: status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/play-as-child", `{"child_id":"nope"}`, ana)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad child_id: status=%d", rec.Code)
	}
}
