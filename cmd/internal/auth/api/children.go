package authapi

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"unicode"

	"eduplay/cmd/identity"
)

const (
	childNameMaxRunes    = 32
	childUsernameRetries = 3
)

// ClaimActor names the supervisor behind a play-as-child session.
const ClaimActor = "act"

// handleCreateChild creates a child account owned by the calling
// supervisor. The child gets a generated username and a random password
// nobody sees; it is reached through play-as-child only.
func (h *Handler) handleCreateChild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	supervisor, ok := h.requireSupervisor(w, r, "create_child")
	if !ok {
		return
	}

	var req createChildRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	slug := childNameSlug(req.Name)
	if slug == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}

	ctx := r.Context()
	now := h.now()

	secret, err := randomHex(16)
	if err != nil {
		h.log.Error("auth.create_child.random.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	cred, err := h.passwords.Hash(secret)
	if err != nil {
		h.log.Error("auth.create_child.hash.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	var child identity.User
	for attempt := 0; ; attempt++ {
		suffix, err := randomHex(4)
		if err != nil {
			h.log.Error("auth.create_child.random.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
			return
		}
		res, err := h.store.CreateUser(ctx, identity.CreateUserInput{
			Username:   "child_" + slug + "_" + suffix,
			Role:       identity.RoleChild,
			Credential: cred,
			Now:        now,
		})
		if err == nil {
			child = res.User
			break
		}
		if identity.IsConflict(err) && attempt+1 < childUsernameRetries {
			continue
		}
		h.log.Error("auth.create_child.create.fail", "err", err)
		h.metrics.register(string(identity.RoleChild), resultError)
		h.metrics.link("create_child", resultError)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	h.metrics.register(string(identity.RoleChild), resultOK)

	link, err := h.store.LinkAccount(ctx, identity.LinkInput{
		SupervisorID: supervisor.ID,
		ChildID:      child.ID,
		Kind:         identity.LinkKindFor(supervisor.Role),
		Now:          now,
	})
	if err != nil {
		// The child exists but is unreachable; it holds no data yet.
		h.log.Error("auth.create_child.link.fail", "err", err, "child_id", child.ID)
		h.metrics.link("create_child", resultError)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.metrics.link("create_child", resultOK)
	h.audit(ctx, AuditEvent{
		Action:    "auth.create_child",
		UserID:    supervisor.ID,
		IP:        ipString(clientIP(r, h.cfg.TrustProxy)),
		UserAgent: strings.TrimSpace(r.UserAgent()),
		Meta:      map[string]any{"child_id": child.ID, "kind": string(link.Kind)},
		At:        now,
	})

	writeJSON(w, http.StatusCreated, createChildResponse{
		OK: true,
		Child: toChildResponse(identity.LinkedChild{
			User:     child,
			Kind:     link.Kind,
			LinkedAt: link.CreatedAt,
		}),
	})
}

// handlePlayAsChild hands a supervisor a child session for one of their
// linked children. The token is returned in the body only.
func (h *Handler) handlePlayAsChild(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	supervisor, ok := h.requireSupervisor(w, r, "play_as_child")
	if !ok {
		return
	}

	var req playAsChildRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	childID := strings.TrimSpace(req.ChildID)
	if !identity.IsULID(childID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "child_id is required")
		return
	}

	ctx := r.Context()
	now := h.now()

	lc, err := h.store.GetLinkedChild(ctx, supervisor.ID, childID)
	if err != nil {
		if identity.IsNotFound(err) {
			h.metrics.link("play_as_child", resultInvalid)
			writeError(w, http.StatusForbidden, "not_linked", "child is not linked to this account")
			return
		}
		h.log.Error("auth.play_as_child.lookup.fail", "err", err)
		h.metrics.link("play_as_child", resultError)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if lc.User.Role != identity.RoleChild {
		h.metrics.link("play_as_child", resultInvalid)
		writeError(w, http.StatusForbidden, "not_linked", "child is not linked to this account")
		return
	}

	issued, err := h.sessions.Issue(ctx, now, lc.User.ID, map[string]any{
		"role":     string(identity.RoleChild),
		"u":        lc.User.Username,
		ClaimActor: supervisor.ID,
	})
	if err != nil {
		h.log.Error("auth.play_as_child.issue_session.fail", "err", err)
		h.metrics.link("play_as_child", resultError)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.metrics.link("play_as_child", resultOK)
	h.audit(ctx, AuditEvent{
		Action:    "auth.play_as_child",
		UserID:    supervisor.ID,
		IP:        ipString(clientIP(r, h.cfg.TrustProxy)),
		UserAgent: strings.TrimSpace(r.UserAgent()),
		Meta:      map[string]any{"child_id": lc.User.ID, "token_id": issued.TokenID},
		At:        now,
	})

	writeJSON(w, http.StatusOK, playAsChildResponse{
		OK:        true,
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt,
		User:      toUserResponse(lc.User),
	})
}

// requireSupervisor authenticates the caller and requires a role that may
// supervise children. The role is read from the store, not the token.
func (h *Handler) requireSupervisor(w http.ResponseWriter, r *http.Request, op string) (identity.User, bool) {
	p, ok := h.requireAuth(w, r)
	if !ok {
		return identity.User{}, false
	}
	u, ok := h.currentUser(w, r, p)
	if !ok {
		return identity.User{}, false
	}
	if !u.Role.CanSupervise() {
		h.metrics.link(op, resultInvalid)
		writeError(w, http.StatusForbidden, "forbidden", "account cannot supervise children")
		return identity.User{}, false
	}
	return u, true
}

// childNameSlug turns a display name into a username fragment: lower case,
// letters and digits only, at most childNameMaxRunes runes.
func childNameSlug(name string) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.ToLower(name) {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		b.WriteRune(r)
		n++
		if n == childNameMaxRunes {
			break
		}
	}
	return b.String()
}

func randomHex(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("auth: random: %w", err)
	}
	return hex.EncodeToString(b), nil
}
