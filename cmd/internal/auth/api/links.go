package authapi

import (
	"net/http"
	"strings"

	"eduplay/cmd/identity"
)

// handleLinkAccount links the authenticated supervisor to a child account.
// The caller proves control of the child by presenting its credentials, so
// the same throttle that guards login guards this endpoint.
func (h *Handler) handleLinkAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	p, ok := h.requireAuth(w, r)
	if !ok {
		return
	}
	supervisor, ok := h.currentUser(w, r, p)
	if !ok {
		return
	}
	if !supervisor.Role.CanSupervise() {
		h.metrics.link("link", resultInvalid)
		writeError(w, http.StatusForbidden, "forbidden", "account cannot supervise children")
		return
	}

	var req linkAccountRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	norm := identity.NormalizeUsername(req.ChildUsername)
	if norm == "" || req.ChildPassword == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "child_username and child_password are required")
		return
	}

	ctx := r.Context()
	now := h.now()
	ip := ipString(clientIP(r, h.cfg.TrustProxy))
	ua := strings.TrimSpace(r.UserAgent())

	if blocked, retryAfter := h.throttle.checkIP(now, ip); blocked {
		h.metrics.link("link", resultLimited)
		writeRateLimited(w, retryAfter)
		return
	}
	if blocked, retryAfter := h.throttle.checkUser(now, norm); blocked {
		h.metrics.link("link", resultLimited)
		writeRateLimited(w, retryAfter)
		return
	}

	child, ok := h.verifyCredentials(ctx, req.ChildUsername, req.ChildPassword)
	if !ok {
		h.throttle.recordFailure(now, ip, norm)
		h.metrics.link("link", resultInvalid)
		h.audit(ctx, AuditEvent{
			Action: "auth.link.failed", UserID: supervisor.ID, IP: ip, UserAgent: ua,
			Meta: map[string]any{"reason": "invalid_child_credentials"}, At: now,
		})
		writeInvalidCredentials(w)
		return
	}
	h.throttle.resetUser(norm)

	if child.User.Role != identity.RoleChild || child.User.ID == supervisor.ID {
		h.metrics.link("link", resultInvalid)
		writeError(w, http.StatusBadRequest, "not_a_child_account", "target account is not a child account")
		return
	}

	link, err := h.store.LinkAccount(ctx, identity.LinkInput{
		SupervisorID: supervisor.ID,
		ChildID:      child.User.ID,
		Kind:         identity.LinkKindFor(supervisor.Role),
		Now:          now,
	})
	if err != nil {
		switch {
		case identity.IsInvalidInput(err):
			h.metrics.link("link", resultInvalid)
			writeError(w, http.StatusBadRequest, "invalid_request", "account cannot be linked")
		case identity.IsNotFound(err):
			h.metrics.link("link", resultInvalid)
			writeInvalidCredentials(w)
		default:
			h.log.Error("auth.link.fail", "err", err)
			h.metrics.link("link", resultError)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.metrics.link("link", resultOK)
	h.audit(ctx, AuditEvent{
		Action: "auth.link", UserID: supervisor.ID, IP: ip, UserAgent: ua,
		Meta: map[string]any{"child_id": child.User.ID, "kind": string(link.Kind)}, At: now,
	})

	writeJSON(w, http.StatusOK, linkAccountResponse{
		OK: true,
		Child: toChildResponse(identity.LinkedChild{
			User:     child.User,
			Kind:     link.Kind,
			LinkedAt: link.CreatedAt,
		}),
	})
}

func (h *Handler) handleUnlinkAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	p, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req unlinkAccountRequest
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
	if err := h.store.UnlinkAccount(ctx, p.UserID, childID); err != nil {
		switch {
		case identity.IsNotFound(err):
			h.metrics.link("unlink", resultInvalid)
			writeError(w, http.StatusNotFound, "link_not_found", "no such linked account")
		case identity.IsInvalidInput(err):
			h.metrics.link("unlink", resultInvalid)
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
		default:
			h.log.Error("auth.unlink.fail", "err", err)
			h.metrics.link("unlink", resultError)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.metrics.link("unlink", resultOK)
	h.audit(ctx, AuditEvent{
		Action:    "auth.unlink",
		UserID:    p.UserID,
		IP:        ipString(clientIP(r, h.cfg.TrustProxy)),
		UserAgent: strings.TrimSpace(r.UserAgent()),
		Meta:      map[string]any{"child_id": childID},
	})

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleChildren(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	p, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	children, err := h.store.ListLinkedChildren(r.Context(), p.UserID)
	if err != nil {
		h.log.Error("auth.children.list.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	out := make([]childResponse, 0, len(children))
	for _, c := range children {
		out = append(out, toChildResponse(c))
	}
	writeJSON(w, http.StatusOK, childrenResponse{Children: out})
}
