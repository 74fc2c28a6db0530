package authapi

import (
	"net/http"
	"strings"

	"eduplay/cmd/identity"
	"eduplay/cmd/security/password"
)

// handleChangePassword replaces the caller's credential. Every existing
// session of the user is revoked and a fresh one is issued in place of the
// presenting session.
func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	p, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "current_password and new_password are required")
		return
	}

	ctx := r.Context()
	now := h.now()
	ip := ipString(clientIP(r, h.cfg.TrustProxy))
	ua := strings.TrimSpace(r.UserAgent())

	acct, err := h.store.GetUserAuthByID(ctx, p.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeUnauthorized(w)
			return
		}
		h.log.Error("auth.change_password.lookup.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if blocked, retryAfter := h.throttle.checkUser(now, acct.User.UsernameNorm); blocked {
		writeRateLimited(w, retryAfter)
		return
	}
	if !password.Verify(req.CurrentPassword, &acct.Credential) {
		h.throttle.recordFailure(now, ip, acct.User.UsernameNorm)
		h.audit(ctx, AuditEvent{
			Action: "auth.change_password.failed", UserID: acct.User.ID, IP: ip, UserAgent: ua,
			Meta: map[string]any{"reason": "invalid_current_password"}, At: now,
		})
		writeInvalidCredentials(w)
		return
	}

	if err := h.passwords.Validate(req.NewPassword); err != nil {
		writePolicyError(w, err)
		return
	}

	cred, err := h.passwords.Hash(req.NewPassword)
	if err != nil {
		h.log.Error("auth.change_password.hash.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	if err := h.store.UpdateCredential(ctx, acct.User.ID, cred, now); err != nil {
		h.log.Error("auth.change_password.update.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	issued, err := h.issueSession(ctx, now, acct.User)
	if err != nil {
		h.log.Error("auth.change_password.issue_session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	if err := h.sessions.Revoke(ctx, now, p); err != nil {
		h.log.Error("auth.change_password.revoke.fail", "err", err)
	}
	if err := h.sessions.RevokeUser(ctx, now, acct.User.ID, issued.TokenID); err != nil {
		h.log.Error("auth.change_password.revoke_user.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.audit(ctx, AuditEvent{Action: "auth.change_password", UserID: acct.User.ID, IP: ip, UserAgent: ua, At: now})

	http.SetCookie(w, h.sessions.Cookie(issued, now))
	writeJSON(w, http.StatusOK, sessionResponse{
		User:      toUserResponse(acct.User),
		ExpiresAt: issued.ExpiresAt,
	})
}
