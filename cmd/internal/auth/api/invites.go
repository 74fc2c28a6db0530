package authapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"eduplay/cmd/identity"
	"eduplay/cmd/internal/invite"
)

// redeemInvite validates and consumes req.InviteToken for username and
// returns the role it grants. The use is recorded before the account is
// created so a token can never mint more accounts than MaxUses; a failed
// CreateUser afterwards spends that use.
func (h *Handler) redeemInvite(ctx context.Context, w http.ResponseWriter, req registerRequest, username string, now time.Time) (identity.Role, string, bool) {
	if h.invites == nil {
		writeError(w, http.StatusBadRequest, "invalid_invite", "invites are not enabled")
		return "", "", false
	}

	ok, inv, err := h.invites.ValidateInvite(ctx, req.InviteToken, now)
	if err != nil {
		h.log.Error("auth.invite.validate.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return "", "", false
	}
	if !ok {
		writeInvalidInvite(w)
		return "", "", false
	}
	if strings.TrimSpace(req.Role) != "" {
		if parsed, valid := identity.ParseRole(req.Role); !valid || parsed != inv.Role {
			writeError(w, http.StatusBadRequest, "invalid_role", "role does not match invite")
			return "", "", false
		}
	}

	if _, err := h.invites.ConsumeInvite(ctx, invite.ConsumeInput{
		Token:      req.InviteToken,
		ConsumedBy: identity.NormalizeUsername(username),
		Now:        now,
	}); err != nil {
		if errors.Is(err, invite.ErrNotActive) || errors.Is(err, invite.ErrNotFound) {
			writeInvalidInvite(w)
			return "", "", false
		}
		h.log.Error("auth.invite.consume.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return "", "", false
	}
	return inv.Role, inv.ID, true
}

func (h *Handler) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	admin, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var req createInviteRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	role, valid := identity.ParseRole(req.Role)
	if !valid || !role.CanSupervise() {
		writeError(w, http.StatusBadRequest, "invalid_role", "invites grant parent, specialist or admin")
		return
	}
	if req.TTLHours < 0 || req.MaxUses < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "ttl_hours and max_uses must not be negative")
		return
	}

	ctx := r.Context()
	now := h.now()

	inv, tok, err := h.invites.CreateInvite(ctx, invite.CreateInput{
		CreatedBy: admin.ID,
		Role:      role,
		TTL:       time.Duration(req.TTLHours) * time.Hour,
		MaxUses:   req.MaxUses,
		Note:      req.Note,
		Now:       now,
	})
	if err != nil {
		if errors.Is(err, invite.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid invite parameters")
			return
		}
		h.log.Error("auth.invite.create.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.audit(ctx, AuditEvent{
		Action:    "auth.invite.create",
		UserID:    admin.ID,
		IP:        ipString(clientIP(r, h.cfg.TrustProxy)),
		UserAgent: strings.TrimSpace(r.UserAgent()),
		Meta:      map[string]any{"invite_id": inv.ID, "role": string(role), "max_uses": inv.MaxUses},
		At:        now,
	})

	writeJSON(w, http.StatusCreated, createInviteResponse{Invite: toInviteResponse(inv), Token: tok})
}

func (h *Handler) handleRevokeInvite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}
	admin, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	var req revokeInviteRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	ctx := r.Context()
	now := h.now()
	if err := h.invites.RevokeInvite(ctx, req.InviteID, now); err != nil {
		switch {
		case errors.Is(err, invite.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, "invalid_request", "invite_id is required")
		case errors.Is(err, invite.ErrNotFound):
			writeError(w, http.StatusNotFound, "invite_not_found", "no such invite")
		default:
			h.log.Error("auth.invite.revoke.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.audit(ctx, AuditEvent{
		Action:    "auth.invite.revoke",
		UserID:    admin.ID,
		IP:        ipString(clientIP(r, h.cfg.TrustProxy)),
		UserAgent: strings.TrimSpace(r.UserAgent()),
		Meta:      map[string]any{"invite_id": strings.TrimSpace(req.InviteID)},
		At:        now,
	})
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) (identity.User, bool) {
	p, ok := h.requireAuth(w, r)
	if !ok {
		return identity.User{}, false
	}
	u, ok := h.currentUser(w, r, p)
	if !ok {
		return identity.User{}, false
	}
	if u.Role != identity.RoleAdmin {
		writeError(w, http.StatusForbidden, "forbidden", "admin only")
		return identity.User{}, false
	}
	return u, true
}

func registerAuditMeta(role identity.Role, inviteID string) map[string]any {
	meta := map[string]any{"role": string(role)}
	if inviteID != "" {
		meta["invite_id"] = inviteID
	}
	return meta
}

func writeInvalidInvite(w http.ResponseWriter) {
	writeError(w, http.StatusBadRequest, "invalid_invite", "invite is invalid or expired")
}
