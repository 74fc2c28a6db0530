package authapi

import (
	"time"

	"eduplay/cmd/identity"
	"eduplay/cmd/internal/invite"
)

type registerRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	Role        string `json:"role"`
	InviteToken string `json:"invite_token"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type linkAccountRequest struct {
	ChildUsername string `json:"child_username"`
	ChildPassword string `json:"child_password"`
}

type unlinkAccountRequest struct {
	ChildID string `json:"child_id"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

type registerResponse struct {
	OK   bool         `json:"ok"`
	User userResponse `json:"user"`
}

type sessionResponse struct {
	User      userResponse `json:"user"`
	ExpiresAt time.Time    `json:"expires_at"`
}

type meResponse struct {
	User      userResponse `json:"user"`
	ExpiresAt time.Time    `json:"expires_at"`
}

type childResponse struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Kind     string    `json:"kind"`
	LinkedAt time.Time `json:"linked_at"`
}

type linkAccountResponse struct {
	OK    bool          `json:"ok"`
	Child childResponse `json:"child"`
}

type childrenResponse struct {
	Children []childResponse `json:"children"`
}

type createChildRequest struct {
	Name string `json:"name"`
}

type createChildResponse struct {
	OK    bool          `json:"ok"`
	Child childResponse `json:"child"`
}

type playAsChildRequest struct {
	ChildID string `json:"child_id"`
}

// playAsChildResponse carries a child session in the body; it is never set
// as a cookie so the supervisor's own session stays in place.
type playAsChildResponse struct {
	OK        bool         `json:"ok"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      userResponse `json:"user"`
}

type createInviteRequest struct {
	Role     string `json:"role"`
	TTLHours int    `json:"ttl_hours"`
	MaxUses  int    `json:"max_uses"`
	Note     string `json:"note"`
}

type revokeInviteRequest struct {
	InviteID string `json:"invite_id"`
}

type inviteResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
	MaxUses   int       `json:"max_uses"`
	UsedCount int       `json:"used_count"`
	Note      string    `json:"note,omitempty"`
}

type createInviteResponse struct {
	Invite inviteResponse `json:"invite"`
	// Token is shown once; only its digest is stored.
	Token string `json:"token"`
}

func toInviteResponse(inv invite.Invite) inviteResponse {
	return inviteResponse{
		ID:        inv.ID,
		Role:      string(inv.Role),
		ExpiresAt: inv.ExpiresAt,
		MaxUses:   inv.MaxUses,
		UsedCount: inv.UsedCount,
		Note:      inv.Note,
	}
}

func toUserResponse(u identity.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
	}
}

func toChildResponse(lc identity.LinkedChild) childResponse {
	return childResponse{
		ID:       lc.User.ID,
		Username: lc.User.Username,
		Kind:     string(lc.Kind),
		LinkedAt: lc.LinkedAt,
	}
}
