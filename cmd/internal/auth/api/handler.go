package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"eduplay/cmd/identity"
	"eduplay/cmd/internal/auth/session"
	"eduplay/cmd/internal/invite"
	"eduplay/cmd/security/password"
)

// Handler wires HTTP auth endpoints to the identity store and session service.
type Handler struct {
	log *slog.Logger
	cfg Config

	store     identity.Store
	sessions  *session.Service
	passwords password.Config

	invites  *invite.Service
	auditor  Auditor
	metrics  *Metrics
	throttle *loginThrottle
	now      func() time.Time

	// dummyCred is verified against when a username does not exist so both
	// paths cost one key derivation.
	dummyCred password.Credential
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithAuditor persists audit events in addition to logging them.
func WithAuditor(a Auditor) HandlerOption {
	return func(h *Handler) {
		if h == nil || a == nil {
			return
		}
		h.auditor = a
	}
}

// WithInvites enables invite-based registration and the admin invite
// endpoints.
func WithInvites(s *invite.Service) HandlerOption {
	return func(h *Handler) {
		if h == nil {
			return
		}
		h.invites = s
	}
}

// WithMetrics records auth counters.
func WithMetrics(m *Metrics) HandlerOption {
	return func(h *Handler) {
		if h == nil {
			return
		}
		h.metrics = m
	}
}

// WithPasswordConfig overrides hashing parameters and password policy.
func WithPasswordConfig(cfg password.Config) HandlerOption {
	return func(h *Handler) {
		if h == nil {
			return
		}
		h.passwords = cfg
	}
}

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if h == nil || now == nil {
			return
		}
		h.now = now
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, store identity.Store, sessions *session.Service, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		return nil, errors.New("auth: nil identity store")
	}
	if sessions == nil {
		return nil, errors.New("auth: nil session service")
	}

	h := &Handler{
		log:       log,
		cfg:       cfg,
		store:     store,
		sessions:  sessions,
		passwords: password.DefaultConfig(),
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	h.throttle = newLoginThrottle(cfg)

	dummy, err := h.passwords.Hash("dummy-password-for-timing-only")
	if err != nil {
		return nil, err
	}
	h.dummyCred = dummy

	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/api/register", h.handleRegister)
	mux.HandleFunc("/api/login", h.handleLogin)
	mux.HandleFunc("/api/logout", h.handleLogout)
	mux.HandleFunc("/api/me", h.handleMe)
	mux.HandleFunc("/api/change-password", h.handleChangePassword)
	mux.HandleFunc("/api/link-account", h.handleLinkAccount)
	mux.HandleFunc("/api/unlink-account", h.handleUnlinkAccount)
	mux.HandleFunc("/api/children", h.handleChildren)
	mux.HandleFunc("/api/create-child", h.handleCreateChild)
	mux.HandleFunc("/api/play-as-child", h.handlePlayAsChild)
	if h.invites != nil {
		mux.HandleFunc("/api/invites", h.handleCreateInvite)
		mux.HandleFunc("/api/invites/revoke", h.handleRevokeInvite)
	}
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	username := strings.TrimSpace(req.Username)
	if err := identity.ValidateUsername(username); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_username", "username must be 3 to 50 characters")
		return
	}

	if err := h.passwords.Validate(req.Password); err != nil {
		writePolicyError(w, err)
		return
	}

	ctx := r.Context()
	now := h.now()

	var (
		role     identity.Role
		inviteID string
		ok       bool
	)
	if strings.TrimSpace(req.InviteToken) != "" {
		role, inviteID, ok = h.redeemInvite(ctx, w, req, username, now)
		if !ok {
			return
		}
	} else {
		role = identity.RoleChild
		if strings.TrimSpace(req.Role) != "" {
			parsed, valid := identity.ParseRole(req.Role)
			if !valid || !h.selfRegistrable(parsed) {
				writeError(w, http.StatusBadRequest, "invalid_role", "role cannot be registered")
				return
			}
			role = parsed
		}
	}

	cred, err := h.passwords.Hash(req.Password)
	if err != nil {
		h.log.Error("auth.register.hash.fail", "err", err)
		h.metrics.register(string(role), resultError)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	res, err := h.store.CreateUser(ctx, identity.CreateUserInput{
		Username:   username,
		Role:       role,
		Credential: cred,
		Now:        now,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			h.metrics.register(string(role), resultConflict)
			writeError(w, http.StatusConflict, "username_taken", "username already registered")
		case identity.IsInvalidInput(err):
			h.metrics.register(string(role), resultInvalid)
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
		default:
			h.log.Error("auth.register.fail", "err", err)
			h.metrics.register(string(role), resultError)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	h.metrics.register(string(role), resultOK)
	h.audit(ctx, AuditEvent{
		Action:    "auth.register",
		UserID:    res.User.ID,
		IP:        ipString(clientIP(r, h.cfg.TrustProxy)),
		UserAgent: strings.TrimSpace(r.UserAgent()),
		Meta:      registerAuditMeta(role, inviteID),
		At:        now,
	})

	writeJSON(w, http.StatusCreated, registerResponse{OK: true, User: toUserResponse(res.User)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	norm := identity.NormalizeUsername(req.Username)
	if norm == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username and password are required")
		return
	}

	ctx := r.Context()
	now := h.now()
	ip := ipString(clientIP(r, h.cfg.TrustProxy))
	ua := strings.TrimSpace(r.UserAgent())

	if blocked, retryAfter := h.throttle.checkIP(now, ip); blocked {
		h.rateLimited(ctx, w, "auth.login.rate_limited", ip, ua, retryAfter)
		return
	}
	if blocked, retryAfter := h.throttle.checkUser(now, norm); blocked {
		h.rateLimited(ctx, w, "auth.login.rate_limited", ip, ua, retryAfter)
		return
	}

	acct, ok := h.verifyCredentials(ctx, req.Username, req.Password)
	if !ok {
		h.throttle.recordFailure(now, ip, norm)
		h.metrics.login(resultInvalid)
		h.audit(ctx, AuditEvent{
			Action: "auth.login.failed", UserID: acct.User.ID, IP: ip, UserAgent: ua,
			Meta: map[string]any{"reason": "invalid_credentials"}, At: now,
		})
		writeInvalidCredentials(w)
		return
	}
	h.throttle.resetUser(norm)

	issued, err := h.issueSession(ctx, now, acct.User)
	if err != nil {
		h.log.Error("auth.login.issue_session.fail", "err", err)
		h.metrics.login(resultError)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.metrics.login(resultOK)
	h.audit(ctx, AuditEvent{Action: "auth.login.success", UserID: acct.User.ID, IP: ip, UserAgent: ua, At: now})

	http.SetCookie(w, h.sessions.Cookie(issued, now))
	writeJSON(w, http.StatusOK, sessionResponse{
		User:      toUserResponse(acct.User),
		ExpiresAt: issued.ExpiresAt,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w, http.MethodPost)
		return
	}

	ctx := r.Context()
	now := h.now()

	// Logout always succeeds for the client; an invalid or missing token
	// only means there is nothing to revoke.
	if tok := session.TokenFromRequest(r, h.sessions.Config().CookieName); tok != "" {
		if p, err := h.sessions.Validate(ctx, tok, now); err == nil {
			if err := h.sessions.Revoke(ctx, now, p); err != nil {
				h.log.Error("auth.logout.revoke.fail", "err", err)
			} else {
				h.audit(ctx, AuditEvent{
					Action:    "auth.logout",
					UserID:    p.UserID,
					IP:        ipString(clientIP(r, h.cfg.TrustProxy)),
					UserAgent: strings.TrimSpace(r.UserAgent()),
					At:        now,
				})
			}
		}
	}

	http.SetCookie(w, h.sessions.ClearCookie())
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, http.MethodGet)
		return
	}

	p, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	u, ok := h.currentUser(w, r, p)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(u), ExpiresAt: p.ExpiresAt})
}

// ---- helpers ----

// requireAuth validates the request's session. Every failure is the same 401.
func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (session.Principal, bool) {
	tok := session.TokenFromRequest(r, h.sessions.Config().CookieName)
	if tok == "" {
		h.metrics.session(resultInvalid)
		writeUnauthorized(w)
		return session.Principal{}, false
	}

	p, err := h.sessions.Validate(r.Context(), tok, h.now())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidToken):
			h.metrics.session(resultInvalid)
		case errors.Is(err, session.ErrSessionRevoked):
			h.metrics.session(resultRevoked)
		default:
			h.log.Error("auth.session.validate.fail", "err", err)
			h.metrics.session(resultError)
		}
		writeUnauthorized(w)
		return session.Principal{}, false
	}

	h.metrics.session(resultOK)
	return p, true
}

// currentUser loads the principal's account. A session whose user no
// longer exists is treated as unauthenticated.
func (h *Handler) currentUser(w http.ResponseWriter, r *http.Request, p session.Principal) (identity.User, bool) {
	u, err := h.store.GetUserByID(r.Context(), p.UserID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeUnauthorized(w)
			return identity.User{}, false
		}
		h.log.Error("auth.current_user.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return identity.User{}, false
	}
	return u, true
}

// verifyCredentials looks up username and verifies pw. On an unknown user it
// still runs one verification against the dummy credential. The returned
// UserAuth carries the user id whenever the user exists.
func (h *Handler) verifyCredentials(ctx context.Context, username, pw string) (identity.UserAuth, bool) {
	ua, err := h.store.GetUserAuthByUsername(ctx, username)
	if err != nil {
		if !identity.IsNotFound(err) && !identity.IsInvalidInput(err) {
			h.log.Error("auth.lookup_user.fail", "err", err)
		}
		_ = password.Verify(pw, &h.dummyCred)
		return identity.UserAuth{}, false
	}
	if !password.Verify(pw, &ua.Credential) {
		return identity.UserAuth{User: identity.User{ID: ua.User.ID}}, false
	}
	return ua, true
}

func (h *Handler) issueSession(ctx context.Context, now time.Time, u identity.User) (session.Issued, error) {
	return h.sessions.Issue(ctx, now, u.ID, map[string]any{
		"role": string(u.Role),
		"u":    u.Username,
	})
}

func (h *Handler) rateLimited(ctx context.Context, w http.ResponseWriter, action, ip, ua string, retryAfter time.Duration) {
	h.metrics.login(resultLimited)
	h.audit(ctx, AuditEvent{
		Action: action, IP: ip, UserAgent: ua,
		Meta: map[string]any{"retry_after_s": int64(retryAfter.Seconds())},
	})
	writeRateLimited(w, retryAfter)
}

func (h *Handler) selfRegistrable(r identity.Role) bool {
	switch r {
	case identity.RoleChild:
		return true
	case identity.RoleParent:
		return h.cfg.AllowParentSignup
	default:
		return false
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
}

func writeInvalidCredentials(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
}

func writePolicyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, password.ErrPasswordTooShort):
		writeError(w, http.StatusBadRequest, "password_too_short", "password is too short")
	case errors.Is(err, password.ErrPasswordTooLong):
		writeError(w, http.StatusBadRequest, "password_too_long", "password is too long")
	case errors.Is(err, password.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, "password_too_weak", "password is too common")
	default:
		writeError(w, http.StatusBadRequest, "invalid_password", "invalid password")
	}
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}
