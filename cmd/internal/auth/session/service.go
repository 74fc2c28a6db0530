package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"eduplay/cmd/security/token"

	"github.com/oklog/ulid/v2"
)

// Claim names the service adds on top of sub/exp.
const (
	ClaimTokenID  = "jti"
	ClaimIssuedAt = "iat"
)

// Service issues, validates and revokes session tokens.
type Service struct {
	cfg      Config
	denylist Denylist
}

// Issued is a freshly signed session token.
type Issued struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
}

// Principal is the authenticated identity behind a valid session token.
type Principal struct {
	UserID    string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Claims    token.Claims
}

// NewService validates cfg and returns a Service. A nil denylist disables
// revocation checks (tokens then live until exp). The secret is trimmed
// once here; every signature uses the trimmed value.
func NewService(cfg Config, denylist Denylist) (*Service, error) {
	cfg.Secret = strings.TrimSpace(cfg.Secret)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{cfg: cfg, denylist: denylist}, nil
}

// Config returns the service configuration.
func (s *Service) Config() Config { return s.cfg }

// Issue signs a session for userID. extra carries display claims such as
// role or username; it must not use sub, exp, jti or iat.
func (s *Service) Issue(ctx context.Context, now time.Time, userID string, extra map[string]any) (Issued, error) {
	if err := ctx.Err(); err != nil {
		return Issued{}, err
	}

	jti, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return Issued{}, err
	}

	claims := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		if k == ClaimTokenID || k == ClaimIssuedAt {
			return Issued{}, fmt.Errorf("%w: claim %q is reserved", token.ErrInvalidInput, k)
		}
		claims[k] = v
	}
	claims[ClaimTokenID] = jti.String()
	claims[ClaimIssuedAt] = now.Unix()

	out, err := token.Issue(userID, claims, s.cfg.Secret, s.cfg.ttlSeconds(), now)
	if err != nil {
		return Issued{}, err
	}

	return Issued{
		Token:     out.Token,
		TokenID:   jti.String(),
		ExpiresAt: out.Expiry(),
	}, nil
}

// Validate verifies tok at now and checks the denylist.
//
// Returns ErrInvalidToken for any verification failure and
// ErrSessionRevoked for a revoked token. Denylist lookup failures are
// returned as-is; callers must treat them as unauthenticated.
func (s *Service) Validate(ctx context.Context, tok string, now time.Time) (Principal, error) {
	claims, ok := token.Verify(tok, s.cfg.Secret, now)
	if !ok {
		return Principal{}, ErrInvalidToken
	}

	jti, _ := claims.GetString(ClaimTokenID)
	id, err := ulid.ParseStrict(jti)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}

	// The jti carries the issue time to the millisecond; iat only has
	// seconds.
	p := Principal{
		UserID:    claims.Subject,
		TokenID:   jti,
		IssuedAt:  ulid.Time(id.Time()).UTC(),
		ExpiresAt: claims.Expiry(),
		Claims:    claims,
	}

	if s.denylist != nil {
		revoked, err := s.denylist.IsRevoked(ctx, jti, now)
		if err != nil {
			return Principal{}, fmt.Errorf("session: denylist lookup: %w", err)
		}
		if revoked {
			return Principal{}, ErrSessionRevoked
		}

		c, ok, err := s.denylist.CutoffFor(ctx, p.UserID, now)
		if err != nil {
			return Principal{}, fmt.Errorf("session: cutoff lookup: %w", err)
		}
		if ok && c.covers(jti, p.IssuedAt) {
			return Principal{}, ErrSessionRevoked
		}
	}

	return p, nil
}

// Revoke ends p's session. It is idempotent.
func (s *Service) Revoke(ctx context.Context, now time.Time, p Principal) error {
	if s.denylist == nil {
		return nil
	}
	if p.TokenID == "" {
		return errors.New("session: revoke: missing token id")
	}
	// Entries past exp are useless: Verify already rejects the token.
	if !p.ExpiresAt.After(now) {
		return nil
	}
	return s.denylist.Revoke(ctx, Revocation{
		TokenID:   p.TokenID,
		UserID:    p.UserID,
		ExpiresAt: p.ExpiresAt,
		RevokedAt: now,
	})
}

// RevokeUser ends every session of userID issued up to now, except
// keepTokenID (the session that replaces them, if any).
func (s *Service) RevokeUser(ctx context.Context, now time.Time, userID, keepTokenID string) error {
	if s.denylist == nil {
		return nil
	}
	if userID == "" {
		return errors.New("session: revoke user: missing user id")
	}
	return s.denylist.RevokeUser(ctx, UserCutoff{
		UserID:      userID,
		Cutoff:      now.UTC().Truncate(time.Millisecond),
		KeepTokenID: keepTokenID,
		// Tokens are never issued for longer than MaxTTL.
		ExpiresAt: now.Add(MaxTTL),
	})
}
