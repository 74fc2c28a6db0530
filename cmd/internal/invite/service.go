package invite

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"eduplay/cmd/identity"
	"eduplay/cmd/security/token"
)

const (
	defaultTokenBytes = 32
	defaultTTL        = 7 * 24 * time.Hour
	maxTTL            = 90 * 24 * time.Hour
	maxUsesLimit      = 1000
	maxNoteLength     = 512
)

// Invite grants the right to register an account with Role. Specialist and
// admin accounts can only be created this way.
type Invite struct {
	ID         string
	Role       identity.Role
	CreatedBy  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	MaxUses    int
	UsedCount  int
	RevokedAt  *time.Time
	Note       string
	ConsumedAt *time.Time
	// ConsumedBy is the normalized username of the latest registration.
	ConsumedBy string
}

// CreateInput describes invite creation.
type CreateInput struct {
	CreatedBy string
	Role      identity.Role
	TTL       time.Duration
	MaxUses   int
	Note      string
	Now       time.Time
}

// ConsumeInput describes invite consumption.
type ConsumeInput struct {
	Token      string
	ConsumedBy string
	Now        time.Time
}

// Service manages invite creation, validation, and consumption. Only an
// HMAC digest of each token is stored.
type Service struct {
	store      Store
	secret     string
	tokenBytes int
}

// Option configures the Service.
type Option func(*Service) error

// WithTokenBytes sets the length of generated invite tokens in bytes.
func WithTokenBytes(n int) Option {
	return func(s *Service) error {
		if n < 16 {
			return ErrInvalidInput
		}
		s.tokenBytes = n
		return nil
	}
}

// NewService constructs a Service. secret keys the token digests; the
// session secret is the usual choice.
func NewService(store Store, secret string, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	secret, err := token.ValidateSecret(secret, token.MinSecretLength)
	if err != nil {
		return nil, err
	}
	s := &Service{store: store, secret: secret, tokenBytes: defaultTokenBytes}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// CreateInvite creates a new invite and returns the invite plus its plain token.
// The plain token is never stored and cannot be recovered later.
func (s *Service) CreateInvite(ctx context.Context, in CreateInput) (Invite, string, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, "", err
	}
	if !in.Role.CanSupervise() {
		return Invite{}, "", ErrInvalidInput
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if ttl > maxTTL {
		return Invite{}, "", ErrInvalidInput
	}
	maxUses := in.MaxUses
	if maxUses <= 0 {
		maxUses = 1
	}
	if maxUses > maxUsesLimit {
		return Invite{}, "", ErrInvalidInput
	}
	note := strings.TrimSpace(in.Note)
	if utf8.RuneCountInString(note) > maxNoteLength {
		return Invite{}, "", ErrInvalidInput
	}

	tokenPlain, err := newOpaqueToken(s.tokenBytes)
	if err != nil {
		return Invite{}, "", err
	}

	inviteID, err := identity.NewULID(now)
	if err != nil {
		return Invite{}, "", err
	}

	inv, err := s.store.Create(ctx, CreateRecord{
		ID:        inviteID,
		TokenHash: token.Digest(tokenPlain, s.secret),
		Role:      in.Role,
		CreatedBy: strings.TrimSpace(in.CreatedBy),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		MaxUses:   maxUses,
		Note:      note,
	})
	if err != nil {
		return Invite{}, "", err
	}
	return inv, tokenPlain, nil
}

// ValidateInvite checks whether a token is valid and active at the given
// time. An unknown token is (false, nil).
func (s *Service) ValidateInvite(ctx context.Context, tokenStr string, now time.Time) (bool, Invite, error) {
	if err := ctx.Err(); err != nil {
		return false, Invite{}, err
	}
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" || len(tokenStr) > token.MaxTokenLength {
		return false, Invite{}, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	inv, err := s.store.GetByTokenHash(ctx, token.Digest(tokenStr, s.secret))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, Invite{}, nil
		}
		return false, Invite{}, err
	}
	return inv.active(now), inv, nil
}

// ConsumeInvite records one use of the invite. It fails with ErrNotFound
// for an unknown token and ErrNotActive once the invite is revoked,
// expired or used up.
func (s *Service) ConsumeInvite(ctx context.Context, in ConsumeInput) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	tokenStr := strings.TrimSpace(in.Token)
	consumedBy := strings.TrimSpace(in.ConsumedBy)
	if tokenStr == "" || consumedBy == "" || len(tokenStr) > token.MaxTokenLength {
		return Invite{}, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	return s.store.Consume(ctx, ConsumeRecord{
		TokenHash:  token.Digest(tokenStr, s.secret),
		ConsumedBy: consumedBy,
		Now:        in.Now,
	})
}

// RevokeInvite disables an invite immediately.
func (s *Service) RevokeInvite(ctx context.Context, id string, now time.Time) error {
	if !identity.IsULID(strings.TrimSpace(id)) {
		return ErrInvalidInput
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return s.store.Revoke(ctx, strings.TrimSpace(id), now)
}

func newOpaqueToken(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
