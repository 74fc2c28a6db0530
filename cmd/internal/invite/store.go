package invite

import (
	"context"
	"time"

	"eduplay/cmd/identity"
)

// CreateRecord is a normalized invite insert payload.
type CreateRecord struct {
	ID        string
	TokenHash string
	Role      identity.Role
	CreatedBy string
	CreatedAt time.Time
	ExpiresAt time.Time
	MaxUses   int
	Note      string
}

// ConsumeRecord describes one use of a token.
type ConsumeRecord struct {
	TokenHash  string
	ConsumedBy string
	Now        time.Time
}

// Store is the persistence boundary for invites.
//
// Consume must be atomic: concurrent consumers of an invite with MaxUses n
// see at most n successes.
type Store interface {
	Create(ctx context.Context, in CreateRecord) (Invite, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error)
	Consume(ctx context.Context, in ConsumeRecord) (Invite, error)
	Revoke(ctx context.Context, id string, now time.Time) error
}

// active reports whether inv can still be consumed at now.
func (inv Invite) active(now time.Time) bool {
	if inv.RevokedAt != nil {
		return false
	}
	if !inv.ExpiresAt.After(now) {
		return false
	}
	return inv.UsedCount < inv.MaxUses
}
