package session

import (
	"context"
	"sync"
	"time"
)

// Revocation is one denylisted session token.
type Revocation struct {
	TokenID   string
	UserID    string
	ExpiresAt time.Time
	RevokedAt time.Time
}

// UserCutoff revokes every session of UserID issued at or before Cutoff,
// except KeepTokenID. It is kept until ExpiresAt, by which time every
// affected token has expired on its own.
type UserCutoff struct {
	UserID      string
	Cutoff      time.Time
	KeepTokenID string
	ExpiresAt   time.Time
}

// covers reports whether a token issued at issuedAt is cut off.
func (c UserCutoff) covers(tokenID string, issuedAt time.Time) bool {
	return tokenID != c.KeepTokenID && !issuedAt.After(c.Cutoff)
}

// Denylist records revoked token ids until their tokens expire, plus
// per-user cutoffs.
type Denylist interface {
	Revoke(ctx context.Context, r Revocation) error
	IsRevoked(ctx context.Context, tokenID string, now time.Time) (bool, error)

	// RevokeUser stores c, replacing an older cutoff for the same user.
	RevokeUser(ctx context.Context, c UserCutoff) error
	// CutoffFor returns the live cutoff for userID, if any.
	CutoffFor(ctx context.Context, userID string, now time.Time) (UserCutoff, bool, error)

	// PurgeExpired drops entries whose token has expired and returns how
	// many were removed.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// MemoryDenylist is a process-local Denylist.
type MemoryDenylist struct {
	mu      sync.Mutex
	entries map[string]time.Time // jti -> token expiry
	users   map[string]UserCutoff
}

var _ Denylist = (*MemoryDenylist)(nil)

func NewMemoryDenylist() *MemoryDenylist {
	return &MemoryDenylist{
		entries: make(map[string]time.Time),
		users:   make(map[string]UserCutoff),
	}
}

func (d *MemoryDenylist) Revoke(ctx context.Context, r Revocation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.entries[r.TokenID]; ok && prev.After(r.ExpiresAt) {
		return nil
	}
	d.entries[r.TokenID] = r.ExpiresAt
	return nil
}

func (d *MemoryDenylist) IsRevoked(ctx context.Context, tokenID string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	exp, ok := d.entries[tokenID]
	if !ok {
		return false, nil
	}
	if !exp.After(now) {
		delete(d.entries, tokenID)
		return false, nil
	}
	return true, nil
}

func (d *MemoryDenylist) RevokeUser(ctx context.Context, c UserCutoff) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, ok := d.users[c.UserID]; ok && prev.Cutoff.After(c.Cutoff) {
		return nil
	}
	d.users[c.UserID] = c
	return nil
}

func (d *MemoryDenylist) CutoffFor(ctx context.Context, userID string, now time.Time) (UserCutoff, bool, error) {
	if err := ctx.Err(); err != nil {
		return UserCutoff{}, false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.users[userID]
	if !ok {
		return UserCutoff{}, false, nil
	}
	if !c.ExpiresAt.After(now) {
		delete(d.users, userID)
		return UserCutoff{}, false, nil
	}
	return c, true, nil
}

func (d *MemoryDenylist) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var n int64
	for id, exp := range d.entries {
		if !exp.After(now) {
			delete(d.entries, id)
			n++
		}
	}
	for id, c := range d.users {
		if !c.ExpiresAt.After(now) {
			delete(d.users, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of tracked token entries.
func (d *MemoryDenylist) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
