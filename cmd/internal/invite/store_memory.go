package invite

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for runs without a database.
type MemoryStore struct {
	mu     sync.Mutex
	byHash map[string]*Invite
	byID   map[string]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash: make(map[string]*Invite),
		byID:   make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, in CreateRecord) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	if in.ID == "" || in.TokenHash == "" || in.MaxUses <= 0 {
		return Invite{}, ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[in.TokenHash]; ok {
		return Invite{}, ErrInvalidInput
	}
	inv := &Invite{
		ID:        in.ID,
		Role:      in.Role,
		CreatedBy: in.CreatedBy,
		CreatedAt: in.CreatedAt,
		ExpiresAt: in.ExpiresAt,
		MaxUses:   in.MaxUses,
		Note:      in.Note,
	}
	s.byHash[in.TokenHash] = inv
	s.byID[in.ID] = in.TokenHash
	return *inv, nil
}

func (s *MemoryStore) GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.byHash[tokenHash]
	if !ok {
		return Invite{}, ErrNotFound
	}
	return *inv, nil
}

func (s *MemoryStore) Consume(ctx context.Context, in ConsumeRecord) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.byHash[in.TokenHash]
	if !ok {
		return Invite{}, ErrNotFound
	}
	if !inv.active(in.Now) {
		return Invite{}, ErrNotActive
	}
	at := in.Now
	inv.UsedCount++
	inv.ConsumedAt = &at
	inv.ConsumedBy = in.ConsumedBy
	return *inv, nil
}

func (s *MemoryStore) Revoke(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	hash, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	inv := s.byHash[hash]
	if inv.RevokedAt == nil {
		at := now
		inv.RevokedAt = &at
	}
	return nil
}
