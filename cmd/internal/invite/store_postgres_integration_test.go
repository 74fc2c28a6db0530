package invite

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"eduplay/cmd/identity"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when EDUPLAY_DATABASE_URL is set.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestInviteService_Postgres_CreateValidateConsume(t *testing.T) {
	t.Parallel()

	service, _ := mustNewIsolatedService(t)

	ctx := context.Background()
	now := time.Now().UTC()

	inv, tok, err := service.CreateInvite(ctx, CreateInput{
		Role:    identity.RoleSpecialist,
		TTL:     24 * time.Hour,
		MaxUses: 1,
		Note:    "clinic onboarding",
		Now:     now,
	})
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	if inv.ID == "" || tok == "" || inv.Role != identity.RoleSpecialist || inv.Note != "clinic onboarding" {
		t.Fatalf("unexpected invite: %+v", inv)
	}

	ok, _, err := service.ValidateInvite(ctx, tok, now)
	if err != nil || !ok {
		t.Fatalf("validate invite ok=%v err=%v", ok, err)
	}

	consumed, err := service.ConsumeInvite(ctx, ConsumeInput{Token: tok, ConsumedBy: "dr-ruiz", Now: now.Add(time.Second)})
	if err != nil {
		t.Fatalf("consume invite: %v", err)
	}
	if consumed.UsedCount != 1 || consumed.ConsumedBy != "dr-ruiz" {
		t.Fatalf("unexpected consumed invite: %+v", consumed)
	}

	ok, _, err = service.ValidateInvite(ctx, tok, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("validate after consume: %v", err)
	}
	if ok {
		t.Fatalf("expected invite to be invalid after max uses")
	}
	if _, err := service.ConsumeInvite(ctx, ConsumeInput{Token: tok, ConsumedBy: "late", Now: now.Add(3 * time.Second)}); !errors.Is(err, ErrNotActive) {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestInviteService_Postgres_ExpiredRevoked(t *testing.T) {
	t.Parallel()

	service, _ := mustNewIsolatedService(t)
	ctx := context.Background()

	expired, tok, err := service.CreateInvite(ctx, CreateInput{
		Role:    identity.RoleParent,
		TTL:     time.Hour,
		MaxUses: 1,
		Now:     time.Now().UTC().Add(-2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create expired invite: %v", err)
	}
	ok, _, err := service.ValidateInvite(ctx, tok, time.Now().UTC())
	if err != nil || ok {
		t.Fatalf("expired invite ok=%v err=%v", ok, err)
	}

	if err := service.RevokeInvite(ctx, expired.ID, time.Now().UTC()); err != nil {
		t.Fatalf("revoke invite: %v", err)
	}
	if _, err := service.ConsumeInvite(ctx, ConsumeInput{Token: tok, ConsumedBy: "x", Now: time.Now().UTC()}); !errors.Is(err, ErrNotActive) {
		t.Fatalf("consume revoked: %v", err)
	}
	if err := service.RevokeInvite(ctx, "01JNQ8ZP8Y0000000000000000", time.Now().UTC()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("revoke unknown: %v", err)
	}
}

func TestInviteService_Postgres_ConcurrentConsume_MaxUses(t *testing.T) {
	t.Parallel()

	service, _ := mustNewIsolatedService(t)
	ctx := context.Background()

	_, tok, err := service.CreateInvite(ctx, CreateInput{
		Role:    identity.RoleParent,
		TTL:     24 * time.Hour,
		MaxUses: 2,
		Now:     time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}

	const attempts = 5
	var wg sync.WaitGroup
	errs := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.ConsumeInvite(ctx, ConsumeInput{Token: tok, ConsumedBy: "parent", Now: time.Now().UTC()})
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if errors.Is(err, ErrNotActive) {
			continue
		}
		t.Fatalf("unexpected error: %v", err)
	}
	if success != 2 {
		t.Fatalf("expected 2 successes, got %d", success)
	}
}

// ---- helpers ----

func mustNewIsolatedService(t *testing.T) (*Service, *pgxpool.Pool) {
	t.Helper()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	schema := "eduplay_invite_it_" + strings.ToLower(mustNewULID(t))
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	users, err := identity.NewPostgresStore(pool, identity.WithSchema(schema))
	if err != nil {
		t.Fatalf("identity store: %v", err)
	}
	if err := users.EnsureSchema(ctx); err != nil {
		t.Fatalf("identity schema: %v", err)
	}

	store, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("invite schema: %v", err)
	}

	service, err := NewService(store, testSecret)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service, pool
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("EDUPLAY_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: EDUPLAY_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse EDUPLAY_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (EDUPLAY_DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustNewULID(t *testing.T) string {
	t.Helper()
	id, err := identity.NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	return id
}
