package session

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// Integration tests are enabled when EDUPLAY_DATABASE_URL is set.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresDenylist_RevokeAndPurge(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	d := mustNewIsolatedDenylist(ctx, t)

	now := time.Now().UTC().Truncate(time.Second)
	shortID := ulid.Make().String()
	longID := ulid.Make().String()

	if err := d.Revoke(ctx, Revocation{TokenID: shortID, UserID: "u1", ExpiresAt: now.Add(time.Minute), RevokedAt: now}); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := d.Revoke(ctx, Revocation{TokenID: shortID, UserID: "u1", ExpiresAt: now.Add(time.Minute), RevokedAt: now}); err != nil {
		t.Fatalf("Revoke (idempotent): %v", err)
	}
	if err := d.Revoke(ctx, Revocation{TokenID: longID, UserID: "u1", ExpiresAt: now.Add(time.Hour), RevokedAt: now}); err != nil {
		t.Fatalf("Revoke: %v", err)
	}

	revoked, err := d.IsRevoked(ctx, shortID, now)
	if err != nil || !revoked {
		t.Fatalf("IsRevoked(short)=%v err=%v", revoked, err)
	}
	revoked, err = d.IsRevoked(ctx, ulid.Make().String(), now)
	if err != nil || revoked {
		t.Fatalf("IsRevoked(unknown)=%v err=%v", revoked, err)
	}

	n, err := d.PurgeExpired(ctx, now.Add(2*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("PurgeExpired n=%d err=%v", n, err)
	}
	revoked, err = d.IsRevoked(ctx, longID, now.Add(2*time.Minute))
	if err != nil || !revoked {
		t.Fatalf("IsRevoked(long)=%v err=%v", revoked, err)
	}
}

func TestPostgresDenylist_ServiceLogout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	d := mustNewIsolatedDenylist(ctx, t)

	cfg := DefaultConfig()
	cfg.Secret = testSecret
	svc, err := NewService(cfg, d)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	now := time.Now().UTC()
	iss, err := svc.Issue(ctx, now, ulid.Make().String(), map[string]any{"role": "child"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	p, err := svc.Validate(ctx, iss.Token, now)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := svc.Revoke(ctx, now, p); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := svc.Validate(ctx, iss.Token, now.Add(time.Second)); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
}

func TestPostgresDenylist_UserCutoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	d := mustNewIsolatedDenylist(ctx, t)

	cfg := DefaultConfig()
	cfg.Secret = testSecret
	svc, err := NewService(cfg, d)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	userID := ulid.Make().String()
	now := time.Now().UTC()
	stolen, err := svc.Issue(ctx, now.Add(-time.Minute), userID, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	fresh, err := svc.Issue(ctx, now, userID, nil)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if err := svc.RevokeUser(ctx, now, userID, fresh.TokenID); err != nil {
		t.Fatalf("RevokeUser: %v", err)
	}
	// An older cutoff must not replace the newer one.
	if err := d.RevokeUser(ctx, UserCutoff{UserID: userID, Cutoff: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("RevokeUser (older): %v", err)
	}

	if _, err := svc.Validate(ctx, stolen.Token, now); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
	if _, err := svc.Validate(ctx, fresh.Token, now); err != nil {
		t.Fatalf("kept session: %v", err)
	}

	n, err := d.PurgeExpired(ctx, now.Add(MaxTTL+time.Second))
	if err != nil || n != 1 {
		t.Fatalf("PurgeExpired n=%d err=%v", n, err)
	}
}

// ---- helpers ----

func mustNewIsolatedDenylist(ctx context.Context, t *testing.T) *PostgresDenylist {
	t.Helper()

	dbURL := strings.TrimSpace(os.Getenv("EDUPLAY_DATABASE_URL"))
	if dbURL == "" {
		t.Skip("EDUPLAY_DATABASE_URL is not set; skipping Postgres integration test")
	}

	pool := mustPGXPool(ctx, t, dbURL)
	t.Cleanup(pool.Close)

	schema := "eduplay_it_" + strings.ToLower(ulid.Make().String())
	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})

	d, err := NewPostgresDenylist(pool, schema)
	if err != nil {
		t.Fatalf("NewPostgresDenylist: %v", err)
	}
	if err := d.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return d
}

func mustPGXPool(ctx context.Context, t *testing.T, dbURL string) *pgxpool.Pool {
	t.Helper()

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("Ping: %v", err)
	}
	return pool
}

func shouldSkipIntegration(err error) bool {
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "no such host")
}
