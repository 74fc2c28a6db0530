// Package app wires the EduPlay server runtime: config, logging, storage,
// metrics and the auth HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"eduplay/cmd/identity"
	authapi "eduplay/cmd/internal/auth/api"
	"eduplay/cmd/internal/auth/session"
	"eduplay/cmd/internal/invite"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App owns the HTTP server wiring and the lifetime of its storage.
type App struct {
	cfg Config
	log Logger

	dbPool   *pgxpool.Pool
	store    identity.Store
	denylist session.Denylist
	sessions *session.Service
	invites  *invite.Service
	auth     *authapi.Handler

	handler http.Handler
}

// schemaEnsurer is implemented by every Postgres-backed component.
type schemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// New constructs a fully wired App. Without a database URL it runs on
// in-memory storage, which does not survive a restart.
func New(ctx context.Context, cfg Config, sec SecurityConfig, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(sec); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, log: log}

	var (
		auditor     authapi.Auditor
		inviteStore invite.Store
	)
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		a.store = identity.NewMemoryStore()
		a.denylist = session.NewMemoryDenylist()
		inviteStore = invite.NewMemoryStore()
	} else {
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		a.dbPool = pool

		if err := a.wirePostgres(ctx, &auditor, &inviteStore); err != nil {
			pool.Close()
			return nil, err
		}
		log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	}

	sessions, err := session.NewService(sec.Session, a.denylist)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.sessions = sessions

	a.invites, err = invite.NewService(inviteStore, sec.Session.Secret)
	if err != nil {
		a.Close()
		return nil, err
	}

	if sec.BootstrapAdmin.enabled() {
		if err := a.ensureBootstrapAdmin(ctx, sec); err != nil {
			a.Close()
			return nil, err
		}
	}

	var reg *prometheus.Registry
	opts := []authapi.HandlerOption{
		authapi.WithPasswordConfig(sec.Passwords),
		authapi.WithAuditor(auditor),
		authapi.WithInvites(a.invites),
	}
	if cfg.MetricsEnabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		if a.dbPool != nil {
			registerPoolMetrics(reg, a.dbPool)
		}
		opts = append(opts, authapi.WithMetrics(authapi.NewMetrics(reg)))
	}

	a.auth, err = authapi.NewHandler(log, sec.Auth, a.store, sessions, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	mux := http.NewServeMux()
	a.registerHTTP(mux, reg)

	var h http.Handler = mux
	if reg != nil {
		h = WithHTTPMetrics(h, newHTTPMetrics(reg))
	}
	a.handler = WithRequestLogging(WithSecurityHeaders(h), log)

	return a, nil
}

func (a *App) wirePostgres(ctx context.Context, auditor *authapi.Auditor, invites *invite.Store) error {
	schema := a.cfg.DBSchema

	st, err := identity.NewPostgresStore(a.dbPool, identity.WithSchema(schema))
	if err != nil {
		return err
	}
	dl, err := session.NewPostgresDenylist(a.dbPool, schema)
	if err != nil {
		return err
	}
	au, err := authapi.NewPostgresAuditor(a.dbPool, schema)
	if err != nil {
		return err
	}
	is, err := invite.NewPostgresStore(a.dbPool, invite.WithSchema(schema))
	if err != nil {
		return err
	}

	if a.cfg.DBAutoMigrate {
		// Identity first: it creates the schema the others live in.
		for _, s := range []schemaEnsurer{st, dl, au, is} {
			if err := s.EnsureSchema(ctx); err != nil {
				return err
			}
		}
		a.log.Info("db.schema.ensured", "schema", schema)
	}

	a.store, a.denylist, *auditor, *invites = st, dl, au, is
	return nil
}

// ensureBootstrapAdmin creates the configured admin account unless the
// username is already taken. An existing account is left untouched, even
// if its role or password differ.
func (a *App) ensureBootstrapAdmin(ctx context.Context, sec SecurityConfig) error {
	b := sec.BootstrapAdmin
	if err := identity.ValidateUsername(b.Username); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	if _, err := a.store.GetUserAuthByUsername(ctx, b.Username); err == nil {
		a.log.Info("bootstrap.admin.exists", "username", b.Username)
		return nil
	} else if !errors.Is(err, identity.ErrNotFound) {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	cred, err := b.credential(sec.Passwords)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	res, err := a.store.CreateUser(ctx, identity.CreateUserInput{
		Username:   b.Username,
		Role:       identity.RoleAdmin,
		Credential: cred,
		Now:        time.Now().UTC(),
	})
	if err != nil {
		if errors.Is(err, identity.ErrConflict) {
			return nil
		}
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	a.log.Info("bootstrap.admin.created", "user_id", res.User.ID)
	return nil
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	defer a.Close()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbPool != nil, "metrics_enabled", a.cfg.MetricsEnabled)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	go a.purgeRevocations(workerCtx, a.cfg.RevocationPurgeInterval)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

// Close releases storage resources. Safe to call more than once.
func (a *App) Close() {
	if a.dbPool != nil {
		a.dbPool.Close()
		a.dbPool = nil
	}
}

// purgeRevocations deletes expired denylist entries every interval until
// ctx is done.
func (a *App) purgeRevocations(ctx context.Context, interval time.Duration) {
	if interval <= 0 || a.denylist == nil {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.purgeOnce(ctx, time.Now().UTC())
		}
	}
}

func (a *App) purgeOnce(ctx context.Context, now time.Time) {
	n, err := a.denylist.PurgeExpired(ctx, now)
	if err != nil {
		if ctx.Err() == nil {
			a.log.Error("session.revocations.purge.fail", "err", err)
		}
		return
	}
	if n > 0 {
		a.log.Info("session.revocations.purged", "count", n)
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
