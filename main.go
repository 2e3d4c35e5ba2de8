package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/roomgate/internal/admission"
	"github.com/MGallo-Code/roomgate/internal/api"
	"github.com/MGallo-Code/roomgate/internal/captcha"
	"github.com/MGallo-Code/roomgate/internal/clock"
	"github.com/MGallo-Code/roomgate/internal/config"
	"github.com/MGallo-Code/roomgate/internal/fanout"
	"github.com/MGallo-Code/roomgate/internal/identity"
	"github.com/MGallo-Code/roomgate/internal/presence"
	"github.com/MGallo-Code/roomgate/internal/ratelimit"
	"github.com/MGallo-Code/roomgate/internal/store"
	"github.com/MGallo-Code/roomgate/internal/tokens"
	"github.com/MGallo-Code/roomgate/internal/vault"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

// Embeds the migration files INTO the go bin

//go:embed migrations/*.sql
var migrationsDir embed.FS

func main() {
	// Load config first so we can set log level
	cfg, err := config.LoadConfig()
	if err != nil {
		// Fallback logger before config is available
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}

	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))

	// Cancel ctx on SIGINT/SIGTERM; run() shuts down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run() is a separate func so deferred closes (ps, rdb) always execute before os.Exit.
	if err := run(ctx, cfg, nil); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run holds all server logic and returns error instead of calling os.Exit.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	ps, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to set up postgres store: %w", err)
	}
	defer ps.Close()

	migrationsFS, err := fs.Sub(migrationsDir, "migrations")
	if err != nil {
		return fmt.Errorf("failed to access embedded migrations: %w", err)
	}
	applied, err := ps.Migrate(ctx, migrationsFS)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("migrations complete", "applied", applied)

	// Shared Redis client; the store, publisher, and reply queue share one pool.
	rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to set up redis client: %w", err)
	}
	defer rdb.Close()

	rs := store.NewRedisStore(rdb, cfg.StoreTimeout)

	gw, tracker, err := buildGateway(cfg, ps, rs, rdb)
	if err != nil {
		return err
	}

	h := &api.Handler{GW: gw, Redis: rs, Postgres: ps, RateLimitHeaders: cfg.RateLimitHeaders}

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{Handler: buildRouter(h)}

	// Presence reconciler; cancelled via bgCtx when run() returns.
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()
	if cfg.ReconcileInterval > 0 {
		go presence.NewReconciler(tracker, cfg.ReconcileInterval).Run(bgCtx)
	} else {
		slog.Info("in-process presence reconciler disabled")
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("roomgate listening", "addr", ln.Addr().String())
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Stops accepting new conns, then waits for in-flight requests or the timeout.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// buildGateway composes every component over the shared stores and applies
// configured policy overrides.
func buildGateway(cfg *config.Config, dir admission.Directory, rs *store.RedisStore, rdb *redis.Client) (*admission.Gateway, *presence.Tracker, error) {
	clk := clock.Real()
	filter := identity.NewWordFilter(cfg.BlockedWords)

	tracker := presence.New(rs, cfg.PresenceTTL, clk, fanout.NewRedisPublisher(rdb, cfg.StoreTimeout))

	deps := admission.Deps{
		Directory: dir,
		Limiter:   ratelimit.New(rs, clk),
		Tokens:    tokens.New(rs, tokens.Config{TTL: cfg.TokenTTL, Grace: cfg.GracePeriod}, clk, filter),
		Passwords: vault.New(rs, vault.DefaultParams),
		Presence:  tracker,
		Replies:   fanout.NewReplyQueue(rdb, int64(cfg.ReplyQueueMax), cfg.StoreTimeout),
	}
	// Leave Captcha as a nil interface when unset; a typed nil would look enabled.
	if cfg.TurnstileSecret != "" {
		deps.Captcha = captcha.NewTurnstileVerifier(cfg.TurnstileSecret)
	} else {
		slog.Warn("TURNSTILE_SECRET not set, captcha disabled for account creation")
	}

	policies := admission.DefaultPolicies()
	for action, p := range cfg.RatePolicies {
		if err := policies.Override(action, p.Windows, p.Escalate); err != nil {
			return nil, nil, fmt.Errorf("rate policy %q: %w", action, err)
		}
	}

	gw := admission.New(deps, admission.Config{
		Policies:      policies,
		BlockDuration: cfg.BlockDuration,
		Admins:        cfg.AdminUsers,
		Filter:        filter,
	})
	return gw, tracker, nil
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
func buildRouter(h *api.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	// Credentials reads RemoteAddr, so it must run after RealIP.
	r.Use(api.Credentials)

	h.Routes(r)
	return r
}
