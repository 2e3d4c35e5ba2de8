// gateway.go
//
// AdmissionGateway: the policy facade every HTTP action calls through.
//
// Order for every action: format/content validation (no store access), then
// block check, then counters, then token validation, then the action itself.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MGallo-Code/roomgate/internal/apperr"
	"github.com/MGallo-Code/roomgate/internal/fanout"
	"github.com/MGallo-Code/roomgate/internal/identity"
	"github.com/MGallo-Code/roomgate/internal/presence"
	"github.com/MGallo-Code/roomgate/internal/ratelimit"
	"github.com/MGallo-Code/roomgate/internal/store"
	"github.com/MGallo-Code/roomgate/internal/tokens"
	"github.com/gofrs/uuid/v5"
)

// DefaultBlockDuration is the escalated lockout when none is configured.
const DefaultBlockDuration = 24 * time.Hour

// Directory is the durable user and room registry. Satisfied by *store.PostgresStore.
type Directory interface {
	CreateUser(ctx context.Context, username string) error
	UserExists(ctx context.Context, username string) (bool, error)
	RoomExists(ctx context.Context, roomID string) (bool, error)
}

// Limiter is satisfied by *ratelimit.Limiter.
type Limiter interface {
	CheckAndIncrement(ctx context.Context, key string, windowSeconds, limit int) (ratelimit.Result, error)
	IsBlocked(ctx context.Context, action, identifier string) (bool, error)
	SetBlock(ctx context.Context, action, identifier string, ttl time.Duration) error
	BlockRemaining(ctx context.Context, action, identifier string) time.Duration
}

// Tokens is satisfied by *tokens.Manager.
type Tokens interface {
	Issue(ctx context.Context, username string) (tokens.Issued, error)
	Validate(ctx context.Context, username, token string, allowExpired bool) (tokens.Validation, error)
	Refresh(ctx context.Context, username, oldToken string) (tokens.Issued, error)
	Reauthenticate(ctx context.Context, username, oldToken string) (tokens.Issued, error)
	Revoke(ctx context.Context, username, token string) (bool, error)
	RevokeAll(ctx context.Context, username string) (int, error)
	ListActive(ctx context.Context, username, currentToken string) ([]tokens.Session, error)
}

// Passwords is satisfied by *vault.Vault.
type Passwords interface {
	SetPassword(ctx context.Context, username, plaintext string) error
	VerifyPassword(ctx context.Context, username, plaintext string) (bool, error)
	HasPassword(ctx context.Context, username string) (bool, error)
}

// Presence is satisfied by *presence.Tracker.
type Presence interface {
	MarkPresent(ctx context.Context, roomID, username string) error
	MarkAbsent(ctx context.Context, roomID, username string) error
	ActiveUsers(ctx context.Context, roomID string) ([]string, error)
	Reconcile(ctx context.Context) (presence.ReconcileResult, error)
}

// Replies is satisfied by *fanout.ReplyQueue.
type Replies interface {
	Enqueue(ctx context.Context, job fanout.ReplyJob) (uuid.UUID, error)
}

// Captcha is satisfied by *captcha.TurnstileVerifier.
type Captcha interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// Deps are the components the gateway composes. Captcha may be nil (disabled).
type Deps struct {
	Directory Directory
	Limiter   Limiter
	Tokens    Tokens
	Passwords Passwords
	Presence  Presence
	Replies   Replies
	Captcha   Captcha
}

// Config holds gateway policy.
type Config struct {
	Policies      Policies
	BlockDuration time.Duration
	Admins        []string
	Filter        identity.ContentFilter
}

// Request carries the caller's credentials and address through admission.
type Request struct {
	// Username is normalized: the claimed identity from the body or X-Username header.
	Username string
	// Token is the bearer token, if any.
	Token string
	// Addr is the normalized client address.
	Addr string

	// Quota is filled with the tightest window result when counters ran,
	// including on denial. Nil when the action has no windows.
	Quota *ratelimit.Result
}

// Gateway applies the action table and runs each action.
type Gateway struct {
	Deps
	policies      Policies
	blockDuration time.Duration
	admins        map[string]struct{}
	filter        identity.ContentFilter
}

// New returns a Gateway. Zero-valued Config fields fall back to
// DefaultPolicies, DefaultBlockDuration, and identity.AllowAll.
func New(deps Deps, cfg Config) *Gateway {
	if cfg.Policies == nil {
		cfg.Policies = DefaultPolicies()
	}
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = DefaultBlockDuration
	}
	if cfg.Filter == nil {
		cfg.Filter = identity.AllowAll{}
	}
	admins := make(map[string]struct{}, len(cfg.Admins))
	for _, a := range cfg.Admins {
		admins[identity.NormalizeUsername(a)] = struct{}{}
	}
	return &Gateway{
		Deps:          deps,
		policies:      cfg.Policies,
		blockDuration: cfg.BlockDuration,
		admins:        admins,
		filter:        cfg.Filter,
	}
}

// Admit runs the block check, counters, and token check for action.
// Rejections are *apperr.Error.
func (g *Gateway) Admit(ctx context.Context, action Action, req *Request) error {
	pol, ok := g.policies[action]
	if !ok {
		return fmt.Errorf("admission: unknown action %q", action)
	}
	if err := g.checkLimits(ctx, action, pol, req); err != nil {
		return err
	}
	if pol.Protected {
		return g.authenticate(ctx, req)
	}
	return nil
}

// identifier is what counters and blocks key on.
func identifier(pol Policy, req *Request) string {
	if req.Username != "" && !pol.ByAddress {
		return req.Username
	}
	if req.Addr != "" {
		return req.Addr
	}
	return "unknown"
}

func (g *Gateway) checkLimits(ctx context.Context, action Action, pol Policy, req *Request) error {
	id := identifier(pol, req)

	if pol.Sensitive || pol.Escalate {
		blocked, err := g.Limiter.IsBlocked(ctx, string(action), id)
		if err != nil {
			return apperr.Unavailable(err)
		}
		if blocked {
			return apperr.Blocked(firstLimit(pol), g.Limiter.BlockRemaining(ctx, string(action), id))
		}
	}
	if len(pol.Windows) == 0 {
		return nil
	}

	var (
		tightest *ratelimit.Result
		denied   *ratelimit.Result
	)
	for _, w := range pol.Windows {
		res, err := g.Limiter.CheckAndIncrement(ctx, store.RateLimitKey(string(action), w.Scope, id), w.Seconds, w.Limit)
		if err != nil {
			if pol.Sensitive {
				return apperr.Unavailable(err)
			}
			slog.Warn("rate limit check skipped", "action", action, "error", err)
			return nil
		}
		if denied == nil && !res.Allowed {
			denied = &res
		}
		if tightest == nil || res.Remaining < tightest.Remaining {
			tightest = &res
		}
	}

	if denied == nil {
		req.Quota = tightest
		return nil
	}
	req.Quota = denied

	if pol.Escalate {
		if err := g.Limiter.SetBlock(ctx, string(action), id, g.blockDuration); err != nil {
			slog.Error("setting block failed", "action", action, "error", err)
		} else {
			slog.Warn("identifier blocked", "action", action, "duration", g.blockDuration.String())
			return apperr.Blocked(denied.Limit, g.blockDuration)
		}
	}
	return apperr.RateLimited(denied.Limit, time.Duration(denied.ResetSeconds)*time.Second)
}

func firstLimit(pol Policy) int {
	if len(pol.Windows) == 0 {
		return 0
	}
	return pol.Windows[0].Limit
}

// authenticate requires an Active token for req.Username.
func (g *Gateway) authenticate(ctx context.Context, req *Request) error {
	if req.Username == "" || req.Token == "" {
		return apperr.Unauthenticated("missing_credentials", "username and bearer token required")
	}
	if identity.ValidateUsername(req.Username) != "" {
		return errInvalidToken
	}
	v, err := g.Tokens.Validate(ctx, req.Username, req.Token, false)
	if err != nil {
		return apperr.Unavailable(err)
	}
	if !v.Valid {
		return errInvalidToken
	}
	return nil
}

// IsAdmin reports whether username is a configured administrator.
func (g *Gateway) IsAdmin(username string) bool {
	_, ok := g.admins[username]
	return ok
}
