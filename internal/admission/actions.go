// actions.go
//
// One method per HTTP action. Each validates its input locally, calls Admit,
// then performs the action, returning *apperr.Error for every rejection.
package admission

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/MGallo-Code/roomgate/internal/apperr"
	"github.com/MGallo-Code/roomgate/internal/captcha"
	"github.com/MGallo-Code/roomgate/internal/fanout"
	"github.com/MGallo-Code/roomgate/internal/identity"
	"github.com/MGallo-Code/roomgate/internal/presence"
	"github.com/MGallo-Code/roomgate/internal/store"
	"github.com/MGallo-Code/roomgate/internal/tokens"
	"github.com/MGallo-Code/roomgate/internal/vault"
	"github.com/gofrs/uuid/v5"
)

// MaxPromptRunes bounds an AI reply prompt.
const MaxPromptRunes = 4000

var errInvalidToken = apperr.Unauthenticated("invalid_token", "invalid or expired token")

// checkUsername validates format and content with no store access.
func (g *Gateway) checkUsername(username string) error {
	if msg := identity.Check(username, g.filter); msg != "" {
		return apperr.Validation("invalid_username", msg)
	}
	return nil
}

func checkPassword(plaintext string) error {
	switch err := vault.ValidatePassword(plaintext); {
	case err == nil:
		return nil
	case errors.Is(err, vault.ErrPasswordTooShort):
		return apperr.Validation("password_too_short", err.Error())
	case errors.Is(err, vault.ErrPasswordTooLong):
		return apperr.Validation("password_too_long", err.Error())
	default:
		return apperr.Validation("invalid_password", err.Error())
	}
}

func checkRoom(roomID string) error {
	if !identity.ValidRoomID(roomID) {
		return apperr.Validation("invalid_room", "invalid room id")
	}
	return nil
}

// requireUser answers 404 when username is not registered.
func (g *Gateway) requireUser(ctx context.Context, username string) error {
	ok, err := g.Directory.UserExists(ctx, username)
	if err != nil {
		return apperr.Unavailable(err)
	}
	if !ok {
		return apperr.NotFound("user_not_found", "user not found")
	}
	return nil
}

func (g *Gateway) requireRoom(ctx context.Context, roomID string) error {
	ok, err := g.Directory.RoomExists(ctx, roomID)
	if err != nil {
		return apperr.Unavailable(err)
	}
	if !ok {
		return apperr.NotFound("room_not_found", "room not found")
	}
	return nil
}

// CreateUser registers req.Username, optionally with a password.
func (g *Gateway) CreateUser(ctx context.Context, req *Request, password, captchaToken string) error {
	if err := g.checkUsername(req.Username); err != nil {
		return err
	}
	if password != "" {
		if err := checkPassword(password); err != nil {
			return err
		}
	}
	if err := g.Admit(ctx, ActionCreateUser, req); err != nil {
		return err
	}
	if g.Captcha != nil {
		if err := g.Captcha.Verify(ctx, captchaToken, req.Addr); err != nil {
			if errors.Is(err, captcha.ErrRejected) {
				return apperr.Validation("captcha_failed", "captcha verification failed")
			}
			return apperr.Unavailable(err)
		}
	}

	if err := g.Directory.CreateUser(ctx, req.Username); err != nil {
		if errors.Is(err, store.ErrUserExists) {
			return apperr.Conflict("username_taken", "username already taken")
		}
		return apperr.Unavailable(err)
	}
	if password != "" {
		if err := g.Passwords.SetPassword(ctx, req.Username, password); err != nil {
			return apperr.Unavailable(err)
		}
	}
	slog.Info("user created", "username", req.Username, "with_password", password != "")
	return nil
}

// GenerateToken issues a token to an existing user with no password set.
// Users with a password must use AuthenticateWithPassword.
func (g *Gateway) GenerateToken(ctx context.Context, req *Request) (tokens.Issued, error) {
	if err := g.checkUsername(req.Username); err != nil {
		return tokens.Issued{}, err
	}
	if err := g.Admit(ctx, ActionGenerateToken, req); err != nil {
		return tokens.Issued{}, err
	}
	if err := g.requireUser(ctx, req.Username); err != nil {
		return tokens.Issued{}, err
	}
	has, err := g.Passwords.HasPassword(ctx, req.Username)
	if err != nil {
		return tokens.Issued{}, apperr.Unavailable(err)
	}
	if has {
		return tokens.Issued{}, apperr.Unauthenticated("password_required", "this account requires a password")
	}
	issued, err := g.Tokens.Issue(ctx, req.Username)
	if err != nil {
		return tokens.Issued{}, apperr.Unavailable(err)
	}
	return issued, nil
}

// RefreshToken rotates oldToken, which may be Active or in Grace.
func (g *Gateway) RefreshToken(ctx context.Context, req *Request, oldToken string) (tokens.Issued, error) {
	if err := g.checkUsername(req.Username); err != nil {
		return tokens.Issued{}, err
	}
	if oldToken == "" {
		return tokens.Issued{}, apperr.Validation("missing_token", "oldToken is required")
	}
	if err := g.Admit(ctx, ActionRefreshToken, req); err != nil {
		return tokens.Issued{}, err
	}
	if err := g.requireUser(ctx, req.Username); err != nil {
		return tokens.Issued{}, err
	}
	issued, err := g.Tokens.Refresh(ctx, req.Username, oldToken)
	if err != nil {
		if errors.Is(err, tokens.ErrInvalidToken) {
			return tokens.Issued{}, errInvalidToken
		}
		return tokens.Issued{}, apperr.Unavailable(err)
	}
	return issued, nil
}

// VerifyToken reports whether req's credentials validate, honoring grace.
func (g *Gateway) VerifyToken(ctx context.Context, req *Request) (tokens.Validation, error) {
	if req.Username == "" || req.Token == "" {
		return tokens.Validation{}, apperr.Unauthenticated("missing_credentials", "username and bearer token required")
	}
	if identity.ValidateUsername(req.Username) != "" {
		return tokens.Validation{}, errInvalidToken
	}
	if err := g.Admit(ctx, ActionVerifyToken, req); err != nil {
		return tokens.Validation{}, err
	}
	v, err := g.Tokens.Validate(ctx, req.Username, req.Token, true)
	if err != nil {
		return tokens.Validation{}, apperr.Unavailable(err)
	}
	if !v.Valid {
		return tokens.Validation{}, errInvalidToken
	}
	return v, nil
}

// AuthenticateWithPassword checks the password and issues a token, retiring
// oldToken through grace when it is still Active.
func (g *Gateway) AuthenticateWithPassword(ctx context.Context, req *Request, password, oldToken string) (tokens.Issued, error) {
	if err := g.checkUsername(req.Username); err != nil {
		return tokens.Issued{}, err
	}
	if password == "" {
		return tokens.Issued{}, apperr.Validation("missing_password", "password is required")
	}
	if err := g.Admit(ctx, ActionPasswordAuth, req); err != nil {
		return tokens.Issued{}, err
	}
	ok, err := g.Passwords.VerifyPassword(ctx, req.Username, password)
	if err != nil {
		return tokens.Issued{}, apperr.Unavailable(err)
	}
	if !ok {
		return tokens.Issued{}, apperr.Unauthenticated("invalid_credentials", "invalid username or password")
	}
	issued, err := g.Tokens.Reauthenticate(ctx, req.Username, oldToken)
	if err != nil {
		return tokens.Issued{}, apperr.Unavailable(err)
	}
	return issued, nil
}

// SetPassword sets or replaces the caller's password.
func (g *Gateway) SetPassword(ctx context.Context, req *Request, password string) error {
	if err := checkPassword(password); err != nil {
		return err
	}
	if err := g.Admit(ctx, ActionSetPassword, req); err != nil {
		return err
	}
	if err := g.Passwords.SetPassword(ctx, req.Username, password); err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

// CheckPassword reports whether the caller has a password set.
func (g *Gateway) CheckPassword(ctx context.Context, req *Request) (bool, error) {
	if err := g.Admit(ctx, ActionCheckPassword, req); err != nil {
		return false, err
	}
	has, err := g.Passwords.HasPassword(ctx, req.Username)
	if err != nil {
		return false, apperr.Unavailable(err)
	}
	return has, nil
}

// ListTokens describes the caller's Active tokens.
func (g *Gateway) ListTokens(ctx context.Context, req *Request) ([]tokens.Session, error) {
	if err := g.Admit(ctx, ActionListTokens, req); err != nil {
		return nil, err
	}
	sessions, err := g.Tokens.ListActive(ctx, req.Username, req.Token)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return sessions, nil
}

// LogoutAll revokes every Active token of the caller, including the current one.
func (g *Gateway) LogoutAll(ctx context.Context, req *Request) (int, error) {
	if err := g.Admit(ctx, ActionLogoutAll, req); err != nil {
		return 0, err
	}
	n, err := g.Tokens.RevokeAll(ctx, req.Username)
	if err != nil {
		return 0, apperr.Unavailable(err)
	}
	slog.Info("logged out all devices", "username", req.Username, "count", n)
	return n, nil
}

// LogoutCurrent revokes the presented token.
func (g *Gateway) LogoutCurrent(ctx context.Context, req *Request) error {
	if err := g.Admit(ctx, ActionLogoutCurrent, req); err != nil {
		return err
	}
	if _, err := g.Tokens.Revoke(ctx, req.Username, req.Token); err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

// Heartbeat marks the caller present in roomID. Presence store failures are
// logged and swallowed; a missed heartbeat only shortens presence.
func (g *Gateway) Heartbeat(ctx context.Context, req *Request, roomID string) error {
	if err := checkRoom(roomID); err != nil {
		return err
	}
	if err := g.Admit(ctx, ActionHeartbeat, req); err != nil {
		return err
	}
	if err := g.requireRoom(ctx, roomID); err != nil {
		return err
	}
	if err := g.Presence.MarkPresent(ctx, roomID, req.Username); err != nil {
		slog.Warn("heartbeat not recorded", "room", roomID, "username", req.Username, "error", err)
	}
	return nil
}

// Leave removes the caller from roomID.
func (g *Gateway) Leave(ctx context.Context, req *Request, roomID string) error {
	if err := checkRoom(roomID); err != nil {
		return err
	}
	if err := g.Admit(ctx, ActionLeave, req); err != nil {
		return err
	}
	if err := g.Presence.MarkAbsent(ctx, roomID, req.Username); err != nil {
		return apperr.Unavailable(err)
	}
	return nil
}

// RoomPresence returns the users active in roomID.
func (g *Gateway) RoomPresence(ctx context.Context, req *Request, roomID string) ([]string, error) {
	if err := checkRoom(roomID); err != nil {
		return nil, err
	}
	if err := g.Admit(ctx, ActionRoomPresence, req); err != nil {
		return nil, err
	}
	if err := g.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}
	users, err := g.Presence.ActiveUsers(ctx, roomID)
	if err != nil {
		return nil, apperr.Unavailable(err)
	}
	return users, nil
}

// RequestReply queues an AI-authored reply for roomID.
func (g *Gateway) RequestReply(ctx context.Context, req *Request, roomID, prompt string) (uuid.UUID, error) {
	if err := checkRoom(roomID); err != nil {
		return uuid.Nil, err
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return uuid.Nil, apperr.Validation("missing_prompt", "prompt is required")
	}
	if utf8.RuneCountInString(prompt) > MaxPromptRunes {
		return uuid.Nil, apperr.Validation("prompt_too_long", "prompt is too long")
	}
	if err := g.Admit(ctx, ActionAIReply, req); err != nil {
		return uuid.Nil, err
	}
	if err := g.requireRoom(ctx, roomID); err != nil {
		return uuid.Nil, err
	}
	id, err := g.Replies.Enqueue(ctx, fanout.ReplyJob{
		RoomID:   roomID,
		Username: req.Username,
		Prompt:   prompt,
	})
	if err != nil {
		if errors.Is(err, fanout.ErrQueueFull) {
			return uuid.Nil, &apperr.Error{
				Kind:    apperr.KindUnavailable,
				Reason:  "queue_full",
				Message: "reply queue is full, try again later",
				Err:     err,
			}
		}
		return uuid.Nil, apperr.Unavailable(err)
	}
	return id, nil
}

// Reconcile runs a presence reconciliation pass for an administrator.
func (g *Gateway) Reconcile(ctx context.Context, req *Request) (presence.ReconcileResult, error) {
	if err := g.Admit(ctx, ActionAdminReconcile, req); err != nil {
		return presence.ReconcileResult{}, err
	}
	if !g.IsAdmin(req.Username) {
		return presence.ReconcileResult{}, apperr.Forbidden("forbidden", "administrator access required")
	}
	res, err := g.Presence.Reconcile(ctx)
	if err != nil {
		return res, apperr.Unavailable(err)
	}
	slog.Info("presence reconciled by admin", "username", req.Username, "rooms", res.Rooms, "removed", res.Removed)
	return res, nil
}
