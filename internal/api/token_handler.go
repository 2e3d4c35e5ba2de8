// token_handler.go -- Token issuance, rotation, verification, listing, and logout.
package api

import (
	"net/http"
	"time"

	"github.com/MGallo-Code/roomgate/internal/tokens"
)

type tokenResponse struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func newTokenResponse(username string, issued tokens.Issued) tokenResponse {
	return tokenResponse{Token: issued.Token, Username: username, ExpiresAt: issued.ExpiresAt}
}

// GenerateToken handles POST /tokens -- {username}.
// 201 {token} | 400 | 401 password_required | 404 | 429.
func (h *Handler) GenerateToken(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
	}
	if !decode(w, r, &in) {
		return
	}
	req := withBodyUsername(requestFrom(r), in.Username)

	issued, err := h.GW.GenerateToken(r.Context(), req)
	if err == nil {
		logInfo(r, "token issued", "username", req.Username)
	}
	h.respond(w, r, req, err, http.StatusCreated, newTokenResponse(req.Username, issued))
}

// RefreshToken handles POST /tokens/refresh -- {username, oldToken}.
// 201 {token} | 401 invalid old token | 404 | 429.
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		OldToken string `json:"oldToken"`
	}
	if !decode(w, r, &in) {
		return
	}
	req := withBodyUsername(requestFrom(r), in.Username)

	issued, err := h.GW.RefreshToken(r.Context(), req, in.OldToken)
	if err == nil {
		logInfo(r, "token refreshed", "username", req.Username)
	}
	h.respond(w, r, req, err, http.StatusCreated, newTokenResponse(req.Username, issued))
}

type verifyResponse struct {
	Valid      bool       `json:"valid"`
	Username   string     `json:"username"`
	Expired    bool       `json:"expired,omitempty"`
	ExpiredAt  *time.Time `json:"expiredAt,omitempty"`
	GraceUntil *time.Time `json:"graceUntil,omitempty"`
}

// VerifyToken handles GET /tokens/verify -- Bearer token + X-Username.
// 200 {valid, username, expired?, expiredAt?} | 401.
func (h *Handler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	req := requestFrom(r)
	v, err := h.GW.VerifyToken(r.Context(), req)
	resp := verifyResponse{Valid: v.Valid, Username: req.Username, Expired: v.Expired}
	if v.Expired {
		resp.ExpiredAt = &v.ExpiredAt
		resp.GraceUntil = &v.GraceUntil
	}
	h.respond(w, r, req, err, http.StatusOK, resp)
}

// AuthenticateWithPassword handles POST /auth/password -- {username, password, oldToken?}.
// 200 {token, username} | 400 | 401 | 429.
func (h *Handler) AuthenticateWithPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
		OldToken string `json:"oldToken"`
	}
	if !decode(w, r, &in) {
		return
	}
	req := withBodyUsername(requestFrom(r), in.Username)

	issued, err := h.GW.AuthenticateWithPassword(r.Context(), req, in.Password, in.OldToken)
	if err == nil {
		logInfo(r, "password authentication succeeded", "username", req.Username)
	}
	h.respond(w, r, req, err, http.StatusOK, newTokenResponse(req.Username, issued))
}

type sessionView struct {
	ID          string    `json:"id"`
	MaskedToken string    `json:"maskedToken"`
	IssuedAt    time.Time `json:"issuedAt"`
	IsCurrent   bool      `json:"isCurrent"`
}

// ListTokens handles GET /tokens. 200 {tokens:[...], count}.
func (h *Handler) ListTokens(w http.ResponseWriter, r *http.Request) {
	req := requestFrom(r)
	sessions, err := h.GW.ListTokens(r.Context(), req)

	views := make([]sessionView, len(sessions))
	for i, s := range sessions {
		views[i] = sessionView{
			ID:          s.ID.String(),
			MaskedToken: s.MaskedToken,
			IssuedAt:    s.IssuedAt,
			IsCurrent:   s.IsCurrent,
		}
	}
	h.respond(w, r, req, err, http.StatusOK, struct {
		Tokens []sessionView `json:"tokens"`
		Count  int           `json:"count"`
	}{views, len(views)})
}

// LogoutAllDevices handles DELETE /tokens. 200 {success, deletedCount}.
func (h *Handler) LogoutAllDevices(w http.ResponseWriter, r *http.Request) {
	req := requestFrom(r)
	n, err := h.GW.LogoutAll(r.Context(), req)
	h.respond(w, r, req, err, http.StatusOK, struct {
		Success      bool `json:"success"`
		DeletedCount int  `json:"deletedCount"`
	}{true, n})
}

// LogoutCurrent handles DELETE /tokens/current. 200 {success}.
func (h *Handler) LogoutCurrent(w http.ResponseWriter, r *http.Request) {
	req := requestFrom(r)
	err := h.GW.LogoutCurrent(r.Context(), req)
	h.respond(w, r, req, err, http.StatusOK, successBody{true})
}

type successBody struct {
	Success bool `json:"success"`
}
