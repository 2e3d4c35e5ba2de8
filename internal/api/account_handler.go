// account_handler.go -- Registration and password management.
package api

import (
	"net/http"
)

// CreateUser handles POST /users -- {username, password?, captchaToken?}.
// 201 {username} | 400 | 409 username_taken | 429.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username     string `json:"username"`
		Password     string `json:"password"`
		CaptchaToken string `json:"captchaToken"`
	}
	if !decode(w, r, &in) {
		return
	}
	req := withBodyUsername(requestFrom(r), in.Username)

	err := h.GW.CreateUser(r.Context(), req, in.Password, in.CaptchaToken)
	h.respond(w, r, req, err, http.StatusCreated, struct {
		Username string `json:"username"`
	}{req.Username})
}

// SetPassword handles PUT /password -- {password}. 200 {success:true} | 400.
func (h *Handler) SetPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Password string `json:"password"`
	}
	if !decode(w, r, &in) {
		return
	}
	req := requestFrom(r)

	err := h.GW.SetPassword(r.Context(), req, in.Password)
	if err == nil {
		logInfo(r, "password set", "username", req.Username)
	}
	h.respond(w, r, req, err, http.StatusOK, successBody{true})
}

// CheckPassword handles GET /password. 200 {hasPassword, username}.
func (h *Handler) CheckPassword(w http.ResponseWriter, r *http.Request) {
	req := requestFrom(r)
	has, err := h.GW.CheckPassword(r.Context(), req)
	h.respond(w, r, req, err, http.StatusOK, struct {
		HasPassword bool   `json:"hasPassword"`
		Username    string `json:"username"`
	}{has, req.Username})
}
