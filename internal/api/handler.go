// handler.go -- Handler dependencies, routes, and request decoding.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/MGallo-Code/roomgate/internal/admission"
	"github.com/MGallo-Code/roomgate/internal/identity"
	"github.com/go-chi/chi/v5"
)

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 64 << 10

// Handler holds dependencies for every HTTP action.
type Handler struct {
	GW       *admission.Gateway
	Redis    HealthChecker
	Postgres HealthChecker

	// RateLimitHeaders enables X-RateLimit-* on admitted and throttled responses.
	RateLimitHeaders bool
}

// Routes registers every action on r. Credentials must already be in the chain.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.CheckHealth)

	r.Post("/users", h.CreateUser)

	r.Post("/tokens", h.GenerateToken)
	r.Post("/tokens/refresh", h.RefreshToken)
	r.Get("/tokens/verify", h.VerifyToken)
	r.Get("/tokens", h.ListTokens)
	r.Delete("/tokens", h.LogoutAllDevices)
	r.Delete("/tokens/current", h.LogoutCurrent)

	r.Post("/auth/password", h.AuthenticateWithPassword)
	r.Put("/password", h.SetPassword)
	r.Get("/password", h.CheckPassword)

	r.Route("/rooms/{roomID}", func(r chi.Router) {
		r.Post("/presence", h.Heartbeat)
		r.Delete("/presence", h.Leave)
		r.Get("/presence", h.RoomPresence)
		r.Post("/reply", h.RequestReply)
	})

	r.Post("/admin/presence/reconcile", h.Reconcile)
}

// decode reads a JSON body into v. On failure it writes 400 and returns false.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		logWarn(r, "failed to decode request body", "error", err)
		BadRequest(w, "invalid_body", "error decoding request body")
		return false
	}
	return true
}

// withBodyUsername sets the request identity from a body field, for public
// actions that name the user in the payload instead of X-Username.
func withBodyUsername(req *admission.Request, username string) *admission.Request {
	req.Username = identity.NormalizeUsername(username)
	return req
}
