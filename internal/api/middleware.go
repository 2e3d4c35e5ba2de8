// middleware.go

// Credential extraction middleware.
package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/MGallo-Code/roomgate/internal/admission"
	"github.com/MGallo-Code/roomgate/internal/identity"
)

// contextKey is unexported to prevent collisions with other packages using the same context.
type contextKey string

const requestKey contextKey = "admission_request"

// UsernameHeader names the caller's claimed identity on authenticated requests.
const UsernameHeader = "X-Username"

// Credentials parses the bearer token, X-Username, and client address into an
// admission.Request on the context. It never touches the store; validation is
// admission's job. A non-Bearer Authorization header is rejected outright.
func Credentials(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := &admission.Request{
			Username: identity.NormalizeUsername(r.Header.Get(UsernameHeader)),
			Addr:     identity.NormalizeAddr(r.RemoteAddr),
		}
		if auth := r.Header.Get("Authorization"); auth != "" {
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				logWarn(r, "credentials rejected", "reason", "malformed_authorization")
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid_token", Message: "malformed authorization header"})
				return
			}
			req.Token = strings.TrimSpace(token)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestKey, req)))
	})
}

// requestFrom returns the admission.Request built by Credentials, or a fresh
// one from the client address when the middleware did not run.
func requestFrom(r *http.Request) *admission.Request {
	if req, ok := r.Context().Value(requestKey).(*admission.Request); ok {
		return req
	}
	return &admission.Request{Addr: identity.NormalizeAddr(r.RemoteAddr)}
}
