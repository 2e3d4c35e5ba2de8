// responses.go -- Package-wide HTTP response helpers.
//
// Every rejection body carries a machine-stable "error" reason next to the
// human "message", so clients branch on the reason and only display the message.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/MGallo-Code/roomgate/internal/admission"
	"github.com/MGallo-Code/roomgate/internal/apperr"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type rateLimitedBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Limit      int    `json:"limit"`
	RetryAfter int    `json:"retryAfter"`
}

// writeJSON encodes v with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// InternalServerError logs the error and returns a generic 500 JSON response.
// Never exposes internal error details.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal", Message: "internal server error"})
}

// BadRequest returns a 400 JSON response.
func BadRequest(w http.ResponseWriter, reason, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: reason, Message: message})
}

// writeError translates err into its HTTP response. Anything that is not an
// *apperr.Error is a 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae, ok := apperr.As(err)
	if !ok {
		InternalServerError(w, r, err)
		return
	}

	switch ae.Kind {
	case apperr.KindUnavailable:
		logError(r, "request failed", "reason", ae.Reason, "error", ae.Err)
	case apperr.KindBlocked, apperr.KindRateLimited:
		logWarn(r, "request throttled", "reason", ae.Reason, "limit", ae.Limit)
	default:
		logWarn(r, "request rejected", "reason", ae.Reason)
	}

	if ae.Kind == apperr.KindRateLimited || ae.Kind == apperr.KindBlocked {
		retry := int(ae.RetryAfter.Seconds())
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(w, ae.Status(), rateLimitedBody{
			Error:      ae.Reason,
			Message:    ae.Message,
			Limit:      ae.Limit,
			RetryAfter: retry,
		})
		return
	}
	writeJSON(w, ae.Status(), errorBody{Error: ae.Reason, Message: ae.Message})
}

// setQuotaHeaders emits X-RateLimit-* for the tightest window admission ran.
func (h *Handler) setQuotaHeaders(w http.ResponseWriter, req *admission.Request) {
	if !h.RateLimitHeaders || req.Quota == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(req.Quota.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(req.Quota.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.Itoa(req.Quota.ResetSeconds))
}

// respond writes quota headers, then either the error or v with status.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, req *admission.Request, err error, status int, v any) {
	h.setQuotaHeaders(w, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}
