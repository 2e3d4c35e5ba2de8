// room_handler.go -- Room presence, AI reply admission, and admin maintenance.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Heartbeat handles POST /rooms/{roomID}/presence. 200 {success}.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	req := requestFrom(r)
	err := h.GW.Heartbeat(r.Context(), req, chi.URLParam(r, "roomID"))
	h.respond(w, r, req, err, http.StatusOK, successBody{true})
}

// Leave handles DELETE /rooms/{roomID}/presence. 200 {success}.
func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	req := requestFrom(r)
	err := h.GW.Leave(r.Context(), req, chi.URLParam(r, "roomID"))
	h.respond(w, r, req, err, http.StatusOK, successBody{true})
}

// RoomPresence handles GET /rooms/{roomID}/presence. 200 {roomId, users, count}.
func (h *Handler) RoomPresence(w http.ResponseWriter, r *http.Request) {
	req := requestFrom(r)
	roomID := chi.URLParam(r, "roomID")
	users, err := h.GW.RoomPresence(r.Context(), req, roomID)
	h.respond(w, r, req, err, http.StatusOK, struct {
		RoomID string   `json:"roomId"`
		Users  []string `json:"users"`
		Count  int      `json:"count"`
	}{roomID, users, len(users)})
}

// RequestReply handles POST /rooms/{roomID}/reply -- {prompt}.
// 202 {id} | 400 | 429 | 503 queue_full.
func (h *Handler) RequestReply(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Prompt string `json:"prompt"`
	}
	if !decode(w, r, &in) {
		return
	}
	req := requestFrom(r)

	id, err := h.GW.RequestReply(r.Context(), req, chi.URLParam(r, "roomID"), in.Prompt)
	if err == nil {
		logInfo(r, "reply queued", "username", req.Username, "job", id.String())
	}
	h.respond(w, r, req, err, http.StatusAccepted, struct {
		ID string `json:"id"`
	}{id.String()})
}

// Reconcile handles POST /admin/presence/reconcile. 200 {rooms, scanned, removed} | 403.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	req := requestFrom(r)
	res, err := h.GW.Reconcile(r.Context(), req)
	h.respond(w, r, req, err, http.StatusOK, res)
}
