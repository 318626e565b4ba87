package web

import (
	"net/http"

	"ximopet/internal/app"
)

// createMutation handles POST /api/mutations.
func (h *Handler) createMutation(w http.ResponseWriter, r *http.Request) {
	var req app.CreateMutationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.CreateMutation(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// getMutation handles GET /api/mutations/{id}.
func (h *Handler) getMutation(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	result, err := h.svc.GetMutation(r.Context(), id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, result)
}

// editMutation handles PUT /api/mutations/{id}.
func (h *Handler) editMutation(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req app.EditMutationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.MutationID = id
	result, err := h.svc.EditMutation(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, result)
}

// deleteMutation handles DELETE /api/mutations/{id}.
func (h *Handler) deleteMutation(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteMutation(r.Context(), id); err != nil {
		writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
