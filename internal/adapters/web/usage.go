package web

import (
	"net/http"

	"ximopet/internal/app"
)

// createUsage handles POST /api/usages.
func (h *Handler) createUsage(w http.ResponseWriter, r *http.Request) {
	var req app.CreateUsageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.CreateUsage(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// getUsage handles GET /api/usages/{id}.
func (h *Handler) getUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	result, err := h.svc.GetUsage(r.Context(), id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, result)
}

// editUsage handles PUT /api/usages/{id}.
func (h *Handler) editUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req app.EditUsageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UsageID = id
	result, err := h.svc.EditUsage(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, result)
}

// deleteUsage handles DELETE /api/usages/{id}.
func (h *Handler) deleteUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.DeleteUsage(r.Context(), id); err != nil {
		writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// transitionUsage handles POST /api/usages/{id}/transition.
func (h *Handler) transitionUsage(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req app.TransitionUsageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.UsageID = id
	result, err := h.svc.TransitionUsage(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, result)
}

// usageHistory handles GET /api/usages/{id}/history.
func (h *Handler) usageHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	result, err := h.svc.UsageHistory(r.Context(), id)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, result)
}
