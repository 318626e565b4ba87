package web

import (
	"net/http"
	"strconv"

	"ximopet/internal/app"
	"ximopet/internal/report"
)

// receiveStock handles POST /api/receipts.
func (h *Handler) receiveStock(w http.ResponseWriter, r *http.Request) {
	var req app.ReceiveStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	result, err := h.svc.ReceiveStock(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// voidReceipt handles DELETE /api/batches/{id}.
func (h *Handler) voidReceipt(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.svc.VoidReceipt(r.Context(), id); err != nil {
		writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// getStock handles GET /api/stock?location_id=N. Without location_id every location is listed.
func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	location, ok := locationQuery(w, r)
	if !ok {
		return
	}
	result, err := h.svc.GetStock(r.Context(), location)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, result)
}

// exportStock handles GET /api/stock/export?location_id=N and streams an xlsx workbook.
func (h *Handler) exportStock(w http.ResponseWriter, r *http.Request) {
	location, ok := locationQuery(w, r)
	if !ok {
		return
	}
	snap, err := report.Collect(r.Context(), h.svc, location)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename=stock.xlsx")
	if err := report.Write(w, snap); err != nil {
		h.log.WithError(err).Error("stock export failed")
	}
}

// listBatches handles GET /api/stock/{item}/{location}/batches.
func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	item, location, ok := stockKeyParams(w, r)
	if !ok {
		return
	}
	result, err := h.svc.ListBatches(r.Context(), item, location)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, result)
}

// previewAllocation handles POST /api/stock/preview.
func (h *Handler) previewAllocation(w http.ResponseWriter, r *http.Request) {
	var req app.PreviewAllocationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	plan, err := h.svc.PreviewAllocation(r.Context(), req)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, plan)
}

// ── Integrity ─────────────────────────────────────────────────────────────────

// verify handles POST /api/stock/{item}/{location}/verify.
// A divergence answers 409 and leaves the key on hold.
func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	item, location, ok := stockKeyParams(w, r)
	if !ok {
		return
	}
	result, err := h.svc.Verify(r.Context(), item, location)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, result)
}

// recompute handles POST /api/stock/{item}/{location}/recompute.
func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	item, location, ok := stockKeyParams(w, r)
	if !ok {
		return
	}
	result, err := h.svc.Recompute(r.Context(), item, location)
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, result)
}

// verifyAll handles POST /api/integrity/verify.
func (h *Handler) verifyAll(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.VerifyAll(r.Context())
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	writeJSON(w, result)
}

// locationQuery reads the optional location_id query parameter. Absent means every location.
func locationQuery(w http.ResponseWriter, r *http.Request) (int64, bool) {
	v := r.URL.Query().Get("location_id")
	if v == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		writeError(w, r, "invalid location_id: must be a positive integer", "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func stockKeyParams(w http.ResponseWriter, r *http.Request) (item, location int64, ok bool) {
	if item, ok = idParam(w, r, "item"); !ok {
		return 0, 0, false
	}
	if location, ok = idParam(w, r, "location"); !ok {
		return 0, 0, false
	}
	return item, location, true
}
