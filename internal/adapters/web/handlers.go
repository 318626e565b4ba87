package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"ximopet/internal/app"
	"ximopet/internal/core"
)

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc app.ApplicationService
	log logrus.FieldLogger
}

// NewHandler creates and wires the chi router with all routes.
// metrics, when non-nil, is mounted at /metrics.
func NewHandler(svc app.ApplicationService, log logrus.FieldLogger, allowedOrigins string, metrics http.Handler) http.Handler {
	h := &Handler{svc: svc, log: log}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recoverer(log))
	r.Use(CORS(allowedOrigins))

	r.Get("/api/health", h.health)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequestBodyLimit(1 << 20)) // 1 MB

		// ── Stock ─────────────────────────────────────────────────────────────
		r.Post("/api/receipts", h.receiveStock)
		r.Delete("/api/batches/{id}", h.voidReceipt)
		r.Get("/api/stock", h.getStock)
		r.Get("/api/stock/export", h.exportStock)
		r.Get("/api/stock/{item}/{location}/batches", h.listBatches)
		r.Post("/api/stock/preview", h.previewAllocation)

		// ── Integrity ─────────────────────────────────────────────────────────
		r.Post("/api/stock/{item}/{location}/verify", h.verify)
		r.Post("/api/stock/{item}/{location}/recompute", h.recompute)
		r.Post("/api/integrity/verify", h.verifyAll)

		// ── Usage ─────────────────────────────────────────────────────────────
		r.Post("/api/usages", h.createUsage)
		r.Get("/api/usages/{id}", h.getUsage)
		r.Put("/api/usages/{id}", h.editUsage)
		r.Delete("/api/usages/{id}", h.deleteUsage)
		r.Post("/api/usages/{id}/transition", h.transitionUsage)
		r.Get("/api/usages/{id}/history", h.usageHistory)

		// ── Mutations ─────────────────────────────────────────────────────────
		r.Post("/api/mutations", h.createMutation)
		r.Get("/api/mutations/{id}", h.getMutation)
		r.Put("/api/mutations/{id}", h.editMutation)
		r.Delete("/api/mutations/{id}", h.deleteMutation)

		// ── Reference ─────────────────────────────────────────────────────────
		r.Get("/api/workflow/rules", h.transitionRules)
		r.Get("/api/schemas", h.listSchemas)
		r.Get("/api/schemas/{name}", h.getSchema)
	})

	return r
}

// health reports liveness.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
	}
	writeJSON(w, response{Status: "ok"})
}

func (h *Handler) transitionRules(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Rules []core.TransitionRule `json:"rules"`
	}
	writeJSON(w, response{Rules: h.svc.TransitionRules()})
}

func (h *Handler) listSchemas(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Schemas []string `json:"schemas"`
	}
	writeJSON(w, response{Schemas: app.RequestSchemaNames()})
}

func (h *Handler) getSchema(w http.ResponseWriter, r *http.Request) {
	schema, ok := app.RequestSchema(chi.URLParam(r, "name"))
	if !ok {
		writeError(w, r, "unknown schema", string(core.KindNotFound), http.StatusNotFound)
		return
	}
	writeJSON(w, schema)
}

// idParam parses a positive integer URL parameter. It writes a 400 and returns false on failure.
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, "invalid "+name+": must be a positive integer", "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// decodeJSON decodes the request body into v and returns false + writes an appropriate
// error response on failure. Returns HTTP 413 when the body exceeds the size limit set
// by RequestBodyLimit middleware; HTTP 400 for all other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}
