package web_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"ximopet/internal/adapters/web"
	"ximopet/internal/app"
	"ximopet/internal/core"
	"ximopet/internal/logging"
	"ximopet/internal/store/memory"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	st := memory.New()
	st.SetConversions(core.NewConversionTable(1,
		core.UnitConversion{UnitID: 1, Value: decimal.NewFromInt(1), IsSmallest: true},
		core.UnitConversion{UnitID: 2, Value: decimal.NewFromInt(50)},
	))
	log := logging.Discard()
	engine := core.NewEngine(st, nil, log, nil)
	return web.NewHandler(app.NewAppService(engine, log), log, "", nil)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

type errorBody struct {
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	Details   map[string]any `json:"details"`
	RequestID string         `json:"request_id"`
}

func seed(t *testing.T, h http.Handler) {
	t.Helper()
	for _, body := range []string{
		`{"item_id":1,"location_id":10,"unit_id":1,"date":"2024-01-01","quantity":"100","unit_price":"2"}`,
		`{"item_id":1,"location_id":10,"unit_id":1,"date":"2024-01-05","quantity":"50","unit_price":"3"}`,
	} {
		rec := do(t, h, http.MethodPost, "/api/receipts", body)
		if rec.Code != http.StatusCreated {
			t.Fatalf("receipt: status %d body %s", rec.Code, rec.Body.String())
		}
	}
}

func TestHealth(t *testing.T) {
	h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
}

func TestUsageLifecycleOverHTTP(t *testing.T) {
	h := newTestServer(t)
	seed(t, h)

	rec := do(t, h, http.MethodPost, "/api/usages",
		`{"location_id":10,"sub_location_id":101,"date":"2024-01-06","status":"completed","role":"manager",
		  "lines":[{"item_id":1,"unit_id":1,"quantity":"120"}]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body.String())
	}
	var created app.UsageResult
	decode(t, rec, &created)
	if created.Status != core.UsageCompleted || !created.Debited {
		t.Fatalf("created = %s debited=%v, want completed and debited", created.Status, created.Debited)
	}
	// 100 @ 2 + 20 @ 3
	if !created.Cost.Equal(decimal.NewFromInt(260)) {
		t.Errorf("cost = %s, want 260", created.Cost)
	}

	rec = do(t, h, http.MethodGet, "/api/stock?location_id=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stock: status %d", rec.Code)
	}
	var stock app.StockResult
	decode(t, rec, &stock)
	if len(stock.Rows) != 1 || !stock.Rows[0].Quantity.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("stock rows = %+v, want one row of 30", stock.Rows)
	}

	path := "/api/usages/" + jsonID(created.UsageID)
	rec = do(t, h, http.MethodPost, path+"/transition", `{"status":"cancelled","role":"manager","reason":"wrong coop"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, path+"/history", "")
	var history app.HistoryResult
	decode(t, rec, &history)
	if len(history.Changes) != 2 {
		t.Fatalf("history has %d changes, want 2", len(history.Changes))
	}
	if history.Changes[1].Reason != "wrong coop" {
		t.Errorf("reason = %q", history.Changes[1].Reason)
	}

	rec = do(t, h, http.MethodGet, "/api/stock/1/10/batches", "")
	var batches app.BatchListResult
	decode(t, rec, &batches)
	total := decimal.Zero
	for _, b := range batches.Batches {
		total = total.Add(b.Available)
	}
	if !total.Equal(decimal.NewFromInt(150)) {
		t.Errorf("available after cancel = %s, want 150", total)
	}

	rec = do(t, h, http.MethodDelete, path, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, path, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get deleted: status %d, want 404", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	h := newTestServer(t)
	seed(t, h)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{
			name:   "insufficient stock",
			method: http.MethodPost,
			path:   "/api/usages",
			body:   `{"location_id":10,"sub_location_id":101,"date":"2024-01-06","status":"completed","role":"manager","lines":[{"item_id":1,"unit_id":1,"quantity":"500"}]}`,
			status: http.StatusConflict,
			code:   string(core.KindInsufficientStock),
		},
		{
			name:   "date before earliest batch",
			method: http.MethodPost,
			path:   "/api/usages",
			body:   `{"location_id":10,"sub_location_id":101,"date":"2023-12-31","status":"completed","role":"manager","lines":[{"item_id":1,"unit_id":1,"quantity":"5"}]}`,
			status: http.StatusUnprocessableEntity,
			code:   string(core.KindDateOutOfRange),
		},
		{
			name:   "operator may not complete",
			method: http.MethodPost,
			path:   "/api/usages",
			body:   `{"location_id":10,"sub_location_id":101,"date":"2024-01-06","status":"completed","role":"operator","lines":[{"item_id":1,"unit_id":1,"quantity":"5"}]}`,
			status: http.StatusConflict,
			code:   string(core.KindInvalidTransition),
		},
		{
			name:   "missing lines",
			method: http.MethodPost,
			path:   "/api/usages",
			body:   `{"location_id":10,"date":"2024-01-06","lines":[]}`,
			status: http.StatusBadRequest,
			code:   string(core.KindValidation),
		},
		{
			name:   "unknown field",
			method: http.MethodPost,
			path:   "/api/usages",
			body:   `{"location_id":10,"colour":"red"}`,
			status: http.StatusBadRequest,
			code:   "BAD_REQUEST",
		},
		{
			name:   "same location transfer",
			method: http.MethodPost,
			path:   "/api/mutations",
			body:   `{"source_location_id":10,"destination_location_id":10,"date":"2024-01-06","lines":[{"item_id":1,"unit_id":1,"quantity":"5"}]}`,
			status: http.StatusBadRequest,
			code:   string(core.KindValidation),
		},
		{
			name:   "bad id",
			method: http.MethodGet,
			path:   "/api/usages/abc",
			status: http.StatusBadRequest,
			code:   "BAD_REQUEST",
		},
		{
			name:   "unknown mutation",
			method: http.MethodGet,
			path:   "/api/mutations/99",
			status: http.StatusNotFound,
			code:   string(core.KindNotFound),
		},
		{
			name:   "unknown schema",
			method: http.MethodGet,
			path:   "/api/schemas/nope",
			status: http.StatusNotFound,
			code:   string(core.KindNotFound),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body.String())
			}
			var body errorBody
			decode(t, rec, &body)
			if body.Code != tt.code {
				t.Errorf("code = %q, want %q", body.Code, tt.code)
			}
			if body.RequestID == "" {
				t.Error("error response missing request_id")
			}
		})
	}
}

func TestNonNumericAmounts(t *testing.T) {
	h := newTestServer(t)
	seed(t, h)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		field  string
	}{
		{
			name:   "receipt quantity",
			method: http.MethodPost,
			path:   "/api/receipts",
			body:   `{"item_id":1,"location_id":10,"unit_id":1,"date":"2024-01-03","quantity":"abc","unit_price":"2"}`,
			field:  "quantity",
		},
		{
			name:   "receipt unit price",
			method: http.MethodPost,
			path:   "/api/receipts",
			body:   `{"item_id":1,"location_id":10,"unit_id":1,"date":"2024-01-03","quantity":"10","unit_price":"x"}`,
			field:  "unit_price",
		},
		{
			name:   "usage line",
			method: http.MethodPost,
			path:   "/api/usages",
			body:   `{"location_id":10,"date":"2024-01-06","lines":[{"item_id":1,"unit_id":1,"quantity":"abc"}]}`,
			field:  "lines[0].quantity",
		},
		{
			name:   "usage edit line",
			method: http.MethodPut,
			path:   "/api/usages/1",
			body:   `{"date":"2024-01-06","lines":[{"item_id":1,"unit_id":1,"quantity":"5"},{"item_id":1,"unit_id":1,"quantity":"1,5"}]}`,
			field:  "lines[1].quantity",
		},
		{
			name:   "mutation line",
			method: http.MethodPost,
			path:   "/api/mutations",
			body:   `{"source_location_id":10,"destination_location_id":20,"date":"2024-01-06","lines":[{"item_id":1,"unit_id":1,"quantity":true}]}`,
			field:  "lines[0].quantity",
		},
		{
			name:   "mutation edit line",
			method: http.MethodPut,
			path:   "/api/mutations/1",
			body:   `{"date":"2024-01-06","lines":[{"item_id":1,"unit_id":1,"quantity":"ten"}]}`,
			field:  "lines[0].quantity",
		},
		{
			name:   "preview quantity",
			method: http.MethodPost,
			path:   "/api/stock/preview",
			body:   `{"item_id":1,"location_id":10,"date":"2024-01-06","quantity":"lots"}`,
			field:  "quantity",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422 (body %s)", rec.Code, rec.Body.String())
			}
			var body errorBody
			decode(t, rec, &body)
			if body.Code != string(core.KindInvalidQuantity) {
				t.Errorf("code = %q, want %q", body.Code, core.KindInvalidQuantity)
			}
			if body.Details["field"] != tt.field {
				t.Errorf("details = %v, want field %q", body.Details, tt.field)
			}
		})
	}
}

func TestBareNumberQuantity(t *testing.T) {
	h := newTestServer(t)
	seed(t, h)
	rec := do(t, h, http.MethodPost, "/api/stock/preview", `{"item_id":1,"location_id":10,"date":"2024-01-06","quantity":12.5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestShortageDetails(t *testing.T) {
	h := newTestServer(t)
	seed(t, h)

	rec := do(t, h, http.MethodPost, "/api/stock/preview",
		`{"item_id":1,"location_id":10,"date":"2024-01-06","quantity":"200"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("preview: status %d body %s", rec.Code, rec.Body.String())
	}
	var plan core.Plan
	decode(t, rec, &plan)
	if !plan.Shortage.Equal(decimal.NewFromInt(50)) {
		t.Errorf("preview shortage = %s, want 50", plan.Shortage)
	}

	rec = do(t, h, http.MethodPost, "/api/mutations",
		`{"source_location_id":10,"destination_location_id":20,"date":"2024-01-06","lines":[{"item_id":1,"unit_id":2,"quantity":"4"}]}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("transfer: status %d body %s", rec.Code, rec.Body.String())
	}
	var body errorBody
	decode(t, rec, &body)
	if body.Details["shortage"] != "50" {
		t.Errorf("details = %v, want shortage 50", body.Details)
	}
}

func TestMutationOverHTTP(t *testing.T) {
	h := newTestServer(t)
	seed(t, h)

	rec := do(t, h, http.MethodPost, "/api/mutations",
		`{"source_location_id":10,"destination_location_id":20,"date":"2024-01-06","lines":[{"item_id":1,"unit_id":2,"quantity":"2"}]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body.String())
	}
	var m app.MutationResult
	decode(t, rec, &m)

	rec = do(t, h, http.MethodGet, "/api/stock", "")
	var stock app.StockResult
	decode(t, rec, &stock)
	got := map[int64]string{}
	for _, row := range stock.Rows {
		got[row.LocationID] = row.Quantity.String()
	}
	if got[10] != "50" || got[20] != "100" {
		t.Fatalf("stock = %v, want 10:50 20:100", got)
	}

	rec = do(t, h, http.MethodPut, "/api/mutations/"+jsonID(m.MutationID),
		`{"date":"2024-01-06","lines":[{"item_id":1,"unit_id":1,"quantity":"30"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("edit: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodPost, "/api/integrity/verify", "")
	var report app.IntegrityResult
	decode(t, rec, &report)
	if report.Diverged != 0 {
		t.Errorf("diverged = %d after edit", report.Diverged)
	}

	rec = do(t, h, http.MethodDelete, "/api/mutations/"+jsonID(m.MutationID), "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestReferenceEndpoints(t *testing.T) {
	h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/api/workflow/rules", "")
	var rules struct {
		Rules []core.TransitionRule `json:"rules"`
	}
	decode(t, rec, &rules)
	if len(rules.Rules) != len(core.DefaultTransitionRules()) {
		t.Errorf("rules = %d, want %d", len(rules.Rules), len(core.DefaultTransitionRules()))
	}

	rec = do(t, h, http.MethodGet, "/api/schemas/create_usage", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("schema: status %d", rec.Code)
	}
	var schema map[string]any
	decode(t, rec, &schema)
	if _, ok := schema["properties"]; !ok {
		t.Errorf("schema has no properties: %v", schema)
	}
}

func TestRequestBodyLimit(t *testing.T) {
	h := newTestServer(t)
	big := `{"notes":"` + strings.Repeat("x", 2<<20) + `"}`
	rec := do(t, h, http.MethodPost, "/api/usages", big)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func jsonID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestExportStock(t *testing.T) {
	h := newTestServer(t)
	seed(t, h)

	rec := do(t, h, http.MethodGet, "/api/stock/export?location_id=10", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("content type = %q", ct)
	}
	// xlsx files are zip archives.
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Error("body is not a zip archive")
	}

	rec = do(t, h, http.MethodGet, "/api/stock/export?location_id=x", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad location: status %d, want 400", rec.Code)
	}
}
