package httpapi

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/helpdesk_sim/backend/internal/catalog"
	"github.com/helpdesk_sim/backend/internal/config"
	"github.com/helpdesk_sim/backend/internal/db"
	"github.com/helpdesk_sim/backend/internal/gateway"
	"github.com/helpdesk_sim/backend/internal/models"
	"github.com/helpdesk_sim/backend/internal/service"
)

const testAdminKey = "test-key"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cat, err := catalog.Load("../../templates")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	repo := db.NewMemoryStore()
	gw := gateway.NewDryRunGateway()
	logger := zerolog.Nop()
	engine := &service.RuleBasedEngine{}

	gen := service.NewGenerator(cat, rand.New(rand.NewSource(3)), logger)
	scheduler := &service.Scheduler{Repo: repo, Gateway: gw, Generator: gen, Logger: logger}
	poller := &service.Poller{Repo: repo, Gateway: gw, Engine: engine, Logger: logger}
	sessions := &service.SessionService{Repo: repo, Profiles: cat, Logger: logger}

	return Router(Deps{
		Config:   config.Config{AdminKey: testAdminKey, CORSAllowed: "*"},
		Repo:     repo,
		Catalog:  cat,
		Sessions: sessions,
		Tickets: &service.TicketAdmin{
			Repo:      repo,
			Gateway:   gw,
			Scheduler: scheduler,
			Sessions:  sessions,
			Articles:  cat,
			Logger:    logger,
		},
		Hints:   &service.HintService{Repo: repo},
		Reports: &service.ReportService{Repo: repo},
		Workers: &service.Workers{Scheduler: scheduler, Poller: poller, Logger: logger},
		Engine:  engine,
		Logger:  logger,
	})
}

func do(t *testing.T, r *gin.Engine, method, path string, body any, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("X-Admin-Key", testAdminKey)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func clockIn(t *testing.T, r *gin.Engine, profile string) models.Session {
	t.Helper()
	w := do(t, r, http.MethodPost, "/api/sessions/clock-in", map[string]string{"profile_name": profile}, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("clock in: %d %s", w.Code, w.Body.String())
	}
	var s models.Session
	decode(t, w, &s)
	return s
}

func TestHealthzAndCatalogRoutes(t *testing.T) {
	r := newTestRouter(t)

	for _, path := range []string{"/healthz", "/api/profiles", "/api/catalog", "/api/knowledge-articles", "/api/engine/status", "/api/sessions"} {
		if w := do(t, r, http.MethodGet, path, nil, false); w.Code != http.StatusOK {
			t.Fatalf("GET %s: %d %s", path, w.Code, w.Body.String())
		}
	}

	var status service.EngineStatus
	decode(t, do(t, r, http.MethodGet, "/api/engine/status", nil, false), &status)
	if status.ConfiguredEngine != "rule_based" {
		t.Fatalf("unexpected engine status %+v", status)
	}
}

func TestMutatingRoutesRequireAdminKey(t *testing.T) {
	r := newTestRouter(t)
	w := do(t, r, http.MethodPost, "/api/sessions/clock-in", map[string]string{"profile_name": "normal_day"}, false)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/api/scheduler/run-once", nil, false); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for run-once, got %d", w.Code)
	}
}

func TestClockInValidation(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing profile", map[string]string{}, http.StatusBadRequest},
		{"unknown profile", map[string]string{"profile_name": "night_shift"}, http.StatusBadRequest},
		{"known profile", map[string]string{"profile_name": "normal_day"}, http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, http.MethodPost, "/api/sessions/clock-in", tt.body, true)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d %s", tt.want, w.Code, w.Body.String())
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	r := newTestRouter(t)
	session := clockIn(t, r, "normal_day")
	if session.Status != models.SessionActive || session.ProfileName != "normal_day" {
		t.Fatalf("unexpected session %+v", session)
	}

	if w := do(t, r, http.MethodGet, "/api/sessions/"+session.ID, nil, false); w.Code != http.StatusOK {
		t.Fatalf("get session: %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/api/sessions/missing", nil, false); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w := do(t, r, http.MethodPost, "/api/sessions/"+session.ID+"/clock-out", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("clock out: %d %s", w.Code, w.Body.String())
	}
	var out models.Session
	decode(t, w, &out)
	if out.Status != models.SessionCompleted {
		t.Fatalf("expected completed session, got %s", out.Status)
	}

	clockIn(t, r, "outage_drill")
	var all struct {
		CompletedCount int `json:"completed_count"`
	}
	decode(t, do(t, r, http.MethodPost, "/api/sessions/clock-out-all", nil, true), &all)
	if all.CompletedCount != 1 {
		t.Fatalf("expected one session clocked out, got %d", all.CompletedCount)
	}
}

func TestGenerateCloseAndDeleteTickets(t *testing.T) {
	r := newTestRouter(t)
	session := clockIn(t, r, "normal_day")

	if w := do(t, r, http.MethodPost, "/api/tickets/generate", map[string]any{"count": 25}, true); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for count 25, got %d", w.Code)
	}

	w := do(t, r, http.MethodPost, "/api/tickets/generate", map[string]any{"count": 2, "tier": "tier1"}, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("generate: %d %s", w.Code, w.Body.String())
	}
	var gen service.GenerateResult
	decode(t, w, &gen)
	if gen.SessionID != session.ID || gen.CreatedCount != 2 || len(gen.Tickets) != 2 {
		t.Fatalf("unexpected generate result %+v", gen)
	}
	first, second := gen.Tickets[0], gen.Tickets[1]

	var detail service.TicketDetail
	decode(t, do(t, r, http.MethodGet, "/api/tickets/"+first.ID, nil, false), &detail)
	if detail.Ticket.ID != first.ID || len(detail.Interactions) != 1 {
		t.Fatalf("unexpected detail %+v", detail)
	}
	if w := do(t, r, http.MethodGet, "/api/tickets/"+first.ID+"/knowledge-articles", nil, false); w.Code != http.StatusOK {
		t.Fatalf("knowledge articles: %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/api/tickets/nope", nil, false); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	hint := map[string]string{"ticket_id": first.ID, "level": "nudge"}
	w = do(t, r, http.MethodPost, "/api/hints", hint, true)
	if w.Code != http.StatusOK {
		t.Fatalf("hint: %d %s", w.Code, w.Body.String())
	}
	var hr service.HintResult
	decode(t, w, &hr)
	if hr.PenaltyApplied != 2 || hr.Level != models.HintNudge {
		t.Fatalf("unexpected hint result %+v", hr)
	}
	hint["ticket_id"] = "missing"
	if w := do(t, r, http.MethodPost, "/api/hints", hint, true); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown ticket, got %d", w.Code)
	}
	hint["level"] = "everything"
	if w := do(t, r, http.MethodPost, "/api/hints", hint, true); w.Code != http.StatusBadRequest {
		t.Fatalf("expected validation error, got %d", w.Code)
	}

	var closed service.CloseResult
	decode(t, do(t, r, http.MethodPost, "/api/tickets/"+first.ID+"/close", nil, true), &closed)
	if !closed.Closed || !closed.BackendClosed {
		t.Fatalf("unexpected close result %+v", closed)
	}
	decode(t, do(t, r, http.MethodPost, "/api/tickets/"+first.ID+"/close", nil, true), &closed)
	if closed.Closed {
		t.Fatalf("second close must be a no-op, got %+v", closed)
	}

	if w := do(t, r, http.MethodDelete, "/api/tickets/"+second.ID+"?fallback_close_on_delete_failure=maybe", nil, true); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad flag, got %d", w.Code)
	}
	var deleted service.DeleteResult
	decode(t, do(t, r, http.MethodDelete, "/api/tickets/"+second.ID+"?fallback_close_on_delete_failure=true", nil, true), &deleted)
	if !deleted.Deleted || !deleted.BackendDeleted {
		t.Fatalf("unexpected delete result %+v", deleted)
	}

	var bulk service.BulkDeleteResult
	decode(t, do(t, r, http.MethodDelete, "/api/sessions/"+session.ID+"/tickets", nil, true), &bulk)
	if bulk.DeletedCount != 1 {
		t.Fatalf("expected the remaining ticket to be deleted, got %+v", bulk)
	}
}

func TestWorkerAndReportRoutes(t *testing.T) {
	r := newTestRouter(t)
	clockIn(t, r, "outage_drill")

	var sched service.SchedulerResult
	w := do(t, r, http.MethodPost, "/api/scheduler/run-once", nil, true)
	if w.Code != http.StatusOK {
		t.Fatalf("scheduler run once: %d %s", w.Code, w.Body.String())
	}
	decode(t, w, &sched)
	if sched.SessionsChecked != 1 || sched.TicketsGenerated < 2 {
		t.Fatalf("unexpected scheduler result %+v", sched)
	}

	var poll service.PollerResult
	decode(t, do(t, r, http.MethodPost, "/api/poller/run-once", nil, true), &poll)
	if poll.TicketsChecked != sched.TicketsGenerated {
		t.Fatalf("expected every generated ticket to be polled, got %+v", poll)
	}

	for _, path := range []string{"/api/reports/daily", "/api/reports/weekly"} {
		w := do(t, r, http.MethodGet, path, nil, false)
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s: %d %s", path, w.Code, w.Body.String())
		}
		var summary models.ReportSummary
		decode(t, w, &summary)
		if summary.TicketsClosed != 0 {
			t.Fatalf("expected an empty report, got %+v", summary)
		}
	}
}
