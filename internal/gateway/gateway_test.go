package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/helpdesk_sim/backend/internal/models"
)

func TestArticleTriggersReply(t *testing.T) {
	cases := []struct {
		article Article
		want    bool
	}{
		{Article{Sender: "Agent"}, true},
		{Article{Sender: "System"}, true},
		{Article{Sender: "Agent", Internal: true}, false},
		{Article{Sender: "Customer"}, false},
		{Article{Sender: "unknown"}, false},
	}
	for _, tc := range cases {
		if got := tc.article.ShouldTriggerReply(); got != tc.want {
			t.Fatalf("%+v: expected %v, got %v", tc.article, tc.want, got)
		}
	}
}

func TestDryRunGatewayConversation(t *testing.T) {
	ctx := context.Background()
	g := NewDryRunGateway()
	id, err := g.CreateTicket(ctx, models.GeneratedTicket{Subject: "VPN down", Body: "It will not connect."})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != 1000 {
		t.Fatalf("expected first id 1000, got %d", id)
	}
	g.AddAgentReply(id, "Which client version?")
	articles, _ := g.FetchNewArticles(ctx, id, 1)
	if len(articles) != 1 || articles[0].ID != 2 || !articles[0].ShouldTriggerReply() {
		t.Fatalf("unexpected articles: %+v", articles)
	}
	if err := g.PostCustomerReply(ctx, id, "5.2", "VPN down"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if got := g.Articles(id); len(got) != 3 || got[2].Sender != "Customer" {
		t.Fatalf("unexpected transcript: %+v", got)
	}
	closed, _ := g.IsTicketClosed(ctx, id)
	if closed {
		t.Fatalf("ticket should start open")
	}
	g.MarkClosed(id)
	if closed, _ := g.IsTicketClosed(ctx, id); !closed {
		t.Fatalf("expected closed ticket")
	}
	if ok, _ := g.DeleteTicket(ctx, id); !ok {
		t.Fatalf("expected delete to report existing ticket")
	}
	if ok, _ := g.DeleteTicket(ctx, id); ok {
		t.Fatalf("expected second delete to report missing ticket")
	}
}

type fakeZammad struct {
	mu       sync.Mutex
	users    map[string]bool
	closed   bool
	deleted  bool
	created  map[string]any
	articles []map[string]any
}

func (f *fakeZammad) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users/search", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		q := r.URL.Query().Get("query")
		if f.users[q] {
			_ = json.NewEncoder(w).Encode([]map[string]any{{"id": 5, "email": q}})
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/api/v1/roles", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":1,"name":"Admin"},{"id":3,"name":"Customer"}]`))
	})
	mux.HandleFunc("/api/v1/users", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.users[body["email"].(string)] = true
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":6}`))
	})
	mux.HandleFunc("/api/v1/ticket_states", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":1,"name":"new","state_type":"new"},{"id":4,"name":"closed","state_type":"closed"}]`))
	})
	mux.HandleFunc("/api/v1/tickets", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token token=secret" {
			t.Errorf("missing token header")
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.created = body
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"id":77}`))
	})
	mux.HandleFunc("/api/v1/tickets/77", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			f.closed = true
			_, _ = w.Write([]byte(`{}`))
		case http.MethodDelete:
			f.deleted = true
			w.WriteHeader(http.StatusOK)
		default:
			if f.deleted {
				http.Error(w, `{"error":"Not Found"}`, http.StatusNotFound)
				return
			}
			state := "open"
			if f.closed {
				state = "closed"
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"id": 77, "state": state})
		}
	})
	mux.HandleFunc("/api/v1/ticket_articles/by_ticket/77", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id":12,"body":"Can you restart?","sender":"Agent","internal":false},
			{"id":10,"body":"opening","sender":"Customer"},
			{"id":11,"content":"note","from":"Agent","internal":true}
		]`))
	})
	mux.HandleFunc("/api/v1/ticket_articles", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.articles = append(f.articles, body)
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"id":13}`))
	})
	return mux
}

func TestZammadGatewayLifecycle(t *testing.T) {
	fake := &fakeZammad{users: map[string]bool{}}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	ctx := context.Background()
	g := &ZammadGateway{BaseURL: srv.URL + "/", Token: "secret", Groups: map[models.Tier]string{models.TierTier2: "Escalations"}}

	id, err := g.CreateTicket(ctx, models.GeneratedTicket{
		Subject:       "Mail stuck",
		Body:          "Nothing is arriving.",
		Tier:          models.TierTier2,
		Priority:      models.PriorityCritical,
		CustomerName:  "Ada Okafor",
		CustomerEmail: "A.Okafor@example.com",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != 77 {
		t.Fatalf("expected id 77, got %d", id)
	}
	if fake.created["group"] != "Escalations" || fake.created["priority"] != "4 urgent" || fake.created["customer"] != "a.okafor@example.com" {
		t.Fatalf("unexpected create payload: %+v", fake.created)
	}
	if fake.created["state_id"] != float64(1) {
		t.Fatalf("expected state_id 1, got %v", fake.created["state_id"])
	}
	if !fake.users["a.okafor@example.com"] {
		t.Fatalf("expected customer to be created")
	}

	articles, err := g.FetchNewArticles(ctx, 77, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(articles) != 2 || articles[0].ID != 11 || articles[1].ID != 12 {
		t.Fatalf("expected ascending articles after 10, got %+v", articles)
	}
	if articles[0].Body != "note" || articles[0].ShouldTriggerReply() {
		t.Fatalf("internal note should not trigger: %+v", articles[0])
	}

	if err := g.PostCustomerReply(ctx, 77, "Restarted, same issue.", "Mail stuck"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if len(fake.articles) != 1 || fake.articles[0]["sender"] != "Customer" {
		t.Fatalf("unexpected posted article: %+v", fake.articles)
	}

	closed, err := g.CloseTicket(ctx, 77)
	if err != nil || !closed {
		t.Fatalf("close: closed=%v err=%v", closed, err)
	}
	ok, err := g.DeleteTicket(ctx, 77)
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
}

func TestZammadGatewayFallbackCustomer(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/users/search", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	mux.HandleFunc("/api/v1/roles", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	mux.HandleFunc("/api/v1/users", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	mux.HandleFunc("/api/v1/ticket_states", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})
	var customer string
	mux.HandleFunc("/api/v1/tickets", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		customer, _ = body["customer"].(string)
		_, _ = w.Write([]byte(`{"id":5}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	g := &ZammadGateway{BaseURL: srv.URL, Token: "t", CustomerFallbackEmail: " Desk@Example.com "}
	if _, err := g.CreateTicket(context.Background(), models.GeneratedTicket{CustomerEmail: "x@example.com", Tier: models.TierTier1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if customer != "desk@example.com" {
		t.Fatalf("expected fallback customer, got %q", customer)
	}
}

func TestZammadGatewayHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	g := &ZammadGateway{BaseURL: srv.URL, Token: "t"}
	_, err := g.IsTicketClosed(context.Background(), 1)
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.StatusCode != 500 {
		t.Fatalf("expected HTTPError 500, got %v", err)
	}
	if !errors.Is(err, models.ErrUpstreamUnavailable) {
		t.Fatalf("expected upstream error classification")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected response body in error, got %v", err)
	}
}

func TestZammadGatewayPacingHonoursCancellation(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"id":1,"state":"open"}`))
	}))
	defer srv.Close()

	g := &ZammadGateway{BaseURL: srv.URL, Token: "t", MinInterval: time.Hour}
	if _, err := g.IsTicketClosed(context.Background(), 1); err != nil {
		t.Fatalf("first request: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	started := time.Now()
	_, err := g.IsTicketClosed(ctx, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled while waiting for the next slot, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("cancelled request waited %s", elapsed)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("expected only the first request to reach the server, got %d", n)
	}
}
