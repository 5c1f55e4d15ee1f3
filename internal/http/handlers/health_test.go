package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/helpdesk_sim/backend/internal/db"
	"github.com/helpdesk_sim/backend/internal/service"
)

// Runs against a real PostgreSQL when TEST_DATABASE_URL points at a disposable database.
func TestPostgresBackedRoutes(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := db.New(ctx, url)
	if err != nil {
		t.Fatalf("db connect: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	h := &Handler{
		Repo:     store,
		Sessions: &service.SessionService{Repo: store, Logger: zerolog.Nop()},
		Logger:   zerolog.Nop(),
	}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/healthz", h.Healthz)
	r.GET("/api/sessions", h.SessionsList)

	for _, path := range []string{"/healthz", "/api/sessions"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d %s", path, w.Code, w.Body.String())
		}
	}
}
