package main

import (
	"context"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/helpdesk_sim/backend/internal/ai"
	"github.com/helpdesk_sim/backend/internal/catalog"
	"github.com/helpdesk_sim/backend/internal/config"
	"github.com/helpdesk_sim/backend/internal/db"
	"github.com/helpdesk_sim/backend/internal/gateway"
	httpapi "github.com/helpdesk_sim/backend/internal/http"
	"github.com/helpdesk_sim/backend/internal/models"
	"github.com/helpdesk_sim/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "helpdesk-sim").Logger()

	ctx := context.Background()
	var repo db.Repository
	if cfg.DatabaseURL == "" {
		repo = db.NewMemoryStore()
		logger.Warn().Msg("DATABASE_URL not set, using in-memory store")
	} else {
		store, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect db")
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate db")
		}
		repo = store
	}

	cat, err := catalog.Load(cfg.TemplatesDir)
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.TemplatesDir).Msg("failed to load templates")
	}

	var gw gateway.Gateway
	if cfg.UseDryRun {
		gw = gateway.NewDryRunGateway()
		logger.Info().Msg("using dry-run helpdesk gateway")
	} else {
		gw = &gateway.ZammadGateway{
			BaseURL: cfg.ZammadURL,
			Token:   cfg.ZammadToken,
			Groups: map[models.Tier]string{
				models.TierTier1:    cfg.ZammadGroupTier1,
				models.TierTier2:    cfg.ZammadGroupTier2,
				models.TierSysadmin: cfg.ZammadGroupSysadmin,
			},
			CustomerFallbackEmail: cfg.ZammadCustomerFallbackEmail,
			MinInterval:           200 * time.Millisecond,
		}
	}

	engine, textGen := buildEngine(cfg, logger)

	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	gen := service.NewGenerator(cat, rand.New(rand.NewSource(seed)), logger)
	if cfg.LLMRewriteOpeningTickets && textGen != nil {
		gen.Rewriter = textGen
	}

	scheduler := &service.Scheduler{Repo: repo, Gateway: gw, Generator: gen, Logger: logger}
	poller := &service.Poller{Repo: repo, Gateway: gw, Engine: engine, Logger: logger}
	sessions := &service.SessionService{Repo: repo, Profiles: cat, Logger: logger}
	workers := &service.Workers{
		Scheduler:         scheduler,
		Poller:            poller,
		SchedulerInterval: cfg.SchedulerInterval,
		PollInterval:      cfg.PollInterval,
		Logger:            logger,
	}

	router := httpapi.Router(httpapi.Deps{
		Config:   cfg,
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
		Workers: workers,
		Engine:  engine,
		Logger:  logger,
	})

	var handler http.Handler = router
	if cfg.RequestTimeout > 0 {
		handler = http.TimeoutHandler(router, cfg.RequestTimeout, `{"error":{"code":"TIMEOUT","message":"Request timed out"}}`)
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	workers.Start(ctx)

	go func() {
		logger.Info().Str("port", cfg.Port).Str("engine", cfg.ResponseEngine).Bool("dry_run", cfg.UseDryRun).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	workers.Stop()
	logger.Info().Msg("server stopped")
}

// buildEngine wires the configured response engine. The returned generator is nil for the
// rule-based engine and is reused for opening-ticket rewrites otherwise.
func buildEngine(cfg config.Config, logger zerolog.Logger) (service.ResponseEngine, ai.Generator) {
	rules := &service.RuleBasedEngine{}
	var fallback service.ResponseEngine
	if cfg.LLMFallbackToRules {
		fallback = rules
	}

	switch strings.ToLower(strings.TrimSpace(cfg.ResponseEngine)) {
	case "mock":
		g := ai.MockGenerator{}
		logger.Info().Msg("using mock text generation")
		return &service.LLMEngine{Name: "mock", Generator: g, Fallback: fallback}, g
	case "ollama":
		g := ai.OllamaGenerator{BaseURL: cfg.OllamaURL, Model: cfg.OllamaModel}
		return &service.LLMEngine{Name: "ollama", Generator: g, Fallback: fallback, Endpoint: cfg.OllamaURL, Model: cfg.OllamaModel}, g
	case "openai":
		g := &ai.ChatGenerator{
			BaseURL:     cfg.AssistantBaseURL,
			Model:       cfg.AssistantModel,
			APIKey:      cfg.AssistantAPIKey,
			MaxTokens:   300,
			Temperature: 0.4,
			CacheTTL:    time.Minute,
		}
		return &service.LLMEngine{Name: "openai", Generator: g, Fallback: fallback, Endpoint: cfg.AssistantBaseURL, Model: cfg.AssistantModel}, g
	default:
		return rules, nil
	}
}
