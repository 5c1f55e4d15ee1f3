package httpapi

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/helpdesk_sim/backend/internal/catalog"
	"github.com/helpdesk_sim/backend/internal/config"
	"github.com/helpdesk_sim/backend/internal/db"
	"github.com/helpdesk_sim/backend/internal/http/handlers"
	"github.com/helpdesk_sim/backend/internal/http/middleware"
	"github.com/helpdesk_sim/backend/internal/service"

	_ "github.com/helpdesk_sim/backend/docs"
)

// Deps is everything the HTTP layer serves from.
type Deps struct {
	Config   config.Config
	Repo     db.Repository
	Catalog  *catalog.Catalog
	Sessions *service.SessionService
	Tickets  *service.TicketAdmin
	Hints    *service.HintService
	Reports  *service.ReportService
	Workers  *service.Workers
	Engine   service.ResponseEngine
	Logger   zerolog.Logger
}

func Router(d Deps) *gin.Engine {
	cfg := d.Config
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(d.Logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.AdminKeyHeader, middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "" || cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		for _, origin := range strings.Split(cfg.CORSAllowed, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				corsCfg.AllowOrigins = append(corsCfg.AllowOrigins, origin)
			}
		}
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Repo:      d.Repo,
		Catalog:   d.Catalog,
		Sessions:  d.Sessions,
		Tickets:   d.Tickets,
		Hints:     d.Hints,
		Reports:   d.Reports,
		Workers:   d.Workers,
		Engine:    d.Engine,
		Validator: validator.New(),
		Logger:    d.Logger,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.GET("/profiles", h.Profiles)
		api.GET("/catalog", h.CatalogOverview)
		api.GET("/knowledge-articles", h.KnowledgeArticlesList)
		api.GET("/sessions", h.SessionsList)
		api.GET("/sessions/:id", h.SessionDetails)
		api.GET("/tickets/:id", h.TicketDetails)
		api.GET("/tickets/:id/knowledge-articles", h.TicketKnowledgeArticles)
		api.GET("/reports/daily", h.DailyReport)
		api.GET("/reports/weekly", h.WeeklyReport)
		api.GET("/engine/status", h.EngineStatus)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/sessions/clock-in", h.ClockIn)
		admin.POST("/sessions/clock-out-all", h.ClockOutAll)
		admin.POST("/sessions/:id/clock-out", h.ClockOut)
		admin.POST("/sessions/:id/tickets/close-all", h.CloseSessionTickets)
		admin.DELETE("/sessions/:id/tickets", h.DeleteSessionTickets)
		admin.POST("/tickets/generate", h.GenerateTickets)
		admin.POST("/tickets/:id/close", h.CloseTicket)
		admin.POST("/tickets/:id/knowledge-draft", h.TicketKnowledgeDraft)
		admin.DELETE("/tickets/:id", h.DeleteTicket)
		admin.POST("/hints", h.RequestHint)
		admin.POST("/scheduler/run-once", h.SchedulerRunOnce)
		admin.POST("/poller/run-once", h.PollerRunOnce)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}
