package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"sos-guardian/internal/auth"
	"sos-guardian/internal/dispatch"
	"sos-guardian/internal/handler"
	"sos-guardian/internal/hub"
	"sos-guardian/internal/identity"
	"sos-guardian/internal/ingest"
	"sos-guardian/internal/middleware"
	"sos-guardian/internal/signal"
)

const serviceVersion = "1.0.0"

type Deps struct {
	Registry    *identity.Registry
	SignalStore signal.Store
	Engine      *dispatch.Engine
	Ingest      *ingest.Service
	Hub         *hub.Hub
	TokenConfig auth.TokenConfig
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"service": "sos-guardian",
			"status":  "operational",
			"version": serviceVersion,
		})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	registerLimiter := middleware.NewRateLimiter(10, time.Minute)
	registerHandler := &handler.RegisterHandler{
		Registry:        deps.Registry,
		TokenConfig:     deps.TokenConfig,
		RegisterLimiter: registerLimiter,
	}
	authHandler := &handler.AuthHandler{Registry: deps.Registry, TokenConfig: deps.TokenConfig}

	r.POST("/v1/register", registerHandler.Register)
	r.POST("/v1/auth", authHandler.Auth)

	protected := r.Group("/v1")
	protected.Use(middleware.RequireAuth(deps.TokenConfig))

	sosHandler := &handler.SosHandler{Ingest: deps.Ingest, Store: deps.SignalStore, Engine: deps.Engine}
	protected.POST("/sos/init", sosHandler.Init)
	protected.GET("/sos", sosHandler.List)
	protected.GET("/sos/:id", sosHandler.Get)
	protected.POST("/sos/:id/retry", sosHandler.Retry)
	protected.POST("/sos/:id/cancel", sosHandler.Cancel)

	wsHandler := &handler.WebSocketHandler{Hub: deps.Hub, TokenConfig: deps.TokenConfig}
	r.GET("/ws", wsHandler.Serve)

	return r
}
