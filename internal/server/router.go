package server

import (
	"context"

	"github.com/abduss/reelrelay/internal/auth"
	"github.com/abduss/reelrelay/internal/config"
	"github.com/abduss/reelrelay/internal/credentials"
	"github.com/abduss/reelrelay/internal/logger"
	"github.com/abduss/reelrelay/internal/metrics"
	"github.com/abduss/reelrelay/internal/relay"
	"github.com/gin-gonic/gin"
)

// Pinger is any backend the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies groups the services required by the HTTP router.
type Dependencies struct {
	Config             config.Config
	DB                 Pinger
	ObjectStore        Pinger
	AuthService        *auth.Service
	CredentialsService *credentials.Service
	Relay              *relay.Orchestrator
}

// NewRouter builds a Gin engine with foundational middleware and routes.
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logger.Middleware())
	router.Use(metrics.Middleware())

	registerHealthRoutes(router, deps)
	metrics.Register(router, deps.Config.Metrics.PrometheusPath)

	api := router.Group("/v1")
	if deps.AuthService != nil {
		auth.RegisterRoutes(api, deps.AuthService)

		protected := api.Group("/")
		protected.Use(auth.AuthMiddleware(deps.AuthService))
		auth.RegisterSessionRoutes(protected, deps.AuthService)

		if deps.CredentialsService != nil {
			credentials.RegisterRoutes(protected, deps.CredentialsService)
		}
		if deps.Relay != nil {
			relay.RegisterRoutes(protected, deps.Relay)
			relay.RegisterAdminRoutes(protected.Group("/admin", auth.RequireAdmin()), deps.Relay)
		}
	}

	return router
}
