package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const readinessTimeout = 5 * time.Second

func registerHealthRoutes(router *gin.Engine, deps Dependencies) {
	router.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/health/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()

		for _, probe := range []struct {
			name string
			p    Pinger
		}{
			{"postgres", deps.DB},
			{"object_store", deps.ObjectStore},
		} {
			if probe.p == nil {
				continue
			}
			if err := probe.p.Ping(ctx); err != nil {
				zap.L().Warn("readiness probe failed", zap.String("component", probe.name), zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":    "degraded",
					"component": probe.name,
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
