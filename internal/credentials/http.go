package credentials

import (
	"errors"
	"net/http"

	"github.com/abduss/reelrelay/internal/auth"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts credential management under the provided router group.
func RegisterRoutes(group *gin.RouterGroup, service *Service) {
	handler := &httpHandler{service: service}
	group.PUT("/credentials", handler.save)
	group.GET("/credentials", handler.status)
}

type httpHandler struct {
	service *Service
}

type saveRequest struct {
	APIKey string `json:"api_key" binding:"required,max=512"`
}

func (h *httpHandler) save(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req saveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.Save(c.Request.Context(), userID, req.APIKey); err != nil {
		switch {
		case errors.Is(err, ErrEmptyKey):
			c.JSON(http.StatusBadRequest, gin.H{"error": "api key is required"})
		case errors.Is(err, ErrSealingDisabled):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "credential storage is not configured"})
		default:
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store credentials"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *httpHandler) status(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	configured, err := h.service.Configured(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"configured": configured})
}
