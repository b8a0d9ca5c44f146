package relay

import (
	"errors"
	"net/http"
	"strings"

	"github.com/abduss/reelrelay/internal/aggregator"
	"github.com/abduss/reelrelay/internal/auth"
	"github.com/abduss/reelrelay/internal/credentials"
	"github.com/abduss/reelrelay/internal/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// multipart framing allowance on top of the file limit
const formOverhead = 1 << 20

// RegisterRoutes mounts the upload, quota and account endpoints under group.
func RegisterRoutes(group *gin.RouterGroup, service *Orchestrator) {
	handler := &httpHandler{service: service}
	group.POST("/uploads", handler.upload)
	group.GET("/uploads", handler.listUploads)
	group.DELETE("/uploads/*filename", handler.deleteUpload)
	group.GET("/quota", handler.quota)
	group.GET("/accounts", handler.listAccounts)
}

// RegisterAdminRoutes mounts operator endpoints. The group must already require an admin.
func RegisterAdminRoutes(group *gin.RouterGroup, service *Orchestrator) {
	handler := &httpHandler{service: service}
	group.POST("/cleanup", handler.cleanup)
}

type httpHandler struct {
	service *Orchestrator
}

func (h *httpHandler) upload(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	if limit := h.service.opts.MaxFileBytes; limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+formOverhead)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		respondError(c, http.StatusBadRequest, "file field is required")
		return
	}

	src, err := fileHeader.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "failed to read upload")
		return
	}
	defer src.Close()

	result, err := h.service.Upload(c.Request.Context(), UploadRequest{
		UserID:       userID,
		Title:        c.PostForm("title"),
		Description:  c.PostForm("description"),
		OriginalName: fileHeader.Filename,
		ContentType:  fileHeader.Header.Get("Content-Type"),
		Size:         fileHeader.Size,
		Body:         src,
		Platforms:    splitPlatforms(c.PostForm("platforms")),
	})
	if err != nil {
		h.uploadError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":  true,
		"message":  result.Message,
		"filename": result.Filename,
		"mediaUrl": result.MediaURL,
		"results":  result.Results,
	})
}

func (h *httpHandler) uploadError(c *gin.Context, err error) {
	var (
		validation *ValidationError
		exceeded   *QuotaExceededError
		storage    *StorageWriteError
		accounting *AccountingError
		resolution *TargetResolutionError
		delivery   *DeliveryFailedError
	)

	switch {
	case errors.As(err, &validation):
		respondError(c, http.StatusBadRequest, validation.Error())
	case errors.As(err, &exceeded):
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":      exceeded.Error(),
			"statusCode": http.StatusTooManyRequests,
			"reason":     exceeded.Decision.Reason,
			"quota": gin.H{
				"current": exceeded.Decision.Current,
				"limits":  exceeded.Decision.Limits,
			},
		})
	case errors.As(err, &storage):
		_ = c.Error(err)
		respondError(c, http.StatusBadGateway, "failed to store upload")
	case errors.As(err, &accounting):
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "failed to record upload")
	case errors.As(err, &resolution):
		switch resolution.Failure {
		case NoAccounts:
			respondError(c, http.StatusBadRequest, "No connected accounts")
		case Unauthorized:
			respondError(c, http.StatusUnauthorized, "Invalid credentials")
		default:
			_ = c.Error(err)
			respondError(c, http.StatusBadGateway, "failed to load connected accounts")
		}
	case errors.As(err, &delivery):
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "Failed to schedule on any account",
			"statusCode": http.StatusInternalServerError,
			"filename":   delivery.Filename,
			"results":    delivery.Results,
		})
	default:
		_ = c.Error(err)
		logger.ForRequest(h.service.log, c).Error("upload failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to process upload")
	}
}

func (h *httpHandler) listUploads(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	list, err := h.service.Pending(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "failed to list uploads")
		return
	}
	c.JSON(http.StatusOK, gin.H{"uploads": list})
}

func (h *httpHandler) deleteUpload(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	filename := strings.TrimPrefix(c.Param("filename"), "/")
	if filename == "" {
		respondError(c, http.StatusBadRequest, "filename is required")
		return
	}

	if err := h.service.DeleteUpload(c.Request.Context(), userID, filename); err != nil {
		if errors.Is(err, ErrUploadNotFound) {
			respondError(c, http.StatusNotFound, "upload not found")
			return
		}
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "failed to delete upload")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) quota(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	decision, err := h.service.Quota(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		respondError(c, http.StatusInternalServerError, "failed to read quota")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"allowed": decision.Allowed,
		"reason":  decision.Reason,
		"current": decision.Current,
		"limits":  decision.Limits,
	})
}

func (h *httpHandler) listAccounts(c *gin.Context) {
	userID, _, ok := auth.RequireUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	accounts, err := h.service.Accounts(c.Request.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, credentials.ErrNotConfigured):
			respondError(c, http.StatusBadRequest, "aggregator credentials not configured")
		case errors.Is(err, aggregator.ErrUnauthorized):
			respondError(c, http.StatusUnauthorized, "Invalid credentials")
		default:
			_ = c.Error(err)
			respondError(c, http.StatusBadGateway, "failed to load connected accounts")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (h *httpHandler) cleanup(c *gin.Context) {
	result, err := h.service.Cleanup(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":      "cleanup interrupted",
			"statusCode": http.StatusInternalServerError,
			"deleted":    result.Deleted,
			"failed":     result.Failed,
			"errors":     result.Errors,
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message, "statusCode": status})
}

func splitPlatforms(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
