package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abduss/reelrelay/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiddlewareRouter(t *testing.T, isAdmin bool) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	service := NewService(newMemoryStore(), config.AuthConfig{
		AccessTokenSecret:  "access-secret",
		RefreshTokenSecret: "refresh-secret",
		AccessTokenTTL:     time.Minute,
		RefreshTokenTTL:    time.Hour,
		BcryptCost:         4,
	})
	result, err := service.issueTokens(context.Background(), User{ID: uuid.New(), Email: "ops@example.com", IsAdmin: isAdmin})
	require.NoError(t, err)

	r := gin.New()
	protected := r.Group("/", AuthMiddleware(service))
	protected.GET("/me", func(c *gin.Context) {
		id, user, ok := RequireUser(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id.String(), "email": user.Email})
	})
	protected.Group("/admin", RequireAdmin()).POST("/cleanup", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r, result.Tokens.AccessToken
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	r, _ := newMiddlewareRouter(t, false)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/me", nil))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuthMiddlewareInjectsUser(t *testing.T) {
	r, token := newMiddlewareRouter(t, false)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ops@example.com")
}

func TestRequireAdmin(t *testing.T) {
	for _, tc := range []struct {
		name    string
		isAdmin bool
		want    int
	}{
		{"regular user", false, http.StatusForbidden},
		{"admin", true, http.StatusNoContent},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r, token := newMiddlewareRouter(t, tc.isAdmin)

			req := httptest.NewRequest(http.MethodPost, "/admin/cleanup", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			assert.Equal(t, tc.want, rr.Code)
		})
	}
}
