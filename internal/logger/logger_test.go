package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestInitUsesLogLevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")

	l, err := Init()
	if err != nil {
		t.Fatalf("Init() returned error: %v", err)
	}
	if l == nil {
		t.Fatalf("Init() returned nil logger")
	}
	if !l.Core().Enabled(-1) {
		t.Fatalf("expected debug level to be enabled")
	}
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "chatty")

	if _, err := Init(); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestMiddlewareSetsCorrelationID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Middleware())
	r.GET("/ping", func(c *gin.Context) {
		id := CorrelationID(c)
		if id == "" {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})

	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	rr := httptest.NewRecorder()

	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if rr.Header().Get(CorrelationIDHeader) == "" {
		t.Fatalf("expected %s header to be set", CorrelationIDHeader)
	}
}

func TestMiddlewareKeepsIncomingCorrelationID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Middleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req, _ := http.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(CorrelationIDHeader, "abc-123")
	rr := httptest.NewRecorder()

	r.ServeHTTP(rr, req)

	if got := rr.Header().Get(CorrelationIDHeader); got != "abc-123" {
		t.Fatalf("expected incoming id to be echoed, got %q", got)
	}
}
