package logger

import (
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CorrelationIDHeader carries the request correlation id in and out of the API.
const CorrelationIDHeader = "X-Correlation-ID"

const correlationIDKey = "correlationID"

// Init builds the process logger from LOG_LEVEL and LOG_FORMAT.
func Init() (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(raw))); err != nil {
			return nil, err
		}
	}

	var cfg zap.Config
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = level

	return cfg.Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// Middleware tags each request with a correlation id and writes an access log line
// to the zap global logger.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		id := strings.TrimSpace(c.GetHeader(CorrelationIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationIDKey, id)
		c.Header(CorrelationIDHeader, id)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		fields := []zap.Field{
			zap.String("correlation_id", id),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			zap.L().Error("request", fields...)
		case status >= 400:
			zap.L().Warn("request", fields...)
		default:
			zap.L().Info("request", fields...)
		}
	}
}

// CorrelationID returns the id assigned by Middleware, or "" outside of it.
func CorrelationID(c *gin.Context) string {
	return c.GetString(correlationIDKey)
}

// ForRequest returns base annotated with the request's correlation id.
func ForRequest(base *zap.Logger, c *gin.Context) *zap.Logger {
	base = OrNop(base)
	if id := CorrelationID(c); id != "" {
		return base.With(zap.String("correlation_id", id))
	}
	return base
}
