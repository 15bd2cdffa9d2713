package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pactguard/pactguard/internal/auth"
	"github.com/pactguard/pactguard/internal/metrics"
)

// RequestLogger logs HTTP requests
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("remote_addr", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}

// Metrics collects HTTP metrics
func Metrics(collector *metrics.PrometheusCollector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		collector.IncrementHTTPRequest(c.Request.Method, path, http.StatusText(c.Writer.Status()))
		collector.ObserveHTTPDuration(c.Request.Method, path, time.Since(start))
	}
}

// Authenticate validates a Bearer token when one is present and stores the
// resulting user on the request context. Requests without a token proceed
// unauthenticated; whether that is acceptable is a contract decision made
// downstream.
func Authenticate(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.Next()
			return
		}

		claims, err := authService.ValidateToken(parts[1])
		if err != nil {
			c.Next()
			return
		}

		c.Set("user", &auth.User{
			ID:          claims.UserID,
			Email:       claims.Email,
			Roles:       claims.Roles,
			Permissions: claims.Permissions,
		})
		c.Set("user_id", claims.UserID)

		c.Next()
	}
}

// UserFromContext returns the authenticated user stored by Authenticate.
func UserFromContext(c *gin.Context) (*auth.User, bool) {
	value, exists := c.Get("user")
	if !exists {
		return nil, false
	}
	user, ok := value.(*auth.User)
	return user, ok
}
