package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pactguard/pactguard/internal/audit"
	"github.com/pactguard/pactguard/internal/contract"
	"github.com/pactguard/pactguard/internal/enforcement"
	"github.com/pactguard/pactguard/internal/metrics"
	"github.com/pactguard/pactguard/internal/realtime"
	"github.com/pactguard/pactguard/internal/storage"
)

// maxInspectedBodyBytes caps how much of a request or response body is
// buffered for contract validation.
const maxInspectedBodyBytes = 1 << 20

// EnforceOptions carries the optional collaborators of the enforcement
// middleware. Nil fields disable the corresponding side effect.
type EnforceOptions struct {
	Collector  *metrics.PrometheusCollector
	Recorder   *audit.Recorder
	Hub        *realtime.Hub
	Violations *storage.ViolationRepository
}

// Enforce evaluates every request against its endpoint contract on the way
// in, and scores the response against the contract's SLA on the way out.
// Blocked requests receive a 403 with the full violation report.
func Enforce(enforcer *enforcement.Enforcer, logger *zap.Logger, opts EnforceOptions) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if isManagementPath(path) {
			c.Next()
			return
		}

		start := time.Now()
		method := requestMethod(c)
		clientID := c.ClientIP()

		payload := requestPayload(c)
		authCtx := authContext(c)

		result := enforcer.EnforceRequest(c.Request.Context(), path, method, authCtx, payload, clientID)
		recordResult(c, "request", result, opts, logger)

		if !result.Allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, result)
			reportResponse(c, enforcer, path, method, start, http.StatusForbidden, nil, opts, logger)
			return
		}

		// Buffer the response body only when the contract actually
		// validates response fields.
		var capture *responseCapture
		if result.Contract != nil && len(result.Contract.ResponseValidation) > 0 {
			capture = &responseCapture{ResponseWriter: c.Writer}
			c.Writer = capture
		}

		c.Next()

		reportResponse(c, enforcer, path, method, start, c.Writer.Status(), capture.fields(), opts, logger)
	}
}

// responseCapture tees the response body into a bounded buffer so the
// contract's response validation rules see live traffic, not just the
// explicit enforcement API.
type responseCapture struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *responseCapture) Write(data []byte) (int, error) {
	if room := maxInspectedBodyBytes - w.body.Len(); room > 0 {
		if len(data) > room {
			w.body.Write(data[:room])
		} else {
			w.body.Write(data)
		}
	}
	return w.ResponseWriter.Write(data)
}

func (w *responseCapture) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// fields decodes the captured body into the field set the contract checks.
// A nil capture, a non-JSON body or a body past the buffer cap all yield nil.
func (w *responseCapture) fields() map[string]interface{} {
	if w == nil || w.body.Len() == 0 {
		return nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(w.body.Bytes(), &fields); err != nil {
		return nil
	}
	return fields
}

func reportResponse(c *gin.Context, enforcer *enforcement.Enforcer, path, method string, start time.Time, status int, payload map[string]interface{}, opts EnforceOptions, logger *zap.Logger) {
	latencyMs := float64(time.Since(start)) / float64(time.Millisecond)
	result := enforcer.EnforceResponse(c.Request.Context(), path, method, payload, status, latencyMs)
	recordResult(c, "response", result, opts, logger)
}

func recordResult(c *gin.Context, phase string, result *enforcement.EnforcementResult, opts EnforceOptions, logger *zap.Logger) {
	if opts.Collector != nil {
		decision := "allowed"
		if !result.Allowed {
			decision = "blocked"
		}
		opts.Collector.IncrementEnforcement(phase, string(result.Mode), decision)
		for _, v := range result.Violations {
			opts.Collector.IncrementViolation(string(v.Type), string(v.Severity))
			if v.Type == enforcement.ViolationRateLimit {
				opts.Collector.IncrementRateLimitRejection(c.Request.URL.Path)
			}
		}
	}

	if opts.Hub != nil && len(result.Violations) > 0 {
		if err := opts.Hub.SendEnforcement(result); err != nil {
			logger.Debug("Failed to stream enforcement result", zap.Error(err))
		}
		for _, v := range result.Violations {
			if err := opts.Hub.SendViolation(v); err != nil {
				logger.Debug("Failed to stream violation", zap.Error(err))
			}
		}
	}

	if opts.Violations != nil {
		endpoint := c.Request.URL.Path
		if result.Contract != nil {
			endpoint = result.Contract.Path
		}
		for _, v := range result.Violations {
			record := &storage.ViolationRecord{
				Endpoint:      endpoint,
				Method:        c.Request.Method,
				ViolationType: string(v.Type),
				Severity:      string(v.Severity),
				Message:       v.Message,
				PenaltyPoints: v.PenaltyPoints,
				ClientID:      c.ClientIP(),
				CreatedAt:     v.Timestamp,
			}
			if err := opts.Violations.Create(record); err != nil {
				logger.Error("Failed to persist violation record", zap.Error(err))
			}
		}
	}

	if opts.Recorder != nil && (phase == "request" || len(result.Violations) > 0) {
		detail := ""
		if len(result.Violations) > 0 {
			if data, err := json.Marshal(result.Violations); err == nil {
				detail = string(data)
			}
		}
		event := audit.Event{
			Endpoint: c.Request.URL.Path,
			Method:   c.Request.Method,
			ClientID: c.ClientIP(),
			UserID:   c.GetString("user_id"),
			Action:   fmt.Sprintf("enforce_%s", phase),
			Allowed:  result.Allowed,
			Mode:     string(result.Mode),
			Detail:   detail,
		}
		if err := opts.Recorder.Record(event); err != nil {
			logger.Debug("Failed to record audit event", zap.Error(err))
		}
	}
}

// isManagementPath reports whether a request targets the service's own API
// rather than proxied traffic. Contracts never govern the management surface.
func isManagementPath(path string) bool {
	return path == "/health" || path == "/metrics" || strings.HasPrefix(path, "/api/v1/")
}

// requestMethod maps websocket upgrade requests onto the dedicated
// pseudo-method so contracts can target them separately from plain GETs.
func requestMethod(c *gin.Context) string {
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return contract.MethodWebSocket
	}
	return c.Request.Method
}

// requestPayload merges query parameters and any JSON body into the field
// set contracts validate against. The body is restored for downstream
// handlers.
func requestPayload(c *gin.Context) map[string]interface{} {
	payload := make(map[string]interface{})

	for key, values := range c.Request.URL.Query() {
		if len(values) == 1 {
			payload[key] = values[0]
		} else {
			payload[key] = values
		}
	}

	if c.Request.Body == nil || !strings.HasPrefix(c.ContentType(), "application/json") {
		return payload
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxInspectedBodyBytes))
	if err != nil {
		return payload
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))

	var fields map[string]interface{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return payload
	}
	for key, value := range fields {
		payload[key] = value
	}
	return payload
}

func authContext(c *gin.Context) enforcement.AuthContext {
	user, ok := UserFromContext(c)
	if !ok {
		return enforcement.AuthContext{}
	}
	return enforcement.AuthContext{
		Authenticated: true,
		Roles:         user.Roles,
		Permissions:   user.Permissions,
	}
}
