package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pactguard/pactguard/internal/auth"
	"github.com/pactguard/pactguard/internal/contract"
	"github.com/pactguard/pactguard/internal/enforcement"
	"github.com/pactguard/pactguard/internal/metrics"
	"github.com/pactguard/pactguard/internal/penalty"
	"github.com/pactguard/pactguard/internal/realtime"
	"github.com/pactguard/pactguard/internal/scoring"
	"github.com/pactguard/pactguard/internal/storage"
)

// Persistence groups the optional database-backed collaborators. Every
// field may be nil when the database is disabled; the handlers degrade to
// 501 responses or omit the corresponding detail.
type Persistence struct {
	Store      *storage.Store
	Audits     *storage.AuditRepository
	Violations *storage.ViolationRepository
	Scores     *storage.ScoreRepository
}

// Handler handles accountability HTTP requests
type Handler struct {
	registry    *contract.Registry
	enforcer    *enforcement.Enforcer
	calculator  *scoring.Calculator
	collector   *metrics.Collector
	penalties   *penalty.Registry
	rules       *penalty.RuleSet
	authService *auth.Service
	hub         *realtime.Hub
	persistence Persistence
	logger      *zap.Logger
}

// NewHandler creates a new accountability handler
func NewHandler(
	registry *contract.Registry,
	enforcer *enforcement.Enforcer,
	calculator *scoring.Calculator,
	collector *metrics.Collector,
	penalties *penalty.Registry,
	rules *penalty.RuleSet,
	authService *auth.Service,
	hub *realtime.Hub,
	persistence Persistence,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		registry:    registry,
		enforcer:    enforcer,
		calculator:  calculator,
		collector:   collector,
		penalties:   penalties,
		rules:       rules,
		authService: authService,
		hub:         hub,
		persistence: persistence,
		logger:      logger,
	}
}

// RegisterRoutes registers all accountability routes
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")

	// Enforcement endpoints
	api.POST("/enforce/request", h.EnforceRequest)
	api.POST("/enforce/response", h.EnforceResponse)

	// Scoring endpoints
	api.GET("/scores", h.GetScore)
	api.GET("/scores/history", h.GetScoreHistory)
	api.GET("/trends", h.GetTrend)
	api.GET("/summary", h.GetSummary)

	// Operation metrics endpoints
	api.POST("/metrics/record", h.RecordOperation)
	api.GET("/metrics/operations", h.GetOperationMetrics)

	// Penalty endpoints
	api.GET("/penalties", h.GetPenalties)
	api.POST("/penalties", h.RegisterPenalty)
	api.DELETE("/penalties", h.ClearPenalties)

	// Contract endpoints
	api.GET("/contracts", h.GetContracts)
	api.POST("/contracts/reload", h.ReloadContracts)

	// Violation and audit history
	api.GET("/violations", h.GetViolations)
	api.GET("/audit", h.GetAuditTrail)

	// Auth endpoints
	api.POST("/auth/token", h.IssueToken)

	// Realtime stream
	if h.hub != nil {
		api.GET("/stream", h.hub.HandleWebSocket)
	}

	router.GET("/health", h.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Enforcement endpoints

func (h *Handler) EnforceRequest(c *gin.Context) {
	var request struct {
		Path          string                 `json:"path" binding:"required"`
		Method        string                 `json:"method" binding:"required"`
		ClientID      string                 `json:"client_id"`
		Authenticated bool                   `json:"authenticated"`
		Roles         []string               `json:"roles"`
		Permissions   []string               `json:"permissions"`
		Payload       map[string]interface{} `json:"payload"`
	}

	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	clientID := request.ClientID
	if clientID == "" {
		clientID = c.ClientIP()
	}

	authCtx := enforcement.AuthContext{
		Authenticated: request.Authenticated,
		Roles:         request.Roles,
		Permissions:   request.Permissions,
	}

	result := h.enforcer.EnforceRequest(c.Request.Context(), request.Path, request.Method, authCtx, request.Payload, clientID)
	h.streamResult(result)
	c.JSON(http.StatusOK, result)
}

func (h *Handler) EnforceResponse(c *gin.Context) {
	var request struct {
		Path       string                 `json:"path" binding:"required"`
		Method     string                 `json:"method" binding:"required"`
		StatusCode int                    `json:"status_code" binding:"required"`
		LatencyMs  float64                `json:"latency_ms"`
		Payload    map[string]interface{} `json:"payload"`
	}

	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := h.enforcer.EnforceResponse(c.Request.Context(), request.Path, request.Method, request.Payload, request.StatusCode, request.LatencyMs)
	h.streamResult(result)
	c.JSON(http.StatusOK, result)
}

func (h *Handler) streamResult(result *enforcement.EnforcementResult) {
	if h.hub == nil || len(result.Violations) == 0 {
		return
	}
	if err := h.hub.SendEnforcement(result); err != nil {
		h.logger.Debug("Failed to stream enforcement result", zap.Error(err))
	}
}

// Scoring endpoints

func (h *Handler) GetScore(c *gin.Context) {
	endpoint := c.Query("endpoint")
	if endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint query parameter required"})
		return
	}

	score := h.calculator.CalculateScore(endpoint)
	if h.hub != nil {
		if err := h.hub.SendScore(score); err != nil {
			h.logger.Debug("Failed to stream score", zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"score":        score,
		"health_state": scoring.HealthState(score.Score),
	})
}

func (h *Handler) GetTrend(c *gin.Context) {
	endpoint := c.Query("endpoint")
	if endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint query parameter required"})
		return
	}

	hours := 24
	if raw := c.Query("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive integer"})
			return
		}
		hours = parsed
	}

	c.JSON(http.StatusOK, h.calculator.GetTrend(endpoint, hours))
}

func (h *Handler) GetSummary(c *gin.Context) {
	c.JSON(http.StatusOK, h.calculator.ExportSummary())
}

// GetScoreHistory serves persisted score snapshots, which survive restarts
// unlike the calculator's in-memory trend window.
func (h *Handler) GetScoreHistory(c *gin.Context) {
	if h.persistence.Scores == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "score persistence is not configured"})
		return
	}

	endpoint := c.Query("endpoint")
	if endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint query parameter required"})
		return
	}

	hours := 24
	if raw := c.Query("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive integer"})
			return
		}
		hours = parsed
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	snapshots, err := h.persistence.Scores.ListByEndpoint(endpoint, since)
	if err != nil {
		h.logger.Error("Failed to list score snapshots", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list score snapshots"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"endpoint": endpoint, "hours": hours, "snapshots": snapshots})
}

// Operation metrics endpoints

func (h *Handler) RecordOperation(c *gin.Context) {
	var request struct {
		Endpoint string `json:"endpoint" binding:"required"`
		Event    string `json:"event" binding:"required"`
		Error    string `json:"error"`
		Steps    int    `json:"steps"`
	}

	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch request.Event {
	case "attempt":
		h.collector.RecordAttempt(request.Endpoint)
	case "success":
		h.collector.RecordSuccess(request.Endpoint)
	case "failure":
		h.collector.RecordFailure(request.Endpoint, request.Error)
	case "retry":
		steps := request.Steps
		if steps <= 0 {
			steps = 1
		}
		h.collector.RecordRetry(request.Endpoint, steps)
	case "fallback":
		h.collector.RecordFallback(request.Endpoint)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event type"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"recorded": request.Event, "endpoint": request.Endpoint})
}

func (h *Handler) GetOperationMetrics(c *gin.Context) {
	endpoint := c.Query("endpoint")
	if endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint query parameter required"})
		return
	}

	snapshot, ok := h.collector.Snapshot(endpoint)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no metrics recorded for endpoint"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"metrics":         snapshot,
		"success_rate":    snapshot.SuccessRate(),
		"fallback_rate":   snapshot.FallbackRate(),
		"average_retries": snapshot.AverageRetries(),
	})
}

// Penalty endpoints

func (h *Handler) GetPenalties(c *gin.Context) {
	endpoint := c.Query("endpoint")
	if endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint query parameter required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"endpoint":  endpoint,
		"penalties": h.penalties.Snapshot(endpoint),
	})
}

func (h *Handler) RegisterPenalty(c *gin.Context) {
	var request struct {
		Endpoint  string                 `json:"endpoint" binding:"required"`
		Rule      string                 `json:"rule"`
		Component string                 `json:"component"`
		Context   map[string]interface{} `json:"context"`

		// Explicit schema fields, used when no rule name is given
		ViolationType string  `json:"violation_type"`
		Severity      string  `json:"severity"`
		Points        float64 `json:"points"`
		Description   string  `json:"description"`
	}

	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var schema penalty.Schema
	if request.Rule != "" {
		built, err := h.rules.Build(request.Rule, request.Component, request.Context)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		schema = built
	} else {
		if request.Points <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "points must be positive"})
			return
		}
		schema = penalty.Schema{
			ViolationType: enforcement.ViolationType(request.ViolationType),
			Severity:      enforcement.Severity(request.Severity),
			Points:        request.Points,
			Description:   request.Description,
			Component:     request.Component,
		}
	}

	h.penalties.Register(request.Endpoint, schema)
	h.logger.Info("Penalty registered",
		zap.String("endpoint", request.Endpoint),
		zap.String("violation_type", string(schema.ViolationType)),
		zap.Float64("points", schema.Points))

	c.JSON(http.StatusCreated, gin.H{"endpoint": request.Endpoint, "penalty": schema})
}

func (h *Handler) ClearPenalties(c *gin.Context) {
	endpoint := c.Query("endpoint")

	var cleared int
	if endpoint == "" {
		cleared = h.penalties.ClearAll()
	} else {
		cleared = h.penalties.Clear(endpoint)
	}

	c.JSON(http.StatusOK, gin.H{"cleared": cleared})
}

// Contract endpoints

func (h *Handler) GetContracts(c *gin.Context) {
	c.JSON(http.StatusOK, h.registry.Contract())
}

func (h *Handler) ReloadContracts(c *gin.Context) {
	if err := h.registry.Reload(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	active := h.registry.Contract()
	c.JSON(http.StatusOK, gin.H{
		"reloaded":  true,
		"service":   active.ServiceName,
		"version":   active.Version,
		"endpoints": len(active.Endpoints),
	})
}

// Violation and audit history

func (h *Handler) GetViolations(c *gin.Context) {
	if h.persistence.Violations == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "violation persistence is not configured"})
		return
	}

	endpoint := c.Query("endpoint")
	if endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint query parameter required"})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	records, err := h.persistence.Violations.ListByEndpoint(endpoint, limit)
	if err != nil {
		h.logger.Error("Failed to list violations", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list violations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"endpoint": endpoint, "violations": records})
}

func (h *Handler) GetAuditTrail(c *gin.Context) {
	if h.persistence.Audits == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "audit persistence is not configured"})
		return
	}

	endpoint := c.Query("endpoint")
	if endpoint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint query parameter required"})
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	entries, err := h.persistence.Audits.ListByEndpoint(endpoint, limit)
	if err != nil {
		h.logger.Error("Failed to list audit entries", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit entries"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"endpoint": endpoint, "entries": entries})
}

// Auth endpoints

func (h *Handler) IssueToken(c *gin.Context) {
	if h.authService == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "authentication is not configured"})
		return
	}

	var request struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}

	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := h.authService.Authenticate(request.Username, request.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token, err := h.authService.GenerateToken(user)
	if err != nil {
		h.logger.Error("Failed to generate token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
}

// Health check

func (h *Handler) HealthCheck(c *gin.Context) {
	active := h.registry.Contract()
	status := http.StatusOK
	response := gin.H{
		"status":           "healthy",
		"timestamp":        time.Now(),
		"enforcement_mode": string(h.enforcer.Mode()),
		"endpoints":        len(active.Endpoints),
	}
	if h.hub != nil {
		response["stream_clients"] = h.hub.GetConnectedClients()
	}
	if h.persistence.Store != nil {
		if err := h.persistence.Store.Health(); err != nil {
			h.logger.Error("Database health check failed", zap.Error(err))
			response["status"] = "degraded"
			response["database"] = "down"
			status = http.StatusServiceUnavailable
		} else {
			response["database"] = "up"
		}
	}
	if h.persistence.Violations != nil {
		counts, err := h.persistence.Violations.CountBySeverity(time.Now().Add(-24 * time.Hour))
		if err != nil {
			h.logger.Error("Failed to count violations", zap.Error(err))
		} else {
			response["violations_24h"] = counts
		}
	}
	c.JSON(status, response)
}
