package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/pactguard/pactguard/internal/auth"
	"github.com/pactguard/pactguard/internal/config"
	"github.com/pactguard/pactguard/internal/contract"
	"github.com/pactguard/pactguard/internal/enforcement"
	"github.com/pactguard/pactguard/internal/metrics"
	"github.com/pactguard/pactguard/internal/penalty"
	"github.com/pactguard/pactguard/internal/scoring"
)

const testContractDoc = `
service_name: payment-api
version: "1.0.0"
endpoints:
  - path: /api/payments
    methods: [POST]
    severity: critical
    penalty_points: 40
    security:
      auth_required: true
  - path: /api/payments/*
    methods: [GET]
`

type testHarness struct {
	router       *gin.Engine
	registry     *contract.Registry
	collector    *metrics.Collector
	penalties    *penalty.Registry
	contractPath string
}

func newTestHarness(t *testing.T, authService *auth.Service) *testHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	path := filepath.Join(t.TempDir(), "contracts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testContractDoc), 0o644))
	registry, err := contract.NewRegistryFromFile(path, logger)
	require.NoError(t, err)

	collector := metrics.NewCollector()
	penalties := penalty.NewRegistry()
	rules := penalty.NewRuleSet(logger)
	calculator := scoring.NewCalculator(collector, penalties, 24, logger)
	enforcer := enforcement.NewEnforcer(
		enforcement.Config{Mode: enforcement.ModeMonitor},
		registry, nil, nil, collector, logger,
	)

	handler := NewHandler(registry, enforcer, calculator, collector, penalties, rules, authService, nil, Persistence{}, logger)
	router := gin.New()
	handler.RegisterRoutes(router)

	return &testHarness{
		router:       router,
		registry:     registry,
		collector:    collector,
		penalties:    penalties,
		contractPath: path,
	}
}

func (h *testHarness) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestEnforceRequestEndpoint(t *testing.T) {
	h := newTestHarness(t, nil)

	t.Run("Monitor Mode Records Violations But Allows", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/enforce/request", gin.H{
			"path":          "/api/payments",
			"method":        "POST",
			"client_id":     "client-1",
			"authenticated": false,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		assert.Equal(t, true, body["allowed"])
		assert.Equal(t, "monitor", body["enforcementMode"])
		assert.Equal(t, float64(1), body["violationCount"])
		assert.Equal(t, float64(25), body["totalPenaltyPoints"])

		violations := body["violations"].([]interface{})
		first := violations[0].(map[string]interface{})
		assert.Equal(t, "authentication", first["type"])
		assert.Equal(t, "high", first["severity"])
	})

	t.Run("Compliant Request Has No Violations", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/enforce/request", gin.H{
			"path":          "/api/payments",
			"method":        "POST",
			"client_id":     "client-1",
			"authenticated": true,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		assert.Equal(t, true, body["allowed"])
		assert.Equal(t, float64(0), body["violationCount"])
	})

	t.Run("Rejects Missing Path", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/enforce/request", gin.H{"method": "POST"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestEnforceResponseEndpoint(t *testing.T) {
	h := newTestHarness(t, nil)

	rec := h.do(t, http.MethodPost, "/api/v1/enforce/response", gin.H{
		"path":        "/api/payments",
		"method":      "POST",
		"status_code": 200,
		"latency_ms":  42.0,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["allowed"], "Response evaluation never blocks")

	snap, ok := h.collector.Snapshot("/api/payments")
	require.True(t, ok, "Response evaluation records an operation outcome")
	assert.Equal(t, int64(1), snap.TotalAttempts)
	assert.Equal(t, int64(1), snap.SuccessfulAttempts)
}

func TestScoreEndpoints(t *testing.T) {
	h := newTestHarness(t, nil)

	t.Run("Score Requires Endpoint Parameter", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/v1/scores", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Score For Clean Endpoint", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/v1/scores?endpoint=/api/payments", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		body := decode(t, rec)
		score := body["score"].(map[string]interface{})
		assert.Equal(t, float64(100), score["score"])
		assert.Equal(t, "EXCELLENT", score["classification"])
		assert.Equal(t, scoring.StateNormal, body["health_state"])
	})

	t.Run("Trend Validates Hours", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/v1/trends?endpoint=/api/payments&hours=nope", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = h.do(t, http.MethodGet, "/api/v1/trends?endpoint=/api/payments&hours=-4", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Trend With Sparse History", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/v1/trends?endpoint=/api/fresh", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "insufficient_data", body["trend"])
	})

	t.Run("Summary Covers Known Endpoints", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/v1/summary", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Contains(t, body, "perEndpointSummaries")
		assert.Contains(t, body, "averageScore")
	})
}

func TestOperationMetricsEndpoints(t *testing.T) {
	h := newTestHarness(t, nil)

	t.Run("Record Events", func(t *testing.T) {
		for _, event := range []string{"attempt", "success", "fallback"} {
			rec := h.do(t, http.MethodPost, "/api/v1/metrics/record", gin.H{
				"endpoint": "/api/payments",
				"event":    event,
			})
			require.Equal(t, http.StatusAccepted, rec.Code, event)
		}

		rec := h.do(t, http.MethodPost, "/api/v1/metrics/record", gin.H{
			"endpoint": "/api/payments",
			"event":    "retry",
		})
		require.Equal(t, http.StatusAccepted, rec.Code)

		snap, ok := h.collector.Snapshot("/api/payments")
		require.True(t, ok)
		assert.Equal(t, int64(1), snap.TotalAttempts)
		assert.Equal(t, int64(1), snap.TotalRetrySteps, "Retry steps default to one")
	})

	t.Run("Rejects Unknown Event", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/metrics/record", gin.H{
			"endpoint": "/api/payments",
			"event":    "teleport",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Read Metrics With Derived Rates", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/v1/metrics/operations?endpoint=/api/payments", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Contains(t, body, "success_rate")
		assert.Contains(t, body, "fallback_rate")
	})

	t.Run("Unknown Endpoint Is Not Found", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/v1/metrics/operations?endpoint=/api/nothing", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestPenaltyEndpoints(t *testing.T) {
	h := newTestHarness(t, nil)

	t.Run("Register Explicit Penalty", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/penalties", gin.H{
			"endpoint":       "/api/payments",
			"violation_type": "security",
			"severity":       "critical",
			"points":         30,
			"description":    "manual incident entry",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, 1, h.penalties.Count("/api/payments"))
	})

	t.Run("Register Rule Based Penalty", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/penalties", gin.H{
			"endpoint":  "/api/payments",
			"rule":      "sla_violation",
			"component": "payments-service",
			"context":   gin.H{"observed": 250.0, "allowed": 100.0},
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		body := decode(t, rec)
		built := body["penalty"].(map[string]interface{})
		assert.Equal(t, float64(30), built["points"])
	})

	t.Run("Rejects Unknown Rule", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/penalties", gin.H{
			"endpoint": "/api/payments",
			"rule":     "nonexistent",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Rejects Non Positive Explicit Points", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/penalties", gin.H{
			"endpoint": "/api/payments",
			"points":   0,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("List Penalties", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/v1/penalties?endpoint=/api/payments", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Len(t, body["penalties"].([]interface{}), 2)
	})

	t.Run("Clear One Endpoint", func(t *testing.T) {
		rec := h.do(t, http.MethodDelete, "/api/v1/penalties?endpoint=/api/payments", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(2), decode(t, rec)["cleared"])
		assert.Equal(t, 0, h.penalties.Count("/api/payments"))
	})

	t.Run("Clear All Without Endpoint", func(t *testing.T) {
		h.penalties.Register("/a", penalty.Schema{Points: 5})
		h.penalties.Register("/b", penalty.Schema{Points: 5})

		rec := h.do(t, http.MethodDelete, "/api/v1/penalties", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(2), decode(t, rec)["cleared"])
	})
}

func TestContractEndpoints(t *testing.T) {
	h := newTestHarness(t, nil)

	t.Run("Get Active Contract", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/v1/contracts", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "payment-api", body["service_name"])
	})

	t.Run("Reload Picks Up New Version", func(t *testing.T) {
		updated := `
service_name: payment-api
version: "1.1.0"
endpoints:
  - path: /api/payments
    methods: [POST]
`
		require.NoError(t, os.WriteFile(h.contractPath, []byte(updated), 0o644))

		rec := h.do(t, http.MethodPost, "/api/v1/contracts/reload", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "1.1.0", body["version"])
		assert.Equal(t, float64(1), body["endpoints"])
	})

	t.Run("Broken Document Keeps Previous Set", func(t *testing.T) {
		require.NoError(t, os.WriteFile(h.contractPath, []byte("endpoints: []\n"), 0o644))

		rec := h.do(t, http.MethodPost, "/api/v1/contracts/reload", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

		assert.Equal(t, "1.1.0", h.registry.Contract().Version, "Failed reload leaves the active set alone")
	})
}

func TestViolationsEndpoint(t *testing.T) {
	h := newTestHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/api/v1/violations?endpoint=/api/payments", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code, "No persistence configured in this harness")
}

func TestHistoryEndpointsWithoutPersistence(t *testing.T) {
	h := newTestHarness(t, nil)

	t.Run("Audit Trail", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/v1/audit?endpoint=/api/payments", nil)
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})

	t.Run("Score History", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/v1/scores/history?endpoint=/api/payments", nil)
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})
}

func TestTokenEndpoint(t *testing.T) {
	t.Run("Not Configured", func(t *testing.T) {
		h := newTestHarness(t, nil)
		rec := h.do(t, http.MethodPost, "/api/v1/auth/token", gin.H{
			"username": "ops", "password": "x",
		})
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})

	t.Run("Issues And Rejects", func(t *testing.T) {
		hash, err := bcrypt.GenerateFromPassword([]byte("operator-pass"), bcrypt.MinCost)
		require.NoError(t, err)
		svc := auth.NewService(config.AuthConfig{
			Enabled:       true,
			JWTSecret:     "test-secret",
			TokenDuration: 60,
			Users: []config.UserCredential{
				{Username: "ops", PasswordHash: string(hash), Roles: []string{auth.RoleOperator}},
			},
		})
		h := newTestHarness(t, svc)

		rec := h.do(t, http.MethodPost, "/api/v1/auth/token", gin.H{
			"username": "ops", "password": "operator-pass",
		})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.NotEmpty(t, body["token"])

		rec = h.do(t, http.MethodPost, "/api/v1/auth/token", gin.H{
			"username": "ops", "password": "wrong",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHealthCheck(t *testing.T) {
	h := newTestHarness(t, nil)

	rec := h.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "monitor", body["enforcement_mode"])
	assert.Equal(t, float64(2), body["endpoints"])
}
