package enforcement

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pactguard/pactguard/internal/contract"
	"github.com/pactguard/pactguard/internal/metrics"
)

type stubAuthority struct {
	grants map[string][]string
}

func (s *stubAuthority) PermissionsFor(role string) []string {
	return s.grants[role]
}

func testContract() *contract.AccountabilityContract {
	return &contract.AccountabilityContract{
		ServiceName: "payment-api",
		Version:     "1.0.0",
		Endpoints: []contract.EndpointContract{
			{
				Path:    "/api/payments",
				Methods: []string{"POST"},
				Security: contract.SecurityRequirement{
					AuthRequired:        true,
					RequiredRoles:       []string{"operator"},
					RequiredPermissions: []string{"payments:create"},
					RateLimitPerMinute:  5,
				},
				Performance: contract.PerformanceSLA{
					MaxLatencyMs: 500,
					MaxErrorRate: 0.05,
				},
				RequestValidation: map[string]contract.FieldRule{
					"amount": {Type: "number", Required: true},
				},
				ResponseValidation: map[string]contract.FieldRule{
					"transaction_id": {Type: "string", Required: true},
				},
				Enabled:       true,
				Severity:      contract.SeverityCritical,
				PenaltyPoints: 40,
			},
			{
				Path:          "/api/payments/*",
				Methods:       []string{"GET"},
				Security:      contract.SecurityRequirement{AuthRequired: true},
				Enabled:       true,
				Severity:      contract.SeverityHigh,
				PenaltyPoints: 20,
			},
			{
				Path:    "/api/admin/settlements",
				Methods: []string{"POST"},
				Security: contract.SecurityRequirement{
					IPWhitelist: []string{"10.0.0.10"},
				},
				Enabled:       true,
				Severity:      contract.SeverityCritical,
				PenaltyPoints: 50,
			},
			{
				Path:          "/api/legacy/export",
				Methods:       []string{"GET"},
				Enabled:       false,
				Severity:      contract.SeverityHigh,
				PenaltyPoints: 25,
			},
		},
	}
}

func newTestEnforcer(t *testing.T, cfg Config) *Enforcer {
	t.Helper()
	registry := contract.NewRegistry(testContract(), zap.NewNop())
	authority := &stubAuthority{grants: map[string][]string{
		"operator": {"payments:create", "payments:read"},
	}}
	return NewEnforcer(cfg, registry, authority, nil, metrics.NewCollector(), zap.NewNop())
}

func operatorAuth() AuthContext {
	return AuthContext{Authenticated: true, Roles: []string{"operator"}}
}

func TestEnforceRequest_MissingContract(t *testing.T) {
	e := newTestEnforcer(t, Config{Mode: ModeMonitor})

	result := e.EnforceRequest(context.Background(), "/api/unknown", "GET", AuthContext{}, nil, "client-1")

	require.Len(t, result.Violations, 1)
	v := result.Violations[0]
	assert.Equal(t, ViolationMissingContract, v.Type, "Missing contract should be its own violation type")
	assert.Equal(t, SeverityMedium, v.Severity)
	assert.Equal(t, float64(5), v.PenaltyPoints)
	assert.True(t, result.Allowed, "Monitor mode never blocks")
	assert.Equal(t, 1, result.ViolationCount)
}

func TestEnforceRequest_MissingContractBlocksWhenRequired(t *testing.T) {
	e := newTestEnforcer(t, Config{Mode: ModeEnforce, RequireContract: true})

	result := e.EnforceRequest(context.Background(), "/api/unknown", "GET", AuthContext{}, nil, "client-1")

	assert.False(t, result.Allowed, "Enforce mode with required contracts should block unmatched requests")
	assert.Contains(t, result.ActionsTaken, "blocked: contract required")
}

func TestEnforceRequest_Authentication(t *testing.T) {
	t.Run("Unauthenticated Request Violates", func(t *testing.T) {
		e := newTestEnforcer(t, Config{Mode: ModeEnforce})

		result := e.EnforceRequest(context.Background(), "/api/payments", "POST",
			AuthContext{}, map[string]interface{}{"amount": 10.0}, "client-1")

		require.NotEmpty(t, result.Violations)
		assert.Equal(t, ViolationAuthentication, result.Violations[0].Type)
		assert.Equal(t, SeverityHigh, result.Violations[0].Severity)
		assert.Equal(t, float64(25), result.Violations[0].PenaltyPoints)
		assert.False(t, result.Allowed, "High severity violation should block in enforce mode")
	})

	t.Run("Monitor Mode Records But Allows", func(t *testing.T) {
		e := newTestEnforcer(t, Config{Mode: ModeMonitor})

		result := e.EnforceRequest(context.Background(), "/api/payments", "POST",
			AuthContext{}, map[string]interface{}{"amount": 10.0}, "client-1")

		assert.NotEmpty(t, result.Violations)
		assert.True(t, result.Allowed, "Monitor mode never blocks")
		assert.Contains(t, result.ActionsTaken, "monitor mode: violations recorded, request allowed")
	})
}

func TestEnforceRequest_Authorization(t *testing.T) {
	t.Run("Missing Role Lists Role Names", func(t *testing.T) {
		e := newTestEnforcer(t, Config{Mode: ModeMonitor})

		auth := AuthContext{Authenticated: true, Roles: []string{"viewer"}}
		result := e.EnforceRequest(context.Background(), "/api/payments", "POST",
			auth, map[string]interface{}{"amount": 10.0}, "client-1")

		var found bool
		for _, v := range result.Violations {
			if v.Type == ViolationAuthorization && v.PenaltyPoints == 30 {
				found = true
				assert.Equal(t, "missing required roles: operator", v.Message)
				assert.Equal(t, SeverityHigh, v.Severity)
			}
		}
		assert.True(t, found, "Missing role should produce an authorization violation")
	})

	t.Run("Role Implied Permissions Satisfy Requirement", func(t *testing.T) {
		e := newTestEnforcer(t, Config{Mode: ModeEnforce})

		result := e.EnforceRequest(context.Background(), "/api/payments", "POST",
			operatorAuth(), map[string]interface{}{"amount": 10.0}, "client-1")

		for _, v := range result.Violations {
			assert.NotEqual(t, ViolationAuthorization, v.Type,
				"Operator role implies payments:create through the authority")
		}
		assert.True(t, result.Allowed)
	})

	t.Run("Explicit Permissions Checked Without Authority Match", func(t *testing.T) {
		e := newTestEnforcer(t, Config{Mode: ModeMonitor})

		auth := AuthContext{
			Authenticated: true,
			Roles:         []string{"operator", "auditor"},
			Permissions:   []string{"reports:read"},
		}
		result := e.EnforceRequest(context.Background(), "/api/payments", "POST",
			auth, map[string]interface{}{"amount": 10.0}, "client-1")

		for _, v := range result.Violations {
			assert.NotEqual(t, ViolationAuthorization, v.Type)
		}
	})
}

func TestEnforceRequest_IPWhitelist(t *testing.T) {
	e := newTestEnforcer(t, Config{Mode: ModeMonitor})

	t.Run("Whitelisted Client Passes", func(t *testing.T) {
		result := e.EnforceRequest(context.Background(), "/api/admin/settlements", "POST",
			AuthContext{}, nil, "10.0.0.10")
		assert.Empty(t, result.Violations)
	})

	t.Run("Unknown Client Violates", func(t *testing.T) {
		result := e.EnforceRequest(context.Background(), "/api/admin/settlements", "POST",
			AuthContext{}, nil, "192.168.1.50")

		require.Len(t, result.Violations, 1)
		v := result.Violations[0]
		assert.Equal(t, ViolationIPWhitelist, v.Type)
		assert.Equal(t, SeverityMedium, v.Severity)
		assert.Equal(t, float64(15), v.PenaltyPoints)
		assert.Equal(t, "192.168.1.50", v.ActualValue)
	})
}

func TestEnforceRequest_RateLimit(t *testing.T) {
	e := newTestEnforcer(t, Config{Mode: ModeEnforce})
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	current := base
	e.now = func() time.Time { return current }

	auth := operatorAuth()
	payload := map[string]interface{}{"amount": 10.0}

	for i := 0; i < 5; i++ {
		current = base.Add(time.Duration(i) * time.Second)
		result := e.EnforceRequest(context.Background(), "/api/payments", "POST", auth, payload, "client-1")
		assert.True(t, result.Allowed, fmt.Sprintf("Request %d should be within the limit", i+1))
	}

	t.Run("Sixth Request Within Window Blocked", func(t *testing.T) {
		current = base.Add(10 * time.Second)
		result := e.EnforceRequest(context.Background(), "/api/payments", "POST", auth, payload, "client-1")

		require.NotEmpty(t, result.Violations)
		v := result.Violations[0]
		assert.Equal(t, ViolationRateLimit, v.Type)
		assert.Equal(t, SeverityHigh, v.Severity)
		assert.Equal(t, float64(15), v.PenaltyPoints)
		assert.False(t, result.Allowed)
	})

	t.Run("Other Clients Unaffected", func(t *testing.T) {
		current = base.Add(11 * time.Second)
		result := e.EnforceRequest(context.Background(), "/api/payments", "POST", auth, payload, "client-2")
		assert.True(t, result.Allowed, "Rate limit windows are per client")
	})

	t.Run("Window Expiry Admits Again", func(t *testing.T) {
		current = base.Add(61 * time.Second)
		result := e.EnforceRequest(context.Background(), "/api/payments", "POST", auth, payload, "client-1")
		assert.True(t, result.Allowed, "Requests older than the window should have aged out")
	})
}

func TestEnforceRequest_Validation(t *testing.T) {
	e := newTestEnforcer(t, Config{Mode: ModeMonitor})

	result := e.EnforceRequest(context.Background(), "/api/payments", "POST",
		operatorAuth(), map[string]interface{}{"currency": "USD"}, "client-1")

	var found bool
	for _, v := range result.Violations {
		if v.Type == ViolationValidation {
			found = true
			assert.Equal(t, "amount", v.Field)
			assert.Equal(t, SeverityMedium, v.Severity)
			assert.Equal(t, float64(10), v.PenaltyPoints)
		}
	}
	assert.True(t, found, "Missing required field should violate request validation")
	assert.True(t, result.Allowed, "Medium violations never block")
}

func TestEnforceRequest_ChecksDoNotShortCircuit(t *testing.T) {
	e := newTestEnforcer(t, Config{Mode: ModeEnforce})

	// Unauthenticated and missing a required field: both must be reported.
	result := e.EnforceRequest(context.Background(), "/api/payments", "POST",
		AuthContext{}, map[string]interface{}{}, "client-1")

	types := make(map[ViolationType]bool)
	for _, v := range result.Violations {
		types[v.Type] = true
	}
	assert.True(t, types[ViolationAuthentication])
	assert.True(t, types[ViolationValidation])
	assert.Equal(t, len(result.Violations), result.ViolationCount)

	var total float64
	for _, v := range result.Violations {
		total += v.PenaltyPoints
	}
	assert.Equal(t, total, result.TotalPenaltyPoints)
}

func TestEnforceRequest_DisabledEndpoint(t *testing.T) {
	e := newTestEnforcer(t, Config{Mode: ModeEnforce})

	result := e.EnforceRequest(context.Background(), "/api/legacy/export", "GET", AuthContext{}, nil, "client-1")

	require.NotEmpty(t, result.Violations)
	v := result.Violations[0]
	assert.Equal(t, ViolationEndpointDisabled, v.Type)
	assert.Equal(t, SeverityHigh, v.Severity)
	assert.Equal(t, float64(25), v.PenaltyPoints, "Disabled endpoint charges the contract's own points")
	assert.False(t, result.Allowed)
}

func TestEnforceRequest_DisabledMode(t *testing.T) {
	e := newTestEnforcer(t, Config{Mode: ModeDisabled})

	result := e.EnforceRequest(context.Background(), "/api/payments", "POST", AuthContext{}, nil, "client-1")

	assert.True(t, result.Allowed)
	assert.Empty(t, result.Violations, "Disabled mode performs no checks")
}

func TestEnforceRequest_WildcardResolution(t *testing.T) {
	e := newTestEnforcer(t, Config{Mode: ModeMonitor})

	result := e.EnforceRequest(context.Background(), "/api/payments/tx-123", "GET", operatorAuth(), nil, "client-1")

	require.NotNil(t, result.Contract)
	assert.Equal(t, "/api/payments/*", result.Contract.Path)
	assert.Empty(t, result.Violations)
}

func TestEnforceResponse_LatencySLA(t *testing.T) {
	e := newTestEnforcer(t, Config{Mode: ModeMonitor})

	result := e.EnforceResponse(context.Background(), "/api/payments", "POST",
		map[string]interface{}{"transaction_id": "tx-1"}, 200, 750)

	require.Len(t, result.Violations, 1)
	v := result.Violations[0]
	assert.Equal(t, ViolationPerformance, v.Type)
	assert.Equal(t, SeverityMedium, v.Severity)
	assert.Equal(t, float64(15), v.PenaltyPoints)
	assert.True(t, result.Allowed, "Response evaluation never blocks")
}

func TestEnforceResponse_MissingResponseField(t *testing.T) {
	e := newTestEnforcer(t, Config{Mode: ModeMonitor})

	result := e.EnforceResponse(context.Background(), "/api/payments", "POST",
		map[string]interface{}{}, 200, 100)

	require.Len(t, result.Violations, 1)
	v := result.Violations[0]
	assert.Equal(t, ViolationDataValidation, v.Type)
	assert.Equal(t, float64(5), v.PenaltyPoints)
	assert.Equal(t, "transaction_id", v.Field)
}

func TestEnforceResponse_ErrorRateSLA(t *testing.T) {
	e := newTestEnforcer(t, Config{Mode: ModeMonitor})
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	current := base
	e.now = func() time.Time { return current }

	payload := map[string]interface{}{"transaction_id": "tx-1"}

	// Nine failures are still below the minimum sample floor.
	for i := 0; i < 9; i++ {
		current = base.Add(time.Duration(i) * time.Second)
		result := e.EnforceResponse(context.Background(), "/api/payments", "POST", payload, 500, 100)
		for _, v := range result.Violations {
			assert.NotEqual(t, ViolationPerformance, v.Type,
				"Error rate must not be judged below the sample floor")
		}
	}

	// The tenth sample crosses the floor; the error rate is now 100%.
	current = base.Add(10 * time.Second)
	result := e.EnforceResponse(context.Background(), "/api/payments", "POST", payload, 500, 100)

	var found bool
	for _, v := range result.Violations {
		if v.Type == ViolationPerformance {
			found = true
			assert.Equal(t, float64(15), v.PenaltyPoints)
		}
	}
	assert.True(t, found, "Error rate above the SLA should violate once enough samples exist")
}

func TestEnforceResponse_RecordsOutcomes(t *testing.T) {
	collector := metrics.NewCollector()
	registry := contract.NewRegistry(testContract(), zap.NewNop())
	e := NewEnforcer(Config{Mode: ModeMonitor}, registry, nil, nil, collector, zap.NewNop())

	e.EnforceResponse(context.Background(), "/api/payments/tx-9", "GET", nil, 200, 50)
	e.EnforceResponse(context.Background(), "/api/payments/tx-10", "GET", nil, 503, 50)

	// Wildcard traffic aggregates under the contract path.
	snap, ok := collector.Snapshot("/api/payments/*")
	require.True(t, ok)
	assert.Equal(t, int64(2), snap.TotalAttempts)
	assert.Equal(t, int64(1), snap.SuccessfulAttempts)
	assert.Equal(t, int64(1), snap.FailedAttempts)
	assert.Contains(t, snap.LastError, "HTTP 503")
}
