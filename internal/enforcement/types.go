package enforcement

import (
	"time"

	"github.com/pactguard/pactguard/internal/contract"
)

// ViolationType identifies the category of a contract violation.
type ViolationType string

const (
	ViolationAuthentication   ViolationType = "authentication"
	ViolationAuthorization    ViolationType = "authorization"
	ViolationValidation       ViolationType = "validation"
	ViolationDataValidation   ViolationType = "data_validation"
	ViolationRateLimit        ViolationType = "rate_limit"
	ViolationPerformance      ViolationType = "performance"
	ViolationCompliance       ViolationType = "compliance"
	ViolationSecurity         ViolationType = "security"
	ViolationIPWhitelist      ViolationType = "ip_whitelist"
	ViolationMissingContract  ViolationType = "missing_contract"
	ViolationEndpointDisabled ViolationType = "endpoint_disabled"
)

// Severity grades how serious a violation is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Mode controls how the enforcer reacts to violations.
type Mode string

const (
	// ModeMonitor records violations but never blocks.
	ModeMonitor Mode = "monitor"
	// ModeEnforce blocks requests carrying critical or high violations.
	ModeEnforce Mode = "enforce"
	// ModeDisabled performs no checks at all.
	ModeDisabled Mode = "disabled"
)

// ContractViolation is a single detected deviation from a contract.
// Immutable once created.
type ContractViolation struct {
	Type          ViolationType `json:"type"`
	Severity      Severity      `json:"severity"`
	Message       string        `json:"message"`
	Field         string        `json:"field,omitempty"`
	ActualValue   interface{}   `json:"actualValue,omitempty"`
	ExpectedValue interface{}   `json:"expectedValue,omitempty"`
	PenaltyPoints float64       `json:"penaltyPoints"`
	Timestamp     time.Time     `json:"timestamp"`
}

// EnforcementResult is the outcome of evaluating one request or response
// against its contract. Created fresh per evaluation, read-only afterwards.
type EnforcementResult struct {
	Allowed            bool                       `json:"allowed"`
	ViolationCount     int                        `json:"violationCount"`
	TotalPenaltyPoints float64                    `json:"totalPenaltyPoints"`
	Violations         []ContractViolation        `json:"violations"`
	ActionsTaken       []string                   `json:"actionsTaken"`
	Mode               Mode                       `json:"enforcementMode"`
	Contract           *contract.EndpointContract `json:"-"`
}

// AuthContext is the authentication context the transport layer derives
// for the caller of a request.
type AuthContext struct {
	Authenticated bool     `json:"authenticated"`
	Roles         []string `json:"roles"`
	Permissions   []string `json:"permissions"`
}

// RoleAuthority expands a role into the permissions it implies. The
// expansion table is owned by the composing application and injected.
type RoleAuthority interface {
	PermissionsFor(role string) []string
}

func newViolation(vType ViolationType, severity Severity, message string, points float64, now time.Time) ContractViolation {
	return ContractViolation{
		Type:          vType,
		Severity:      severity,
		Message:       message,
		PenaltyPoints: points,
		Timestamp:     now,
	}
}

func finalize(result *EnforcementResult) *EnforcementResult {
	result.ViolationCount = len(result.Violations)
	total := 0.0
	for _, v := range result.Violations {
		total += v.PenaltyPoints
	}
	result.TotalPenaltyPoints = total
	return result
}

func hasBlockingViolation(violations []ContractViolation) bool {
	for _, v := range violations {
		if v.Severity == SeverityHigh || v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}
