package contract

import (
	"strings"
	"time"
)

// Pseudo-method assigned to long-lived streaming connections so that
// websocket upgrades can carry their own endpoint contracts.
const MethodWebSocket = "WEBSOCKET"

// Wildcard is the path segment token that matches any single segment.
const Wildcard = "*"

// Severity levels used by contracts and violations.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// PerformanceSLA defines the performance expectations for an endpoint.
type PerformanceSLA struct {
	MaxLatencyMs  float64 `json:"max_latency_ms" yaml:"max_latency_ms"`
	MaxErrorRate  float64 `json:"max_error_rate" yaml:"max_error_rate"`
	MinThroughput float64 `json:"min_throughput" yaml:"min_throughput"`
	TimeoutMs     float64 `json:"timeout_ms" yaml:"timeout_ms"`
}

// SecurityRequirement defines the security expectations for an endpoint.
type SecurityRequirement struct {
	AuthRequired        bool     `json:"auth_required" yaml:"auth_required"`
	RequiredRoles       []string `json:"required_roles" yaml:"required_roles"`
	RequiredPermissions []string `json:"required_permissions" yaml:"required_permissions"`
	IPWhitelist         []string `json:"ip_whitelist" yaml:"ip_whitelist"`
	RateLimitPerMinute  int      `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
}

// ComplianceRequirement captures compliance flags for an endpoint.
type ComplianceRequirement struct {
	Flags         []string `json:"flags" yaml:"flags"`
	AuditRequired bool     `json:"audit_required" yaml:"audit_required"`
}

// FieldRule describes the validation applied to a single payload field.
// Type is one of string, number, boolean, object, array.
type FieldRule struct {
	Type      string        `json:"type" yaml:"type"`
	Required  bool          `json:"required" yaml:"required"`
	MinLength *int          `json:"min_length,omitempty" yaml:"min_length"`
	MaxLength *int          `json:"max_length,omitempty" yaml:"max_length"`
	Pattern   string        `json:"pattern,omitempty" yaml:"pattern"`
	Minimum   *float64      `json:"minimum,omitempty" yaml:"minimum"`
	Maximum   *float64      `json:"maximum,omitempty" yaml:"maximum"`
	Enum      []interface{} `json:"enum,omitempty" yaml:"enum"`
}

// EndpointContract is the declarative accountability contract for one endpoint.
type EndpointContract struct {
	Path               string                `json:"path" yaml:"path"`
	Methods            []string              `json:"methods" yaml:"methods"`
	Performance        PerformanceSLA        `json:"performance" yaml:"performance"`
	Security           SecurityRequirement   `json:"security" yaml:"security"`
	Compliance         ComplianceRequirement `json:"compliance" yaml:"compliance"`
	RequestValidation  map[string]FieldRule  `json:"request_validation" yaml:"request_validation"`
	ResponseValidation map[string]FieldRule  `json:"response_validation" yaml:"response_validation"`
	Enabled            bool                  `json:"enabled" yaml:"enabled"`
	Severity           string                `json:"severity" yaml:"severity"`
	PenaltyPoints      float64               `json:"penalty_points" yaml:"penalty_points"`
	Tags               []string              `json:"tags" yaml:"tags"`
}

// ServiceLevelObjective is a service-wide objective tracked alongside the
// per-endpoint contracts.
type ServiceLevelObjective struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description" yaml:"description"`
	Metric      string  `json:"metric" yaml:"metric"`
	Target      float64 `json:"target" yaml:"target"`
	WindowHours int     `json:"window_hours" yaml:"window_hours"`
}

// AccountabilityContract is the full contract document for a service.
type AccountabilityContract struct {
	ServiceName string                  `json:"service_name" yaml:"service_name"`
	Version     string                  `json:"version" yaml:"version"`
	Description string                  `json:"description" yaml:"description"`
	Endpoints   []EndpointContract      `json:"endpoints" yaml:"endpoints"`
	Objectives  []ServiceLevelObjective `json:"service_level_objectives" yaml:"service_level_objectives"`
	LoadedAt    time.Time               `json:"loaded_at" yaml:"-"`
}

// SupportsMethod reports whether the contract applies to the given method.
func (c *EndpointContract) SupportsMethod(method string) bool {
	for _, m := range c.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// IsWildcard reports whether the contract path contains wildcard segments.
func (c *EndpointContract) IsWildcard() bool {
	return strings.Contains(c.Path, Wildcard)
}

// MatchesPath reports whether the contract path matches the request path.
// A wildcard contract matches only when the segment counts are equal and
// every non-wildcard segment matches literally.
func (c *EndpointContract) MatchesPath(path string) bool {
	if c.Path == path {
		return true
	}
	if !c.IsWildcard() {
		return false
	}
	contractSegs := strings.Split(c.Path, "/")
	requestSegs := strings.Split(path, "/")
	if len(contractSegs) != len(requestSegs) {
		return false
	}
	for i, seg := range contractSegs {
		if seg == Wildcard {
			continue
		}
		if seg != requestSegs[i] {
			return false
		}
	}
	return true
}
