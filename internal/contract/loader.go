package contract

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// contractDocument mirrors the on-disk YAML shape. It exists so that
// omitted optional fields can be distinguished from explicit zero values
// before the in-memory contract is built.
type contractDocument struct {
	ServiceName string                  `yaml:"service_name"`
	Version     string                  `yaml:"version"`
	Description string                  `yaml:"description"`
	Defaults    contractDefaults        `yaml:"defaults"`
	Endpoints   []endpointDocument      `yaml:"endpoints"`
	Objectives  []ServiceLevelObjective `yaml:"service_level_objectives"`
}

type contractDefaults struct {
	Security   *SecurityRequirement   `yaml:"security"`
	Compliance *ComplianceRequirement `yaml:"compliance"`
}

type endpointDocument struct {
	Path               string                 `yaml:"path"`
	Methods            []string               `yaml:"methods"`
	Performance        PerformanceSLA         `yaml:"performance"`
	Security           *SecurityRequirement   `yaml:"security"`
	Compliance         *ComplianceRequirement `yaml:"compliance"`
	RequestValidation  map[string]FieldRule   `yaml:"request_validation"`
	ResponseValidation map[string]FieldRule   `yaml:"response_validation"`
	Enabled            *bool                  `yaml:"enabled"`
	Severity           string                 `yaml:"severity"`
	PenaltyPoints      *float64               `yaml:"penalty_points"`
	Tags               []string               `yaml:"tags"`
}

// LoadFile reads and parses an accountability contract document from disk.
// Failures here are load-time fatal for the caller; the engine itself never
// re-reads the file during evaluation.
func LoadFile(path string) (*AccountabilityContract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contract file %s: %w", path, err)
	}
	return Load(data)
}

// Load parses an accountability contract document from raw YAML.
func Load(data []byte) (*AccountabilityContract, error) {
	var doc contractDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse contract document: %w", err)
	}

	if doc.ServiceName == "" {
		return nil, fmt.Errorf("contract document missing service_name")
	}
	if len(doc.Endpoints) == 0 {
		return nil, fmt.Errorf("contract document for %s declares no endpoints", doc.ServiceName)
	}

	ac := &AccountabilityContract{
		ServiceName: doc.ServiceName,
		Version:     doc.Version,
		Description: doc.Description,
		Endpoints:   make([]EndpointContract, 0, len(doc.Endpoints)),
		Objectives:  doc.Objectives,
		LoadedAt:    time.Now(),
	}

	for i, ep := range doc.Endpoints {
		built, err := buildEndpoint(ep, doc.Defaults)
		if err != nil {
			return nil, fmt.Errorf("endpoint %d (%s): %w", i, ep.Path, err)
		}
		ac.Endpoints = append(ac.Endpoints, built)
	}

	return ac, nil
}

func buildEndpoint(doc endpointDocument, defaults contractDefaults) (EndpointContract, error) {
	if doc.Path == "" {
		return EndpointContract{}, fmt.Errorf("missing path")
	}
	if len(doc.Methods) == 0 {
		return EndpointContract{}, fmt.Errorf("missing methods")
	}
	for _, m := range doc.Methods {
		if !validMethod(m) {
			return EndpointContract{}, fmt.Errorf("unsupported method %q", m)
		}
	}
	for field, rule := range doc.RequestValidation {
		if !validFieldType(rule.Type) {
			return EndpointContract{}, fmt.Errorf("request_validation field %q has unsupported type %q", field, rule.Type)
		}
	}
	for field, rule := range doc.ResponseValidation {
		if !validFieldType(rule.Type) {
			return EndpointContract{}, fmt.Errorf("response_validation field %q has unsupported type %q", field, rule.Type)
		}
	}

	ep := EndpointContract{
		Path:               doc.Path,
		Methods:            doc.Methods,
		Performance:        doc.Performance,
		RequestValidation:  doc.RequestValidation,
		ResponseValidation: doc.ResponseValidation,
		Enabled:            true,
		Severity:           SeverityMedium,
		PenaltyPoints:      10,
		Tags:               doc.Tags,
	}

	if doc.Security != nil {
		ep.Security = *doc.Security
	} else if defaults.Security != nil {
		ep.Security = *defaults.Security
	}
	if doc.Compliance != nil {
		ep.Compliance = *doc.Compliance
	} else if defaults.Compliance != nil {
		ep.Compliance = *defaults.Compliance
	}
	if doc.Enabled != nil {
		ep.Enabled = *doc.Enabled
	}
	if doc.Severity != "" {
		if !validSeverity(doc.Severity) {
			return EndpointContract{}, fmt.Errorf("unsupported severity %q", doc.Severity)
		}
		ep.Severity = doc.Severity
	}
	if doc.PenaltyPoints != nil {
		ep.PenaltyPoints = *doc.PenaltyPoints
	}

	return ep, nil
}

func validMethod(m string) bool {
	switch m {
	case "GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS", MethodWebSocket:
		return true
	}
	return false
}

func validSeverity(s string) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

func validFieldType(t string) bool {
	switch t {
	case "string", "number", "boolean", "object", "array":
		return true
	}
	return false
}
