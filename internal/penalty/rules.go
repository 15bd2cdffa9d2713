package penalty

import (
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"github.com/pactguard/pactguard/internal/enforcement"
)

// Advisory point ranges per severity tier. Rules are not rejected for
// falling outside their tier; the ranges document intent and back the
// linting helper below.
const (
	TierCriticalMin = 20.0
	TierCriticalMax = 50.0
	TierHighMin     = 10.0
	TierHighMax     = 19.0
	TierMediumMin   = 5.0
	TierMediumMax   = 9.0
	TierLowMin      = 1.0
	TierLowMax      = 4.0
)

// Rule is a named penalty rule. When Expression is set, points are derived
// dynamically from a context map at registration time; a malformed or
// incomplete context falls back to BasePoints instead of failing.
type Rule struct {
	Name          string                    `json:"name"`
	ViolationType enforcement.ViolationType `json:"violation_type"`
	Severity      enforcement.Severity      `json:"severity"`
	BasePoints    float64                   `json:"base_points"`
	Description   string                    `json:"description"`
	Expression    string                    `json:"expression,omitempty"`

	program *vm.Program
}

// RuleSet holds the known penalty rules.
type RuleSet struct {
	mu     sync.RWMutex
	rules  map[string]*Rule
	logger *zap.Logger
}

// NewRuleSet creates a rule set preloaded with the built-in rules.
func NewRuleSet(logger *zap.Logger) *RuleSet {
	rs := &RuleSet{
		rules:  make(map[string]*Rule),
		logger: logger,
	}
	for _, rule := range builtinRules() {
		// Built-in expressions are known-good; a compile failure here is a
		// programming error and the rule degrades to its base points.
		if err := rs.Add(rule); err != nil {
			logger.Error("Failed to register built-in penalty rule",
				zap.String("rule", rule.Name), zap.Error(err))
		}
	}
	return rs
}

func builtinRules() []Rule {
	return []Rule{
		{
			Name:          "sla_violation",
			ViolationType: enforcement.ViolationPerformance,
			Severity:      enforcement.SeverityHigh,
			BasePoints:    10,
			Description:   "Operation exceeded its allowed duration",
			// 10 points per multiple of the allowed threshold, capped at 50.
			Expression: "min(50.0, 10.0 * ceil(observed / allowed))",
		},
		{
			Name:          "data_quality",
			ViolationType: enforcement.ViolationDataValidation,
			Severity:      enforcement.SeverityMedium,
			BasePoints:    8,
			Description:   "Response payload failed data quality checks",
		},
		{
			Name:          "security_incident",
			ViolationType: enforcement.ViolationSecurity,
			Severity:      enforcement.SeverityCritical,
			BasePoints:    30,
			Description:   "Security control failure detected",
		},
		{
			Name:          "repeated_rate_limit",
			ViolationType: enforcement.ViolationRateLimit,
			Severity:      enforcement.SeverityHigh,
			BasePoints:    12,
			Description:   "Client repeatedly exceeded the endpoint rate limit",
			Expression:    "min(30.0, 3.0 * occurrences)",
		},
	}
}

// Add registers a rule, compiling its dynamic expression if present.
func (rs *RuleSet) Add(rule Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("penalty rule requires a name")
	}
	if rule.Expression != "" {
		program, err := expr.Compile(rule.Expression,
			expr.Env(map[string]interface{}{}),
			expr.AllowUndefinedVariables(),
		)
		if err != nil {
			return fmt.Errorf("failed to compile expression for rule %s: %w", rule.Name, err)
		}
		rule.program = program
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rules[rule.Name] = &rule
	return nil
}

// Get returns a rule by name.
func (rs *RuleSet) Get(name string) (Rule, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	rule, ok := rs.rules[name]
	if !ok {
		return Rule{}, false
	}
	return *rule, true
}

// Names returns the registered rule names.
func (rs *RuleSet) Names() []string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	names := make([]string, 0, len(rs.rules))
	for name := range rs.rules {
		names = append(names, name)
	}
	return names
}

// CalculatePoints derives the points for a rule from the supplied context.
// An unknown rule, a failed evaluation, or a non-numeric result falls back
// to the rule's base points (or zero when the rule is unknown); it never
// returns an error to the caller.
func (rs *RuleSet) CalculatePoints(name string, context map[string]interface{}) float64 {
	rule, ok := rs.Get(name)
	if !ok {
		rs.logger.Warn("Unknown penalty rule requested", zap.String("rule", name))
		return 0
	}
	if rule.program == nil || context == nil {
		return rule.BasePoints
	}

	out, err := expr.Run(rule.program, context)
	if err != nil {
		rs.logger.Warn("Penalty expression failed, using base points",
			zap.String("rule", name), zap.Error(err))
		return rule.BasePoints
	}

	points, ok := asFloat(out)
	if !ok || points <= 0 {
		rs.logger.Warn("Penalty expression produced a non-positive result, using base points",
			zap.String("rule", name))
		return rule.BasePoints
	}
	return points
}

// Build creates a registrable penalty from a rule and its context.
func (rs *RuleSet) Build(name, component string, context map[string]interface{}) (Schema, error) {
	rule, ok := rs.Get(name)
	if !ok {
		return Schema{}, fmt.Errorf("unknown penalty rule %q", name)
	}
	return Schema{
		ViolationType: rule.ViolationType,
		Severity:      rule.Severity,
		Points:        rs.CalculatePoints(name, context),
		Description:   rule.Description,
		Component:     component,
		Timestamp:     time.Now(),
		Metadata:      context,
	}, nil
}

// TierRange returns the advisory point range for a severity tier.
func TierRange(severity enforcement.Severity) (min, max float64) {
	switch severity {
	case enforcement.SeverityCritical:
		return TierCriticalMin, TierCriticalMax
	case enforcement.SeverityHigh:
		return TierHighMin, TierHighMax
	case enforcement.SeverityMedium:
		return TierMediumMin, TierMediumMax
	default:
		return TierLowMin, TierLowMax
	}
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
