package enforcement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pactguard/pactguard/internal/contract"
	"github.com/pactguard/pactguard/internal/metrics"
)

// Penalty points charged per violation category. Contract-declared penalty
// points are a second, additive source fed by the endpoint_disabled check.
const (
	pointsMissingContract = 5
	pointsAuthentication  = 25
	pointsMissingRoles    = 30
	pointsMissingPerms    = 25
	pointsIPWhitelist     = 15
	pointsRateLimit       = 15
	pointsRequestField    = 10
	pointsResponseField   = 5
	pointsLatencySLA      = 15
	pointsErrorRateSLA    = 15
)

// Config controls the enforcer's blocking behavior.
type Config struct {
	// Mode selects monitor, enforce, or disabled behavior.
	Mode Mode
	// RequireContract makes enforce mode block requests for which no
	// contract matches instead of letting them pass with a violation.
	RequireContract bool
}

// Enforcer evaluates requests and responses against endpoint contracts.
// All evaluation is synchronous and in-memory; it never performs I/O except
// through an optionally Redis-backed rate-limit store.
type Enforcer struct {
	cfg       Config
	registry  *contract.Registry
	roles     RoleAuthority
	limiter   RateLimitStore
	outcomes  *outcomeTracker
	collector *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time
}

// NewEnforcer creates a contract enforcer. All collaborators are injected;
// the enforcer owns no global state.
func NewEnforcer(
	cfg Config,
	registry *contract.Registry,
	roles RoleAuthority,
	limiter RateLimitStore,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Enforcer {
	if limiter == nil {
		limiter = NewMemoryRateLimitStore(RateLimitWindow)
	}
	return &Enforcer{
		cfg:       cfg,
		registry:  registry,
		roles:     roles,
		limiter:   limiter,
		outcomes:  newOutcomeTracker(),
		collector: collector,
		logger:    logger,
		now:       time.Now,
	}
}

// Mode returns the configured enforcement mode.
func (e *Enforcer) Mode() Mode {
	return e.cfg.Mode
}

// EnforceRequest evaluates an inbound request against its endpoint
// contract. Every applicable check runs; earlier violations never
// short-circuit later checks. The returned result is complete even when the
// request is blocked.
func (e *Enforcer) EnforceRequest(ctx context.Context, path, method string, auth AuthContext, payload map[string]interface{}, clientID string) *EnforcementResult {
	result := &EnforcementResult{Allowed: true, Mode: e.cfg.Mode}
	if e.cfg.Mode == ModeDisabled {
		result.ActionsTaken = append(result.ActionsTaken, "enforcement disabled, request allowed")
		return finalize(result)
	}

	now := e.now()
	matched := e.registry.Resolve(path, method)
	result.Contract = matched

	if matched == nil {
		result.Violations = append(result.Violations, newViolation(
			ViolationMissingContract, SeverityMedium,
			fmt.Sprintf("no accountability contract declared for %s %s", method, path),
			pointsMissingContract, now,
		))
		result.ActionsTaken = append(result.ActionsTaken, "no contract matched")
		if e.cfg.Mode == ModeEnforce && e.cfg.RequireContract {
			result.Allowed = false
			result.ActionsTaken = append(result.ActionsTaken, "blocked: contract required")
		}
		return finalize(result)
	}

	if !matched.Enabled {
		v := newViolation(
			ViolationEndpointDisabled, SeverityHigh,
			fmt.Sprintf("endpoint %s is disabled by contract", matched.Path),
			matched.PenaltyPoints, now,
		)
		result.Violations = append(result.Violations, v)
	}

	e.checkAuthentication(matched, auth, now, result)
	e.checkAuthorization(matched, auth, now, result)
	e.checkIPWhitelist(matched, clientID, now, result)
	e.checkRateLimit(ctx, matched, path, clientID, now, result)

	if payload != nil {
		for _, fe := range contract.ValidateFields(matched.RequestValidation, payload) {
			v := newViolation(ViolationValidation, SeverityMedium, fe.Message, pointsRequestField, now)
			v.Field = fe.Field
			v.ActualValue = fe.Actual
			v.ExpectedValue = fe.Expected
			result.Violations = append(result.Violations, v)
		}
	}

	switch e.cfg.Mode {
	case ModeEnforce:
		if hasBlockingViolation(result.Violations) {
			result.Allowed = false
			result.ActionsTaken = append(result.ActionsTaken, "blocked: high severity violations present")
		}
	case ModeMonitor:
		if len(result.Violations) > 0 {
			result.ActionsTaken = append(result.ActionsTaken, "monitor mode: violations recorded, request allowed")
		}
	}

	if len(result.Violations) > 0 {
		e.logger.Debug("Contract violations detected",
			zap.String("path", path),
			zap.String("method", method),
			zap.String("client_id", clientID),
			zap.Int("violations", len(result.Violations)),
			zap.Bool("allowed", result.Allowed),
		)
	}

	return finalize(result)
}

// EnforceResponse evaluates an outbound response against its endpoint
// contract. Response evaluation never blocks; it contributes violations for
// scoring and audit, and feeds the delivery metrics collector.
func (e *Enforcer) EnforceResponse(ctx context.Context, path, method string, payload map[string]interface{}, status int, latencyMs float64) *EnforcementResult {
	result := &EnforcementResult{Allowed: true, Mode: e.cfg.Mode}
	if e.cfg.Mode == ModeDisabled {
		return finalize(result)
	}

	now := e.now()
	matched := e.registry.Resolve(path, method)
	result.Contract = matched

	endpoint := path
	if matched != nil {
		endpoint = matched.Path
	}

	success := status >= 200 && status < 400
	e.outcomes.Record(endpoint, now, success)
	if e.collector != nil {
		e.collector.RecordAttempt(endpoint)
		if success {
			e.collector.RecordSuccess(endpoint)
		} else {
			e.collector.RecordFailure(endpoint, fmt.Sprintf("HTTP %d on %s %s", status, method, path))
		}
	}

	if matched == nil {
		result.ActionsTaken = append(result.ActionsTaken, "no contract matched, outcome recorded")
		return finalize(result)
	}

	if payload != nil {
		for _, fe := range contract.ValidateFields(matched.ResponseValidation, payload) {
			v := newViolation(ViolationDataValidation, SeverityMedium, fe.Message, pointsResponseField, now)
			v.Field = fe.Field
			v.ActualValue = fe.Actual
			v.ExpectedValue = fe.Expected
			result.Violations = append(result.Violations, v)
		}
	}

	if sla := matched.Performance.MaxLatencyMs; sla > 0 && latencyMs > sla {
		v := newViolation(
			ViolationPerformance, SeverityMedium,
			fmt.Sprintf("latency %.1fms exceeds SLA of %.1fms", latencyMs, sla),
			pointsLatencySLA, now,
		)
		v.ActualValue = latencyMs
		v.ExpectedValue = sla
		result.Violations = append(result.Violations, v)
	}

	if maxRate := matched.Performance.MaxErrorRate; maxRate > 0 {
		if rate, ok := e.outcomes.ErrorRate(endpoint, now); ok && rate > maxRate {
			v := newViolation(
				ViolationPerformance, SeverityMedium,
				fmt.Sprintf("error rate %.1f%% exceeds SLA of %.1f%%", rate*100, maxRate*100),
				pointsErrorRateSLA, now,
			)
			v.ActualValue = rate
			v.ExpectedValue = maxRate
			result.Violations = append(result.Violations, v)
		}
	}

	return finalize(result)
}

func (e *Enforcer) checkAuthentication(matched *contract.EndpointContract, auth AuthContext, now time.Time, result *EnforcementResult) {
	if matched.Security.AuthRequired && !auth.Authenticated {
		result.Violations = append(result.Violations, newViolation(
			ViolationAuthentication, SeverityHigh,
			fmt.Sprintf("endpoint %s requires authentication", matched.Path),
			pointsAuthentication, now,
		))
	}
}

func (e *Enforcer) checkAuthorization(matched *contract.EndpointContract, auth AuthContext, now time.Time, result *EnforcementResult) {
	if !auth.Authenticated {
		return
	}

	if len(matched.Security.RequiredRoles) > 0 {
		missing := missingItems(matched.Security.RequiredRoles, auth.Roles)
		if len(missing) > 0 {
			v := newViolation(
				ViolationAuthorization, SeverityHigh,
				fmt.Sprintf("missing required roles: %s", strings.Join(missing, ", ")),
				pointsMissingRoles, now,
			)
			v.ExpectedValue = matched.Security.RequiredRoles
			v.ActualValue = auth.Roles
			result.Violations = append(result.Violations, v)
		}
	}

	if len(matched.Security.RequiredPermissions) > 0 {
		effective := e.effectivePermissions(auth)
		missing := missingItems(matched.Security.RequiredPermissions, effective)
		if len(missing) > 0 {
			v := newViolation(
				ViolationAuthorization, SeverityHigh,
				fmt.Sprintf("missing required permissions: %s", strings.Join(missing, ", ")),
				pointsMissingPerms, now,
			)
			v.ExpectedValue = matched.Security.RequiredPermissions
			result.Violations = append(result.Violations, v)
		}
	}
}

// checkIPWhitelist compares the client identifier literally against the
// whitelist. CIDR ranges are deliberately not interpreted.
func (e *Enforcer) checkIPWhitelist(matched *contract.EndpointContract, clientID string, now time.Time, result *EnforcementResult) {
	if len(matched.Security.IPWhitelist) == 0 {
		return
	}
	for _, allowed := range matched.Security.IPWhitelist {
		if allowed == clientID {
			return
		}
	}
	v := newViolation(
		ViolationIPWhitelist, SeverityMedium,
		fmt.Sprintf("client %s is not on the endpoint whitelist", clientID),
		pointsIPWhitelist, now,
	)
	v.ActualValue = clientID
	result.Violations = append(result.Violations, v)
}

func (e *Enforcer) checkRateLimit(ctx context.Context, matched *contract.EndpointContract, path, clientID string, now time.Time, result *EnforcementResult) {
	limit := matched.Security.RateLimitPerMinute
	if limit <= 0 {
		return
	}

	key := clientID + "|" + path
	allowed, err := e.limiter.Allow(ctx, key, limit, now)
	if err != nil {
		// A broken rate-limit backend must not take down request
		// evaluation; fail open and surface the problem in the log.
		e.logger.Error("Rate limit store unavailable, allowing request",
			zap.String("key", key), zap.Error(err))
		return
	}
	if !allowed {
		v := newViolation(
			ViolationRateLimit, SeverityHigh,
			fmt.Sprintf("rate limit of %d requests per minute exceeded", limit),
			pointsRateLimit, now,
		)
		v.ExpectedValue = limit
		result.Violations = append(result.Violations, v)
	}
}

func (e *Enforcer) effectivePermissions(auth AuthContext) []string {
	seen := make(map[string]struct{}, len(auth.Permissions))
	effective := make([]string, 0, len(auth.Permissions))
	for _, p := range auth.Permissions {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			effective = append(effective, p)
		}
	}
	if e.roles == nil {
		return effective
	}
	for _, role := range auth.Roles {
		for _, p := range e.roles.PermissionsFor(role) {
			if _, ok := seen[p]; !ok {
				seen[p] = struct{}{}
				effective = append(effective, p)
			}
		}
	}
	return effective
}

func missingItems(required, held []string) []string {
	holds := make(map[string]struct{}, len(held))
	for _, h := range held {
		holds[h] = struct{}{}
	}
	var missing []string
	for _, r := range required {
		if _, ok := holds[r]; !ok {
			missing = append(missing, r)
		}
	}
	return missing
}
