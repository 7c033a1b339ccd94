// Package strategy defines the common contract every chaos strategy
// implements, and the registry that maps plan scenario types to concrete
// constructors.
package strategy

import (
	"math/rand"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/agentchaos/chaosproxy/internal/breaker"
	"github.com/agentchaos/chaosproxy/internal/flow"
	"github.com/agentchaos/chaosproxy/internal/observability"
	"github.com/agentchaos/chaosproxy/internal/plan"
	"go.uber.org/zap"
)

// Phase indicates which pipeline hook a strategy applies in.
type Phase string

const (
	PhaseRequest  Phase = "request"
	PhaseResponse Phase = "response"
)

// Strategy is the contract every chaos strategy implements. ShouldTrigger
// is evaluated by the pipeline before Apply; Apply performs the mutation
// and reports whether it actually changed the flow.
type Strategy interface {
	Name() string
	Enabled() bool
	Phases() []Phase
	ShouldTrigger(f *flow.State, req *http.Request) bool
	Apply(f *flow.State, req *http.Request) (applied bool, err error)
}

// Base embeds the circuit breaker, probability gate and pattern matching
// shared by every catalog strategy. Concrete strategies embed Base and
// implement ApplyFunc.
type Base struct {
	NameValue   string
	EnabledFlag bool
	TargetRef   string
	TargetType  plan.TargetType
	Probability float64
	PhaseSet    []Phase

	patterns []*regexp.Regexp
	breaker  *breaker.CircuitBreaker

	logger *zap.SugaredLogger
	obs    *observability.Manager

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewBase constructs a Base from common scenario fields. patterns is the
// compiled URL pattern set resolved from the scenario's target (or an
// inline url_pattern for backward compatibility).
func NewBase(logger *zap.SugaredLogger, obs *observability.Manager, name string, enabled bool, targetRef string, targetType plan.TargetType, probability float64, patterns []*regexp.Regexp, phases ...Phase) *Base {
	return &Base{
		NameValue:   name,
		EnabledFlag: enabled,
		TargetRef:   targetRef,
		TargetType:  targetType,
		Probability: probability,
		PhaseSet:    phases,
		patterns:    patterns,
		breaker:     breaker.New("strategy-"+name, 5, 60*time.Second),
		logger:      logger,
		obs:         obs,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Phases reports which pipeline hooks this strategy participates in.
func (b *Base) Phases() []Phase { return b.PhaseSet }

// Name returns the strategy's configured name.
func (b *Base) Name() string { return b.NameValue }

// Enabled reports whether the strategy is enabled per plan configuration.
func (b *Base) Enabled() bool { return b.EnabledFlag }

// Breaker exposes the strategy's circuit breaker for the pipeline to
// inspect state (e.g. for telemetry) without requiring a full Apply call.
func (b *Base) Breaker() *breaker.CircuitBreaker { return b.breaker }

// ShouldTrigger implements the common gate in spec §4.4: enabled AND
// (no patterns configured OR a URL pattern matches OR, for agent_role
// targets, the agent-role header matches).
func (b *Base) ShouldTrigger(f *flow.State, req *http.Request) bool {
	if !b.EnabledFlag {
		return false
	}
	if len(b.patterns) == 0 {
		return true
	}

	url := req.URL.String()
	for _, re := range b.patterns {
		if re.MatchString(url) {
			return true
		}
	}

	if b.TargetType == plan.TargetAgentRole {
		role := req.Header.Get("X-Agent-Role")
		if role == "" {
			role = req.Header.Get("Agent-Role")
		}
		if role != "" {
			for _, re := range b.patterns {
				if re.MatchString(role) {
					return true
				}
			}
		}
	}

	return false
}

// RollProbability draws once from [0,1) and compares against Probability,
// per spec §4.4's "probability gate evaluated after should_trigger".
func (b *Base) RollProbability() bool {
	if b.Probability >= 1 {
		return true
	}
	if b.Probability <= 0 {
		return false
	}
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	return b.rng.Float64() < b.Probability
}

// ApplyFunc is the concrete mutation a catalog strategy supplies. Runner
// wraps it with circuit-breaker admission and applied-strategies
// bookkeeping, matching spec §4.4's common wrapper.
type ApplyFunc func(f *flow.State, req *http.Request) (bool, error)

// Run executes fn through the circuit breaker: on OPEN it returns
// (false, nil) immediately (fail-open, no telemetry beyond the original
// STRATEGY_DISABLED transition); on success it records applied-strategies
// bookkeeping; on error it lets the caller's fail-open wrapper catch it
// after the breaker has recorded the failure.
func (b *Base) Run(f *flow.State, req *http.Request, fn ApplyFunc) (bool, error) {
	var applied bool
	err := b.breaker.Call(func() error {
		var innerErr error
		applied, innerErr = fn(f, req)
		return innerErr
	})
	if err == breaker.ErrOpen {
		return false, nil
	}
	if err != nil {
		// Edge-triggered: this branch only runs on a call that actually
		// reached fn, so State()=="open" here means this call is the one
		// that just tripped the breaker (further calls short-circuit above).
		if b.breaker.State() == breaker.StateOpen && b.obs != nil && b.obs.Metrics() != nil {
			b.obs.Metrics().RecordErrorCode("STRATEGY_DISABLED", b.NameValue)
		}
		return false, err
	}

	if applied {
		f.AddAppliedStrategy(b.NameValue)
	}
	return applied, nil
}

// Logger exposes the strategy's logger to embedding types.
func (b *Base) Logger() *zap.SugaredLogger { return b.logger }

// Observability exposes the strategy's observability manager.
func (b *Base) Observability() *observability.Manager { return b.obs }

// CompilePatterns compiles the single pattern resolved for a scenario
// (case-insensitive). An empty or invalid pattern yields no patterns, which
// ShouldTrigger treats as always-trigger.
func CompilePatterns(logger *zap.SugaredLogger, name string, urlPattern string) []*regexp.Regexp {
	var out []*regexp.Regexp
	if urlPattern == "" {
		return out
	}
	re, err := regexp.Compile("(?i)" + urlPattern)
	if err != nil {
		logger.Warnw("invalid pattern for strategy, falling back to always-trigger", "strategy", name, "pattern", urlPattern, "error", err)
		return out
	}
	out = append(out, re)
	return out
}

// StringParam reads a string parameter with a default.
func StringParam(params map[string]any, key, def string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

// FloatParam reads a numeric parameter with a default, accepting both
// float64 (YAML/JSON numeric decode) and int.
func FloatParam(params map[string]any, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}

// IntParam reads an integer parameter with a default.
func IntParam(params map[string]any, key string, def int) int {
	return int(FloatParam(params, key, float64(def)))
}

// BoolParam reads a boolean parameter with a default.
func BoolParam(params map[string]any, key string, def bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// StringSliceParam reads a []string parameter, tolerating the []any shape
// YAML decoding produces.
func StringSliceParam(params map[string]any, key string) []string {
	v, ok := params[key]
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

// MapParam reads a map[string]any parameter (e.g. field_mode).
func MapParam(params map[string]any, key string) map[string]any {
	if v, ok := params[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}

// NormalizeKey lowercases and trims a string for case-insensitive field
// name matching.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
