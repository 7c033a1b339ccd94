package strategy

import (
	"fmt"
	"sync"

	"github.com/agentchaos/chaosproxy/internal/observability"
	"github.com/agentchaos/chaosproxy/internal/plan"
	"go.uber.org/zap"
)

// Constructor builds one strategy instance from a legacy-projected
// scenario entry (spec §9: "legacy/new plan shapes").
type Constructor func(logger *zap.SugaredLogger, obs *observability.Manager, cfg plan.LegacyStrategy) (Strategy, error)

// Registry maps a scenario's string type tag to a Constructor. Third-party
// strategies register here via Register, mirroring the Python SDK's
// entry-point discovery (agent_chaos.strategies) without requiring a
// plugin-loading mechanism at runtime.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// defaultRegistry is populated by each catalog strategy's init() via
// RegisterDefault, mirroring StrategyFactory._register_builtin_strategies.
var defaultRegistry = &Registry{constructors: make(map[string]Constructor)}

// RegisterDefault adds a built-in strategy constructor to the process-wide
// default registry. Called from catalog package init functions.
func RegisterDefault(strategyType string, ctor Constructor) {
	defaultRegistry.Register(strategyType, ctor)
}

// NewRegistry returns a registry seeded with every built-in strategy type.
// Callers may Register additional third-party types on top of it.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	defaultRegistry.mu.RLock()
	defer defaultRegistry.mu.RUnlock()
	for k, v := range defaultRegistry.constructors {
		r.constructors[k] = v
	}
	return r
}

// Register adds or replaces the constructor for a strategy type tag.
func (r *Registry) Register(strategyType string, ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[strategyType] = ctor
}

// Build constructs a strategy for every entry of the plan's legacy-projected
// scenario list, enabled or not (Enabled reports the flag), skipping (and
// logging) any unknown type or construction error rather than failing the
// whole plan load.
func (r *Registry) Build(logger *zap.SugaredLogger, obs *observability.Manager, legacy plan.Legacy) []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Strategy, 0, len(legacy.Strategies))
	for _, s := range legacy.Strategies {
		ctor, ok := r.constructors[s.Type]
		if !ok {
			logger.Errorw("unknown strategy type", "name", s.Name, "type", s.Type)
			continue
		}
		inst, err := ctor(logger, obs, s)
		if err != nil {
			logger.Errorw("failed to construct strategy", "name", s.Name, "type", s.Type, "error", err)
			continue
		}
		out = append(out, inst)
	}
	return out
}

// Types lists every registered strategy type tag.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.constructors))
	for k := range r.constructors {
		out = append(out, k)
	}
	return out
}

// ErrUnknownType is returned by callers that need a typed sentinel for an
// unrecognized strategy tag (Registry.Build itself only logs and skips).
func ErrUnknownType(strategyType string) error {
	return fmt.Errorf("unknown strategy type: %s", strategyType)
}
