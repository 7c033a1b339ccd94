package catalog

import (
	"net/http"

	"github.com/agentchaos/chaosproxy/internal/flow"
	"github.com/agentchaos/chaosproxy/internal/observability"
	"github.com/agentchaos/chaosproxy/internal/plan"
	"github.com/agentchaos/chaosproxy/internal/strategy"
	"go.uber.org/zap"
)

func init() {
	strategy.RegisterDefault("simple_log", newSimpleLogStrategy)
}

// SimpleLogStrategy never mutates a flow; it exists purely to exercise the
// strategy pipeline's logging path for debugging a plan, per spec §4.5
// "simple_log".
type SimpleLogStrategy struct {
	*strategy.Base
}

func newSimpleLogStrategy(logger *zap.SugaredLogger, obs *observability.Manager, cfg plan.LegacyStrategy) (strategy.Strategy, error) {
	return &SimpleLogStrategy{
		Base: buildBase(logger, obs, cfg, strategy.PhaseRequest, strategy.PhaseResponse),
	}, nil
}

// Apply logs the current flow state and reports no mutation.
func (s *SimpleLogStrategy) Apply(f *flow.State, req *http.Request) (bool, error) {
	return s.Run(f, req, func(f *flow.State, req *http.Request) (bool, error) {
		s.Logger().Debugw("simple_log strategy observed flow",
			"strategy", s.NameValue,
			"request_id", f.RequestID,
			"method", req.Method,
			"url", req.URL.String(),
			"traffic_type", f.TrafficType,
			"response_status", f.ResponseStatus,
		)
		return false, nil
	})
}

var _ strategy.Strategy = (*SimpleLogStrategy)(nil)
