package catalog

import (
	"context"
	"net/http"
	"time"

	"github.com/agentchaos/chaosproxy/internal/flow"
	"github.com/agentchaos/chaosproxy/internal/observability"
	"github.com/agentchaos/chaosproxy/internal/plan"
	"github.com/agentchaos/chaosproxy/internal/strategy"
	"go.uber.org/zap"
)

func init() {
	strategy.RegisterDefault("latency", newLatencyStrategy)
}

// LatencyStrategy holds a request open for a fixed delay before it reaches
// upstream, per spec §4.5 "latency".
type LatencyStrategy struct {
	*strategy.Base
	delay time.Duration
}

func newLatencyStrategy(logger *zap.SugaredLogger, obs *observability.Manager, cfg plan.LegacyStrategy) (strategy.Strategy, error) {
	delaySeconds := strategy.FloatParam(cfg.Params, "delay", 0)
	return &LatencyStrategy{
		Base:  buildBase(logger, obs, cfg, strategy.PhaseRequest),
		delay: time.Duration(delaySeconds * float64(time.Second)),
	}, nil
}

// Apply suspends the caller for the configured delay, respecting request
// cancellation, per spec §4.3/§4.5 ("strategies that sleep must use
// non-blocking sleeps" / "Applies only before upstream send").
func (s *LatencyStrategy) Apply(f *flow.State, req *http.Request) (bool, error) {
	return s.Run(f, req, func(f *flow.State, req *http.Request) (bool, error) {
		if !s.RollProbability() {
			return false, nil
		}
		if s.delay <= 0 {
			return true, nil
		}

		ctx := req.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		timer := time.NewTimer(s.delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return false, ctx.Err()
		}

		if f.Span != nil {
			f.Span.SetAttributes(chaosLatencyAttr(s.delay.Seconds()))
		}
		return true, nil
	})
}

var _ strategy.Strategy = (*LatencyStrategy)(nil)
