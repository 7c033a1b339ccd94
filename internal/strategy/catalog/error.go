package catalog

import (
	"encoding/json"
	"net/http"

	"github.com/agentchaos/chaosproxy/internal/flow"
	"github.com/agentchaos/chaosproxy/internal/observability"
	"github.com/agentchaos/chaosproxy/internal/plan"
	"github.com/agentchaos/chaosproxy/internal/strategy"
	"go.uber.org/zap"
)

func init() {
	strategy.RegisterDefault("error", newErrorStrategy)
}

var stockReasons = map[int]string{
	500: "Internal Server Error",
	503: "Service Unavailable",
	429: "Too Many Requests",
	502: "Bad Gateway",
	504: "Gateway Timeout",
}

// ErrorStrategy replaces the real response with a synthetic error, per
// spec §4.5 "error".
type ErrorStrategy struct {
	*strategy.Base
	errorCode int
}

func newErrorStrategy(logger *zap.SugaredLogger, obs *observability.Manager, cfg plan.LegacyStrategy) (strategy.Strategy, error) {
	return &ErrorStrategy{
		Base:      buildBase(logger, obs, cfg, strategy.PhaseResponse),
		errorCode: strategy.IntParam(cfg.Params, "error_code", 500),
	}, nil
}

// Apply overwrites the flow's response with the stock error body.
func (s *ErrorStrategy) Apply(f *flow.State, req *http.Request) (bool, error) {
	return s.Run(f, req, func(f *flow.State, req *http.Request) (bool, error) {
		if !s.RollProbability() {
			return false, nil
		}

		reason, ok := stockReasons[s.errorCode]
		if !ok {
			reason = "Chaos Injection"
		}

		body, err := json.Marshal(map[string]any{
			"error": "Chaos injection: Simulated server error",
			"code":  s.errorCode,
			"type":  "chaos_engineering",
		})
		if err != nil {
			return false, err
		}

		f.ResponseStatus = s.errorCode
		f.ResponseReason = reason
		f.ResponseHeaders = map[string][]string{"Content-Type": {"application/json"}}
		f.ResponseBody = body

		if f.Span != nil {
			f.Span.SetAttributes(chaosErrorCodeAttr(s.errorCode))
		}
		return true, nil
	})
}

var _ strategy.Strategy = (*ErrorStrategy)(nil)
