package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/agentchaos/chaosproxy/internal/flow"
	"github.com/agentchaos/chaosproxy/internal/observability"
	"github.com/agentchaos/chaosproxy/internal/plan"
	"github.com/agentchaos/chaosproxy/internal/strategy"
	"go.uber.org/zap"
)

func init() {
	strategy.RegisterDefault("group_chaos", newGroupChaosStrategy)
	strategy.RegisterDefault("group_failure", newGroupFailureStrategy)
}

func agentRoleHeader(req *http.Request) string {
	if role := req.Header.Get("X-Agent-Role"); role != "" {
		return role
	}
	return req.Header.Get("Agent-Role")
}

// GroupChaosStrategy applies one of latency/error/disable to every flow
// whose agent-role header matches target_role, per spec §4.5 "group_chaos".
type GroupChaosStrategy struct {
	*strategy.Base
	targetRole string
	action     string // latency, error, disable
	delay      time.Duration
	errorCode  int
}

func newGroupChaosStrategy(logger *zap.SugaredLogger, obs *observability.Manager, cfg plan.LegacyStrategy) (strategy.Strategy, error) {
	t := resolveTarget(cfg)
	return &GroupChaosStrategy{
		Base:       buildBase(logger, obs, cfg, strategy.PhaseRequest, strategy.PhaseResponse),
		targetRole: t.targetRole,
		action:     strategy.StringParam(cfg.Params, "action", "latency"),
		delay:      time.Duration(strategy.FloatParam(cfg.Params, "delay_seconds", 1.0) * float64(time.Second)),
		errorCode:  strategy.IntParam(cfg.Params, "error_code", 500),
	}, nil
}

// Apply only acts when the flow's agent-role header equals targetRole.
func (s *GroupChaosStrategy) Apply(f *flow.State, req *http.Request) (bool, error) {
	return s.Run(f, req, func(f *flow.State, req *http.Request) (bool, error) {
		if s.targetRole == "" || agentRoleHeader(req) != s.targetRole {
			return false, nil
		}
		if !s.RollProbability() {
			return false, nil
		}

		switch s.action {
		case "latency":
			timer := time.NewTimer(s.delay)
			defer timer.Stop()
			ctx := req.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			select {
			case <-timer.C:
			case <-ctx.Done():
				return false, ctx.Err()
			}
			return true, nil
		case "error":
			reason, ok := stockReasons[s.errorCode]
			if !ok {
				reason = "Group Chaos"
			}
			body, err := json.Marshal(map[string]any{"error": "Group chaos injection", "code": s.errorCode, "role": s.targetRole})
			if err != nil {
				return false, err
			}
			f.ResponseStatus = s.errorCode
			f.ResponseReason = reason
			f.ResponseHeaders = map[string][]string{"Content-Type": {"application/json"}}
			f.ResponseBody = body
			return true, nil
		case "disable":
			f.ResponseStatus = 503
			f.ResponseReason = "Service Unavailable"
			f.ResponseHeaders = map[string][]string{
				"Content-Type": {"application/json"},
				"Retry-After":  {"60"},
			}
			body, err := json.Marshal(map[string]any{"error": "Group disabled", "role": s.targetRole})
			if err != nil {
				return false, err
			}
			f.ResponseBody = body
			return true, nil
		default:
			return false, nil
		}
	})
}

var _ strategy.Strategy = (*GroupChaosStrategy)(nil)

// GroupFailureStrategy unconditionally fails every flow for a matching
// agent role with a 503, per spec §4.5 "group_failure".
type GroupFailureStrategy struct {
	*strategy.Base
	targetRole string
}

func newGroupFailureStrategy(logger *zap.SugaredLogger, obs *observability.Manager, cfg plan.LegacyStrategy) (strategy.Strategy, error) {
	t := resolveTarget(cfg)
	return &GroupFailureStrategy{
		Base:       buildBase(logger, obs, cfg, strategy.PhaseRequest, strategy.PhaseResponse),
		targetRole: t.targetRole,
	}, nil
}

func (s *GroupFailureStrategy) Apply(f *flow.State, req *http.Request) (bool, error) {
	return s.Run(f, req, func(f *flow.State, req *http.Request) (bool, error) {
		if s.targetRole == "" || agentRoleHeader(req) != s.targetRole {
			return false, nil
		}
		if !s.RollProbability() {
			return false, nil
		}

		body, err := json.Marshal(map[string]any{"error": "Group failure", "role": s.targetRole})
		if err != nil {
			return false, err
		}
		f.ResponseStatus = 503
		f.ResponseReason = "Service Unavailable"
		f.ResponseHeaders = map[string][]string{
			"Content-Type":   {"application/json"},
			"Retry-After":    {"300"},
			"X-Chaos-Reason": {"Group failure: " + s.targetRole},
		}
		f.ResponseBody = body
		return true, nil
	})
}

var _ strategy.Strategy = (*GroupFailureStrategy)(nil)
