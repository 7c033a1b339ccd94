package catalog

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/agentchaos/chaosproxy/internal/flow"
	"github.com/agentchaos/chaosproxy/internal/observability"
	"github.com/agentchaos/chaosproxy/internal/plan"
	"github.com/agentchaos/chaosproxy/internal/strategy"
	"go.uber.org/zap"
)

func init() {
	strategy.RegisterDefault("swarm_disruption", newSwarmDisruptionStrategy)
}

var agentIDPattern = regexp.MustCompile(`(?i)agent[-_]?([a-z0-9-]+)`)

var agentIDBodyKeys = []string{"agent_id", "agentId", "sender", "from"}

// SwarmDisruptionStrategy targets AGENT_TO_AGENT traffic specifically, per
// spec §4.5 "swarm_disruption".
type SwarmDisruptionStrategy struct {
	*strategy.Base
	attackType      string // message_mutation, consensus_delay, agent_isolation
	targetSubtype   string
	consensusDelay  time.Duration
	isolatedAgents  map[string]bool
}

func newSwarmDisruptionStrategy(logger *zap.SugaredLogger, obs *observability.Manager, cfg plan.LegacyStrategy) (strategy.Strategy, error) {
	isolated := map[string]bool{}
	for _, id := range strategy.StringSliceParam(cfg.Params, "isolated_agents") {
		isolated[id] = true
	}
	return &SwarmDisruptionStrategy{
		Base:           buildBase(logger, obs, cfg, strategy.PhaseRequest),
		attackType:     strategy.StringParam(cfg.Params, "attack_type", "message_mutation"),
		targetSubtype:  strategy.StringParam(cfg.Params, "target_subtype", ""),
		consensusDelay: time.Duration(strategy.FloatParam(cfg.Params, "consensus_delay", 5.0) * float64(time.Second)),
		isolatedAgents: isolated,
	}, nil
}

// Apply gates on traffic type AGENT_TO_AGENT (and an optional subtype
// match), then dispatches to the configured attack type.
func (s *SwarmDisruptionStrategy) Apply(f *flow.State, req *http.Request) (bool, error) {
	return s.Run(f, req, func(f *flow.State, req *http.Request) (bool, error) {
		if f.TrafficType != flow.TrafficAgentToAgent {
			return false, nil
		}
		if s.targetSubtype != "" && f.TrafficSubtype != s.targetSubtype {
			return false, nil
		}
		if !s.RollProbability() {
			return false, nil
		}

		switch s.attackType {
		case "message_mutation":
			return s.mutateMessage(f)
		case "consensus_delay":
			return s.delayConsensus(f, req)
		case "agent_isolation":
			return s.isolateAgent(f, req)
		default:
			return false, nil
		}
	})
}

func (s *SwarmDisruptionStrategy) mutateMessage(f *flow.State) (bool, error) {
	if len(f.RequestBody) == 0 {
		return false, nil
	}
	var doc any
	if err := json.Unmarshal(f.RequestBody, &doc); err != nil {
		return false, nil
	}
	if !mutateSwarmFields(&doc) {
		return false, nil
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return false, nil
	}
	f.RequestBody = out
	return true, nil
}

// mutateSwarmFields flips booleans, perturbs positive numbers by
// ±max(20%,1), and swaps string "true"/"false" tokens, recursing through
// the whole document.
func mutateSwarmFields(doc *any) bool {
	mutated := false
	switch v := (*doc).(type) {
	case map[string]any:
		for k, child := range v {
			c := child
			if mutateSwarmFields(&c) {
				mutated = true
			}
			v[k] = c
		}
	case []any:
		for i, child := range v {
			c := child
			if mutateSwarmFields(&c) {
				mutated = true
			}
			v[i] = c
		}
	case bool:
		*doc = !v
		mutated = true
	case float64:
		if v > 0 {
			delta := math.Max(v*0.2, 1)
			if rand.Intn(2) == 0 {
				*doc = v + delta
			} else {
				*doc = v - delta
			}
			mutated = true
		}
	case string:
		lower := strings.ToLower(v)
		if lower == "true" {
			*doc = "false"
			mutated = true
		} else if lower == "false" {
			*doc = "true"
			mutated = true
		}
	}
	return mutated
}

func (s *SwarmDisruptionStrategy) delayConsensus(f *flow.State, req *http.Request) (bool, error) {
	isConsensus := f.TrafficSubtype == "consensus_vote" || strings.Contains(req.URL.String(), "consensus")
	if !isConsensus {
		return false, nil
	}

	timer := time.NewTimer(s.consensusDelay)
	defer timer.Stop()
	ctx := req.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-timer.C:
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (s *SwarmDisruptionStrategy) isolateAgent(f *flow.State, req *http.Request) (bool, error) {
	agentID := extractAgentID(f, req)
	if agentID == "" || !s.isolatedAgents[agentID] {
		return false, nil
	}

	body, err := json.Marshal(map[string]any{"error": "Agent isolated", "agent_id": agentID})
	if err != nil {
		return false, err
	}
	f.ResponseStatus = 503
	f.ResponseReason = "Service Unavailable"
	f.ResponseHeaders = map[string][]string{"Content-Type": {"application/json"}}
	f.ResponseBody = body
	return true, nil
}

// extractAgentID looks for an agent identifier in the X-Agent-ID header,
// the URL (agent[-_]?([a-z0-9-]+)), then the request body's
// agent_id/agentId/sender/from keys, per spec §4.5.
func extractAgentID(f *flow.State, req *http.Request) string {
	if id := req.Header.Get("X-Agent-ID"); id != "" {
		return id
	}
	if m := agentIDPattern.FindStringSubmatch(req.URL.String()); len(m) > 1 {
		return m[1]
	}
	if len(f.RequestBody) == 0 {
		return ""
	}
	var doc map[string]any
	if err := json.Unmarshal(f.RequestBody, &doc); err != nil {
		return ""
	}
	for _, key := range agentIDBodyKeys {
		if id, ok := doc[key].(string); ok && id != "" {
			return id
		}
	}
	return ""
}

var _ strategy.Strategy = (*SwarmDisruptionStrategy)(nil)
