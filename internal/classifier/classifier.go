// Package classifier scores intercepted HTTP traffic into TOOL_CALL,
// LLM_API, AGENT_TO_AGENT, or UNKNOWN, per the heuristics in the proxy
// pipeline's classify step.
package classifier

import (
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/agentchaos/chaosproxy/internal/flow"
	"github.com/agentchaos/chaosproxy/internal/plan"
	"github.com/agentchaos/chaosproxy/internal/security"
	"go.uber.org/zap"
)

// maxBodyClassifyBytes bounds the body size considered for JSON shape
// sniffing, to avoid CPU-heavy parsing of huge payloads.
const maxBodyClassifyBytes = 1_000_000

var priorityOrder = []flow.TrafficType{
	flow.TrafficAgentToAgent,
	flow.TrafficLLMAPI,
	flow.TrafficToolCall,
}

var defaultLLMPatterns = compileAll([]string{
	`(?i).*openai\.com.*/v1/(chat|completions|embeddings)`,
	`(?i).*anthropic\.com.*/v1/messages`,
	`(?i).*api\.cohere\.ai.*/v1/generate`,
	`(?i).*api\.mistral\.ai.*/v1/chat`,
	`(?i).*127\.0\.0\.1:11434.*/api/(chat|generate)`,
	`(?i).*ollama.*/api/(chat|generate)`,
})

var defaultToolPatterns = compileAll([]string{
	`(?i).*api\.(stripe|twilio|sendgrid|mailchimp)`,
	`(?i).*\.googleapis\.com.*`,
	`(?i).*localhost:8001.*`,
	`(?i).*/api/(search|book|query|execute)`,
})

var defaultAgentPatterns = compileAll([]string{
	`(?i).*agent-[a-z0-9]+.*`,
	`(?i).*swarm.*/messages`,
	`(?i).*localhost:\d+/agent-.*`,
	`(?i).*/api/agent/.*`,
})

func compileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// Classifier holds the compiled pattern sets (built-ins plus plan-derived
// overlays) used to score one request at a time.
type Classifier struct {
	logger *zap.SugaredLogger
	auth   *security.Auth

	llmPatterns   []*regexp.Regexp
	toolPatterns  []*regexp.Regexp
	agentPatterns []*regexp.Regexp

	strict     bool
	hasOverlay bool
}

// New builds a Classifier from a plan, merging its targets, classifier_rules
// and classifier_rule_packs with the built-in defaults.
func New(logger *zap.SugaredLogger, p *plan.Plan, auth *security.Auth, strict bool) *Classifier {
	c := &Classifier{logger: logger, auth: auth, strict: strict}

	c.llmPatterns = append(c.llmPatterns, defaultLLMPatterns...)
	c.toolPatterns = append(c.toolPatterns, defaultToolPatterns...)
	c.agentPatterns = append(c.agentPatterns, defaultAgentPatterns...)

	if p == nil {
		return c
	}

	for _, t := range p.Targets {
		re, err := regexp.Compile("(?i)" + t.Pattern)
		if err != nil {
			logger.Warnw("invalid target pattern skipped", "target", t.Name, "error", err)
			continue
		}
		switch {
		case t.Type == plan.TargetLLMInput:
			c.llmPatterns = append(c.llmPatterns, re)
		case t.Type == plan.TargetToolCall:
			c.toolPatterns = append(c.toolPatterns, re)
		case t.Type == plan.TargetCustom && strings.Contains(strings.ToLower(t.Name), "agent"):
			c.agentPatterns = append(c.agentPatterns, re)
		}
	}

	if p.Classifier != nil {
		c.mergeRules(*p.Classifier)
	}
	for _, pack := range p.ClassifierRulePacks {
		c.mergeRules(pack.ClassifierRules)
		c.hasOverlay = true
	}

	return c
}

func (c *Classifier) mergeRules(rules plan.ClassifierRules) {
	for _, pat := range rules.LLMPatterns {
		if re, err := regexp.Compile("(?i)" + pat); err == nil {
			c.llmPatterns = append(c.llmPatterns, re)
		}
	}
	for _, pat := range rules.ToolPatterns {
		if re, err := regexp.Compile("(?i)" + pat); err == nil {
			c.toolPatterns = append(c.toolPatterns, re)
		}
	}
	for _, pat := range rules.AgentPatterns {
		if re, err := regexp.Compile("(?i)" + pat); err == nil {
			c.agentPatterns = append(c.agentPatterns, re)
		}
	}
}

// HasRulePacks reports whether the given plan p carries at least one rule
// pack; the classifier's own compiled state is not consulted.
func (c *Classifier) HasRulePacks(p *plan.Plan) bool {
	return p != nil && p.HasRulePacks()
}

var overrideMap = map[string]flow.TrafficType{
	"TOOL_CALL":      flow.TrafficToolCall,
	"LLM_API":        flow.TrafficLLMAPI,
	"AGENT_TO_AGENT": flow.TrafficAgentToAgent,
	"UNKNOWN":        flow.TrafficUnknown,
}

// Classify scores req against the compiled pattern sets and returns the
// traffic type and an optional subtype. allowOverride controls whether the
// X-Agent-Chaos-Type header is honored (spec §4.2 step 1).
func (c *Classifier) Classify(req *http.Request, body []byte, allowOverride bool) (flow.TrafficType, string) {
	if override := req.Header.Get("X-Agent-Chaos-Type"); override != "" && allowOverride {
		tt, ok := overrideMap[strings.ToUpper(override)]
		if !ok {
			tt = flow.TrafficUnknown
		}
		return tt, req.Header.Get("X-Agent-Chaos-Subtype")
	}

	if c.strict && !c.hasOverlay {
		c.logger.Errorw("CLASSIFIER_STRICT_MISSING_RULES: strict mode enabled but no rule packs configured")
		return flow.TrafficUnknown, ""
	}

	rawURL := req.URL.String()

	agentScore, _ := bestPatternScore(rawURL, c.agentPatterns)
	llmScore, _ := bestPatternScore(rawURL, c.llmPatterns)
	toolScore, _ := bestPatternScore(rawURL, c.toolPatterns)

	scores := map[flow.TrafficType]int{
		flow.TrafficAgentToAgent: agentScore,
		flow.TrafficLLMAPI:       llmScore,
		flow.TrafficToolCall:     toolScore,
	}

	maxScore := 0
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}

	var trafficType flow.TrafficType
	var subtype string

	if maxScore > 0 {
		trafficType = flow.TrafficUnknown
		for _, t := range priorityOrder {
			if scores[t] == maxScore {
				trafficType = t
				break
			}
		}
		if trafficType == flow.TrafficAgentToAgent {
			subtype = c.detectAgentSubtype(req, body)
		}

		bodyType, bodySubtype := classifyByBody(body)
		if bodyType != flow.TrafficUnknown && bodyType != trafficType {
			trafficType, subtype = bodyType, bodySubtype
		}
	} else {
		trafficType, subtype = classifyByHeaders(req)
		if trafficType == flow.TrafficUnknown {
			trafficType, subtype = classifyByBody(body)
		}
	}

	return trafficType, subtype
}

// IsOverrideAllowed reports whether the client-supplied classification
// override header may be honored, per spec §4.2 step 1.
func (c *Classifier) IsOverrideAllowed(req *http.Request, p *plan.Plan) bool {
	if p != nil {
		if allow, ok := p.Metadata["allow_client_override"].(bool); ok && allow {
			return true
		}
	}
	if c.auth == nil {
		return false
	}
	ctx := c.auth.Authenticate(req, security.ScopeRead)
	return ctx.Allowed
}

func bestPatternScore(rawURL string, patterns []*regexp.Regexp) (score int, matchLen int) {
	parsed, err := url.Parse(rawURL)
	pathIndex := len(rawURL)
	if err == nil && parsed.Path != "" {
		if idx := strings.Index(rawURL, parsed.Path); idx >= 0 {
			pathIndex = idx
		}
	}

	for _, re := range patterns {
		loc := re.FindStringIndex(rawURL)
		if loc == nil {
			continue
		}
		length := loc[1] - loc[0]
		bonus := 0
		if loc[0] >= pathIndex {
			bonus = 100
		}
		s := length + bonus
		if s > score {
			score = s
			matchLen = length
		}
	}
	return score, matchLen
}

func classifyByHeaders(req *http.Request) (flow.TrafficType, string) {
	if req.Header.Get("X-Agent-To-Agent") != "" || req.Header.Get("X-Swarm-Message") != "" {
		return flow.TrafficAgentToAgent, "swarm_message"
	}
	if req.Header.Get("X-Agent-Role") != "" || req.Header.Get("Agent-Role") != "" {
		return flow.TrafficAgentToAgent, "role_header"
	}
	if strings.Contains(strings.ToLower(req.Header.Get("User-Agent")), "autogen") {
		return flow.TrafficAgentToAgent, "autogen"
	}
	if authHeader := req.Header.Get("Authorization"); authHeader != "" {
		if strings.Contains(authHeader, "sk-") || strings.Contains(authHeader, "Bearer") {
			u := req.URL.String()
			if strings.Contains(u, "openai") || strings.Contains(u, "anthropic") {
				return flow.TrafficLLMAPI, ""
			}
		}
	}
	return flow.TrafficUnknown, ""
}

func classifyByBody(body []byte) (flow.TrafficType, string) {
	if len(body) == 0 || len(body) > maxBodyClassifyBytes {
		return flow.TrafficUnknown, ""
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return flow.TrafficUnknown, ""
	}

	if messages, ok := doc["messages"].([]any); ok {
		for _, m := range messages {
			msg, ok := m.(map[string]any)
			if !ok {
				continue
			}
			if _, has := msg["tool_calls"]; has {
				return flow.TrafficToolCall, "llm_tool_call"
			}
			if _, has := msg["function_call"]; has {
				return flow.TrafficToolCall, "llm_tool_call"
			}
			if role, ok := msg["role"].(string); ok {
				if role == "system" || role == "user" || role == "assistant" {
					if _, hasModel := doc["model"]; hasModel {
						return flow.TrafficLLMAPI, ""
					}
					if _, hasTemp := doc["temperature"]; hasTemp {
						return flow.TrafficLLMAPI, ""
					}
				}
			}
		}
	}

	if _, hasSender := doc["sender"]; hasSender {
		if _, hasReceiver := doc["receiver"]; hasReceiver {
			return flow.TrafficAgentToAgent, "autogen_message"
		}
	}
	if _, ok := doc["agent_id"]; ok {
		return flow.TrafficAgentToAgent, "swarm_message"
	}
	if _, ok := doc["swarm_id"]; ok {
		return flow.TrafficAgentToAgent, "swarm_message"
	}
	if hasAnyKey(doc, "from_agent", "to_agent", "agent_role") {
		return flow.TrafficAgentToAgent, "agent_metadata"
	}
	if hasAnyKey(doc, "tool", "function", "action", "command") {
		return flow.TrafficToolCall, "direct_tool_call"
	}

	return flow.TrafficUnknown, ""
}

func hasAnyKey(doc map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := doc[k]; ok {
			return true
		}
	}
	return false
}

func (c *Classifier) detectAgentSubtype(req *http.Request, body []byte) string {
	u := strings.ToLower(req.URL.String())

	switch {
	case strings.Contains(u, "supervisor") || strings.Contains(u, "manager"):
		return "supervisor_to_worker"
	case strings.Contains(u, "consensus") || strings.Contains(u, "vote"):
		return "consensus_vote"
	case strings.Contains(u, "worker") || strings.Contains(u, "agent-"):
		return "worker_communication"
	}

	if req.Header.Get("X-Swarm-Phase") == "consensus" {
		return "consensus_vote"
	}
	if req.Header.Get("X-Agent-Role") == "supervisor" {
		return "supervisor_to_worker"
	}

	if len(body) > 0 {
		lower := strings.ToLower(string(body))
		if strings.Contains(lower, "consensus") || strings.Contains(lower, "vote") {
			return "consensus_vote"
		}
	}

	return "agent_to_agent"
}
