// Package plan loads, validates and hot-reloads the chaos plan document
// that drives the classifier and strategy engine.
package plan

// Plan is the immutable chaos plan document, reloaded whenever its file
// content hash changes.
type Plan struct {
	Version      string                 `yaml:"version"`
	Revision     int                    `yaml:"revision"`
	Metadata     map[string]any         `yaml:"metadata"`
	Targets      []Target               `yaml:"targets"`
	Scenarios    []Scenario             `yaml:"scenarios"`
	ReplayConfig ReplayConfig           `yaml:"replay_config"`
	Classifier   *ClassifierRules       `yaml:"classifier_rules,omitempty"`
	ClassifierRulePacks []RulePack      `yaml:"classifier_rule_packs,omitempty"`
}

// TargetType enumerates the kinds of match a Target can describe.
type TargetType string

const (
	TargetHTTPEndpoint TargetType = "http_endpoint"
	TargetLLMInput     TargetType = "llm_input"
	TargetToolCall     TargetType = "tool_call"
	TargetAgentRole    TargetType = "agent_role"
	TargetCustom       TargetType = "custom"
)

// Target names a reusable match pattern that scenarios reference.
type Target struct {
	Name        string     `yaml:"name"`
	Type        TargetType `yaml:"type"`
	Pattern     string     `yaml:"pattern"`
	Description string     `yaml:"description,omitempty"`
}

// Scenario binds a strategy kind to a target with its own parameters.
type Scenario struct {
	Name        string         `yaml:"name"`
	Type        string         `yaml:"type"`
	TargetRef   string         `yaml:"target_ref"`
	Enabled     bool           `yaml:"enabled"`
	Probability float64        `yaml:"probability"`
	Params      map[string]any `yaml:"params"`
}

// ReplayConfig controls what a tape fingerprint or JSONPath mutation
// ignores when comparing or mutating bodies.
type ReplayConfig struct {
	IgnorePaths  []string `yaml:"ignore_paths"`
	IgnoreParams []string `yaml:"ignore_params"`
}

// DefaultIgnorePaths are merged into every plan's replay_config.
var DefaultIgnorePaths = []string{
	"$.timestamp", "$.created_at", "$.date", "$.uuid",
	"$.trace_id", "$.request_id", "$.headers.Date", "$.headers.Server",
}

// ClassifierRules are inline regex overlays merged with the built-in
// defaults and any rule packs.
type ClassifierRules struct {
	LLMPatterns   []string `yaml:"llm_patterns"`
	ToolPatterns  []string `yaml:"tool_patterns"`
	AgentPatterns []string `yaml:"agent_patterns"`
}

// RulePack is a named, reusable ClassifierRules bundle.
type RulePack struct {
	Name            string `yaml:"name"`
	ClassifierRules `yaml:",inline"`
}

// LegacyStrategy is one entry of the flattened to_legacy() projection
// consumed by the proxy's strategy factory.
type LegacyStrategy struct {
	Name        string
	Type        string
	Enabled     bool
	Probability float64
	Params      map[string]any
}

// Legacy is the flattened view of a Plan handed to the strategy factory.
type Legacy struct {
	ExperimentID string
	Strategies   []LegacyStrategy
}

// ToLegacy flattens scenarios, resolving each target_ref into its
// url_pattern/target_role/target_endpoint param per target type.
func ToLegacy(p *Plan) Legacy {
	targets := make(map[string]Target, len(p.Targets))
	for _, t := range p.Targets {
		targets[t.Name] = t
	}

	experimentID, _ := p.Metadata["experiment_id"].(string)

	legacy := Legacy{ExperimentID: experimentID}
	for _, s := range p.Scenarios {
		params := make(map[string]any, len(s.Params)+2)
		for k, v := range s.Params {
			params[k] = v
		}
		params["target_ref"] = s.TargetRef

		if t, ok := targets[s.TargetRef]; ok {
			switch t.Type {
			case TargetAgentRole:
				params["target_role"] = t.Pattern
			case TargetToolCall:
				params["target_endpoint"] = t.Pattern
			default:
				params["url_pattern"] = t.Pattern
			}
		}

		legacy.Strategies = append(legacy.Strategies, LegacyStrategy{
			Name:        s.Name,
			Type:        s.Type,
			Enabled:     s.Enabled,
			Probability: s.Probability,
			Params:      params,
		})
	}
	return legacy
}
