package plan

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Load reads path, parses it as the plan YAML schema, and validates it
// against the invariants in spec §3. Strict mode flags gate additional
// requirements (rule packs, JSONPath engine, JWT library, tape key) that
// are checked by their respective consuming components, not here — Load
// only validates the structural invariants every plan must satisfy.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read plan file: %v", ErrConfigInvalid, err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: parse plan yaml: %v", ErrConfigInvalid, err)
	}

	if err := validate(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	mergeDefaultIgnorePaths(&p)

	return &p, nil
}

func validate(p *Plan) error {
	targetNames := make(map[string]bool, len(p.Targets))
	for _, t := range p.Targets {
		if t.Name == "" {
			return fmt.Errorf("target missing name")
		}
		if targetNames[t.Name] {
			return fmt.Errorf("duplicate target name %q", t.Name)
		}
		targetNames[t.Name] = true

		if t.Pattern == "" {
			return fmt.Errorf("target %q: empty pattern", t.Name)
		}
		if _, err := regexp.Compile(t.Pattern); err != nil {
			return fmt.Errorf("target %q: invalid pattern: %w", t.Name, err)
		}
	}

	scenarioNames := make(map[string]bool, len(p.Scenarios))
	for _, s := range p.Scenarios {
		if s.Name == "" {
			return fmt.Errorf("scenario missing name")
		}
		if scenarioNames[s.Name] {
			return fmt.Errorf("duplicate scenario name %q", s.Name)
		}
		scenarioNames[s.Name] = true

		if !targetNames[s.TargetRef] {
			return fmt.Errorf("scenario %q: target_ref %q does not resolve", s.Name, s.TargetRef)
		}
		if s.Probability < 0 || s.Probability > 1 {
			return fmt.Errorf("scenario %q: probability %v out of [0,1]", s.Name, s.Probability)
		}
	}

	for _, pack := range p.ClassifierRulePacks {
		if err := validateRegexList(pack.LLMPatterns); err != nil {
			return fmt.Errorf("rule pack %q: %w", pack.Name, err)
		}
		if err := validateRegexList(pack.ToolPatterns); err != nil {
			return fmt.Errorf("rule pack %q: %w", pack.Name, err)
		}
		if err := validateRegexList(pack.AgentPatterns); err != nil {
			return fmt.Errorf("rule pack %q: %w", pack.Name, err)
		}
	}

	if p.Classifier != nil {
		if err := validateRegexList(p.Classifier.LLMPatterns); err != nil {
			return err
		}
		if err := validateRegexList(p.Classifier.ToolPatterns); err != nil {
			return err
		}
		if err := validateRegexList(p.Classifier.AgentPatterns); err != nil {
			return err
		}
	}

	return nil
}

func validateRegexList(patterns []string) error {
	for _, pat := range patterns {
		if _, err := regexp.Compile(pat); err != nil {
			return fmt.Errorf("invalid regex %q: %w", pat, err)
		}
	}
	return nil
}

func mergeDefaultIgnorePaths(p *Plan) {
	seen := make(map[string]bool, len(p.ReplayConfig.IgnorePaths))
	for _, ip := range p.ReplayConfig.IgnorePaths {
		seen[ip] = true
	}
	for _, d := range DefaultIgnorePaths {
		if !seen[d] {
			p.ReplayConfig.IgnorePaths = append(p.ReplayConfig.IgnorePaths, d)
			seen[d] = true
		}
	}
}

// HasRulePacks reports whether the plan carries at least one classifier
// rule pack, used by CLASSIFIER_STRICT enforcement.
func (p *Plan) HasRulePacks() bool {
	return len(p.ClassifierRulePacks) > 0
}
