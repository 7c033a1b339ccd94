package catalog

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"

	"github.com/agentchaos/chaosproxy/internal/flow"
	"github.com/agentchaos/chaosproxy/internal/observability"
	"github.com/agentchaos/chaosproxy/internal/plan"
	"github.com/agentchaos/chaosproxy/internal/strategy"
	"go.uber.org/zap"
)

func init() {
	strategy.RegisterDefault("mcp_fuzzing", newMCPFuzzingStrategy)
}

var dateFieldHints = []string{"date", "time", "datetime", "timestamp", "departure", "arrival", "checkin", "checkout"}
var numericFieldHints = []string{"price", "amount", "cost", "quantity", "count", "number", "id", "age", "seats", "passengers"}
var stringFieldHints = []string{"name", "description", "message", "text", "content", "origin", "destination", "city"}

var invalidDateFormats = []string{
	"2025/13/40", "yesterday", "tomorrow", "2025-13-01", "2025-02-30",
	"2025-00-01", "2025-01-00", "13/40/2025", "2025-1-1", "25-12-2025",
}

var sqlInjectionPayloads = []string{
	"' OR '1'='1", "'; DROP TABLE users; --", "' UNION SELECT * FROM users --",
	"1' OR '1'='1", "admin'--", "' OR 1=1--", "1' UNION SELECT NULL--",
}

var bufferOverflowSizes = map[string]int{
	"medium": 10_000, "large": 100_000, "huge": 1_000_000, "massive": 10_000_000,
}

// MCPFuzzingStrategy injects schema-aware and type-confusion faults into
// detected tool-call arguments, per spec §4.5 "mcp_fuzzing".
type MCPFuzzingStrategy struct {
	*strategy.Base
	fuzzType       string
	targetEndpoint string
	fieldMode      map[string]string
}

var validFuzzTypes = map[string]bool{
	"schema_violation": true, "type_mismatch": true, "null_injection": true,
	"garbage_value": true, "random": true,
}

func newMCPFuzzingStrategy(logger *zap.SugaredLogger, obs *observability.Manager, cfg plan.LegacyStrategy) (strategy.Strategy, error) {
	fuzzType := strategy.StringParam(cfg.Params, "fuzz_type", "schema_violation")
	if !validFuzzTypes[fuzzType] {
		logger.Warnw("invalid fuzz_type, defaulting to schema_violation", "strategy", cfg.Name, "fuzz_type", fuzzType)
		fuzzType = "schema_violation"
	}

	fieldMode := map[string]string{}
	for k, v := range strategy.MapParam(cfg.Params, "field_mode") {
		if s, ok := v.(string); ok {
			fieldMode[k] = s
		}
	}

	t := resolveTarget(cfg)
	return &MCPFuzzingStrategy{
		Base:           buildBase(logger, obs, cfg, strategy.PhaseRequest),
		fuzzType:       fuzzType,
		targetEndpoint: t.targetEndpoint,
		fieldMode:      fieldMode,
	}, nil
}

// Apply detects tool-call shapes in the request body and fuzzes their
// arguments according to fuzzType.
func (s *MCPFuzzingStrategy) Apply(f *flow.State, req *http.Request) (bool, error) {
	return s.Run(f, req, func(f *flow.State, req *http.Request) (bool, error) {
		if !s.RollProbability() {
			return false, nil
		}
		if s.targetEndpoint != "" && !strings.Contains(req.URL.String(), s.targetEndpoint) {
			return false, nil
		}
		if len(f.RequestBody) == 0 {
			return false, nil
		}

		var doc map[string]any
		if err := json.Unmarshal(f.RequestBody, &doc); err != nil {
			return false, nil
		}

		mutated := s.fuzzDocument(doc)
		if !mutated {
			return false, nil
		}

		out, err := json.Marshal(doc)
		if err != nil {
			return false, nil
		}
		f.RequestBody = out

		if f.Span != nil {
			f.Span.SetAttributes(chaosFuzzTypeAttr(s.fuzzType))
		}
		return true, nil
	})
}

// fuzzDocument walks the body for OpenAI tool_calls arguments, Anthropic
// tool_use input blocks, or a flat argument map (direct API calls), and
// fuzzes whichever shape it finds.
func (s *MCPFuzzingStrategy) fuzzDocument(doc map[string]any) bool {
	mutated := false

	if messages, ok := doc["messages"].([]any); ok {
		for _, m := range messages {
			msg, ok := m.(map[string]any)
			if !ok {
				continue
			}
			if toolCalls, ok := msg["tool_calls"].([]any); ok {
				for _, tc := range toolCalls {
					if s.fuzzOpenAIToolCall(tc) {
						mutated = true
					}
				}
			}
			if content, ok := msg["content"].([]any); ok {
				for _, block := range content {
					b, ok := block.(map[string]any)
					if !ok {
						continue
					}
					if t, _ := b["type"].(string); t == "tool_use" {
						if input, ok := b["input"].(map[string]any); ok {
							if s.fuzzFields(input) {
								mutated = true
							}
						}
					}
				}
			}
		}
		if mutated {
			return true
		}
	}

	if _, hasToolCalls := doc["tool_calls"]; hasToolCalls {
		return false
	}

	return s.fuzzFields(doc)
}

func (s *MCPFuzzingStrategy) fuzzOpenAIToolCall(tc any) bool {
	call, ok := tc.(map[string]any)
	if !ok {
		return false
	}
	fn, ok := call["function"].(map[string]any)
	if !ok {
		return false
	}
	argsStr, ok := fn["arguments"].(string)
	if !ok {
		return false
	}
	var args map[string]any
	if json.Unmarshal([]byte(argsStr), &args) != nil {
		return false
	}
	if !s.fuzzFields(args) {
		return false
	}
	out, err := json.Marshal(args)
	if err != nil {
		return false
	}
	fn["arguments"] = string(out)
	return true
}

// fuzzFields classifies each field by name/value and mutates it per
// fuzzType/fieldMode. Returns whether any field was changed.
func (s *MCPFuzzingStrategy) fuzzFields(fields map[string]any) bool {
	mutated := false
	for name, value := range fields {
		fieldType := classifyField(name, value)
		if fieldType == "unknown" {
			continue
		}

		mode := s.modeFor(fieldType)
		newValue, changed := fuzzValue(fieldType, value, mode)
		if !changed {
			continue
		}
		fields[name] = newValue
		mutated = true
	}
	return mutated
}

func (s *MCPFuzzingStrategy) modeFor(fieldType string) string {
	if mode, ok := s.fieldMode[fieldType]; ok {
		return mode
	}
	switch s.fuzzType {
	case "type_mismatch":
		return "type_mismatch"
	case "null_injection":
		return "null"
	case "garbage_value":
		return "garbage"
	case "random":
		return "random"
	default:
		return "random"
	}
}

func classifyField(name string, value any) string {
	lower := strategy.NormalizeKey(name)
	for _, hint := range dateFieldHints {
		if strings.Contains(lower, hint) {
			return "date"
		}
	}
	for _, hint := range numericFieldHints {
		if strings.Contains(lower, hint) {
			return "numeric"
		}
	}
	for _, hint := range stringFieldHints {
		if strings.Contains(lower, hint) {
			return "string"
		}
	}
	switch value.(type) {
	case float64, int:
		return "numeric"
	case string:
		return "string"
	}
	return "unknown"
}

func fuzzValue(fieldType string, original any, mode string) (any, bool) {
	switch fieldType {
	case "date":
		return fuzzDate(mode), true
	case "numeric":
		return fuzzNumeric(original, mode), true
	case "string":
		return fuzzString(mode), true
	}
	return nil, false
}

func fuzzDate(mode string) any {
	switch mode {
	case "sql_injection":
		return randomChoice(sqlInjectionPayloads)
	case "relative_date":
		return randomChoice([]string{"yesterday", "tomorrow", "today", "next week"})
	case "random":
		return randomChoice(append(append([]string{}, invalidDateFormats...), sqlInjectionPayloads...))
	default:
		return randomChoice(invalidDateFormats)
	}
}

func fuzzNumeric(original any, mode string) any {
	switch mode {
	case "negative":
		if n, ok := asFloat(original); ok && n > 0 {
			return -n
		}
		return -999999
	case "max_int":
		return 2147483647
	case "zero":
		return 0
	case "null":
		return nil
	case "random":
		choice := rand.Intn(5)
		switch choice {
		case 0:
			return fmt.Sprintf("%vabc", original)
		case 1:
			return -999999
		case 2:
			return 2147483647
		case 3:
			return 0
		default:
			return nil
		}
	default: // type_mismatch
		return fmt.Sprintf("%vabc", original)
	}
}

func fuzzString(mode string) any {
	switch mode {
	case "empty":
		return ""
	case "sql_injection":
		return randomChoice(sqlInjectionPayloads)
	case "xss":
		return "<script>alert('XSS')</script>"
	case "random":
		choice := rand.Intn(3)
		switch choice {
		case 0:
			return strings.Repeat("A", bufferOverflowSizes["large"])
		case 1:
			return ""
		default:
			return randomChoice(sqlInjectionPayloads)
		}
	default: // buffer_overflow
		sizes := []string{"medium", "large", "huge", "massive"}
		return strings.Repeat("A", bufferOverflowSizes[randomChoice(sizes)])
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}

// TargetEndpoint exposes the configured target_endpoint, so the pipeline
// can open a per-tool-call span (spec §4.3 step 10) without re-parsing params.
func (s *MCPFuzzingStrategy) TargetEndpoint() string { return s.targetEndpoint }

// FuzzType exposes the resolved fuzz type for the same purpose.
func (s *MCPFuzzingStrategy) FuzzType() string { return s.fuzzType }

var _ strategy.Strategy = (*MCPFuzzingStrategy)(nil)
