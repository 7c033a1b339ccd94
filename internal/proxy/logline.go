package proxy

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/agentchaos/chaosproxy/internal/flow"
)

// proxyLogLine mirrors the structured proxy log shape in spec §6.
type proxyLogLine struct {
	Timestamp      string  `json:"timestamp"`
	Method         string  `json:"method"`
	URL            string  `json:"url"`
	StatusCode     int     `json:"status_code"`
	ChaosApplied   *string `json:"chaos_applied"`
	ToolName       *string `json:"tool_name"`
	Fuzzed         bool    `json:"fuzzed"`
	AgentRole      string  `json:"agent_role"`
	TrafficType    string  `json:"traffic_type"`
	TrafficSubtype string  `json:"traffic_subtype"`
}

// buildLogLine renders one structured proxy log JSON line for f, per spec
// §6. url is redacted; chaos_applied is a comma-joined list of the
// strategies that fired, or null if none did.
func (p *Pipeline) buildLogLine(f *flow.State) ([]byte, error) {
	line := proxyLogLine{
		Timestamp:      time.Now().Format("2006-01-02T15:04:05.000"),
		Method:         f.Method,
		URL:            p.redactor.RedactURL(f.URL),
		StatusCode:     f.ResponseStatus,
		AgentRole:      f.AgentRole,
		TrafficType:    string(f.TrafficType),
		TrafficSubtype: f.TrafficSubtype,
		Fuzzed:         containsStrategy(f.AppliedStrategies, "mcp_fuzzing"),
	}
	if len(f.AppliedStrategies) > 0 {
		joined := strings.Join(f.AppliedStrategies, ",")
		line.ChaosApplied = &joined
	}
	if tool := toolNameFor(f); tool != "" {
		line.ToolName = &tool
	}
	return json.Marshal(line)
}

func containsStrategy(applied []string, name string) bool {
	for _, s := range applied {
		if s == name {
			return true
		}
	}
	return false
}

// toolNameFor maps a flow to the spec's fixed tool_name enumeration:
// search_flights | book_ticket | llm_request | null.
func toolNameFor(f *flow.State) string {
	switch {
	case strings.Contains(f.URL, "search_flights"):
		return "search_flights"
	case strings.Contains(f.URL, "book_ticket"):
		return "book_ticket"
	case f.TrafficType == flow.TrafficLLMAPI:
		return "llm_request"
	default:
		return ""
	}
}
