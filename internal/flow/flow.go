// Package flow holds the shared, dependency-free types that describe a
// single intercepted request/response pair as it moves through the proxy
// pipeline: its classification, the chaos applied to it, and the
// fingerprint used to index tape entries.
package flow

import (
	"context"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
)

// TrafficType is the coarse classification assigned by the classifier.
type TrafficType string

const (
	TrafficUnknown      TrafficType = "UNKNOWN"
	TrafficToolCall     TrafficType = "TOOL_CALL"
	TrafficLLMAPI       TrafficType = "LLM_API"
	TrafficAgentToAgent TrafficType = "AGENT_TO_AGENT"
)

// ChaosContext is attached to every tape entry.
type ChaosContext struct {
	AppliedStrategies []string    `json:"applied_strategies"`
	ChaosApplied      bool        `json:"chaos_applied"`
	TrafficType       TrafficType `json:"traffic_type,omitempty"`
	TrafficSubtype    string      `json:"traffic_subtype,omitempty"`
	AgentRole         string      `json:"agent_role,omitempty"`
}

// AddStrategy appends a strategy name, deduplicated and insertion-ordered.
func (c *ChaosContext) AddStrategy(name string) {
	for _, s := range c.AppliedStrategies {
		if s == name {
			return
		}
	}
	c.AppliedStrategies = append(c.AppliedStrategies, name)
	c.ChaosApplied = true
}

// Fingerprint uniquely identifies a request for tape lookup.
type Fingerprint struct {
	Method      string `json:"method"`
	URL         string `json:"url"`
	BodyHash    string `json:"body_hash,omitempty"`
	HeadersHash string `json:"headers_hash"`
}

// ResponseSnapshot is the serializable form of a response, as stored in a
// tape entry or reconstructed during playback.
type ResponseSnapshot struct {
	StatusCode      int               `json:"status_code"`
	Reason          string            `json:"reason"`
	Headers         map[string]string `json:"headers"`
	Content         []byte            `json:"content"`
	ContentEncoding string            `json:"content_encoding,omitempty"`
}

// State is the per-request, in-memory bookkeeping a flow carries through
// the pipeline. It is created on request entry and released on response
// completion.
type State struct {
	RequestID         string
	StartTime         time.Time
	ResponseHeaderAt  time.Time
	ParentTraceHeader map[string][]string
	AgentRole         string
	TrafficType       TrafficType
	TrafficSubtype    string
	AppliedStrategies []string

	Span oteltrace.Span

	// Method, URL and bodies captured for classification/fingerprinting/
	// strategy application.
	Method         string
	URL            string
	RequestHeaders map[string][]string
	RequestBody    []byte

	ResponseStatus  int
	ResponseReason  string
	ResponseHeaders map[string][]string
	ResponseBody    []byte

	UserID string
	Scopes []string
}

// NewState creates a fresh flow state for an inbound request.
func NewState(requestID string) *State {
	return &State{
		RequestID:   requestID,
		StartTime:   time.Now(),
		TrafficType: TrafficUnknown,
	}
}

// AddAppliedStrategy records a strategy name against the flow, deduplicated
// and insertion-ordered.
func (s *State) AddAppliedStrategy(name string) {
	for _, existing := range s.AppliedStrategies {
		if existing == name {
			return
		}
	}
	s.AppliedStrategies = append(s.AppliedStrategies, name)
}

// flowStateKey is the context key under which a *State is stored.
type flowStateKey struct{}

// WithState returns a context carrying the given flow state.
func WithState(ctx context.Context, s *State) context.Context {
	return context.WithValue(ctx, flowStateKey{}, s)
}

// FromContext extracts the flow state previously stored with WithState.
func FromContext(ctx context.Context) (*State, bool) {
	s, ok := ctx.Value(flowStateKey{}).(*State)
	return s, ok
}
