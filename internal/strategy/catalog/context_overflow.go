package catalog

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/agentchaos/chaosproxy/internal/flow"
	"github.com/agentchaos/chaosproxy/internal/observability"
	"github.com/agentchaos/chaosproxy/internal/plan"
	"github.com/agentchaos/chaosproxy/internal/strategy"
	"go.uber.org/zap"
)

func init() {
	strategy.RegisterDefault("context_overflow", newContextOverflowStrategy)
}

var overflowTargetFields = []string{"prompt", "description", "content", "message", "input", "text"}

const overflowFiller = "The quick brown fox jumps over the lazy dog. "

// ContextOverflowStrategy appends a generated filler blob to a request's
// text-bearing fields to push the request toward a model's context limit,
// per spec §4.5 "context_overflow".
type ContextOverflowStrategy struct {
	*strategy.Base
	overflowSize int
}

func newContextOverflowStrategy(logger *zap.SugaredLogger, obs *observability.Manager, cfg plan.LegacyStrategy) (strategy.Strategy, error) {
	return &ContextOverflowStrategy{
		Base:         buildBase(logger, obs, cfg, strategy.PhaseRequest),
		overflowSize: strategy.IntParam(cfg.Params, "overflow_size", 50_000),
	}, nil
}

// Apply appends an overflow blob to the last user message of a
// chat-completions messages array, else to the first matching text field of
// the request body, falling back to the raw body bytes when it is not JSON.
func (s *ContextOverflowStrategy) Apply(f *flow.State, req *http.Request) (bool, error) {
	return s.Run(f, req, func(f *flow.State, req *http.Request) (bool, error) {
		if !s.RollProbability() {
			return false, nil
		}
		if len(f.RequestBody) == 0 {
			return false, nil
		}

		blob := buildFiller(s.overflowSize)

		var doc map[string]any
		if err := json.Unmarshal(f.RequestBody, &doc); err == nil {
			if s.overflowMessages(doc, blob) {
				out, merr := json.Marshal(doc)
				if merr == nil {
					f.RequestBody = out
					return true, nil
				}
			}
			for _, key := range overflowTargetFields {
				if str, ok := doc[key].(string); ok {
					doc[key] = str + blob
					out, merr := json.Marshal(doc)
					if merr == nil {
						f.RequestBody = out
						return true, nil
					}
				}
			}
			return false, nil
		}

		f.RequestBody = append(append([]byte{}, f.RequestBody...), []byte(blob)...)
		return true, nil
	})
}

// overflowMessages appends the filler to the last user message's content in
// a chat-completions-style messages array, returning whether it found one.
func (s *ContextOverflowStrategy) overflowMessages(doc map[string]any, blob string) bool {
	messages, ok := doc["messages"].([]any)
	if !ok {
		return false
	}
	for i := len(messages) - 1; i >= 0; i-- {
		msg, ok := messages[i].(map[string]any)
		if !ok {
			continue
		}
		content, ok := msg["content"].(string)
		if !ok {
			continue
		}
		msg["content"] = content + blob
		return true
	}
	return false
}

func buildFiller(size int) string {
	var b strings.Builder
	b.Grow(size + len(overflowFiller))
	for b.Len() < size {
		b.WriteString(overflowFiller)
	}
	return b.String()[:size]
}

var _ strategy.Strategy = (*ContextOverflowStrategy)(nil)
