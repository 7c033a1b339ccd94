package catalog

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/agentchaos/chaosproxy/internal/flow"
	"github.com/agentchaos/chaosproxy/internal/jsonpathx"
	"github.com/agentchaos/chaosproxy/internal/observability"
	"github.com/agentchaos/chaosproxy/internal/plan"
	"github.com/agentchaos/chaosproxy/internal/strategy"
	"go.uber.org/zap"
)

func init() {
	strategy.RegisterDefault("phantom_document", newPhantomDocumentStrategy)
}

const maxPhantomBodySize = 10 * 1024 * 1024

// PhantomDocumentStrategy poisons RAG-style search results by rewriting
// matched JSONPath string leaves, per spec §4.5 "phantom_document".
type PhantomDocumentStrategy struct {
	*strategy.Base
	jsonPath             string
	mode                 string // overwrite, injection
	misinformationSource []string
}

var defaultMisinformation = []string{
	"FAKE: Verified sources confirm the opposite is true.",
	"FAKE: This claim was retracted in a later revision.",
	"FAKE: Independent fact-checkers dispute this entirely.",
}

func newPhantomDocumentStrategy(logger *zap.SugaredLogger, obs *observability.Manager, cfg plan.LegacyStrategy) (strategy.Strategy, error) {
	source := strategy.StringSliceParam(cfg.Params, "misinformation_source")
	if len(source) == 0 {
		source = defaultMisinformation
	}
	mode := strategy.StringParam(cfg.Params, "mode", "overwrite")
	if mode != "overwrite" && mode != "injection" {
		mode = "overwrite"
	}
	return &PhantomDocumentStrategy{
		Base:                 buildBase(logger, obs, cfg, strategy.PhaseResponse),
		jsonPath:             strategy.StringParam(cfg.Params, "target_json_path", "$.matches[*].metadata.text"),
		mode:                 mode,
		misinformationSource: source,
	}, nil
}

// Apply evaluates the configured JSONPath against the response body and
// rewrites every matched string leaf. The JSONPath engine runs first and is
// authoritative for whether the path resolves to anything at all; zero
// matches (malformed path or a genuine miss) emits INVALID_JSONPATH and the
// rag.jsonpath_miss skip metric without attempting a rewrite. The engine
// has no mutating counterpart to its Get, so the actual in-place rewrite is
// still performed by the path walker below, restricted to the same
// dot/wildcard/index subset the engine resolved.
func (s *PhantomDocumentStrategy) Apply(f *flow.State, req *http.Request) (bool, error) {
	return s.Run(f, req, func(f *flow.State, req *http.Request) (bool, error) {
		if !s.RollProbability() {
			return false, nil
		}
		if len(f.ResponseBody) > maxPhantomBodySize {
			return false, nil
		}

		contentEncoding := firstHeader(f.ResponseHeaders, "Content-Encoding")
		raw, err := decodeBody(f.ResponseBody, contentEncoding)
		if err != nil {
			return false, nil
		}

		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return false, nil
		}

		if n, err := jsonpathx.Matches(doc, s.jsonPath); err != nil || n == 0 {
			if s.Observability() != nil && s.Observability().Metrics() != nil {
				s.Observability().Metrics().RecordErrorCode("INVALID_JSONPATH", s.NameValue)
				s.Observability().Metrics().RecordInjectionSkipped(s.NameValue, "rag.jsonpath_miss")
			}
			return false, nil
		}

		matched := s.mutateMatches(doc)
		if matched == 0 {
			if s.Observability() != nil && s.Observability().Metrics() != nil {
				s.Observability().Metrics().RecordErrorCode("INVALID_JSONPATH", s.NameValue)
				s.Observability().Metrics().RecordInjectionSkipped(s.NameValue, "rag.jsonpath_miss")
			}
			return false, nil
		}

		out, err := json.Marshal(doc)
		if err != nil {
			return false, nil
		}

		encoded, err := encodeBody(out, contentEncoding)
		if err != nil {
			f.ResponseBody = out
			delete(f.ResponseHeaders, "Content-Encoding")
			delete(f.ResponseHeaders, "content-encoding")
			return true, nil
		}
		f.ResponseBody = encoded
		return true, nil
	})
}

// pathSegment is one dot-separated component of a simplified JSONPath like
// "$.matches[*].metadata.text": a map key, optionally followed by an array
// wildcard ("[*]") or a literal index ("[2]").
type pathSegment struct {
	key      string
	wildcard bool
	index    int
	hasIndex bool
}

// parseSimplePath parses the subset of JSONPath used by the RAG shapes named
// in spec §4.5 ($.matches[*].metadata.text, $.data.Get.Document[*].content,
// $.results[*].snippet) so the matched leaves jsonpathx.Matches already
// confirmed exist can actually be rewritten in place. Paths outside this
// subset (filters, recursive descent, unions) fail to parse here even
// though the engine itself might resolve them, which also falls back to
// INVALID_JSONPATH rather than silently mutating the wrong leaves.
func parseSimplePath(path string) ([]pathSegment, bool) {
	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return nil, false
	}
	var segments []pathSegment
	for _, part := range strings.Split(path, ".") {
		key := part
		seg := pathSegment{}
		if idx := strings.Index(part, "["); idx >= 0 {
			if !strings.HasSuffix(part, "]") {
				return nil, false
			}
			key = part[:idx]
			inner := part[idx+1 : len(part)-1]
			if inner == "*" {
				seg.wildcard = true
			} else {
				n, err := strconv.Atoi(inner)
				if err != nil {
					return nil, false
				}
				seg.hasIndex = true
				seg.index = n
			}
		}
		seg.key = key
		segments = append(segments, seg)
	}
	return segments, true
}

// mutateMatches parses s.jsonPath and rewrites every matched string leaf in
// place, returning the number of leaves rewritten.
func (s *PhantomDocumentStrategy) mutateMatches(doc any) int {
	segments, ok := parseSimplePath(s.jsonPath)
	if !ok {
		return 0
	}
	return s.applyPath(doc, segments)
}

func (s *PhantomDocumentStrategy) applyPath(node any, segments []pathSegment) int {
	if len(segments) == 0 {
		return 0
	}
	seg := segments[0]
	rest := segments[1:]

	m, ok := node.(map[string]any)
	if !ok {
		return 0
	}
	child, ok := m[seg.key]
	if !ok {
		return 0
	}

	if !seg.wildcard && !seg.hasIndex {
		return s.assignOrDescend(m, seg.key, child, rest)
	}

	arr, ok := child.([]any)
	if !ok {
		return 0
	}
	if seg.hasIndex {
		if seg.index < 0 || seg.index >= len(arr) {
			return 0
		}
		return s.assignOrDescendIndex(arr, seg.index, arr[seg.index], rest)
	}

	count := 0
	for i, item := range arr {
		count += s.assignOrDescendIndex(arr, i, item, rest)
	}
	return count
}

func (s *PhantomDocumentStrategy) assignOrDescend(m map[string]any, key string, value any, rest []pathSegment) int {
	if len(rest) == 0 {
		str, ok := value.(string)
		if !ok {
			return 0
		}
		m[key] = s.rewriteLeaf(str)
		return 1
	}
	return s.applyPath(value, rest)
}

func (s *PhantomDocumentStrategy) assignOrDescendIndex(arr []any, idx int, value any, rest []pathSegment) int {
	if len(rest) == 0 {
		str, ok := value.(string)
		if !ok {
			return 0
		}
		arr[idx] = s.rewriteLeaf(str)
		return 1
	}
	return s.applyPath(value, rest)
}

func (s *PhantomDocumentStrategy) rewriteLeaf(original string) string {
	fact := randomChoice(s.misinformationSource)
	if s.mode == "injection" {
		return fmt.Sprintf("%s\n\n[CONFLICTING INFO] %s", original, fact)
	}
	return fact
}

var _ strategy.Strategy = (*PhantomDocumentStrategy)(nil)
