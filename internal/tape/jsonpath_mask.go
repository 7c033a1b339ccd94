package tape

import (
	"fmt"
	"strings"

	"github.com/agentchaos/chaosproxy/internal/jsonpathx"
)

const maskedValue = "[MASKED]"

// maskJSONPath replaces every leaf matched by path with a masking sentinel.
// jsonpathx.Matches runs the real JSONPath engine first to decide whether
// the path is well-formed and matches anything in doc; only then does the
// small recursive matcher below -- understanding the same dot/wildcard/
// index subset -- perform the actual in-place rewrite, since the engine's
// Get has no mutating counterpart. It reports whether anything was masked.
func maskJSONPath(doc *any, path string) bool {
	n, err := jsonpathx.Matches(*doc, path)
	if err != nil || n == 0 {
		return false
	}

	segments, ok := parsePath(path)
	if !ok {
		return false
	}
	applyMask(*doc, segments)
	return true
}

type maskSegment struct {
	key      string
	wildcard bool
	index    int
	hasIndex bool
}

func parsePath(path string) ([]maskSegment, bool) {
	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")
	if path == "" {
		return nil, false
	}
	var segments []maskSegment
	for _, part := range strings.Split(path, ".") {
		key := part
		seg := maskSegment{}
		if idx := strings.Index(part, "["); idx >= 0 {
			if !strings.HasSuffix(part, "]") {
				return nil, false
			}
			key = part[:idx]
			inner := part[idx+1 : len(part)-1]
			if inner == "*" {
				seg.wildcard = true
			} else {
				var n int
				if _, err := fmt.Sscanf(inner, "%d", &n); err != nil {
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

func applyMask(node any, segments []maskSegment) {
	if len(segments) == 0 {
		return
	}
	seg := segments[0]
	rest := segments[1:]

	m, ok := node.(map[string]any)
	if !ok {
		return
	}
	child, ok := m[seg.key]
	if !ok {
		return
	}

	if !seg.wildcard && !seg.hasIndex {
		if len(rest) == 0 {
			m[seg.key] = maskedValue
			return
		}
		applyMask(child, rest)
		return
	}

	arr, ok := child.([]any)
	if !ok {
		return
	}
	if seg.hasIndex {
		if seg.index < 0 || seg.index >= len(arr) {
			return
		}
		if len(rest) == 0 {
			arr[seg.index] = maskedValue
			return
		}
		applyMask(arr[seg.index], rest)
		return
	}

	for i, item := range arr {
		if len(rest) == 0 {
			arr[i] = maskedValue
			continue
		}
		applyMask(item, rest)
	}
}
