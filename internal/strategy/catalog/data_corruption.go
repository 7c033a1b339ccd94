package catalog

import (
	"bytes"
	"encoding/json"
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
	strategy.RegisterDefault("data_corruption", newDataCorruptionStrategy)
}

// DataCorruptionStrategy replaces a random scalar leaf in a JSON or NDJSON
// response body with a corruption marker, per spec §4.5 "data_corruption".
type DataCorruptionStrategy struct {
	*strategy.Base
	corruptionText string
}

func newDataCorruptionStrategy(logger *zap.SugaredLogger, obs *observability.Manager, cfg plan.LegacyStrategy) (strategy.Strategy, error) {
	return &DataCorruptionStrategy{
		Base:           buildBase(logger, obs, cfg, strategy.PhaseResponse),
		corruptionText: strategy.StringParam(cfg.Params, "corruption_text", "\U0001F4A5 CHAOS \U0001F4A5"),
	}, nil
}

// Apply mutates f.ResponseBody in place when its content type is JSON or
// NDJSON; any other content type, or an unparseable body, is left untouched.
func (s *DataCorruptionStrategy) Apply(f *flow.State, req *http.Request) (bool, error) {
	return s.Run(f, req, func(f *flow.State, req *http.Request) (bool, error) {
		if !s.RollProbability() {
			return false, nil
		}

		contentType := firstHeader(f.ResponseHeaders, "Content-Type")
		switch {
		case strings.Contains(contentType, "application/x-ndjson") || strings.Contains(contentType, "ndjson"):
			corrupted, ok := s.corruptNDJSON(f.ResponseBody)
			if !ok {
				return false, nil
			}
			f.ResponseBody = corrupted
			return true, nil
		case strings.Contains(contentType, "application/json"):
			var doc any
			if err := json.Unmarshal(f.ResponseBody, &doc); err != nil {
				return false, nil
			}
			if !corruptJSON(&doc, s.corruptionText) {
				return false, nil
			}
			out, err := json.Marshal(doc)
			if err != nil {
				return false, nil
			}
			f.ResponseBody = out
			return true, nil
		default:
			return false, nil
		}
	})
}

// corruptJSON recursively descends into a random dict key or list index at
// each level and replaces the terminal scalar, per spec §4.5.
func corruptJSON(doc *any, corruptionText string) bool {
	switch v := (*doc).(type) {
	case map[string]any:
		if len(v) == 0 {
			return false
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		key := keys[rand.Intn(len(keys))]
		child := v[key]
		if !isContainer(child) {
			v[key] = corruptionText
			return true
		}
		return corruptJSON(&child, corruptionText) && setMapValue(v, key, child)
	case []any:
		if len(v) == 0 {
			return false
		}
		idx := rand.Intn(len(v))
		child := v[idx]
		if !isContainer(child) {
			v[idx] = corruptionText
			return true
		}
		return corruptJSON(&child, corruptionText) && setSliceValue(v, idx, child)
	default:
		return false
	}
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}

func setMapValue(m map[string]any, key string, v any) bool {
	m[key] = v
	return true
}

func setSliceValue(s []any, idx int, v any) bool {
	s[idx] = v
	return true
}

// corruptNDJSON parses each line as JSON, corrupts exactly one random
// valid line, and reassembles preserving line boundaries.
func (s *DataCorruptionStrategy) corruptNDJSON(body []byte) ([]byte, bool) {
	lines := bytes.Split(body, []byte("\n"))
	valid := make([]int, 0, len(lines))
	for i, line := range lines {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		var doc any
		if json.Unmarshal(trimmed, &doc) == nil {
			valid = append(valid, i)
		}
	}
	if len(valid) == 0 {
		return nil, false
	}

	target := valid[rand.Intn(len(valid))]
	var doc any
	if err := json.Unmarshal(lines[target], &doc); err != nil {
		return nil, false
	}
	corruptJSON(&doc, s.corruptionText)
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, false
	}
	lines[target] = out

	return bytes.Join(lines, []byte("\n")), true
}

func firstHeader(headers map[string][]string, key string) string {
	if headers == nil {
		return ""
	}
	for k, v := range headers {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

var _ strategy.Strategy = (*DataCorruptionStrategy)(nil)
