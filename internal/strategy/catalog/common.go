// Package catalog implements the concrete chaos strategies named in spec
// §4.5: latency, error, data_corruption, semantic, mcp_fuzzing,
// hallucination, context_overflow, prompt_injection, phantom_document,
// group_chaos, group_failure, swarm_disruption and simple_log. Every
// strategy embeds strategy.Base for circuit-breaker admission, the
// probability gate and pattern matching.
package catalog

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"

	"github.com/agentchaos/chaosproxy/internal/observability"
	"github.com/agentchaos/chaosproxy/internal/plan"
	"github.com/agentchaos/chaosproxy/internal/strategy"
	"github.com/andybalholm/brotli"
	"go.uber.org/zap"
)

// targetInfo is resolved once per strategy construction from the legacy
// projection's target_ref/url_pattern/target_role/target_endpoint params,
// which plan.ToLegacy populates per target type (see plan/types.go).
type targetInfo struct {
	urlPattern     string
	targetRole     string
	targetEndpoint string
}

func resolveTarget(cfg plan.LegacyStrategy) targetInfo {
	return targetInfo{
		urlPattern:     strategy.StringParam(cfg.Params, "url_pattern", ""),
		targetRole:     strategy.StringParam(cfg.Params, "target_role", ""),
		targetEndpoint: strategy.StringParam(cfg.Params, "target_endpoint", ""),
	}
}

// buildBase constructs a strategy.Base from a legacy-projected scenario
// config, inferring the target type from which param plan.ToLegacy set:
// target_role -> agent_role matching (both URL and role header), otherwise
// an (optional) url_pattern match.
func buildBase(logger *zap.SugaredLogger, obs *observability.Manager, cfg plan.LegacyStrategy, phases ...strategy.Phase) *strategy.Base {
	t := resolveTarget(cfg)

	targetType := plan.TargetHTTPEndpoint
	pattern := t.urlPattern
	if t.targetRole != "" {
		targetType = plan.TargetAgentRole
		pattern = t.targetRole
	} else if t.targetEndpoint != "" {
		targetType = plan.TargetToolCall
		pattern = t.targetEndpoint
	}

	patterns := strategy.CompilePatterns(logger, cfg.Name, pattern)
	return strategy.NewBase(logger, obs, cfg.Name, cfg.Enabled, cfg.TargetRef, targetType, cfg.Probability, patterns, phases...)
}

// decodeBody decompresses body per contentEncoding ("gzip", "br", or "").
func decodeBody(body []byte, contentEncoding string) ([]byte, error) {
	switch contentEncoding {
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	default:
		return body, nil
	}
}

// encodeBody recompresses body per contentEncoding, matching spec §4.5's
// phantom_document "compression symmetry": on encode failure the caller
// should fall back to uncompressed and strip the header.
func encodeBody(body []byte, contentEncoding string) ([]byte, error) {
	switch contentEncoding {
	case "gzip":
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "br":
		var buf bytes.Buffer
		w := brotli.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return body, nil
	}
}

// isJSONBody reports whether a Content-Type value denotes JSON.
func isJSONBody(contentType string) bool {
	return bytes.Contains([]byte(contentType), []byte("json"))
}

// parseJSON is a small helper so strategies share one error message style.
func parseJSON(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse json body: %w", err)
	}
	return nil
}

// randomChoice picks a uniformly random element; callers must pass a
// non-empty slice.
func randomChoice[T any](items []T) T {
	return items[rand.Intn(len(items))]
}
