package tape

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/agentchaos/chaosproxy/internal/flow"
)

// allowlistedHeaders are the only request headers that participate in a
// fingerprint's headers_hash, per spec §3.
var allowlistedHeaders = []string{"content-type"}

// Fingerprinter computes deterministic request fingerprints for tape
// lookups, normalizing query parameters and JSON bodies per the active
// plan's replay_config.
type Fingerprinter struct {
	ignoreParams map[string]bool
	ignorePaths  []string
}

// NewFingerprinter builds a Fingerprinter from a replay config's
// ignore_params/ignore_paths (already merged with plan.DefaultIgnorePaths
// by the caller).
func NewFingerprinter(ignoreParams, ignorePaths []string) *Fingerprinter {
	set := make(map[string]bool, len(ignoreParams))
	for _, p := range ignoreParams {
		set[strings.ToLower(p)] = true
	}
	return &Fingerprinter{ignoreParams: set, ignorePaths: ignorePaths}
}

// Fingerprint computes the spec §3 request fingerprint: method uppercased,
// URL with ignored query params filtered and remaining keys sorted, a
// SHA-256 body hash over the normalized JSON body (or empty for non-JSON),
// and a SHA-256 headers hash over the content-type allowlist only.
func (fp *Fingerprinter) Fingerprint(method, rawURL string, body []byte, headers map[string][]string) (flow.Fingerprint, error) {
	normalizedURL, err := fp.normalizeURL(rawURL)
	if err != nil {
		return flow.Fingerprint{}, fmt.Errorf("normalize url: %w", err)
	}

	bodyHash, err := fp.bodyHash(body, headers)
	if err != nil {
		return flow.Fingerprint{}, fmt.Errorf("normalize body: %w", err)
	}

	return flow.Fingerprint{
		Method:      strings.ToUpper(method),
		URL:         normalizedURL,
		BodyHash:    bodyHash,
		HeadersHash: fp.headersHash(headers),
	}, nil
}

// normalizeURL strips ignored query params and sorts the remaining keys
// (and their values) alphabetically.
func (fp *Fingerprinter) normalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	values := u.Query()
	kept := url.Values{}
	for key, vals := range values {
		if fp.ignoreParams[strings.ToLower(key)] {
			continue
		}
		sorted := append([]string{}, vals...)
		sort.Strings(sorted)
		for _, v := range sorted {
			kept.Add(key, v)
		}
	}

	keys := make([]string, 0, len(kept))
	for k := range kept {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		for j, v := range kept[k] {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}

	base := u.Scheme + "://" + u.Host + u.Path
	if u.Scheme == "" && u.Host == "" {
		base = u.Path
	}
	if b.Len() == 0 {
		return base, nil
	}
	return base + "?" + b.String(), nil
}

// bodyHash normalizes a JSON body (parse, mask ignore_paths, re-serialize
// with sorted keys) and returns its SHA-256 hex digest. Non-JSON or empty
// bodies produce an empty hash, matching "body_hash over normalized body or
// null" in spec §3.
func (fp *Fingerprinter) bodyHash(body []byte, headers map[string][]string) (string, error) {
	if len(body) == 0 {
		return "", nil
	}
	if !looksLikeJSON(body) {
		return "", nil
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", nil
	}

	for _, path := range fp.ignorePaths {
		maskJSONPath(&doc, path)
	}

	normalized, err := canonicalJSON(doc)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

// headersHash hashes the JSON-serialized, sorted allowlisted header values.
func (fp *Fingerprinter) headersHash(headers map[string][]string) string {
	allowed := map[string]string{}
	for key, vals := range headers {
		lower := strings.ToLower(key)
		for _, allow := range allowlistedHeaders {
			if lower == allow && len(vals) > 0 {
				allowed[allow] = vals[0]
			}
		}
	}

	keys := make([]string, 0, len(allowed))
	for k := range allowed {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make(map[string]string, len(keys))
	for _, k := range keys {
		ordered[k] = allowed[k]
	}

	out, _ := json.Marshal(ordered)
	sum := sha256.Sum256(out)
	return hex.EncodeToString(sum[:])
}

func looksLikeJSON(body []byte) bool {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return false
	}
	return trimmed[0] == '{' || trimmed[0] == '['
}

// canonicalJSON re-serializes a decoded JSON value with map keys sorted,
// matching Python's json.dumps(sort_keys=True) used by the original
// fingerprinting implementation.
func canonicalJSON(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var b strings.Builder
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			b.Write(kb)
			b.WriteByte(':')
			vb, err := canonicalJSON(t[k])
			if err != nil {
				return nil, err
			}
			b.Write(vb)
		}
		b.WriteByte('}')
		return []byte(b.String()), nil
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				b.WriteByte(',')
			}
			ib, err := canonicalJSON(item)
			if err != nil {
				return nil, err
			}
			b.Write(ib)
		}
		b.WriteByte(']')
		return []byte(b.String()), nil
	default:
		return json.Marshal(t)
	}
}
