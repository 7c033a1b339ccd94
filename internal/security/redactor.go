// Package security implements PII/secret redaction and control-plane
// authentication for the proxy.
package security

import (
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

type redactionPattern struct {
	name        string
	re          *regexp.Regexp
	placeholder string
}

// orderedPatterns runs most-specific first so that, for instance, Anthropic
// keys are masked before the more permissive OpenAI pattern can match them.
var orderedPatterns = []redactionPattern{
	{"api_key_anthropic", regexp.MustCompile(`(?i)\bsk-ant-[a-zA-Z0-9\-_]{10,}\b`), "[REDACTED_ANTHROPIC_KEY]"},
	{"api_key_openai", regexp.MustCompile(`(?i)\bsk-(?:ant-)?[a-zA-Z0-9\-_]{10,}\b`), "[REDACTED_OPENAI_KEY]"},
	{"bearer_token", regexp.MustCompile(`(?i)\bBearer\s+[a-zA-Z0-9_\-.]+\b`), "Bearer [REDACTED_BEARER_TOKEN]"},
	{"jwt_token", regexp.MustCompile(`\beyJ[A-Za-z0-9-_=]+\.eyJ[A-Za-z0-9-_=]+\.?[A-Za-z0-9-_.+/=]*\b`), "[REDACTED_JWT]"},
	{"api_key_generic", regexp.MustCompile(`(?i)\b(api[_-]?key|apikey|access[_-]?token|secret[_-]?key)\s*[:=]\s*[a-zA-Z0-9_\-]{20,}\b`), "${1}=[REDACTED_API_KEY]"},
	{"password", regexp.MustCompile(`(?i)\b(password|passwd|pwd)\s*[:=]\s*[^\s"'<>]+\b`), "${1}=[REDACTED_PASSWORD]"},
	{"credit_card", regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b|\b\d{13,19}\b`), "[REDACTED_CC]"},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b|\b\d{9}\b`), "[REDACTED_SSN]"},
	{"phone", regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b`), "[REDACTED_PHONE]"},
	{"email", regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), "[REDACTED_EMAIL]"},
}

var anthropicKeyRe = orderedPatterns[0].re
var apiKeyGenericRe = orderedPatterns[4].re
var passwordRe = orderedPatterns[5].re

// sensitiveHeaders mask their whole value regardless of content.
var sensitiveHeaders = []string{
	"authorization", "x-api-key", "x-auth-token", "cookie",
	"set-cookie", "x-chaos-token", "api-key", "access-token",
}

// sensitiveQueryParams are redacted wholesale from URLs.
var sensitiveQueryParams = []string{
	"api_key", "apikey", "token", "access_token", "secret",
	"password", "passwd", "pwd", "auth", "authorization",
}

// sensitiveDictKeys mask an entire dictionary value when the key matches.
var sensitiveDictKeys = []string{
	"password", "passwd", "pwd", "token", "api_key", "apikey",
	"secret", "access_token", "authorization", "auth", "ssn",
	"credit_card", "cc_number", "email",
}

// Redactor masks secrets and PII in text, URLs, headers and structured
// bodies before they reach logs or tapes.
type Redactor struct {
	logger  *zap.SugaredLogger
	Enabled bool
}

// NewRedactor creates a Redactor. When disabled it logs a one-time warning
// and becomes a pass-through.
func NewRedactor(logger *zap.SugaredLogger, enabled bool) *Redactor {
	if !enabled {
		logger.Warn("PII redaction is DISABLED - sensitive data may be logged")
	}
	return &Redactor{logger: logger, Enabled: enabled}
}

// Redact applies every pattern, in order, to freeform text.
func (r *Redactor) Redact(text string) string {
	if !r.Enabled || text == "" {
		return text
	}
	out := text
	for _, p := range orderedPatterns {
		out = p.re.ReplaceAllString(out, p.placeholder)
	}
	return out
}

// RedactURL masks sensitive query parameters and redacts the path text.
func (r *Redactor) RedactURL(raw string) string {
	if !r.Enabled || raw == "" {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		r.logger.Warnw("failed to parse URL for redaction, falling back to text redaction", "error", err)
		return r.Redact(raw)
	}

	if u.RawQuery != "" {
		values := u.Query()
		redacted := url.Values{}
		for key, vals := range values {
			if containsAny(strings.ToLower(key), sensitiveQueryParams) {
				redacted.Set(key, "[REDACTED]")
				continue
			}
			for _, v := range vals {
				redacted.Add(key, r.Redact(v))
			}
		}
		u.RawQuery = redacted.Encode()
	}

	u.Path = r.Redact(u.Path)
	return u.String()
}

// RedactHeaders masks sensitive header values entirely and runs the
// remaining values through Redact.
func (r *Redactor) RedactHeaders(headers map[string]string) map[string]string {
	if !r.Enabled || len(headers) == 0 {
		return headers
	}

	out := make(map[string]string, len(headers))
	for key, value := range headers {
		lower := strings.ToLower(key)
		if containsAny(lower, sensitiveHeaders) {
			out[key] = "[REDACTED]"
			continue
		}
		out[key] = r.Redact(value)
	}
	return out
}

// RedactDict recursively redacts a parsed JSON structure (map/slice/scalar).
func (r *Redactor) RedactDict(data any) any {
	if !r.Enabled || data == nil {
		return data
	}

	switch v := data.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, value := range v {
			if containsAny(strings.ToLower(key), sensitiveDictKeys) {
				out[key] = "[REDACTED]"
				continue
			}
			out[key] = r.RedactDict(value)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = r.RedactDict(item)
		}
		return out
	case string:
		return r.Redact(v)
	default:
		return v
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
