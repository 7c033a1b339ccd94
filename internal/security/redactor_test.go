package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestRedact_APIKeys(t *testing.T) {
	r := NewRedactor(testLogger(), true)

	assert.Contains(t, r.Redact("key is sk-ant-abcdefghijklmnop"), "[REDACTED_ANTHROPIC_KEY]")
	assert.Contains(t, r.Redact("key is sk-abcdefghijklmnopqrst"), "[REDACTED_OPENAI_KEY]")
	assert.NotContains(t, r.Redact("key is sk-ant-abcdefghijklmnop"), "[REDACTED_OPENAI_KEY]")
}

func TestRedact_BearerToken(t *testing.T) {
	r := NewRedactor(testLogger(), true)

	out := r.Redact("Authorization: Bearer abc123.def456")
	assert.Contains(t, out, "[REDACTED_BEARER_TOKEN]")
}

func TestRedact_Email(t *testing.T) {
	r := NewRedactor(testLogger(), true)
	out := r.Redact("contact me at user@example.com please")
	assert.Contains(t, out, "[REDACTED_EMAIL]")
	assert.NotContains(t, out, "user@example.com")
}

func TestRedact_Disabled(t *testing.T) {
	r := NewRedactor(testLogger(), false)
	text := "sk-ant-abcdefghijklmnop"
	assert.Equal(t, text, r.Redact(text))
}

func TestRedactURL_SensitiveQueryParam(t *testing.T) {
	r := NewRedactor(testLogger(), true)
	out := r.RedactURL("https://api.example.com/v1/chat?api_key=supersecretvalue&model=gpt")
	assert.Contains(t, out, "api_key=%5BREDACTED%5D")
	assert.Contains(t, out, "model=gpt")
}

func TestRedactHeaders(t *testing.T) {
	r := NewRedactor(testLogger(), true)
	out := r.RedactHeaders(map[string]string{
		"Authorization": "Bearer xyz",
		"X-Custom":      "hello user@example.com",
	})
	assert.Equal(t, "[REDACTED]", out["Authorization"])
	assert.Contains(t, out["X-Custom"], "[REDACTED_EMAIL]")
}

func TestRedactDict_NestedAndSensitiveKeys(t *testing.T) {
	r := NewRedactor(testLogger(), true)
	data := map[string]any{
		"password": "hunter2",
		"nested": map[string]any{
			"token": "abc",
			"note":  "email me at a@b.com",
		},
		"list": []any{"a@b.com", 42},
	}

	out := r.RedactDict(data).(map[string]any)
	assert.Equal(t, "[REDACTED]", out["password"])

	nested := out["nested"].(map[string]any)
	assert.Equal(t, "[REDACTED]", nested["token"])
	assert.Contains(t, nested["note"], "[REDACTED_EMAIL]")

	list := out["list"].([]any)
	assert.Contains(t, list[0], "[REDACTED_EMAIL]")
	assert.Equal(t, 42, list[1])
}
