package tape

import (
	"encoding/base64"
	"path/filepath"
	"testing"

	"github.com/agentchaos/chaosproxy/internal/flow"
	"github.com/agentchaos/chaosproxy/internal/security"
	"github.com/fernet/fernet-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testKey(t *testing.T) *fernet.Key {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	encoded := base64.URLEncoding.EncodeToString(raw)
	key, err := fernet.DecodeKey(encoded)
	require.NoError(t, err)
	return key
}

func TestRecorderPlayer_RoundTrip(t *testing.T) {
	logger := zap.NewNop().Sugar()
	key := testKey(t)
	fp := NewFingerprinter(nil, nil)
	redactor := security.NewRedactor(logger, true)

	recorder := NewRecorder(logger, fp, redactor, key, "exp-1")

	state := &flow.State{
		Method:          "POST",
		URL:             "http://upstream/api",
		RequestBody:     []byte(`{"a":1,"b":2}`),
		RequestHeaders:  map[string][]string{"Content-Type": {"application/json"}},
		ResponseStatus:  200,
		ResponseReason:  "OK",
		ResponseHeaders: map[string][]string{"Content-Type": {"application/json"}},
		ResponseBody:    []byte(`{"ok":true}`),
	}
	require.NoError(t, recorder.Record(state))

	tapePath := filepath.Join(t.TempDir(), "session.tape")
	require.NoError(t, recorder.Save(tapePath))

	player, err := LoadPlayer(logger, fp, tapePath, key)
	require.NoError(t, err)

	entry, err := player.FindMatch("POST", "http://upstream/api", []byte(`{"b":2,"a":1}`), map[string][]string{"Content-Type": {"application/json"}})
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, 200, entry.Response.StatusCode)
	require.Equal(t, []byte(`{"ok":true}`), entry.Response.Content)
}

func TestPlayer_PartialMatchFallback(t *testing.T) {
	logger := zap.NewNop().Sugar()
	key := testKey(t)
	fp := NewFingerprinter(nil, nil)
	redactor := security.NewRedactor(logger, true)

	recorder := NewRecorder(logger, fp, redactor, key, "exp-1")
	state := &flow.State{
		Method:          "POST",
		URL:             "http://upstream/api",
		RequestBody:     []byte(`{"a":1}`),
		RequestHeaders:  map[string][]string{"Content-Type": {"application/json"}},
		ResponseStatus:  200,
		ResponseHeaders: map[string][]string{"Content-Type": {"application/json"}},
		ResponseBody:    []byte(`{"ok":true}`),
	}
	require.NoError(t, recorder.Record(state))

	tapePath := filepath.Join(t.TempDir(), "session.tape")
	require.NoError(t, recorder.Save(tapePath))

	player, err := LoadPlayer(logger, fp, tapePath, key)
	require.NoError(t, err)

	entry, err := player.FindMatch("POST", "http://upstream/api", []byte(`{"a":999}`), nil)
	require.NoError(t, err)
	require.NotNil(t, entry)
}

func TestPlayer_NoMethodURLMatch(t *testing.T) {
	logger := zap.NewNop().Sugar()
	key := testKey(t)
	fp := NewFingerprinter(nil, nil)
	redactor := security.NewRedactor(logger, true)

	recorder := NewRecorder(logger, fp, redactor, key, "exp-1")
	state := &flow.State{Method: "POST", URL: "http://upstream/api", ResponseStatus: 200}
	require.NoError(t, recorder.Record(state))

	tapePath := filepath.Join(t.TempDir(), "session.tape")
	require.NoError(t, recorder.Save(tapePath))

	player, err := LoadPlayer(logger, fp, tapePath, key)
	require.NoError(t, err)

	entry, err := player.FindMatch("GET", "http://upstream/other", nil, nil)
	require.NoError(t, err)
	require.Nil(t, entry)
}
