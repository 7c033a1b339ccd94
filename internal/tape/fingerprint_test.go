package tape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_KeyOrderIndependent(t *testing.T) {
	fp := NewFingerprinter(nil, nil)

	a, err := fp.Fingerprint("post", "http://x/api", []byte(`{"a":1,"b":2}`), map[string][]string{"Content-Type": {"application/json"}})
	require.NoError(t, err)

	b, err := fp.Fingerprint("POST", "http://x/api", []byte(`{"b":2,"a":1}`), map[string][]string{"Content-Type": {"application/json"}})
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestFingerprint_IgnoresConfiguredQueryParams(t *testing.T) {
	fp := NewFingerprinter([]string{"trace_id"}, nil)

	a, err := fp.Fingerprint("GET", "http://x/api?trace_id=111&q=hello", nil, nil)
	require.NoError(t, err)
	b, err := fp.Fingerprint("GET", "http://x/api?trace_id=222&q=hello", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, a.URL, b.URL)
}

func TestFingerprint_MasksIgnorePaths(t *testing.T) {
	fp := NewFingerprinter(nil, []string{"$.timestamp"})

	a, err := fp.Fingerprint("POST", "http://x/api", []byte(`{"timestamp":"2024-01-01","v":1}`), nil)
	require.NoError(t, err)
	b, err := fp.Fingerprint("POST", "http://x/api", []byte(`{"timestamp":"2099-12-31","v":1}`), nil)
	require.NoError(t, err)

	assert.Equal(t, a.BodyHash, b.BodyHash)
}

func TestFingerprint_HeadersHashOnlyContentType(t *testing.T) {
	fp := NewFingerprinter(nil, nil)

	a, err := fp.Fingerprint("GET", "http://x/api", nil, map[string][]string{
		"Content-Type":  {"application/json"},
		"Authorization": {"Bearer secret"},
	})
	require.NoError(t, err)
	b, err := fp.Fingerprint("GET", "http://x/api", nil, map[string][]string{
		"Content-Type":  {"application/json"},
		"Authorization": {"Bearer different"},
	})
	require.NoError(t, err)

	assert.Equal(t, a.HeadersHash, b.HeadersHash)
}

func TestFingerprint_DifferentBodyDifferentHash(t *testing.T) {
	fp := NewFingerprinter(nil, nil)

	a, err := fp.Fingerprint("POST", "http://x/api", []byte(`{"a":1}`), nil)
	require.NoError(t, err)
	b, err := fp.Fingerprint("POST", "http://x/api", []byte(`{"a":2}`), nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.BodyHash, b.BodyHash)
}
