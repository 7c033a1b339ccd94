package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLogger_WritesExpectedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.log")

	l, err := Open(zap.NewNop().Sugar(), path)
	require.NoError(t, err)
	defer l.Close()

	l.Log("alice", ActionAuth, "/v1/chat", "allowed", nil)
	l.Log("bob", ActionConfigChange, "plan.yaml", "reloaded", map[string]string{"revision": "3"})

	content, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := string(content)
	assert.Contains(t, lines, "[AUDIT] ")
	assert.Contains(t, lines, "User=alice | Action=AUTH | Resource=/v1/chat | Outcome=allowed")
	assert.Contains(t, lines, "User=bob | Action=CONFIG_CHANGE | Resource=plan.yaml | Outcome=reloaded | Details={revision:3}")
}

func TestLogger_CreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "audit.log")

	l, err := Open(zap.NewNop().Sugar(), path)
	require.NoError(t, err)
	defer l.Close()

	_, err = os.Stat(filepath.Dir(path))
	require.NoError(t, err)
}
