package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPlanYAML = `
version: "1.0"
revision: 1
metadata:
  name: smoke
  experiment_id: exp-1
targets:
  - name: openai
    type: llm_input
    pattern: "api\\.openai\\.com"
scenarios:
  - name: slow-openai
    type: latency
    target_ref: openai
    enabled: true
    probability: 0.5
    params:
      delay: 2.0
replay_config:
  ignore_paths: ["$.custom"]
  ignore_params: ["nonce"]
`

func writePlan(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Valid(t *testing.T) {
	path := writePlan(t, validPlanYAML)

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "1.0", p.Version)
	assert.Len(t, p.Scenarios, 1)
	assert.Contains(t, p.ReplayConfig.IgnorePaths, "$.custom")
	assert.Contains(t, p.ReplayConfig.IgnorePaths, "$.timestamp")
}

func TestLoad_UnresolvedTargetRef(t *testing.T) {
	bad := `
version: "1.0"
revision: 1
targets: []
scenarios:
  - name: s1
    type: latency
    target_ref: missing
    enabled: true
    probability: 0.1
    params: {}
`
	path := writePlan(t, bad)
	_, err := Load(path)
	require.ErrorIs(t, err, ErrConfigInvalid)
}

func TestLoad_ProbabilityOutOfRange(t *testing.T) {
	bad := `
version: "1.0"
revision: 1
targets:
  - name: t1
    type: custom
    pattern: ".*"
scenarios:
  - name: s1
    type: latency
    target_ref: t1
    enabled: true
    probability: 1.5
    params: {}
`
	path := writePlan(t, bad)
	_, err := Load(path)
	require.ErrorIs(t, err, ErrConfigInvalid)
}

func TestLoad_InvalidRegex(t *testing.T) {
	bad := `
version: "1.0"
revision: 1
targets:
  - name: t1
    type: custom
    pattern: "("
scenarios: []
`
	path := writePlan(t, bad)
	_, err := Load(path)
	require.ErrorIs(t, err, ErrConfigInvalid)
}

func TestToLegacy_ResolvesTargetParams(t *testing.T) {
	path := writePlan(t, validPlanYAML)
	p, err := Load(path)
	require.NoError(t, err)

	legacy := ToLegacy(p)
	require.Len(t, legacy.Strategies, 1)
	assert.Equal(t, "exp-1", legacy.ExperimentID)
	assert.Equal(t, "api\\.openai\\.com", legacy.Strategies[0].Params["url_pattern"])
}
