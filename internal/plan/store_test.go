package plan

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_ReloadIfChanged_NoOpWhenUnchanged(t *testing.T) {
	path := writePlan(t, validPlanYAML)
	s, err := NewStore(path)
	require.NoError(t, err)

	p, err := s.ReloadIfChanged()
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestStore_ReloadIfChanged_PicksUpEdit(t *testing.T) {
	path := writePlan(t, validPlanYAML)
	s, err := NewStore(path)
	require.NoError(t, err)

	updated := validPlanYAML + "\n# touch\n"
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	p, err := s.ReloadIfChanged()
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Same(t, p, s.Get())
}

func TestStore_ReloadIfChanged_KeepsPreviousOnInvalidEdit(t *testing.T) {
	path := writePlan(t, validPlanYAML)
	s, err := NewStore(path)
	require.NoError(t, err)
	original := s.Get()

	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o644))

	_, err = s.ReloadIfChanged()
	require.Error(t, err)
	assert.Same(t, original, s.Get())
}
