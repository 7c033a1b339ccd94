package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterFailMax(t *testing.T) {
	cb := New("test", 3, time.Minute)
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		err := cb.Call(func() error { return boom })
		assert.ErrorIs(t, err, boom)
	}

	assert.Equal(t, StateOpen, cb.State())

	err := cb.Call(func() error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb := New("test", 2, 10*time.Millisecond)
	boom := errors.New("boom")

	require.ErrorIs(t, cb.Call(func() error { return boom }), boom)
	require.ErrorIs(t, cb.Call(func() error { return boom }), boom)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)

	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.FailureCount())
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New("test", 5, time.Minute)
	boom := errors.New("boom")

	require.ErrorIs(t, cb.Call(func() error { return boom }), boom)
	require.ErrorIs(t, cb.Call(func() error { return boom }), boom)
	assert.Equal(t, 2, cb.FailureCount())

	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, 0, cb.FailureCount())
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New("test", 1, time.Minute)
	boom := errors.New("boom")

	require.ErrorIs(t, cb.Call(func() error { return boom }), boom)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.FailureCount())
}

func TestCircuitBreaker_DefaultsApplied(t *testing.T) {
	cb := New("defaults", 0, 0)
	assert.Equal(t, 5, cb.FailMax)
	assert.Equal(t, 60*time.Second, cb.ResetTimeout)
}
