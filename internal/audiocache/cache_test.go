package audiocache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	c, err := Open(t.TempDir())
	require.NoError(t, err)

	payload := []byte{0x52, 0x49, 0x46, 0x46, 0x00, 0x01}
	require.NoError(t, c.Put("staff-1", payload))

	got, err := c.Get("staff-1")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, c.Delete("staff-1"))
	_, err = c.Get("staff-1")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestGetMiss(t *testing.T) {
	c, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = c.Get("never-stored")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestDeleteMissingIsNoop(t *testing.T) {
	c, err := Open(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, c.Delete("never-stored"))
}

func TestClear(t *testing.T) {
	c, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, c.Put("a", []byte{1}))
	require.NoError(t, c.Put("b", []byte{2}))
	require.NoError(t, c.Clear())

	_, err = c.Get("a")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = c.Get("b")
	assert.ErrorIs(t, err, ErrMiss)

	// The cache is usable again after a clear.
	require.NoError(t, c.Put("c", []byte{3}))
	got, err := c.Get("c")
	require.NoError(t, err)
	assert.Equal(t, []byte{3}, got)
}

func TestHashString(t *testing.T) {
	// Stable across calls, distinct for distinct inputs, decimal rendering.
	assert.Equal(t, HashString("Veículo"), HashString("Veículo"))
	assert.NotEqual(t, HashString("Veículo"), HashString("Guarnição"))
	assert.Regexp(t, `^\d+$`, HashString("Veículo"))
}
