package stack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisplaceTranslates(t *testing.T) {
	d := Displacement{Offset: 24, Lower: 0, Upper: 8}

	assert.Equal(t, 24, d.Displace(0))
	assert.Equal(t, 31, d.Displace(7))
}

func TestDisplaceNegativeOffset(t *testing.T) {
	// A context displaced to its heap copy indexes from zero.
	d := Displacement{Offset: -504, Lower: 504, Upper: 512}

	assert.Equal(t, 0, d.Displace(504))
	assert.Equal(t, 7, d.Displace(511))
}

func TestDisplaceOutOfBoundsAborts(t *testing.T) {
	d := Displacement{Offset: 0, Lower: 4, Upper: 8}

	require.Panics(t, func() { d.Displace(3) })
	require.Panics(t, func() { d.Displace(8) })
}

func TestContains(t *testing.T) {
	d := Displacement{Lower: 4, Upper: 8}

	assert.False(t, d.Contains(3))
	assert.True(t, d.Contains(4))
	assert.True(t, d.Contains(7))
	assert.False(t, d.Contains(8))
}
