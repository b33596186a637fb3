package smtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConnectionLimiter_MaxConnections(t *testing.T) {
	l := NewConnectionLimiter(2, 0)

	assert.True(t, l.Acquire())
	assert.True(t, l.Acquire())
	assert.False(t, l.Acquire())
	assert.Equal(t, 2, l.Current())

	l.Release()
	assert.Equal(t, 1, l.Current())
	assert.True(t, l.Acquire())
}

func TestConnectionLimiter_Rate(t *testing.T) {
	l := NewConnectionLimiter(0, 1)

	assert.True(t, l.Acquire())
	assert.False(t, l.Acquire(), "burst of one exhausted")
	assert.Equal(t, 1, l.Current())
}

func TestConnectionLimiter_ReleaseNeverNegative(t *testing.T) {
	l := NewConnectionLimiter(1, 0)
	l.Release()
	assert.Equal(t, 0, l.Current())
}
