package vp8

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRecoverable(t *testing.T) {
	assert.True(t, IsRecoverable(ErrMoreData))
	assert.True(t, IsRecoverable(fmt.Errorf("partition 2: %w", ErrMoreData)))
	assert.False(t, IsRecoverable(ErrMalformedStream))
	assert.False(t, IsRecoverable(ErrUnsupportedFeature))
	assert.False(t, IsRecoverable(nil))
}

func TestHasStartCode(t *testing.T) {
	assert.True(t, HasStartCode([]byte{0x9D, 0x01, 0x2A}))
	assert.True(t, HasStartCode([]byte{0x9D, 0x01, 0x2A, 0x40}))
	assert.False(t, HasStartCode([]byte{0x9D, 0x01}))
	assert.False(t, HasStartCode([]byte{0x9D, 0x01, 0x2B}))
	assert.False(t, HasStartCode(nil))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, int32(0), Clamp(-5, 0, MaxQIndex))
	assert.Equal(t, int32(MaxQIndex), Clamp(200, 0, MaxQIndex))
	assert.Equal(t, int32(40), Clamp(40, 0, MaxQIndex))
}
