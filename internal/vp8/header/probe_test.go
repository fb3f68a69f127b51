package header_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarmo/go-vp8/internal/vp8"
	"github.com/rcarmo/go-vp8/internal/vp8/header"
	"github.com/rcarmo/go-vp8/internal/vp8/header/headertest"
)

func TestProbeStream_FindsKeyFrame(t *testing.T) {
	b := headertest.KeyFrame(640, 360)
	b.Version = 2
	frame := b.Bytes()
	junk := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}

	info, err := header.ProbeStream(append(junk, frame...))
	require.NoError(t, err)

	assert.Equal(t, len(junk), info.Offset)
	assert.Equal(t, 3, info.Profile)
	assert.Equal(t, 640, info.CropWidth)
	assert.Equal(t, 360, info.CropHeight)
	assert.Equal(t, 640, info.Width)
	assert.Equal(t, 368, info.Height)
}

func TestProbeStream_MoreData(t *testing.T) {
	key := headertest.KeyFrame(16, 16).Bytes()
	inter := headertest.InterFrame().Bytes()

	fakeInter := append([]byte(nil), inter[:3]...)
	fakeInter = append(fakeInter, 0x9D, 0x01, 0x2A, 0, 0, 0, 0)

	tests := []struct {
		name    string
		buf     []byte
		discard int
	}{
		{"too short", []byte{0x9D}, 0},
		{"no start code", make([]byte, 20), 14},
		{"no start code short", make([]byte, 4), 0},
		{"start code without tag", append([]byte{0x00, 0x9D, 0x01, 0x2A}, make([]byte, 10)...), 2},
		{"start code in inter frame", fakeInter, 4},
		{"truncated key frame", key[:9], 0},
		{"first partition beyond end", key[:12], 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := header.ProbeStream(tt.buf)
			require.Error(t, err)
			assert.True(t, errors.Is(err, vp8.ErrMoreData))

			var pe *header.ProbeError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.discard, pe.Discard)
		})
	}
}
