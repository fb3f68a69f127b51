package session

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcarmo/go-vp8/internal/logging"
	"github.com/rcarmo/go-vp8/internal/vp8"
	"github.com/rcarmo/go-vp8/internal/vp8/header/headertest"
	"github.com/rcarmo/go-vp8/internal/vp8/refslot"
)

func newSession(t *testing.T, opts Options) (*Session, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	opts.Logger = logging.New(&buf, logging.LevelDebug)
	return New(opts), &buf
}

func keyFrame(w, h int) []byte {
	b := headertest.KeyFrame(w, h)
	return b.Bytes()
}

func interFrame(edit func(*headertest.Frame)) []byte {
	b := headertest.InterFrame()
	if edit != nil {
		edit(&b)
	}
	return b.Bytes()
}

func TestSession_DropsInterFramesBeforeKeyFrame(t *testing.T) {
	s, logs := newSession(t, Options{})

	_, err := s.Decode(interFrame(nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAwaitingKeyFrame))
	assert.True(t, errors.Is(err, vp8.ErrMoreData))
	assert.True(t, IsDropped(err))
	assert.Contains(t, logs.String(), "[WARN] session: dropping inter frame")

	r, err := s.Decode(keyFrame(64, 48))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r.FrameOrder)

	_, err = s.Decode(interFrame(nil))
	require.NoError(t, err)

	assert.Equal(t, Stats{Decoded: 2, Shown: 2, Dropped: 1}, s.Stats())
}

func TestSession_SlotsAndSurfaces(t *testing.T) {
	pool := NewPool(4)
	s, _ := newSession(t, Options{Surfaces: pool})

	r, err := s.Decode(keyFrame(32, 32))
	require.NoError(t, err)
	assert.Equal(t, refslot.SlotID(0), r.Surface)
	assert.Equal(t, refslot.Empty(), r.Refs)
	assert.Equal(t, refslot.Assignment{Last: 0, Golden: 0, Altref: 0}, r.Slots)
	assert.Equal(t, 1, pool.InUse())

	r, err = s.Decode(interFrame(nil))
	require.NoError(t, err)
	assert.Equal(t, refslot.SlotID(1), r.Surface)
	assert.Equal(t, refslot.Assignment{Last: 0, Golden: 0, Altref: 0}, r.Refs)
	assert.Equal(t, refslot.Assignment{Last: 1, Golden: 0, Altref: 0}, r.Slots)
	assert.Equal(t, 2, pool.InUse())

	r, err = s.Decode(interFrame(func(f *headertest.Frame) { f.RefreshMask = refslot.RefreshAltref }))
	require.NoError(t, err)
	assert.Equal(t, refslot.SlotID(2), r.Surface)
	assert.Equal(t, refslot.Assignment{Last: 2, Golden: 0, Altref: 2}, r.Slots)
	assert.Equal(t, 2, pool.InUse(), "surface 1 is no longer referenced")

	// Hidden frame that refreshes nothing stays held until the next frame.
	r, err = s.Decode(interFrame(func(f *headertest.Frame) {
		f.Hidden = true
		f.RefreshLast = false
	}))
	require.NoError(t, err)
	assert.Equal(t, refslot.SlotID(1), r.Surface)
	assert.Equal(t, refslot.Assignment{Last: 2, Golden: 0, Altref: 2}, r.Slots)
	assert.Equal(t, 3, pool.InUse())

	_, err = s.Decode(interFrame(nil))
	require.NoError(t, err)
	assert.Equal(t, 3, pool.InUse())

	require.NoError(t, s.Close())
	assert.Equal(t, 0, pool.InUse())
}

func TestSession_FrameOrderCountsShownFrames(t *testing.T) {
	s, _ := newSession(t, Options{})

	r, err := s.Decode(keyFrame(16, 16))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r.FrameOrder)

	r, err = s.Decode(interFrame(func(f *headertest.Frame) { f.Hidden = true }))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.FrameOrder)

	r, err = s.Decode(interFrame(nil))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.FrameOrder)
	assert.Equal(t, uint64(2), s.FrameOrder())
}

func TestSession_FailedFrameCommitsNothing(t *testing.T) {
	pool := NewPool(4)
	s, _ := newSession(t, Options{Surfaces: pool})

	_, err := s.Decode(keyFrame(16, 16))
	require.NoError(t, err)
	before := s.Slots()

	frame := interFrame(nil)
	_, err = s.Decode(frame[:4])
	require.Error(t, err)
	assert.True(t, vp8.IsRecoverable(err))

	assert.Equal(t, before, s.Slots())
	assert.Equal(t, 1, pool.InUse())
	assert.Equal(t, uint64(1), s.Stats().Failed)
}

func TestSession_SizeLimits(t *testing.T) {
	t.Run("exceeds maximum", func(t *testing.T) {
		s, _ := newSession(t, Options{MaxWidth: 64, MaxHeight: 64})
		_, err := s.Decode(keyFrame(80, 32))
		require.Error(t, err)
		assert.True(t, errors.Is(err, vp8.ErrUnsupportedFeature))
	})

	t.Run("incompatible size", func(t *testing.T) {
		s, _ := newSession(t, Options{Width: 64, Height: 48})

		_, err := s.Decode(keyFrame(60, 40))
		require.NoError(t, err, "padded size matches")

		_, err = s.Decode(keyFrame(64, 64))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrIncompatibleParams))
		assert.True(t, errors.Is(err, vp8.ErrUnsupportedFeature))
	})
}

func TestSession_LockSize(t *testing.T) {
	s, logs := newSession(t, Options{LockSize: true})

	_, err := s.Decode(interFrame(nil))
	require.Error(t, err)

	_, err = s.Decode(keyFrame(60, 40))
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "stream size locked to 64x48 (profile 1)")

	_, err = s.Decode(keyFrame(64, 48))
	require.NoError(t, err)

	_, err = s.Decode(keyFrame(32, 32))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIncompatibleParams))
	assert.Equal(t, Stats{Decoded: 2, Shown: 2, Dropped: 1, Failed: 1}, s.Stats())

	s.Reset()
	_, err = s.Decode(keyFrame(32, 32))
	require.NoError(t, err, "reset unlocks the size")

	_, err = s.Decode(keyFrame(64, 48))
	assert.True(t, errors.Is(err, ErrIncompatibleParams))
}

func TestSession_LockSizeKeepsExplicitSize(t *testing.T) {
	s, _ := newSession(t, Options{Width: 32, Height: 32, LockSize: true})

	_, err := s.Decode(keyFrame(64, 48))
	assert.True(t, errors.Is(err, ErrIncompatibleParams))

	_, err = s.Decode(keyFrame(32, 32))
	require.NoError(t, err)
}

func TestSession_LogsPoolOccupancy(t *testing.T) {
	s, logs := newSession(t, Options{Surfaces: NewPool(1)})
	assert.Contains(t, logs.String(), "opened with standard header sizes and 1 surfaces")

	_, err := s.Decode(keyFrame(16, 16))
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "frame 1 committed to surface 0")

	_, err = s.Decode(interFrame(nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoSurface))
	assert.Contains(t, logs.String(), "surface allocation failed with 1 of 1 in use")
}

type exhaustedAllocator struct{}

func (exhaustedAllocator) Alloc() (refslot.SlotID, error) { return refslot.NoSlot, ErrNoSurface }
func (exhaustedAllocator) Release(refslot.SlotID)         {}

func TestSession_SurfaceExhaustion(t *testing.T) {
	s, logs := newSession(t, Options{Surfaces: exhaustedAllocator{}})

	_, err := s.Decode(keyFrame(16, 16))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoSurface))
	assert.Contains(t, logs.String(), "surface allocation failed")

	_, err = s.Decode(interFrame(nil))
	assert.True(t, errors.Is(err, ErrAwaitingKeyFrame), "key frame was not committed")
}

func TestSession_AccelRecords(t *testing.T) {
	s, _ := newSession(t, Options{Accel: true})

	r, err := s.Decode(keyFrame(16, 16))
	require.NoError(t, err)
	require.NotNil(t, r.Records)
	assert.True(t, r.Records.Picture.KeyFrame)

	r, err = s.Decode(interFrame(nil))
	require.NoError(t, err)
	require.NotNil(t, r.Records)
	assert.Equal(t, refslot.SlotID(0), r.Records.Picture.LastRef)
	assert.Equal(t, vp8.InterFrameHeaderSize, r.Records.Slice.DataOffset)
}

func TestSession_Reset(t *testing.T) {
	pool := NewPool(0)
	s, _ := newSession(t, Options{Surfaces: pool})

	_, err := s.Decode(keyFrame(16, 16))
	require.NoError(t, err)

	s.Reset()
	assert.Equal(t, 0, pool.InUse())
	assert.Equal(t, refslot.Empty(), s.Slots())
	assert.Equal(t, uint64(0), s.FrameOrder())
	assert.Equal(t, Stats{}, s.Stats())

	_, err = s.Decode(interFrame(nil))
	assert.True(t, errors.Is(err, ErrAwaitingKeyFrame))
}

func TestPool(t *testing.T) {
	p := NewPool(2)
	assert.Equal(t, 2, p.Size())

	a, err := p.Alloc()
	require.NoError(t, err)
	b, err := p.Alloc()
	require.NoError(t, err)
	assert.Equal(t, refslot.SlotID(0), a)
	assert.Equal(t, refslot.SlotID(1), b)

	_, err = p.Alloc()
	assert.True(t, errors.Is(err, ErrNoSurface))

	p.Release(a)
	p.Release(refslot.NoSlot)
	p.Release(7)
	c, err := p.Alloc()
	require.NoError(t, err)
	assert.Equal(t, a, c)
	assert.Equal(t, 2, p.InUse())

	assert.Equal(t, DefaultPoolSize, NewPool(0).Size())
}
