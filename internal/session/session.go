// Package session runs the frames of one VP8 stream through the header
// parser and the reference slot tracker, allocating a surface for every
// decoded picture.
package session

import (
	"errors"
	"fmt"

	"github.com/rcarmo/go-vp8/internal/logging"
	"github.com/rcarmo/go-vp8/internal/vp8"
	"github.com/rcarmo/go-vp8/internal/vp8/accel"
	"github.com/rcarmo/go-vp8/internal/vp8/header"
	"github.com/rcarmo/go-vp8/internal/vp8/refslot"
)

// Default frame size limits.
const (
	DefaultMaxWidth  = 4096
	DefaultMaxHeight = 4096
)

var (
	// ErrAwaitingKeyFrame is returned for inter frames before the first key
	// frame of a stream. The frame is dropped.
	ErrAwaitingKeyFrame = fmt.Errorf("session: awaiting key frame: %w", vp8.ErrMoreData)

	// ErrIncompatibleParams is returned when a key frame changes the size
	// the session was opened with.
	ErrIncompatibleParams = fmt.Errorf("session: incompatible stream parameters: %w", vp8.ErrUnsupportedFeature)
)

// Options configure a Session.
type Options struct {
	Formula header.HeaderSizeFormula

	// Width and Height, when set, are the padded frame size every key
	// frame must carry.
	Width, Height int

	// LockSize, when Width and Height are unset, takes them from the
	// first key frame so later key frames must keep its size.
	LockSize bool

	// MaxWidth and MaxHeight bound the frame size. Zero selects the
	// defaults.
	MaxWidth, MaxHeight int

	// Surfaces allocates decoded pictures. Nil selects a Pool of
	// DefaultPoolSize.
	Surfaces SurfaceAllocator

	// Accel adds accelerator parameter records to every result.
	Accel bool

	Logger *logging.Logger
}

// Result describes one decoded frame.
type Result struct {
	Frame   *header.Frame  `json:"frame"`
	Surface refslot.SlotID `json:"surface"`
	// Refs are the slots the frame predicts from.
	Refs refslot.Assignment `json:"refs"`
	// Slots are the slots after the frame's reference updates.
	Slots refslot.Assignment `json:"slots"`
	// FrameOrder counts shown frames, starting at 0.
	FrameOrder uint64         `json:"frameOrder"`
	Records    *accel.Records `json:"accel,omitempty"`
}

// Stats counts the frames a session has seen.
type Stats struct {
	Decoded uint64 `json:"decoded"`
	Shown   uint64 `json:"shown"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Session decodes the frame headers of one stream. It is not safe for
// concurrent use.
type Session struct {
	opts     Options
	log      *logging.Logger
	parser   *header.Parser
	tracker  *refslot.Tracker
	surfaces SurfaceAllocator

	held       map[refslot.SlotID]struct{}
	locked     bool
	seenKey    bool
	frameOrder uint64
	stats      Stats
}

// New returns a session at stream start.
func New(opts Options) *Session {
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = DefaultMaxWidth
	}
	if opts.MaxHeight <= 0 {
		opts.MaxHeight = DefaultMaxHeight
	}
	if opts.Surfaces == nil {
		opts.Surfaces = NewPool(DefaultPoolSize)
	}
	l := opts.Logger
	if l == nil {
		l = logging.Default()
	}

	s := &Session{
		opts:     opts,
		log:      l.WithPrefix("session"),
		parser:   header.NewParser(header.Options{Formula: opts.Formula, Logger: l}),
		tracker:  refslot.NewTracker(),
		surfaces: opts.Surfaces,
		held:     make(map[refslot.SlotID]struct{}),
	}
	if c, ok := opts.Surfaces.(surfaceCounter); ok {
		s.log.Debug("opened with %s header sizes and %d surfaces", s.parser.Formula(), c.Size())
	}
	return s
}

// Decode parses one compressed frame, assigns it a surface and commits the
// parser and slot state. On error nothing is committed.
func (s *Session) Decode(frame []byte) (*Result, error) {
	if !s.seenKey && len(frame) > 0 && header.FrameType(frame[0]&1) == header.InterFrame {
		s.stats.Dropped++
		s.log.Warn("dropping inter frame of %d bytes before first key frame", len(frame))
		return nil, ErrAwaitingKeyFrame
	}

	s.lockSize(frame)

	f, err := s.parser.Parse(frame)
	if err != nil {
		s.stats.Failed++
		return nil, err
	}
	if err := s.checkSize(&f.Info); err != nil {
		s.stats.Failed++
		return nil, err
	}

	refs := s.tracker.Current()
	s.release(refs, refslot.NoSlot)

	id, err := s.surfaces.Alloc()
	if err != nil {
		s.stats.Failed++
		if c, ok := s.surfaces.(surfaceCounter); ok {
			s.log.Warn("surface allocation failed with %d of %d in use: %v", c.InUse(), c.Size(), err)
		} else {
			s.log.Warn("surface allocation failed with %d held: %v", len(s.held), err)
		}
		return nil, err
	}
	s.held[id] = struct{}{}

	var records *accel.Records
	if s.opts.Accel {
		records, err = accel.Pack(f, refs, len(frame))
		if err != nil {
			s.surfaces.Release(id)
			delete(s.held, id)
			s.stats.Failed++
			return nil, err
		}
	}

	s.parser.Commit(f)
	s.log.Debug("frame %d committed to surface %d", s.parser.Committed(), id)
	slots := s.tracker.Apply(f.Refresh.SlotRefresh(f.Info.FrameType), id)
	s.release(slots, id)

	if f.Info.IsKeyFrame() {
		s.seenKey = true
	}

	r := &Result{
		Frame:      f,
		Surface:    id,
		Refs:       refs,
		Slots:      slots,
		FrameOrder: s.frameOrder,
		Records:    records,
	}
	if f.Info.IsKeyFrame() {
		r.Refs = refslot.Empty()
	}

	s.stats.Decoded++
	if f.Info.ShowFrame {
		s.frameOrder++
		s.stats.Shown++
	}
	return r, nil
}

// lockSize adopts the size of the first key frame when LockSize is set.
func (s *Session) lockSize(frame []byte) {
	if !s.opts.LockSize || s.locked || s.opts.Width != 0 || s.opts.Height != 0 {
		return
	}
	info, err := header.ProbeStream(frame)
	if err != nil || info.Offset != 0 {
		return
	}
	s.opts.Width, s.opts.Height = info.Width, info.Height
	s.locked = true
	s.log.Info("stream size locked to %dx%d (profile %d)", info.Width, info.Height, info.Profile)
}

func (s *Session) checkSize(info *header.FrameInfo) error {
	if info.CropWidth > s.opts.MaxWidth || info.CropHeight > s.opts.MaxHeight {
		return fmt.Errorf("session: frame size %dx%d exceeds %dx%d: %w",
			info.CropWidth, info.CropHeight, s.opts.MaxWidth, s.opts.MaxHeight, vp8.ErrUnsupportedFeature)
	}
	if !info.IsKeyFrame() || s.opts.Width == 0 || s.opts.Height == 0 {
		return nil
	}
	if info.Width != s.opts.Width || info.Height != s.opts.Height {
		return fmt.Errorf("%w: key frame is %dx%d, session is %dx%d",
			ErrIncompatibleParams, info.Width, info.Height, s.opts.Width, s.opts.Height)
	}
	return nil
}

// release frees held surfaces that a does not reference, except keep.
func (s *Session) release(a refslot.Assignment, keep refslot.SlotID) {
	for id := range s.held {
		if id == keep || a.References(id) {
			continue
		}
		s.surfaces.Release(id)
		delete(s.held, id)
	}
}

// Slots returns the committed slot assignment.
func (s *Session) Slots() refslot.Assignment { return s.tracker.Current() }

// Stats returns the frame counters.
func (s *Session) Stats() Stats { return s.stats }

// FrameOrder returns the order the next shown frame will get.
func (s *Session) FrameOrder() uint64 { return s.frameOrder }

// Reset returns the session to stream start and frees every surface.
func (s *Session) Reset() {
	s.release(refslot.Empty(), refslot.NoSlot)
	s.parser.Reset()
	s.tracker.Reset()
	s.seenKey = false
	s.frameOrder = 0
	s.stats = Stats{}
	if s.locked {
		s.opts.Width, s.opts.Height = 0, 0
		s.locked = false
	}
}

// Close frees every surface held by the session.
func (s *Session) Close() error {
	s.release(refslot.Empty(), refslot.NoSlot)
	return nil
}

// IsDropped reports whether err means the frame was skipped rather than
// rejected.
func IsDropped(err error) bool {
	return errors.Is(err, ErrAwaitingKeyFrame)
}
