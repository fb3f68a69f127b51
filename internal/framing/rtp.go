package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3/pkg/media/samplebuilder"

	"github.com/rcarmo/go-vp8/internal/logging"
)

// RTP defaults.
const (
	DefaultMaxLate   = 512
	DefaultClockRate = 90000

	// MaxRTPPacketSize bounds one packet of an RTP dump.
	MaxRTPPacketSize = 1 << 16
)

// RTPOptions configure an RTPAssembler.
type RTPOptions struct {
	// MaxLate is how many packets may be buffered waiting for a
	// reordered one before frames are dropped.
	MaxLate uint16
	// ClockRate is the RTP timestamp rate.
	ClockRate uint32
	Logger    *logging.Logger
}

// RTPAssembler rebuilds VP8 frames from RTP packets. Packets may arrive out
// of order within MaxLate. A frame is released once a packet after it has
// arrived. It is not safe for concurrent use.
type RTPAssembler struct {
	builder *samplebuilder.SampleBuilder
	log     *logging.Logger

	started bool
	ssrc    uint32
	lastSeq uint16
	lastTS  uint32

	packets uint64
	frames  uint64
}

// NewRTPAssembler returns an empty assembler.
func NewRTPAssembler(opts RTPOptions) *RTPAssembler {
	if opts.MaxLate == 0 {
		opts.MaxLate = DefaultMaxLate
	}
	if opts.ClockRate == 0 {
		opts.ClockRate = DefaultClockRate
	}
	l := opts.Logger
	if l == nil {
		l = logging.Default()
	}
	return &RTPAssembler{
		builder: samplebuilder.New(opts.MaxLate, &codecs.VP8Packet{}, opts.ClockRate),
		log:     l.WithPrefix("rtp"),
	}
}

// Push unmarshals one RTP packet and buffers it.
func (a *RTPAssembler) Push(raw []byte) error {
	p := &rtp.Packet{}
	if err := p.Unmarshal(raw); err != nil {
		return fmt.Errorf("framing: rtp packet: %w", err)
	}
	a.PushPacket(p)
	return nil
}

// PushPacket buffers one RTP packet.
func (a *RTPAssembler) PushPacket(p *rtp.Packet) {
	if a.started && p.SSRC != a.ssrc {
		a.log.Warn("ssrc changed from %08x to %08x", a.ssrc, p.SSRC)
	}
	if !a.started || int16(p.SequenceNumber-a.lastSeq) > 0 {
		a.lastSeq = p.SequenceNumber
		a.lastTS = p.Timestamp
	}
	a.started = true
	a.ssrc = p.SSRC
	a.packets++
	a.builder.Push(p)
}

// Pop returns the next complete frame, or nil when none is ready.
func (a *RTPAssembler) Pop() *Frame {
	s := a.builder.Pop()
	if s == nil {
		return nil
	}
	a.frames++
	if s.PrevDroppedPackets > 0 {
		a.log.Debug("frame at %d follows %d dropped packets", s.PacketTimestamp, s.PrevDroppedPackets)
	}
	return &Frame{Data: s.Data, Timestamp: uint64(s.PacketTimestamp), Lost: int(s.PrevDroppedPackets)}
}

// Flush pushes an empty packet after the newest one so that the frame it
// completes can be popped. Use it at end of stream.
func (a *RTPAssembler) Flush() {
	if !a.started {
		return
	}
	a.builder.Push(&rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			SSRC:           a.ssrc,
			SequenceNumber: a.lastSeq + 1,
			Timestamp:      a.lastTS + 1,
		},
		Payload: []byte{},
	})
}

// Packets returns the number of packets pushed.
func (a *RTPAssembler) Packets() uint64 { return a.packets }

// Frames returns the number of frames popped.
func (a *RTPAssembler) Frames() uint64 { return a.frames }

// RTPDumpReader reads an RTP dump: each packet is preceded by its length as
// a 4-byte big-endian integer.
type RTPDumpReader struct {
	r   io.Reader
	hdr [4]byte
}

// NewRTPDumpReader returns a reader over r.
func NewRTPDumpReader(r io.Reader) *RTPDumpReader {
	return &RTPDumpReader{r: r}
}

// Next returns the next raw packet, or io.EOF at the end of the dump.
func (d *RTPDumpReader) Next() ([]byte, error) {
	if _, err := io.ReadFull(d.r, d.hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("framing: rtp dump length: %w", err)
	}
	n := binary.BigEndian.Uint32(d.hdr[:])
	if n == 0 || n > MaxRTPPacketSize {
		return nil, fmt.Errorf("framing: rtp dump packet of %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, fmt.Errorf("framing: rtp dump packet: %w", err)
	}
	return buf, nil
}

// WriteRTPDump appends one packet to an RTP dump.
func WriteRTPDump(w io.Writer, packet []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(packet)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(packet)
	return err
}

// RTPSource reads frames from an RTP dump.
type RTPSource struct {
	dump      *RTPDumpReader
	assembler *RTPAssembler
	flushed   bool
}

// NewRTPSource returns a source over the RTP dump in r.
func NewRTPSource(r io.Reader, opts RTPOptions) *RTPSource {
	return &RTPSource{dump: NewRTPDumpReader(r), assembler: NewRTPAssembler(opts)}
}

// Next returns the next complete frame.
func (s *RTPSource) Next() (*Frame, error) {
	for {
		if f := s.assembler.Pop(); f != nil {
			return f, nil
		}
		if s.flushed {
			return nil, io.EOF
		}

		raw, err := s.dump.Next()
		if errors.Is(err, io.EOF) {
			s.assembler.Flush()
			s.flushed = true
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := s.assembler.Push(raw); err != nil {
			s.assembler.log.Warn("skipping packet: %v", err)
		}
	}
}

// Assembler returns the assembler behind the source.
func (s *RTPSource) Assembler() *RTPAssembler { return s.assembler }
