// Package vp8 holds the constants and error taxonomy shared by the VP8 frame
// header decoder packages.
package vp8

import "errors"

// Bitstream layout constants (RFC 6386 section 9).
const (
	NumSegments         = 4
	NumFeatures         = 2
	NumSegmentTreeProbs = 3
	NumRefFrames        = 4
	NumModeLFDeltas     = 4
	MaxTokenPartitions  = 8

	MaxQIndex          = 127
	MaxLoopFilterLevel = 63

	// Uncompressed data chunk sizes in front of the first partition.
	InterFrameHeaderSize = 3
	KeyFrameHeaderSize   = 10
)

// Segment feature indices.
const (
	FeatureQuant      = 0
	FeatureLoopFilter = 1
)

// StartCode is the key frame sync code following the frame tag.
var StartCode = [3]byte{0x9D, 0x01, 0x2A}

var (
	// ErrMoreData indicates truncated input. The caller should supply more
	// bytes and retry; no decoder state was changed.
	ErrMoreData = errors.New("vp8: more data needed")
	// ErrMalformedStream indicates a corrupt bitstream (missing start code).
	ErrMalformedStream = errors.New("vp8: malformed stream")
	// ErrUnsupportedFeature indicates a decoded value outside the supported
	// subset, for example a non-zero color space.
	ErrUnsupportedFeature = errors.New("vp8: unsupported feature")
)

// IsRecoverable reports whether err only asks for more input.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrMoreData)
}

// HasStartCode reports whether b begins with the key frame start code.
func HasStartCode(b []byte) bool {
	return len(b) >= 3 && b[0] == StartCode[0] && b[1] == StartCode[1] && b[2] == StartCode[2]
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi int32) int32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
