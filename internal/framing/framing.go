// Package framing extracts compressed VP8 frames from container and
// transport formats: IVF files and RTP packet streams.
package framing

import (
	"fmt"
	"io"
	"strings"
)

// Kind names a framing format.
type Kind string

const (
	KindRaw Kind = "raw"
	KindIVF Kind = "ivf"
	KindRTP Kind = "rtp"
)

// ParseKind maps a format name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindRaw, KindIVF, KindRTP:
		return k, nil
	case "":
		return KindRaw, nil
	default:
		return "", fmt.Errorf("framing: unknown format %q", s)
	}
}

// Frame is one compressed frame.
type Frame struct {
	Data []byte
	// Timestamp is the IVF presentation timestamp or the RTP timestamp.
	Timestamp uint64
	// Lost counts packets dropped before this frame. Always 0 for IVF.
	Lost int
}

// Source yields the frames of one stream in decoding order. Next returns
// io.EOF after the last frame.
type Source interface {
	Next() (*Frame, error)
}

// NewSource returns a source reading r in the given format. Raw framing
// carries no frame boundaries, so files must use IVF or RTP.
func NewSource(kind Kind, r io.Reader, opts RTPOptions) (Source, error) {
	switch kind {
	case KindIVF:
		return NewIVFSource(r)
	case KindRTP:
		return NewRTPSource(r, opts), nil
	default:
		return nil, fmt.Errorf("framing: %s streams have no frame boundaries", kind)
	}
}
