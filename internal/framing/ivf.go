package framing

import (
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
)

// VP8FourCC is the IVF codec tag of VP8 streams.
const VP8FourCC = "VP80"

// IVFSource reads frames from an IVF file.
type IVFSource struct {
	reader *ivfreader.IVFReader
	Header *ivfreader.IVFFileHeader
}

// NewIVFSource reads the IVF file header from r.
func NewIVFSource(r io.Reader) (*IVFSource, error) {
	reader, h, err := ivfreader.NewWith(r)
	if err != nil {
		return nil, fmt.Errorf("framing: ivf header: %w", err)
	}
	if h.FourCC != VP8FourCC {
		return nil, fmt.Errorf("framing: ivf codec %q is not %s", h.FourCC, VP8FourCC)
	}
	return &IVFSource{reader: reader, Header: h}, nil
}

// Next returns the next frame.
func (s *IVFSource) Next() (*Frame, error) {
	data, h, err := s.reader.ParseNextFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("framing: ivf frame: %w", err)
	}
	return &Frame{Data: data, Timestamp: h.Timestamp}, nil
}
