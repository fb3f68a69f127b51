package header

import (
	"bytes"
	"fmt"

	"github.com/rcarmo/go-vp8/internal/vp8"
)

// probeKeep is the number of trailing bytes kept when no start code is
// found, since they may hold the tag and part of the next start code.
const probeKeep = 6

// StreamInfo describes the first key frame found in a byte stream.
type StreamInfo struct {
	// Offset is the position of the key frame tag in the probed buffer.
	Offset     int `json:"offset"`
	Profile    int `json:"profile"`
	CropWidth  int `json:"cropWidth"`
	CropHeight int `json:"cropHeight"`
	Width      int `json:"width"`
	Height     int `json:"height"`
}

// ProbeError reports a probe that needs more input. Discard is the number
// of leading bytes that can be dropped before retrying.
type ProbeError struct {
	Discard int
	Reason  string
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("header: probe: %s", e.Reason)
}

// Unwrap makes probe errors match vp8.ErrMoreData.
func (e *ProbeError) Unwrap() error { return vp8.ErrMoreData }

// ProbeStream scans buf for a key frame and returns its stream parameters.
// Every failure is a *ProbeError wrapping vp8.ErrMoreData.
func ProbeStream(buf []byte) (StreamInfo, error) {
	if len(buf) < tagSize {
		return StreamInfo{}, &ProbeError{Reason: "buffer shorter than frame tag"}
	}

	i := bytes.Index(buf, vp8.StartCode[:])
	if i < 0 {
		discard := len(buf) - probeKeep
		if discard < 0 {
			discard = 0
		}
		return StreamInfo{}, &ProbeError{Discard: discard, Reason: "no start code"}
	}
	if i < tagSize {
		return StreamInfo{}, &ProbeError{Discard: i + 1, Reason: "start code without frame tag"}
	}

	tag := buf[i-tagSize:]
	if tag[0]&1 != 0 {
		return StreamInfo{}, &ProbeError{Discard: i + 1, Reason: "start code in inter frame"}
	}
	firstSize := int(tag[0])>>5 | int(tag[1])<<3 | int(tag[2])<<11
	if len(tag) < vp8.KeyFrameHeaderSize || firstSize > len(tag)-vp8.KeyFrameHeaderSize {
		return StreamInfo{}, &ProbeError{Discard: i - tagSize, Reason: "incomplete key frame"}
	}

	c := tag[tagSize:]
	info := StreamInfo{
		Offset:     i - tagSize,
		Profile:    int((tag[0]>>1)&7) + 1,
		CropWidth:  (int(c[4])<<8 | int(c[3])) & 0x3FFF,
		CropHeight: (int(c[6])<<8 | int(c[5])) & 0x3FFF,
	}
	info.Width = (info.CropWidth + 15) &^ 15
	info.Height = (info.CropHeight + 15) &^ 15

	return info, nil
}
