// Package header parses the VP8 frame tag and the compressed frame header
// carried at the start of the first partition. It threads the probability
// tables, segmentation and loop filter state that persist between frames
// and reports everything a hardware decoder needs to reconstruct the frame.
package header

import (
	"fmt"
	"strings"

	"github.com/rcarmo/go-vp8/internal/vp8"
	"github.com/rcarmo/go-vp8/internal/vp8/boolcoder"
	"github.com/rcarmo/go-vp8/internal/vp8/partition"
	"github.com/rcarmo/go-vp8/internal/vp8/probs"
	"github.com/rcarmo/go-vp8/internal/vp8/refslot"
)

// FrameType distinguishes intra-only key frames from predicted frames.
type FrameType uint8

const (
	KeyFrame   FrameType = 0
	InterFrame FrameType = 1
)

func (t FrameType) String() string {
	if t == KeyFrame {
		return "key"
	}
	return "inter"
}

// MarshalText implements encoding.TextMarshaler.
func (t FrameType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Interpolation filter flags derived from the version field.
const (
	InterpBilinear      uint8 = 1 << 0
	InterpChromaFullPel uint8 = 1 << 1
)

// interpolationFlags maps the 3-bit version to filter flags. Versions above
// 3 decode like version 0.
func interpolationFlags(version uint8) uint8 {
	switch version {
	case 1, 2:
		return InterpBilinear
	case 3:
		return InterpBilinear | InterpChromaFullPel
	default:
		return 0
	}
}

// HeaderSizeFormula selects how the consumed header size is reported to the
// accelerator. Older drivers expect the legacy accounting.
type HeaderSizeFormula int

const (
	FormulaStandard HeaderSizeFormula = iota
	FormulaLegacy
)

func (f HeaderSizeFormula) String() string {
	if f == FormulaLegacy {
		return "legacy"
	}
	return "standard"
}

// ParseHeaderSizeFormula parses "standard" or "legacy".
func ParseHeaderSizeFormula(s string) (HeaderSizeFormula, error) {
	switch strings.ToLower(s) {
	case "", "standard":
		return FormulaStandard, nil
	case "legacy":
		return FormulaLegacy, nil
	default:
		return FormulaStandard, fmt.Errorf("unknown header size formula %q", s)
	}
}

// FrameInfo is the frame-level control state decoded from one header.
type FrameInfo struct {
	FrameType          FrameType `json:"frameType"`
	Version            uint8     `json:"version"`
	ShowFrame          bool      `json:"showFrame"`
	InterpolationFlags uint8     `json:"interpolationFlags"`

	// Width and Height are padded to whole macroblocks; the crop size is
	// the coded picture size.
	Width             int   `json:"width"`
	Height            int   `json:"height"`
	CropWidth         int   `json:"cropWidth"`
	CropHeight        int   `json:"cropHeight"`
	HScale            uint8 `json:"hScale"`
	VScale            uint8 `json:"vScale"`
	DimensionsChanged bool  `json:"dimensionsChanged"`

	ColorSpace   uint8 `json:"colorSpace"`
	ClampingType uint8 `json:"clampingType"`

	SegmentationEnabled bool                                   `json:"segmentationEnabled"`
	UpdateSegmentMap    bool                                   `json:"updateSegmentMap"`
	UpdateSegmentData   bool                                   `json:"updateSegmentData"`
	SegmentAbsMode      bool                                   `json:"segmentAbsMode"`
	SegmentFeatureData  [vp8.NumFeatures][vp8.NumSegments]int8 `json:"segmentFeatureData"`
	SegmentTreeProbs    [vp8.NumSegmentTreeProbs]uint8         `json:"segmentTreeProbs"`

	LoopFilterType        uint8                     `json:"loopFilterType"`
	LoopFilterLevel       uint8                     `json:"loopFilterLevel"`
	SharpnessLevel        uint8                     `json:"sharpnessLevel"`
	LoopFilterAdjust      bool                      `json:"loopFilterAdjust"`
	LoopFilterDeltaUpdate bool                      `json:"loopFilterDeltaUpdate"`
	RefLFDeltas           [vp8.NumRefFrames]int8    `json:"refLFDeltas"`
	ModeLFDeltas          [vp8.NumModeLFDeltas]int8 `json:"modeLFDeltas"`

	// HeaderSize is the length of the uncompressed chunk before the first
	// partition: 10 bytes for key frames, 3 for inter frames.
	HeaderSize int             `json:"headerSize"`
	Partitions partition.Table `json:"partitions"`
	// FirstPartitionSize is the size from the frame tag.
	FirstPartitionSize int `json:"firstPartitionSize"`
	// EntropyDecSize is the number of header bits consumed from the first
	// partition and CorrectedFirstPartitionSize the bytes left in it for
	// macroblock modes, both computed with the configured formula.
	EntropyDecSize              int `json:"entropyDecSize"`
	CorrectedFirstPartitionSize int `json:"correctedFirstPartitionSize"`

	MBSkipEnabled bool  `json:"mbSkipEnabled"`
	SkipFalseProb uint8 `json:"skipFalseProb"`
	IntraProb     uint8 `json:"intraProb"`
	LastProb      uint8 `json:"lastProb"`
	GoldenProb    uint8 `json:"goldenProb"`
}

// IsKeyFrame reports whether the frame is a key frame.
func (f *FrameInfo) IsKeyFrame() bool { return f.FrameType == KeyFrame }

// QuantInfo holds the base quantizer, the five deltas and the resolved
// per-segment indices, all in [0, vp8.MaxQIndex].
type QuantInfo struct {
	YACQP     int32 `json:"yacQP"`
	YDCDelta  int32 `json:"ydcDelta"`
	Y2DCDelta int32 `json:"y2dcDelta"`
	Y2ACDelta int32 `json:"y2acDelta"`
	UVDCDelta int32 `json:"uvdcDelta"`
	UVACDelta int32 `json:"uvacDelta"`

	YACQ  [vp8.NumSegments]int32 `json:"yacQ"`
	YDCQ  [vp8.NumSegments]int32 `json:"ydcQ"`
	Y2ACQ [vp8.NumSegments]int32 `json:"y2acQ"`
	Y2DCQ [vp8.NumSegments]int32 `json:"y2dcQ"`
	UVACQ [vp8.NumSegments]int32 `json:"uvacQ"`
	UVDCQ [vp8.NumSegments]int32 `json:"uvdcQ"`
}

// RefreshInfo is the reference buffer update policy of one frame.
type RefreshInfo struct {
	// RefreshRefFrame has bit 0 for altref and bit 1 for golden.
	RefreshRefFrame uint8 `json:"refreshRefFrame"`
	CopyToGolden    uint8 `json:"copyToGolden"`
	CopyToAltref    uint8 `json:"copyToAltref"`
	// SignBias[3] is the golden sign bias, SignBias[2] the altref one and
	// SignBias[1] their exclusive or. Key frames leave it zero.
	SignBias             [vp8.NumRefFrames]uint8 `json:"signBias"`
	RefreshProbabilities bool                    `json:"refreshProbabilities"`
	RefreshLastFrame     bool                    `json:"refreshLastFrame"`
}

// SlotRefresh converts the policy for the reference slot tracker.
func (r RefreshInfo) SlotRefresh(t FrameType) refslot.Refresh {
	return refslot.Refresh{
		KeyFrame:    t == KeyFrame,
		RefreshMask: r.RefreshRefFrame,
		CopyGolden:  r.CopyToGolden,
		CopyAltref:  r.CopyToAltref,
		RefreshLast: r.RefreshLastFrame,
	}
}

// Frame is the result of parsing one compressed frame header.
type Frame struct {
	Info    FrameInfo   `json:"info"`
	Quant   QuantInfo   `json:"quant"`
	Refresh RefreshInfo `json:"refresh"`
	// Probs are the tables in force for this frame after its updates.
	Probs probs.Tables `json:"-"`
	// BoolState is the first partition decoder state after the header,
	// from which the accelerator resumes macroblock mode decoding.
	BoolState boolcoder.State `json:"boolState"`

	next state
}
