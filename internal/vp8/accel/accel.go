// Package accel derives the parameter records a VP8 hardware decoder takes
// for one frame from a parsed header: picture parameters, quantizer matrix,
// coefficient probabilities and slice parameters.
package accel

import (
	"fmt"

	"github.com/rcarmo/go-vp8/internal/vp8"
	"github.com/rcarmo/go-vp8/internal/vp8/header"
	"github.com/rcarmo/go-vp8/internal/vp8/probs"
	"github.com/rcarmo/go-vp8/internal/vp8/refslot"
)

// BoolCoderContext lets the accelerator resume the first partition.
type BoolCoderContext struct {
	Range uint8 `json:"range"`
	// Value is the top byte of the value window.
	Value uint8 `json:"value"`
	// Count is the number of bits of Value already consumed, modulo 8.
	Count uint8 `json:"count"`
}

// PictureParams describes the picture and its references.
type PictureParams struct {
	FrameWidth  int  `json:"frameWidth"`
	FrameHeight int  `json:"frameHeight"`
	KeyFrame    bool `json:"keyFrame"`

	LastRef   refslot.SlotID `json:"lastRef"`
	GoldenRef refslot.SlotID `json:"goldenRef"`
	AltrefRef refslot.SlotID `json:"altrefRef"`

	Version                  uint8 `json:"version"`
	SegmentationEnabled      bool  `json:"segmentationEnabled"`
	UpdateMBSegmentationMap  bool  `json:"updateMBSegmentationMap"`
	UpdateSegmentFeatureData bool  `json:"updateSegmentFeatureData"`
	FilterType               uint8 `json:"filterType"`
	SharpnessLevel           uint8 `json:"sharpnessLevel"`
	LoopFilterAdjEnable      bool  `json:"loopFilterAdjEnable"`
	ModeRefLFDeltaUpdate     bool  `json:"modeRefLFDeltaUpdate"`
	SignBiasGolden           bool  `json:"signBiasGolden"`
	SignBiasAlternate        bool  `json:"signBiasAlternate"`
	MBNoCoeffSkip            bool  `json:"mbNoCoeffSkip"`
	LoopFilterDisable        bool  `json:"loopFilterDisable"`

	MBSegmentTreeProbs   [vp8.NumSegmentTreeProbs]uint8 `json:"mbSegmentTreeProbs"`
	LoopFilterLevel      [vp8.NumSegments]uint8         `json:"loopFilterLevel"`
	LoopFilterDeltasRef  [vp8.NumRefFrames]int8         `json:"loopFilterDeltasRef"`
	LoopFilterDeltasMode [vp8.NumModeLFDeltas]int8      `json:"loopFilterDeltasMode"`

	ProbSkipFalse uint8 `json:"probSkipFalse"`
	ProbIntra     uint8 `json:"probIntra"`
	ProbLast      uint8 `json:"probLast"`
	ProbGolden    uint8 `json:"probGolden"`

	YModeProbs  [probs.NumYModeProbs]uint8                `json:"yModeProbs"`
	UVModeProbs [probs.NumUVModeProbs]uint8               `json:"uvModeProbs"`
	MVProbs     [probs.NumMVLists][probs.NumMVProbs]uint8 `json:"mvProbs"`

	BoolCoder BoolCoderContext `json:"boolCoder"`
}

// Quantizer index positions within one QuantMatrix row.
const (
	QIndexYAC = iota
	QIndexYDC
	QIndexY2DC
	QIndexY2AC
	QIndexUVDC
	QIndexUVAC
	NumQIndices
)

// QuantMatrix holds the quantizer indices per segment. Only row 0 is used
// when segmentation is disabled.
type QuantMatrix struct {
	Index [vp8.NumSegments][NumQIndices]uint8 `json:"index"`
}

// SliceParams locate the partitions within the slice data, which is the
// frame without its uncompressed chunk.
type SliceParams struct {
	// DataOffset is the number of frame bytes skipped before the slice data.
	DataOffset int `json:"dataOffset"`
	DataSize   int `json:"dataSize"`
	// MacroblockOffset is the bit offset of the first macroblock header.
	MacroblockOffset int `json:"macroblockOffset"`
	// NumPartitions counts the first partition and the token partitions.
	NumPartitions int `json:"numPartitions"`
	// PartitionSize starts with the first partition bytes left after the
	// frame header, then lists each token partition.
	PartitionSize []int `json:"partitionSize"`
}

// Records is the full parameter set for one frame.
type Records struct {
	Picture PictureParams `json:"picture"`
	Quant   QuantMatrix   `json:"quant"`
	Slice   SliceParams   `json:"slice"`
	// CoeffProbs is the plane-major coefficient probability buffer.
	CoeffProbs []byte `json:"-"`
}

// Pack derives the records of f. refs is the slot assignment before f was
// decoded; key frames use no references. frameLen is the length of the
// compressed frame.
func Pack(f *header.Frame, refs refslot.Assignment, frameLen int) (*Records, error) {
	info := &f.Info
	if frameLen <= info.HeaderSize {
		return nil, fmt.Errorf("accel: frame of %d bytes has no slice data: %w", frameLen, vp8.ErrMoreData)
	}

	r := &Records{
		Picture:    pictureParams(f, refs),
		Quant:      quantMatrix(f),
		CoeffProbs: f.Probs.CoeffBytes(),
	}

	r.Slice = SliceParams{
		DataOffset:       info.HeaderSize,
		DataSize:         frameLen - info.HeaderSize,
		MacroblockOffset: info.EntropyDecSize,
		NumPartitions:    info.Partitions.Count() + 1,
		PartitionSize:    append([]int{info.CorrectedFirstPartitionSize}, info.Partitions.TokenSizes()...),
	}

	return r, nil
}

func pictureParams(f *header.Frame, refs refslot.Assignment) PictureParams {
	info := &f.Info
	pp := PictureParams{
		FrameWidth:  info.CropWidth,
		FrameHeight: info.CropHeight,
		KeyFrame:    info.IsKeyFrame(),
		LastRef:     refslot.NoSlot,
		GoldenRef:   refslot.NoSlot,
		AltrefRef:   refslot.NoSlot,

		Version:                  info.Version,
		SegmentationEnabled:      info.SegmentationEnabled,
		UpdateMBSegmentationMap:  info.UpdateSegmentMap,
		UpdateSegmentFeatureData: info.UpdateSegmentData,
		FilterType:               info.LoopFilterType,
		SharpnessLevel:           info.SharpnessLevel,
		LoopFilterAdjEnable:      info.LoopFilterAdjust,
		ModeRefLFDeltaUpdate:     info.LoopFilterDeltaUpdate,
		MBNoCoeffSkip:            info.MBSkipEnabled,
		LoopFilterDisable:        info.LoopFilterLevel == 0 || info.Version == 2 || info.Version == 3,

		MBSegmentTreeProbs:   info.SegmentTreeProbs,
		LoopFilterDeltasRef:  info.RefLFDeltas,
		LoopFilterDeltasMode: info.ModeLFDeltas,

		ProbSkipFalse: info.SkipFalseProb,
		ProbIntra:     info.IntraProb,
		ProbLast:      info.LastProb,
		ProbGolden:    info.GoldenProb,

		MVProbs: f.Probs.MV,

		BoolCoder: BoolCoderContext{
			Range: uint8(f.BoolState.Range),
			Value: uint8(f.BoolState.Value >> 24),
			Count: uint8(f.BoolState.BitCount & 7),
		},
	}

	if info.IsKeyFrame() {
		pp.YModeProbs = probs.KeyFrameYModeProbs
		pp.UVModeProbs = probs.KeyFrameUVModeProbs
	} else {
		pp.LastRef, pp.GoldenRef, pp.AltrefRef = refs.Last, refs.Golden, refs.Altref
		pp.SignBiasGolden = f.Refresh.SignBias[3] != 0
		pp.SignBiasAlternate = f.Refresh.SignBias[2] != 0
		pp.YModeProbs = f.Probs.YMode
		pp.UVModeProbs = f.Probs.UVMode
	}

	pp.LoopFilterLevel = LoopFilterLevels(info)
	return pp
}

// LoopFilterLevels returns the loop filter level of each segment.
func LoopFilterLevels(info *header.FrameInfo) [vp8.NumSegments]uint8 {
	var levels [vp8.NumSegments]uint8
	for s := range levels {
		level := int32(info.LoopFilterLevel)
		if info.SegmentationEnabled {
			feature := int32(info.SegmentFeatureData[vp8.FeatureLoopFilter][s])
			if info.SegmentAbsMode {
				level = feature
			} else {
				level += feature
			}
		}
		levels[s] = uint8(vp8.Clamp(level, 0, vp8.MaxLoopFilterLevel))
	}
	return levels
}

func quantMatrix(f *header.Frame) QuantMatrix {
	var m QuantMatrix
	q := &f.Quant

	segments := 1
	if f.Info.SegmentationEnabled {
		segments = vp8.NumSegments
	}
	for s := 0; s < segments; s++ {
		m.Index[s][QIndexYAC] = uint8(q.YACQ[s])
		m.Index[s][QIndexYDC] = uint8(q.YDCQ[s])
		m.Index[s][QIndexY2DC] = uint8(q.Y2DCQ[s])
		m.Index[s][QIndexY2AC] = uint8(q.Y2ACQ[s])
		m.Index[s][QIndexUVDC] = uint8(q.UVDCQ[s])
		m.Index[s][QIndexUVAC] = uint8(q.UVACQ[s])
	}
	return m
}
