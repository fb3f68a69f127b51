package header

import (
	"fmt"

	"github.com/rcarmo/go-vp8/internal/logging"
	"github.com/rcarmo/go-vp8/internal/vp8"
	"github.com/rcarmo/go-vp8/internal/vp8/boolcoder"
	"github.com/rcarmo/go-vp8/internal/vp8/partition"
	"github.com/rcarmo/go-vp8/internal/vp8/probs"
)

// tagSize is the length of the frame tag common to all frames.
const tagSize = 3

// state is everything a frame header may carry over to the next frame.
type state struct {
	probs probs.Context
	// refreshProbabilities is the flag of the last committed frame.
	refreshProbabilities bool

	width, height         int
	cropWidth, cropHeight int
	hScale, vScale        uint8

	segmentAbsMode     bool
	segmentFeatureData [vp8.NumFeatures][vp8.NumSegments]int8
	segmentTreeProbs   [vp8.NumSegmentTreeProbs]uint8

	refLFDeltas  [vp8.NumRefFrames]int8
	modeLFDeltas [vp8.NumModeLFDeltas]int8
}

func initialState() state {
	return state{
		probs:                probs.NewContext(),
		refreshProbabilities: true,
		segmentTreeProbs:     [vp8.NumSegmentTreeProbs]uint8{255, 255, 255},
	}
}

// Options configure a Parser.
type Options struct {
	Formula HeaderSizeFormula
	Logger  *logging.Logger
}

// Parser decodes the frame headers of one stream. Frames must be parsed and
// committed in bitstream order. A Parser is not safe for concurrent use;
// independent streams use independent parsers.
type Parser struct {
	formula HeaderSizeFormula
	log     *logging.Logger
	st      state
	frames  uint64
}

// NewParser returns a parser at stream start.
func NewParser(opts Options) *Parser {
	l := opts.Logger
	if l == nil {
		l = logging.Default()
	}
	return &Parser{
		formula: opts.Formula,
		log:     l.WithPrefix("header"),
		st:      initialState(),
	}
}

// Formula returns the configured header size formula.
func (p *Parser) Formula() HeaderSizeFormula { return p.formula }

// Committed returns the number of frames committed since the last reset.
func (p *Parser) Committed() uint64 { return p.frames }

// Reset returns the parser to stream start.
func (p *Parser) Reset() {
	p.st = initialState()
	p.frames = 0
}

// ParseAndCommit parses a frame and commits it on success.
func (p *Parser) ParseAndCommit(frame []byte) (*Frame, error) {
	f, err := p.Parse(frame)
	if err != nil {
		return nil, err
	}
	p.Commit(f)
	return f, nil
}

// Commit makes the state carried by f the parser's state. f must be the
// result of the latest Parse call on p.
func (p *Parser) Commit(f *Frame) {
	p.st = f.next
	p.frames++
}

// Parse decodes the header of one compressed frame. It does not change the
// parser; on success the returned Frame carries the state to Commit. Errors
// wrap vp8.ErrMoreData, vp8.ErrMalformedStream or vp8.ErrUnsupportedFeature.
func (p *Parser) Parse(frame []byte) (*Frame, error) {
	if len(frame) < tagSize {
		return nil, fmt.Errorf("header: frame tag needs %d bytes, have %d: %w", tagSize, len(frame), vp8.ErrMoreData)
	}

	st := p.st
	f := &Frame{}
	info := &f.Info

	info.FrameType = FrameType(frame[0] & 1)
	info.Version = (frame[0] >> 1) & 7
	info.ShowFrame = (frame[0]>>4)&1 == 1
	info.InterpolationFlags = interpolationFlags(info.Version)
	info.FirstPartitionSize = int(frame[0])>>5 | int(frame[1])<<3 | int(frame[2])<<11

	if !st.refreshProbabilities {
		st.probs.Restore()
	}

	info.HeaderSize = vp8.InterFrameHeaderSize
	if info.IsKeyFrame() {
		info.HeaderSize = vp8.KeyFrameHeaderSize
	}
	if len(frame) < info.HeaderSize || info.FirstPartitionSize > len(frame)-info.HeaderSize {
		return nil, fmt.Errorf("header: first partition of %d bytes does not fit in %d: %w",
			info.FirstPartitionSize, len(frame), vp8.ErrMoreData)
	}

	if info.IsKeyFrame() {
		if err := parseKeyFrameChunk(frame, &st, info); err != nil {
			return nil, err
		}
		st.probs.ResetKeyFrame()
		st.segmentFeatureData = [vp8.NumFeatures][vp8.NumSegments]int8{}
		st.segmentAbsMode = false
		st.refLFDeltas = [vp8.NumRefFrames]int8{}
		st.modeLFDeltas = [vp8.NumModeLFDeltas]int8{}
	}
	info.Width, info.Height = st.width, st.height
	info.CropWidth, info.CropHeight = st.cropWidth, st.cropHeight
	info.HScale, info.VScale = st.hScale, st.vScale

	d, err := boolcoder.New(frame[info.HeaderSize:])
	if err != nil {
		return nil, fmt.Errorf("header: first partition: %w", err)
	}

	if info.IsKeyFrame() {
		bits := d.DecodeLiteral(2)
		info.ColorSpace = uint8(bits >> 1)
		info.ClampingType = uint8(bits & 1)
		if info.ColorSpace != 0 {
			return nil, fmt.Errorf("header: color space %d: %w", info.ColorSpace, vp8.ErrUnsupportedFeature)
		}
	}

	info.SegmentationEnabled = d.DecodeFlag()
	if info.SegmentationEnabled {
		parseSegmentation(d, &st, info)
	}
	info.SegmentAbsMode = st.segmentAbsMode
	info.SegmentFeatureData = st.segmentFeatureData
	info.SegmentTreeProbs = st.segmentTreeProbs

	parseLoopFilter(d, &st, info)

	count := 1 << d.DecodeLiteral(2)
	info.Partitions, err = partition.Compute(frame, info.HeaderSize, info.FirstPartitionSize, count)
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	for i, r := range info.Partitions.Tokens {
		if len(r.Slice(frame)) < boolcoder.MinInitBytes {
			return nil, fmt.Errorf("header: token partition %d has %d bytes: %w", i, r.Size, vp8.ErrMoreData)
		}
	}

	f.Quant = parseQuant(d, info)

	if info.IsKeyFrame() {
		f.Refresh.RefreshRefFrame = 3
	} else {
		parseRefresh(d, &f.Refresh)
	}

	f.Refresh.RefreshProbabilities = d.DecodeFlag()
	if !f.Refresh.RefreshProbabilities {
		// The pre-update tables are what the next frame restores.
		st.probs.Snapshot()
	}
	st.refreshProbabilities = f.Refresh.RefreshProbabilities

	f.Refresh.RefreshLastFrame = info.IsKeyFrame() || d.DecodeFlag()

	parseCoeffUpdates(d, &st.probs.Active)

	info.MBSkipEnabled = d.DecodeFlag()
	if info.MBSkipEnabled {
		info.SkipFalseProb = uint8(d.DecodeLiteral(8))
	}

	if !info.IsKeyFrame() {
		info.IntraProb = uint8(d.DecodeLiteral(8))
		info.LastProb = uint8(d.DecodeLiteral(8))
		info.GoldenProb = uint8(d.DecodeLiteral(8))
		parseModeProbs(d, &st.probs.Active)
		parseMVProbs(d, &st.probs.Active)
	}

	info.EntropyDecSize, info.CorrectedFirstPartitionSize = headerSizes(p.formula, d, info.FirstPartitionSize)

	f.Probs = st.probs.Active
	f.BoolState = d.State()
	f.next = st

	p.log.Debug("frame %d: %s %dx%d show=%t q=%d partitions=%d header=%d bits",
		p.frames, info.FrameType, info.Width, info.Height, info.ShowFrame,
		f.Quant.YACQP, info.Partitions.Count(), info.EntropyDecSize)

	return f, nil
}

// parseKeyFrameChunk checks the start code and reads the dimensions that
// follow the tag of a key frame.
func parseKeyFrameChunk(frame []byte, st *state, info *FrameInfo) error {
	c := frame[tagSize:vp8.KeyFrameHeaderSize]
	if !vp8.HasStartCode(c) {
		return fmt.Errorf("header: start code %x: %w", c[:3], vp8.ErrMalformedStream)
	}

	cropWidth := (int(c[4])<<8 | int(c[3])) & 0x3FFF
	cropHeight := (int(c[6])<<8 | int(c[5])) & 0x3FFF
	st.hScale = c[4] >> 6
	st.vScale = c[6] >> 6

	width := (cropWidth + 15) &^ 15
	height := (cropHeight + 15) &^ 15
	if width != st.width || height != st.height {
		info.DimensionsChanged = true
		st.width, st.height = width, height
	}
	st.cropWidth, st.cropHeight = cropWidth, cropHeight
	return nil
}

func parseRefresh(d *boolcoder.Decoder, r *RefreshInfo) {
	r.RefreshRefFrame = uint8(d.DecodeLiteral(2))
	if r.RefreshRefFrame&2 == 0 {
		r.CopyToGolden = uint8(d.DecodeLiteral(2))
	}
	if r.RefreshRefFrame&1 == 0 {
		r.CopyToAltref = uint8(d.DecodeLiteral(2))
	}

	bias := uint8(d.DecodeLiteral(2))
	r.SignBias[1] = (bias & 1) ^ (bias >> 1)
	r.SignBias[2] = bias & 1
	r.SignBias[3] = bias >> 1
}

func parseCoeffUpdates(d *boolcoder.Decoder, t *probs.Tables) {
	for i := range t.Coeff {
		for j := range t.Coeff[i] {
			for k := range t.Coeff[i][j] {
				for l := range t.Coeff[i][j][k] {
					if d.DecodeBit(probs.CoeffUpdateProbs[i][j][k][l]) == 1 {
						t.Coeff[i][j][k][l] = uint8(d.DecodeLiteral(8))
					}
				}
			}
		}
	}
}

func parseModeProbs(d *boolcoder.Decoder, t *probs.Tables) {
	if d.DecodeFlag() {
		for i := range t.YMode {
			t.YMode[i] = uint8(d.DecodeLiteral(8))
		}
	}
	if d.DecodeFlag() {
		for i := range t.UVMode {
			t.UVMode[i] = uint8(d.DecodeLiteral(8))
		}
	}
}

func parseMVProbs(d *boolcoder.Decoder, t *probs.Tables) {
	for i := range t.MV {
		for j := range t.MV[i] {
			if d.DecodeBit(probs.MVUpdateProbs[i][j]) == 1 {
				x := uint8(d.DecodeLiteral(7))
				if x != 0 {
					t.MV[i][j] = x << 1
				} else {
					t.MV[i][j] = 1
				}
			}
		}
	}
}

// headerSizes returns the consumed header bits and the bytes of the first
// partition left after the header.
func headerSizes(f HeaderSizeFormula, d *boolcoder.Decoder, firstSize int) (entropyDecSize, remaining int) {
	pos := int(d.Pos())
	bitCount := int(d.BitCount())

	if f == FormulaLegacy {
		entropyDecSize = pos*8 - 16 - bitCount
		fix := 0
		if bitCount&7 != 0 {
			fix = 1
		}
		return entropyDecSize, firstSize - (pos - 3 + fix)
	}

	entropyDecSize = d.ConsumedBits()
	return entropyDecSize, firstSize - ((entropyDecSize + 7) >> 3)
}
