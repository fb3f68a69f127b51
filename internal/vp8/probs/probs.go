// Package probs owns the VP8 entropy-coding probability tables that persist
// between frames, together with the save/restore rule driven by the
// refresh_entropy_probs header flag.
package probs

// Table dimensions.
const (
	NumPlanes   = 4  // Y-after-Y2, Y2, chroma, Y-with-DC
	NumBands    = 8  // coefficient position bands
	NumContexts = 3  // local complexity
	NumNodes    = 11 // token tree nodes

	NumMVLists = 2  // row, column
	NumMVProbs = 19 // is-short, sign, 8 short-tree, 10 long-bit probabilities

	NumYModeProbs  = 4
	NumUVModeProbs = 3
)

// NumCoeffProbs is the number of coefficient probabilities in a frame.
const NumCoeffProbs = NumPlanes * NumBands * NumContexts * NumNodes

// DefaultMVContexts are the motion vector probabilities of RFC 6386 section 17.2.
var DefaultMVContexts = [NumMVLists][NumMVProbs]uint8{
	{162, 128, 225, 146, 172, 147, 214, 39, 156, 128, 129, 132, 75, 145, 178, 206, 239, 254, 254},
	{164, 128, 204, 170, 119, 235, 140, 230, 228, 128, 130, 130, 74, 148, 180, 203, 236, 254, 254},
}

// MVUpdateProbs gate each motion vector probability update.
var MVUpdateProbs = [NumMVLists][NumMVProbs]uint8{
	{237, 246, 253, 253, 254, 254, 254, 254, 254, 254, 254, 254, 254, 254, 250, 250, 252, 254, 254},
	{231, 243, 245, 253, 254, 254, 254, 254, 254, 254, 254, 254, 254, 254, 251, 251, 254, 254, 254},
}

// Inter frame intra-mode probabilities restored on every key frame.
var (
	DefaultYModeProbs  = [NumYModeProbs]uint8{112, 86, 140, 37}
	DefaultUVModeProbs = [NumUVModeProbs]uint8{162, 101, 204}
)

// Key frame intra-mode probabilities. They are fixed and never updated.
var (
	KeyFrameYModeProbs  = [NumYModeProbs]uint8{145, 156, 163, 128}
	KeyFrameUVModeProbs = [NumUVModeProbs]uint8{142, 114, 183}
)

// Tables is one complete set of persistent probabilities.
type Tables struct {
	Coeff  [NumPlanes][NumBands][NumContexts][NumNodes]uint8 `json:"coeff"`
	MV     [NumMVLists][NumMVProbs]uint8                     `json:"mv"`
	YMode  [NumYModeProbs]uint8                              `json:"yMode"`
	UVMode [NumUVModeProbs]uint8                             `json:"uvMode"`
}

// DefaultTables returns the tables in force at stream start.
func DefaultTables() Tables {
	return Tables{
		Coeff:  DefaultCoeffProbs,
		MV:     DefaultMVContexts,
		YMode:  DefaultYModeProbs,
		UVMode: DefaultUVModeProbs,
	}
}

// CoeffBytes flattens the coefficient probabilities plane-major, the layout
// accelerators take as their probability buffer.
func (t *Tables) CoeffBytes() []byte {
	out := make([]byte, 0, NumCoeffProbs)
	for i := range t.Coeff {
		for j := range t.Coeff[i] {
			for k := range t.Coeff[i][j] {
				out = append(out, t.Coeff[i][j][k][:]...)
			}
		}
	}
	return out
}

// Context holds the active tables used to decode the current frame and the
// saved snapshot restored when a frame does not persist its updates.
// Context is a value type: copying it copies both snapshots.
type Context struct {
	Active Tables
	Saved  Tables
}

// NewContext returns a context with both snapshots at their defaults.
func NewContext() Context {
	d := DefaultTables()
	return Context{Active: d, Saved: d}
}

// Snapshot saves the active tables so the next frame starts from them.
func (c *Context) Snapshot() {
	c.Saved = c.Active
}

// Restore reloads the active tables from the saved snapshot. Motion vector
// contexts are re-seeded from the defaults rather than the snapshot.
func (c *Context) Restore() {
	c.Active = c.Saved
	c.Active.MV = DefaultMVContexts
}

// ResetKeyFrame reloads the defaults a key frame starts from.
func (c *Context) ResetKeyFrame() {
	c.Active.Coeff = DefaultCoeffProbs
	c.Active.YMode = DefaultYModeProbs
	c.Active.UVMode = DefaultUVModeProbs
	c.Active.MV = DefaultMVContexts
}
