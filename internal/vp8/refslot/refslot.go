// Package refslot tracks which decoded picture each VP8 reference frame slot
// (last, golden, altref) points at.
package refslot

import "fmt"

// SlotID identifies a decoded picture surface.
type SlotID int

// NoSlot marks a reference that has not been assigned yet.
const NoSlot SlotID = -1

// Copy codes for the golden and altref buffers.
const (
	CopyNone      = 0
	CopyFromLast  = 1
	CopyFromOther = 2 // golden from altref, altref from golden
)

// Refresh bits of the refresh mask.
const (
	RefreshAltref = 1 << 0
	RefreshGolden = 1 << 1
)

// Assignment is the picture referenced by each slot.
type Assignment struct {
	Last   SlotID `json:"last"`
	Golden SlotID `json:"golden"`
	Altref SlotID `json:"altref"`
}

// Empty returns an assignment with no slot filled.
func Empty() Assignment {
	return Assignment{Last: NoSlot, Golden: NoSlot, Altref: NoSlot}
}

// References reports whether any slot points at id.
func (a Assignment) References(id SlotID) bool {
	return a.Last == id || a.Golden == id || a.Altref == id
}

func (a Assignment) String() string {
	return fmt.Sprintf("last=%d golden=%d altref=%d", a.Last, a.Golden, a.Altref)
}

// Refresh is the reference update policy decoded from one frame header.
type Refresh struct {
	KeyFrame    bool
	RefreshMask uint8 // RefreshAltref | RefreshGolden
	CopyGolden  uint8
	CopyAltref  uint8
	RefreshLast bool
}

// Update returns the assignment after decoding a frame into surface id.
// Copies read the slots as they were before this frame, and the altref copy
// from golden uses the golden picture captured before this frame's own
// golden update. Explicit refreshes are applied after the copies.
func Update(prev Assignment, r Refresh, id SlotID) Assignment {
	if r.KeyFrame {
		return Assignment{Last: id, Golden: id, Altref: id}
	}

	next := prev
	oldGolden := prev.Golden

	switch r.CopyGolden {
	case CopyFromLast:
		next.Golden = prev.Last
	case CopyFromOther:
		next.Golden = prev.Altref
	}

	switch r.CopyAltref {
	case CopyFromLast:
		next.Altref = prev.Last
	case CopyFromOther:
		next.Altref = oldGolden
	}

	if r.RefreshMask&RefreshGolden != 0 {
		next.Golden = id
	}
	if r.RefreshMask&RefreshAltref != 0 {
		next.Altref = id
	}
	if r.RefreshLast {
		next.Last = id
	}

	return next
}

// Tracker holds the committed assignment of one stream and the one before it.
// It is not safe for concurrent use; frames of a stream are tracked in order.
type Tracker struct {
	current  Assignment
	previous Assignment
}

// NewTracker returns a tracker with every slot empty.
func NewTracker() *Tracker {
	return &Tracker{current: Empty(), previous: Empty()}
}

// Current returns the committed assignment.
func (t *Tracker) Current() Assignment { return t.current }

// Next computes the assignment for a frame without committing it.
func (t *Tracker) Next(r Refresh, id SlotID) Assignment {
	return Update(t.current, r, id)
}

// Commit makes a the current assignment.
func (t *Tracker) Commit(a Assignment) {
	t.previous = t.current
	t.current = a
}

// Apply computes and commits the assignment for a frame.
func (t *Tracker) Apply(r Refresh, id SlotID) Assignment {
	a := t.Next(r, id)
	t.Commit(a)
	return a
}

// Reset empties every slot.
func (t *Tracker) Reset() {
	t.current = Empty()
	t.previous = Empty()
}
