package session

import (
	"fmt"
	"sync"

	"github.com/rcarmo/go-vp8/internal/vp8"
	"github.com/rcarmo/go-vp8/internal/vp8/refslot"
)

// DefaultPoolSize is the number of surfaces a VP8 stream needs: three
// references plus the picture being decoded.
const DefaultPoolSize = 4

// ErrNoSurface is returned when every surface is still referenced.
var ErrNoSurface = fmt.Errorf("session: no free surface: %w", vp8.ErrMoreData)

// SurfaceAllocator hands out decoded picture surfaces.
type SurfaceAllocator interface {
	Alloc() (refslot.SlotID, error)
	Release(id refslot.SlotID)
}

// surfaceCounter is implemented by allocators that report their occupancy.
type surfaceCounter interface {
	Size() int
	InUse() int
}

// Pool is a fixed set of surface ids. It is safe for concurrent use.
type Pool struct {
	mu   sync.Mutex
	used []bool
}

// NewPool returns a pool of size surfaces numbered from 0. A size below 1
// selects DefaultPoolSize.
func NewPool(size int) *Pool {
	if size < 1 {
		size = DefaultPoolSize
	}
	return &Pool{used: make([]bool, size)}
}

// Alloc returns the lowest free id.
func (p *Pool) Alloc() (refslot.SlotID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, u := range p.used {
		if !u {
			p.used[i] = true
			return refslot.SlotID(i), nil
		}
	}
	return refslot.NoSlot, ErrNoSurface
}

// Release returns id to the pool. Unknown or free ids are ignored.
func (p *Pool) Release(id refslot.SlotID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id >= 0 && int(id) < len(p.used) {
		p.used[id] = false
	}
}

// Size returns the number of surfaces.
func (p *Pool) Size() int { return len(p.used) }

// InUse returns the number of allocated surfaces.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, u := range p.used {
		if u {
			n++
		}
	}
	return n
}
