package lpstream

import "sync"

// DefaultPoolSlots is the number of length prefixes a pool block holds.
const DefaultPoolSlots = 1024

// Allocator hands out small scratch regions for frame headers.
// A region returned by Acquire is never handed out again, so holders may
// keep it for as long as they need.
type Allocator interface {
	Acquire(n int) []byte
}

// PrefixPool carves header regions from a preallocated block, replacing the
// block when it runs out. It is not safe for concurrent use; wrap it with
// NewLockedPool when several goroutines encode through one pool.
type PrefixPool struct {
	blockSize int
	block     []byte
	used      int
}

// NewPrefixPool returns a pool whose blocks hold slots length prefixes.
func NewPrefixPool(slots int) *PrefixPool {
	if slots <= 0 {
		slots = DefaultPoolSlots
	}
	p := &PrefixPool{blockSize: slots * PrefixLength}
	p.renew(p.blockSize)
	return p
}

// Acquire returns an n-byte region. The region's capacity is clipped to n
// so appending to it cannot spill into a neighbour.
func (p *PrefixPool) Acquire(n int) []byte {
	if len(p.block)-p.used < n {
		size := p.blockSize
		if n > size {
			size = n
		}
		p.renew(size)
	}
	start := p.used
	p.used += n
	return p.block[start:p.used:p.used]
}

// Available reports how many bytes remain in the current block.
func (p *PrefixPool) Available() int {
	return len(p.block) - p.used
}

// The old block is dropped, not reused: regions cut from it may still be
// in flight downstream.
func (p *PrefixPool) renew(size int) {
	p.block = make([]byte, size)
	p.used = 0
}

type lockedPool struct {
	mu sync.Mutex
	a  Allocator
}

// NewLockedPool serialises access to a so it can be shared between
// encoders running on different goroutines.
func NewLockedPool(a Allocator) Allocator {
	return &lockedPool{a: a}
}

func (l *lockedPool) Acquire(n int) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.a.Acquire(n)
}
