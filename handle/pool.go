// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package handle

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/gviegas/barrier/internal/bitvec"
)

// ErrStaleHandle means that a handle's generation does not
// match the one stored by its pool (the handle was already
// released, or never allocated by that pool).
var ErrStaleHandle = errors.New("handle: stale or invalid handle")

// ErrPoolExhausted means that a pool has no free IDs and
// cannot grow any further.
var ErrPoolExhausted = errors.New("handle: pool exhausted")

// ErrInvalidType means that a handle's type does not match
// the pool (or view relation) it was given to.
var ErrInvalidType = errors.New("handle: invalid handle type")

// ids is the ID/generation bookkeeping shared by Pool
// and ViewPool.
// Callers must hold the owning pool's lock.
type ids struct {
	free []uint32
	gen  []uint32
	live bitvec.V[uint64]
	cap  int
}

func (s *ids) alloc() (id, gen uint32, err error) {
	if len(s.free) == 0 && len(s.gen) < s.cap {
		id = uint32(len(s.gen))
		s.gen = append(s.gen, 0)
		s.live.Fit(int(id))
		s.live.Set(int(id))
		return id, 0, nil
	}
	if len(s.free) == 0 {
		return 0, 0, ErrPoolExhausted
	}
	n := len(s.free) - 1
	id = s.free[n]
	s.free = s.free[:n]
	s.live.Set(int(id))
	return id, s.gen[id], nil
}

func (s *ids) valid(id, gen uint32) bool {
	return int(id) < len(s.gen) && s.gen[id] == gen && s.live.IsSet(int(id))
}

func (s *ids) release(id, gen uint32) error {
	if !s.valid(id, gen) {
		return ErrStaleHandle
	}
	s.free = append(s.free, id)
	s.gen[id]++
	s.live.Unset(int(id))
	return nil
}

// Pool allocates ResourceHandles of a single type.
// It grows on demand up to a fixed capacity.
// Pool is safe for concurrent use.
type Pool struct {
	mu  sync.Mutex
	typ ResourceType
	ids ids
}

// NewPool creates a pool of handles of type typ with room
// for capacity live handles.
// capacity is clamped to InvalidID.
func NewPool(typ ResourceType, capacity int) *Pool {
	return &Pool{typ: typ, ids: ids{cap: min(max(capacity, 0), InvalidID)}}
}

// Allocate returns a new handle.
// Released IDs are reused, tagged with their current
// generation; a fresh ID is used only while no released
// ID is available.
func (p *Pool) Allocate() (ResourceHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, gen, err := p.ids.alloc()
	if err != nil {
		return Nil, errors.Wrapf(err, "%v pool (capacity %d)", p.typ, p.ids.cap)
	}
	return ResourceHandle{ID: id, Gen: gen, Type: p.typ, GPUs: AllGPUs}, nil
}

// Release returns h to the pool.
// Any copy of h becomes invalid.
func (p *Pool) Release(h ResourceHandle) error {
	if h.Type != p.typ {
		return errors.Wrapf(ErrInvalidType, "release of %v into %v pool", h, p.typ)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ids.release(h.ID, h.Gen); err != nil {
		return errors.Wrapf(err, "release of %v", h)
	}
	return nil
}

// Valid reports whether h is a live handle of p.
func (p *Pool) Valid(h ResourceHandle) bool {
	if h.Type != p.typ {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ids.valid(h.ID, h.Gen)
}

// Free returns the number of released IDs waiting for
// reuse.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids.free)
}

// Live returns the handles currently allocated from p.
func (p *Pool) Live() []ResourceHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	var hs []ResourceHandle
	for id := range p.ids.live.Ones() {
		hs = append(hs, ResourceHandle{ID: uint32(id), Gen: p.ids.gen[id], Type: p.typ, GPUs: AllGPUs})
	}
	return hs
}

// ViewPool allocates ViewResourceHandles of a single type.
// ViewPool is safe for concurrent use.
type ViewPool struct {
	mu  sync.Mutex
	typ ViewType
	ids ids
}

// NewViewPool creates a pool of view handles of type typ.
// capacity is clamped to InvalidViewID.
func NewViewPool(typ ViewType, capacity int) *ViewPool {
	return &ViewPool{typ: typ, ids: ids{cap: min(max(capacity, 0), InvalidViewID)}}
}

// Allocate returns a new view handle with an empty range
// and no resource.
func (p *ViewPool) Allocate() (ViewResourceHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, gen, err := p.ids.alloc()
	if err != nil {
		return ViewResourceHandle{ID: InvalidViewID, Resource: Nil}, errors.Wrapf(err, "%v pool (capacity %d)", p.typ, p.ids.cap)
	}
	return ViewResourceHandle{ID: id, Gen: gen, Type: p.typ, Resource: Nil}, nil
}

// Release returns v to the pool.
func (p *ViewPool) Release(v ViewResourceHandle) error {
	if v.Type != p.typ {
		return errors.Wrapf(ErrInvalidType, "release of %v into %v pool", v, p.typ)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ids.release(v.ID, v.Gen); err != nil {
		return errors.Wrapf(err, "release of %v", v)
	}
	return nil
}

// Valid reports whether v is a live view handle of p.
func (p *ViewPool) Valid(v ViewResourceHandle) bool {
	if v.Type != p.typ {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ids.valid(v.ID, v.Gen)
}

// Free returns the number of released IDs waiting for
// reuse.
func (p *ViewPool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ids.free)
}

// Count returns the number of view handles in use.
func (p *ViewPool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ids.live.Count()
}
