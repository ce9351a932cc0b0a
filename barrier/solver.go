// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package barrier computes the synchronization barriers
// needed by a sequence of GPU operations.
//
// Accesses are recorded per draw call, then two passes run
// over them. LocalPass decides, from the accesses alone,
// which transitions are needed before each draw call.
// GlobalPass resolves the transitions whose prior state is
// only known to the device's persistent tables, and writes
// the final states back into them.
package barrier

import (
	"slices"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gviegas/barrier/handle"
	"github.com/gviegas/barrier/internal/bitvec"
	"github.com/gviegas/barrier/internal/logging"
	"github.com/gviegas/barrier/state"
)

// SetLogger sets the logger used by every package of the
// module. A nil l disables logging.
func SetLogger(l *logrus.Logger) { logging.SetLogger(l) }

// Info locates the barriers of a single draw call in the
// solver's barrier arrays.
type Info struct {
	DrawCall     int
	BufferOffset int
	BufferCount  int
	ImageOffset  int
	ImageCount   int
}

// Barriers are the barriers that must execute before a
// given draw call.
// The slices alias the solver's storage and are valid
// until the next Reset.
type Barriers struct {
	Buffers  []state.BufferBarrier
	Textures []state.ImageBarrier
}

// packet is a single recorded access.
type packet struct {
	draw int
	view handle.ViewResourceHandle
	next state.ResourceState
}

// smallBuffer is the local state of a buffer.
type smallBuffer struct {
	epoch uint32
	state state.ResourceState
	// Index of the last barrier recorded for the buffer,
	// or -1.
	last int
}

// smallTexture is the local state of a texture.
type smallTexture struct {
	epoch  uint32
	mips   int
	states []state.ResourceState
	// Index of the last transition recorded for each
	// subresource, or -1.
	last    []int
	touched bitvec.V[uint64]
}

func (t *smallTexture) layers() int { return len(t.states) / t.mips }

// owner returns the queue of the first subresource whose
// owner is known.
func (t *smallTexture) owner() state.Queue {
	for i := range t.states {
		if q := t.states[i].Queue; q != state.QUnknown {
			return q
		}
	}
	return state.QUnknown
}

type phase int

const (
	unbound phase = iota
	recording
	localDone
	globalDone
	failed
)

var phaseNames = [...]string{
	unbound:    "unbound",
	recording:  "recording",
	localDone:  "local pass done",
	globalDone: "global pass done",
	failed:     "failed",
}

func (p phase) String() string { return phaseNames[p] }

// Solver computes barriers for one recording at a time.
// The zero value is ready for use (after Reset).
// A Solver is not safe for concurrent use; independent
// solvers share nothing and can run in parallel.
type Solver struct {
	globalBuf *state.BufferTable
	globalTex *state.TextureTable

	phase    phase
	draws    int
	jobs     []packet
	infos    []Info
	bufBarrs []state.BufferBarrier
	imgBarrs []state.ImageBarrier

	// Local caches. An entry whose epoch differs from the
	// solver's has not been touched in this recording.
	epoch    uint32
	buffers  handle.Vector[smallBuffer]
	textures handle.Vector[smallTexture]
	bufIDs   []handle.ResourceHandle
	texIDs   []handle.ResourceHandle

	coal  coalescer
	split bool
}

// Reset binds the tables that hold the persistent state
// of buffers and textures, and clears everything recorded
// so far.
// The tables are borrowed until the next Reset; only
// GlobalPass modifies them.
func (s *Solver) Reset(buffers *state.BufferTable, textures *state.TextureTable) {
	s.globalBuf = buffers
	s.globalTex = textures
	s.phase = recording
	s.draws = 0
	s.jobs = s.jobs[:0]
	s.infos = s.infos[:0]
	s.bufBarrs = s.bufBarrs[:0]
	s.imgBarrs = s.imgBarrs[:0]
	s.bufIDs = s.bufIDs[:0]
	s.texIDs = s.texIDs[:0]
	s.epoch++
	if s.epoch == 0 {
		s.buffers.Clear()
		s.textures.Clear()
		s.epoch = 1
	}
}

// SetSplitIncoherent sets whether GlobalPass splits an
// image barrier whose subresources had different global
// states into several barriers, instead of failing with
// ErrIncoherentRange.
// Default is false.
func (s *Solver) SetSplitIncoherent(split bool) { s.split = split }

// AddDrawCall adds a new draw call and returns its index.
// Indices start at zero after every Reset.
func (s *Solver) AddDrawCall() int {
	s.draws++
	return s.draws - 1
}

// DrawCalls returns the number of draw calls added since
// the last Reset.
func (s *Solver) DrawCalls() int { return s.draws }

func (s *Solver) checkAdd(draw int, view handle.ViewResourceHandle, access state.ResourceState) error {
	switch {
	case s.phase == unbound || s.globalBuf == nil || s.globalTex == nil:
		return ErrNotReset
	case s.phase != recording:
		return errors.Wrapf(ErrPhase, "access of %v (%v)", view.Resource, s.phase)
	case draw < 0 || draw >= s.draws:
		return errors.Wrapf(ErrDrawOrder, "draw call %d of %d", draw, s.draws)
	case len(s.jobs) > 0 && draw < s.jobs[len(s.jobs)-1].draw:
		return errors.Wrapf(ErrDrawOrder, "draw call %d after %d", draw, s.jobs[len(s.jobs)-1].draw)
	case access.Usage == state.UUnknown:
		return errors.Wrapf(ErrInvalidAccess, "access of %v", view.Resource)
	}
	return nil
}

// AddBuffer records an access to a buffer by draw call
// draw.
// Only the buffer's owner queue is taken from the buffer
// table here; the rest of its state is left for
// GlobalPass.
func (s *Solver) AddBuffer(draw int, view handle.ViewResourceHandle, access state.ResourceState) error {
	if err := s.checkAdd(draw, view, access); err != nil {
		return err
	}
	if !view.Resource.Type.IsBuffer() {
		return errors.Wrapf(ErrResourceType, "AddBuffer of %v", view.Resource)
	}
	c := s.buffers.At(view.Resource.ID)
	if c.epoch != s.epoch {
		*c = smallBuffer{epoch: s.epoch, state: state.Initial, last: -1}
		if g, ok := s.globalBuf.Get(view.Resource.ID); ok {
			c.state.Queue = g.Queue
		}
		s.bufIDs = append(s.bufIDs, view.Resource)
	}
	s.jobs = append(s.jobs, packet{draw, view, access})
	return nil
}

// AddTexture records an access to the range of texture
// subresources covered by view, by draw call draw.
// The texture must have an entry in the texture table.
func (s *Solver) AddTexture(draw int, view handle.ViewResourceHandle, access state.ResourceState) error {
	if err := s.checkAdd(draw, view, access); err != nil {
		return err
	}
	r := view.Resource
	if !r.Type.IsTexture() {
		return errors.Wrapf(ErrResourceType, "AddTexture of %v", r)
	}
	g, ok := s.globalTex.Get(r.ID)
	if !ok || g.Mips == 0 {
		return errors.Wrapf(ErrSubresourceRange, "%v has no declared extent", r)
	}
	if int(view.AllMips) != g.Mips || view.MipSize == 0 || view.ArrSize == 0 ||
		int(view.StartMip)+int(view.MipSize) > g.Mips || int(view.StartArr)+int(view.ArrSize) > g.Layers() {
		return errors.Wrapf(ErrSubresourceRange, "%v for %d mips %d layers", view, g.Mips, g.Layers())
	}
	c := s.textures.At(r.ID)
	if c.epoch != s.epoch {
		n := len(g.States)
		c.epoch = s.epoch
		c.mips = g.Mips
		c.states = slices.Grow(c.states[:0], n)[:n]
		c.last = slices.Grow(c.last[:0], n)[:n]
		for i := range c.states {
			c.states[i] = state.Initial
			c.states[i].Queue = g.States[i].Queue
			c.last[i] = -1
		}
		c.touched.Clear()
		c.touched.Fit(n - 1)
		s.texIDs = append(s.texIDs, r)
	}
	s.jobs = append(s.jobs, packet{draw, view, access})
	return nil
}

// BarrierInfos returns one Info per draw call, in draw
// call order.
// It is only meaningful after LocalPass.
func (s *Solver) BarrierInfos() []Info { return s.infos }

// RunBarrier returns the barriers described by info.
func (s *Solver) RunBarrier(info Info) Barriers {
	return Barriers{
		Buffers:  s.bufBarrs[info.BufferOffset : info.BufferOffset+info.BufferCount],
		Textures: s.imgBarrs[info.ImageOffset : info.ImageOffset+info.ImageCount],
	}
}

// BufferBarriers returns every buffer barrier computed
// since the last Reset.
func (s *Solver) BufferBarriers() []state.BufferBarrier { return s.bufBarrs }

// ImageBarriers returns every image barrier computed since
// the last Reset.
func (s *Solver) ImageBarriers() []state.ImageBarrier { return s.imgBarrs }
