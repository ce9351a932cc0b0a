// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package barrier

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gviegas/barrier/internal/logging"
	"github.com/gviegas/barrier/state"
)

// GlobalPass resolves the prior state of every barrier
// that LocalPass left as UUnknown, using the persistent
// tables given to Reset, and then writes the final state of
// every accessed resource back into the tables.
//
// The subresources of an unresolved image barrier must
// share a single global state. When they do not, GlobalPass
// fails with ErrIncoherentRange (leaving the tables intact)
// unless SetSplitIncoherent(true) was called, in which case
// the barrier is replaced by one barrier per homogeneous
// rectangle. Queue ownership barriers are always split.
func (s *Solver) GlobalPass() error {
	switch s.phase {
	case unbound:
		return ErrNotReset
	case localDone:
	default:
		return errors.Wrapf(ErrPhase, "GlobalPass (%v)", s.phase)
	}

	for i := range s.bufBarrs {
		b := &s.bufBarrs[i]
		if b.Before.Usage != state.UUnknown {
			continue
		}
		g, ok := s.globalBuf.Get(b.Handle.ID)
		if !ok {
			g = state.Initial
		}
		resolve(&b.Before, &b.After, b.Kind, g)
	}

	if err := s.resolveImages(); err != nil {
		s.phase = failed
		return err
	}

	for _, h := range s.bufIDs {
		c := s.buffers.At(h.ID)
		switch {
		case c.state.Usage != state.UUnknown:
			s.globalBuf.Set(h.ID, c.state)
		case c.state.Queue != state.QUnknown:
			s.globalBuf.At(h.ID).Queue = c.state.Queue
		}
	}
	for _, h := range s.texIDs {
		c := s.textures.At(h.ID)
		g := s.globalTex.At(h.ID)
		for i := range c.touched.Ones() {
			if c.states[i].Usage == state.UUnknown {
				g.States[i].Queue = c.states[i].Queue
			} else {
				g.States[i] = c.states[i]
			}
		}
	}

	s.phase = globalDone
	logging.Logger().WithFields(logrus.Fields{
		"draws":    s.draws,
		"jobs":     len(s.jobs),
		"buffers":  len(s.bufBarrs),
		"images":   len(s.imgBarrs),
		"resident": len(s.bufIDs) + len(s.texIDs),
	}).Debug("barrier: solved")
	return nil
}

// resolve replaces an unknown prior state with the global
// state g.
// Transitions never carry a queue. Ownership transfers keep
// their queues and take the rest of both states from g.
func resolve(before, after *state.ResourceState, k state.Kind, g state.ResourceState) {
	if k == state.Transition {
		*before = g.WithoutQueue()
		return
	}
	from, to := before.Queue, after.Queue
	*before = g
	before.Queue = from
	*after = g
	after.Queue = to
}

func (s *Solver) resolveImages() error {
	var split []state.ImageBarrier
	splitting := false
	for d := range s.infos {
		info := &s.infos[d]
		off := info.ImageOffset
		if splitting {
			off = len(split)
		}
		for i := info.ImageOffset; i < info.ImageOffset+info.ImageCount; i++ {
			b := &s.imgBarrs[i]
			if b.Before.Usage != state.UUnknown {
				if splitting {
					split = append(split, *b)
				}
				continue
			}
			g, _ := s.globalTex.Get(b.Handle.ID)
			if g.Mips == 0 {
				resolve(&b.Before, &b.After, b.Kind, state.Initial)
				if splitting {
					split = append(split, *b)
				}
				continue
			}
			ref := g.States[g.Index(b.StartMip, b.StartArr)]
			if coherent(&g, b, ref) {
				resolve(&b.Before, &b.After, b.Kind, ref)
				if splitting {
					split = append(split, *b)
				}
				continue
			}
			if !s.split && b.Kind == state.Transition {
				return errors.Wrapf(ErrIncoherentRange, "%v mips %d+%d arr %d+%d",
					b.Handle, b.StartMip, b.MipSize, b.StartArr, b.ArrSize)
			}
			if !splitting {
				// Everything up to here was kept as is.
				splitting = true
				split = append(split, s.imgBarrs[:i]...)
			}
			split = s.splitImage(split, &g, *b)
		}
		if splitting {
			info.ImageOffset = off
			info.ImageCount = len(split) - off
		}
	}
	if splitting {
		s.imgBarrs = append(s.imgBarrs[:0], split...)
	}
	return nil
}

func coherent(g *state.TextureResourceState, b *state.ImageBarrier, ref state.ResourceState) bool {
	for slice := b.StartArr; slice < b.StartArr+b.ArrSize; slice++ {
		for mip := b.StartMip; mip < b.StartMip+b.MipSize; mip++ {
			if !g.States[g.Index(mip, slice)].SameAccess(ref) {
				return false
			}
		}
	}
	return true
}

// splitImage appends to dst one resolved barrier per
// rectangle of b whose subresources share a global state.
func (s *Solver) splitImage(dst []state.ImageBarrier, g *state.TextureResourceState, b state.ImageBarrier) []state.ImageBarrier {
	s.coal.begin()
	for mip := b.StartMip; mip < b.StartMip+b.MipSize; mip++ {
		for slice := b.StartArr; slice < b.StartArr+b.ArrSize; slice++ {
			s.coal.add(mip, slice, g.States[g.Index(mip, slice)].WithoutQueue(), b.After)
		}
	}
	s.coal.end(func(r rect) {
		x := r.image(b.Handle, b.Kind)
		x.Before = b.Before
		x.After = b.After
		resolve(&x.Before, &x.After, x.Kind, r.before)
		dst = append(dst, x)
	})
	logging.Logger().WithFields(logrus.Fields{
		"texture": b.Handle,
		"mips":    [2]int{b.StartMip, b.MipSize},
		"arr":     [2]int{b.StartArr, b.ArrSize},
	}).Debug("barrier: split incoherent range")
	return dst
}
