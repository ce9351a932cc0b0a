// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package barrier

import (
	"github.com/pkg/errors"

	"github.com/gviegas/barrier/handle"
	"github.com/gviegas/barrier/state"
)

// LocalPass computes the barriers of every recorded access
// in draw call order.
// It only looks at the accesses themselves: the prior state
// of a resource's first access is left as UUnknown, to be
// resolved by GlobalPass.
//
// allowCommon enables the optimizations that rely on
// buffers decaying to the common state between submissions:
// a buffer's first access needs no barrier, and consecutive
// reads from new stages widen the buffer's previous barrier
// rather than adding another.
//
// An access from the common stage is a queue ownership
// request, and its usage selects the side of the transfer.
// A read is an acquire: it takes the resource from the
// access' queue to the resource's current owner. Anything
// else is a release: it gives the resource from its owner
// to the access' queue, which becomes the new owner.
// Requests for a resource that no queue owns, or that
// would not change its queue, produce no barrier.
// Texture requests always cover every subresource.
func (s *Solver) LocalPass(allowCommon bool) error {
	switch s.phase {
	case unbound:
		return ErrNotReset
	case recording:
	default:
		return errors.Wrapf(ErrPhase, "LocalPass (%v)", s.phase)
	}
	j := 0
	for d := range s.draws {
		info := Info{
			DrawCall:     d,
			BufferOffset: len(s.bufBarrs),
			ImageOffset:  len(s.imgBarrs),
		}
		for ; j < len(s.jobs) && s.jobs[j].draw == d; j++ {
			p := &s.jobs[j]
			var err error
			if p.view.Resource.Type.IsBuffer() {
				err = s.buffer(p, allowCommon)
			} else {
				err = s.texture(p)
			}
			if err != nil {
				s.phase = failed
				return errors.Wrapf(err, "draw call %d", d)
			}
		}
		info.BufferCount = len(s.bufBarrs) - info.BufferOffset
		info.ImageCount = len(s.imgBarrs) - info.ImageOffset
		s.infos = append(s.infos, info)
	}
	s.phase = localDone
	return nil
}

// ownership returns the queues and the kind of the barrier
// needed by the ownership request req on a resource owned
// by owner.
func ownership(owner state.Queue, req state.ResourceState) (from, to state.Queue, k state.Kind, ok bool) {
	if owner == state.QUnknown || req.Queue == state.QUnknown || owner == req.Queue {
		return
	}
	if req.Usage == state.URead {
		return req.Queue, owner, state.QueueAcquire, true
	}
	return owner, req.Queue, state.QueueRelease, true
}

func (s *Solver) pushBuffer(b state.BufferBarrier) int {
	s.bufBarrs = append(s.bufBarrs, b)
	return len(s.bufBarrs) - 1
}

// uavFlush reports whether two consecutive writes need a
// barrier between them even though their states match.
// Only color attachment writes are ordered by the
// rasterizer; depth/stencil writes are flushed.
func uavFlush(last, next state.ResourceState) bool {
	return last.Stage != state.SRendertarget && last.Usage.Writes() && next.Usage.Writes()
}

func (s *Solver) buffer(p *packet, allowCommon bool) error {
	h := p.view.Resource
	c := s.buffers.At(h.ID)
	last, next := c.state, p.next
	if next.Queue == state.QUnknown {
		next.Queue = last.Queue
	}

	// Common stage requests only change ownership.
	if next.Stage == state.SCommon {
		from, to, k, ok := ownership(last.Queue, next)
		if ok {
			before, after := last, last
			before.Queue = from
			after.Queue = to
			s.pushBuffer(state.BufferBarrier{Before: before, After: after, Handle: h, Kind: k})
			c.state.Queue = to
			c.last = -1
		}
		return nil
	}

	if (last.Stage|next.Stage)&state.SAccelStruct != 0 && last.Usage != state.UUnknown && last.Stage != next.Stage {
		return errors.Wrapf(ErrInvalidStageReuse, "%v: %v after %v", h, next.Stage, last.Stage)
	}

	if last.Usage == state.URead && next.Usage == state.URead {
		merged := next
		merged.Stage |= last.Stage
		switch {
		case merged.Stage == last.Stage:
		case !allowCommon:
			c.last = s.pushBuffer(state.BufferBarrier{
				Before: last.WithoutQueue(),
				After:  merged.WithoutQueue(),
				Handle: h,
			})
		case c.last >= 0:
			s.bufBarrs[c.last].After.Stage |= merged.Stage
		}
		c.state = merged
		return nil
	}

	differs := (last.Usage != state.UUnknown && last.Stage != state.SCommon) || !allowCommon
	if differs && (last.Stage != next.Stage || last.Usage != next.Usage || uavFlush(last, next)) {
		c.last = s.pushBuffer(state.BufferBarrier{
			Before: last.WithoutQueue(),
			After:  next.WithoutQueue(),
			Handle: h,
		})
	} else if last.Usage != next.Usage || last.Stage != next.Stage {
		c.last = -1
	}
	c.state = next
	return nil
}

func (s *Solver) texture(p *packet) error {
	h := p.view.Resource
	c := s.textures.At(h.ID)
	next := p.next
	owner := c.owner()
	if next.Queue == state.QUnknown {
		next.Queue = owner
	}

	if next.Stage == state.SCommon {
		from, to, k, ok := ownership(owner, next)
		if ok {
			if k == state.QueueRelease {
				s.releaseToCommon(c, h)
			}
			s.transferTexture(c, h, from, to, k)
		}
		return nil
	}

	v := &p.view
	s.coal.begin()
	for mip := int(v.StartMip); mip < int(v.StartMip)+int(v.MipSize); mip++ {
		for slice := int(v.StartArr); slice < int(v.StartArr)+int(v.ArrSize); slice++ {
			i := slice*c.mips + mip
			st := c.states[i]
			after := next
			c.touched.Set(i)
			c.states[i] = after

			if st.Usage == state.URead && next.Usage == state.URead && st.Layout == next.Layout {
				after.Stage |= st.Stage
				c.states[i] = after
				switch j := c.last[i]; {
				case after.Stage == st.Stage:
					continue
				case j >= 0:
					s.imgBarrs[j].After.Stage |= after.Stage
					continue
				}
			} else if st.SameAccess(next) && !uavFlush(st, next) {
				continue
			}
			s.coal.add(mip, slice, st.WithoutQueue(), after.WithoutQueue())
		}
	}
	s.flushTexture(c, h, state.Transition)
	return nil
}

// flushTexture appends the rectangles of s.coal as image
// barriers of kind k, and records them as the last barriers
// of their subresources.
// Ownership barriers are never widened.
func (s *Solver) flushTexture(c *smallTexture, h handle.ResourceHandle, k state.Kind) {
	s.coal.end(func(r rect) {
		j := len(s.imgBarrs)
		if k != state.Transition {
			j = -1
		}
		for slice := r.arr; slice < r.arr+r.arrs; slice++ {
			for mip := r.mip; mip < r.mip+r.mips; mip++ {
				c.last[slice*c.mips+mip] = j
			}
		}
		s.imgBarrs = append(s.imgBarrs, r.image(h, k))
	})
}

// releaseToCommon moves the subresources accessed so far in
// this recording to the common stage, keeping their
// layouts, ahead of a release.
// The remaining subresources are still in their global
// states, which GlobalPass resolves.
func (s *Solver) releaseToCommon(c *smallTexture, h handle.ResourceHandle) {
	s.coal.begin()
	for mip := range c.mips {
		for slice := range c.layers() {
			i := slice*c.mips + mip
			st := c.states[i]
			if st.Usage == state.UUnknown {
				continue
			}
			common := state.ResourceState{Usage: state.URead, Stage: state.SCommon, Layout: st.Layout}
			if st.SameAccess(common) {
				continue
			}
			common.Queue = st.Queue
			c.states[i] = common
			s.coal.add(mip, slice, st.WithoutQueue(), common.WithoutQueue())
		}
	}
	s.flushTexture(c, h, state.Transition)
}

// transferTexture moves every subresource of a texture
// from queue from to queue to.
func (s *Solver) transferTexture(c *smallTexture, h handle.ResourceHandle, from, to state.Queue, k state.Kind) {
	s.coal.begin()
	for mip := range c.mips {
		for slice := range c.layers() {
			i := slice*c.mips + mip
			before := c.states[i]
			before.Queue = from
			after := before
			after.Queue = to
			c.states[i] = after
			s.coal.add(mip, slice, before, after)
		}
	}
	c.touched.SetRange(0, len(c.states))
	s.flushTexture(c, h, k)
}
