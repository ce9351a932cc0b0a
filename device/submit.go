// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package device

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gviegas/barrier/barrier"
	"github.com/gviegas/barrier/handle"
	"github.com/gviegas/barrier/state"
)

// Result holds the barriers computed for a recording.
type Result struct {
	// Name of the command of each draw call.
	Commands []string
	Infos    []barrier.Info
	Buffers  []state.BufferBarrier
	Images   []state.ImageBarrier
}

// Barriers returns the barriers described by info.
func (r *Result) Barriers(info barrier.Info) barrier.Barriers {
	return barrier.Barriers{
		Buffers:  r.Buffers[info.BufferOffset : info.BufferOffset+info.BufferCount],
		Textures: r.Images[info.ImageOffset : info.ImageOffset+info.ImageCount],
	}
}

// Count returns the total number of barriers in r.
func (r *Result) Count() int { return len(r.Buffers) + len(r.Images) }

// Submit computes the barriers needed by rec and updates
// the state of every resource it accesses.
// Resources that rec's queue does not own yet are acquired
// in a leading "queue acquire" draw call.
// If Submit fails, the state of d is left unchanged.
func (d *Device) Submit(rec *Recording) (*Result, error) {
	if err := rec.Err(); err != nil {
		return nil, err
	}
	if rec.pass >= 0 {
		return nil, errors.Wrap(ErrRenderPass, "submit with open render pass")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}

	for _, cmd := range rec.cmds {
		for _, a := range cmd.accesses {
			if err := d.checkOwned(a.view.Resource); err != nil {
				return nil, errors.Wrap(err, cmd.name)
			}
		}
	}

	s := &d.solver
	s.Reset(&d.bufState, &d.texState)
	s.SetSplitIncoherent(d.cfg.SplitIncoherentRanges)
	res := &Result{Commands: make([]string, 0, len(rec.cmds)+1)}
	cmds := rec.cmds
	if as := d.queueTransfers(rec); len(as) > 0 {
		cmds = append([]command{{"queue acquire", as}}, cmds...)
	}
	for _, cmd := range cmds {
		draw := s.AddDrawCall()
		res.Commands = append(res.Commands, cmd.name)
		for _, a := range cmd.accesses {
			var err error
			if a.view.Resource.Type.IsBuffer() {
				err = s.AddBuffer(draw, a.view, a.next)
			} else {
				err = s.AddTexture(draw, a.view, a.next)
			}
			if err != nil {
				return nil, errors.Wrap(err, cmd.name)
			}
		}
	}
	if err := s.LocalPass(d.cfg.AllowCommonOptimization); err != nil {
		return nil, err
	}
	if err := s.GlobalPass(); err != nil {
		return nil, err
	}

	res.Infos = append([]barrier.Info(nil), s.BarrierInfos()...)
	res.Buffers = append([]state.BufferBarrier(nil), s.BufferBarriers()...)
	res.Images = append([]state.ImageBarrier(nil), s.ImageBarriers()...)
	d.trackReleases(res)
	d.log().WithFields(logrus.Fields{
		"queue":    rec.Queue(),
		"commands": len(res.Commands),
		"buffers":  len(res.Buffers),
		"images":   len(res.Images),
	}).Debug("device: submitted")
	return res, nil
}

// owner returns the queue that owns r as of the last
// submission. Callers must hold d.mu.
func (d *Device) owner(r handle.ResourceHandle) state.Queue {
	if r.Type.IsBuffer() {
		s, _ := d.bufState.Get(r.ID)
		return s.Queue
	}
	t, _ := d.texState.Get(r.ID)
	for _, s := range t.States {
		if s.Queue != state.QUnknown {
			return s.Queue
		}
	}
	return state.QUnknown
}

// queueTransfers returns the ownership requests that must
// precede the commands of rec.
// A resource released to rec's queue by an earlier
// submission is acquired from the releasing queue. A
// resource that another queue still owns is released by
// that queue and then acquired.
// Resources whose first access in rec is an ownership
// request are left as recorded.
// Callers must hold d.mu.
func (d *Device) queueTransfers(rec *Recording) []access {
	var as []access
	seen := make(map[handle.ResourceHandle]bool)
	for _, cmd := range rec.cmds {
		for _, a := range cmd.accesses {
			r := a.view.Resource
			if seen[r] {
				continue
			}
			seen[r] = true
			if a.next.Stage == state.SCommon {
				continue
			}
			owner := d.owner(r)
			from, ok := d.released[r]
			fields := logrus.Fields{
				"handle":  r,
				"owner":   owner,
				"queue":   rec.queue,
				"command": cmd.name,
			}
			switch {
			case ok && owner == rec.queue:
				d.log().WithFields(fields).WithField("from", from).Debug("device: acquiring released resource")
				as = append(as, rec.ownership(a.view, state.URead, from))
			case owner != state.QUnknown && owner != rec.queue:
				d.log().WithFields(fields).Warn("device: resource used before ownership transfer")
				as = append(as,
					rec.ownership(a.view, state.UWrite, rec.queue),
					rec.ownership(a.view, state.URead, owner))
			}
		}
	}
	return as
}

// trackReleases records which resources of res were
// released and not acquired.
// Callers must hold d.mu.
func (d *Device) trackReleases(res *Result) {
	track := func(h handle.ResourceHandle, k state.Kind, from state.Queue) {
		switch k {
		case state.QueueRelease:
			d.released[h] = from
		case state.QueueAcquire:
			delete(d.released, h)
		}
	}
	for _, b := range res.Buffers {
		track(b.Handle, b.Kind, b.Before.Queue)
	}
	for _, b := range res.Images {
		track(b.Handle, b.Kind, b.Before.Queue)
	}
}
