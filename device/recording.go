// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package device

import (
	"github.com/pkg/errors"

	"github.com/gviegas/barrier/handle"
	"github.com/gviegas/barrier/state"
)

var (
	// ErrRenderPass means that a command was recorded
	// inside a render pass when it must be recorded outside
	// of one, or vice versa.
	ErrRenderPass = errors.New("device: command not allowed in this render pass state")

	// ErrViewType means that a view of the wrong type was
	// given to a command.
	ErrViewType = errors.New("device: wrong view type for command")
)

// BindKind is the type of pipeline that views are bound
// to.
type BindKind int

// Bind kinds.
const (
	Graphics BindKind = iota
	Compute
	Raytracing
)

func (k BindKind) stage() state.Stage {
	switch k {
	case Compute:
		return state.SCompute
	case Raytracing:
		return state.SRaytrace
	}
	return state.SGraphics
}

func (k BindKind) String() string {
	switch k {
	case Graphics:
		return "graphics"
	case Compute:
		return "compute"
	case Raytracing:
		return "raytracing"
	}
	return "BindKind(?)"
}

// access is a single resource access of a command.
type access struct {
	view handle.ViewResourceHandle
	next state.ResourceState
}

// command is a group of accesses that execute after the
// same set of barriers.
type command struct {
	name     string
	accesses []access
}

// Recording records GPU commands for a single queue.
// Every command becomes one draw call of the barrier
// solver, except for a render pass, which is a single
// draw call covering every command recorded inside it.
//
// A Recording is not safe for concurrent use.
// The first error is kept and returned by Err and by
// Device.Submit; commands recorded after it are ignored.
type Recording struct {
	queue   state.Queue
	cmds    []command
	pending []access
	pass    int
	err     error
}

// NewRecording creates an empty recording for queue.
func NewRecording(queue state.Queue) *Recording {
	return &Recording{queue: queue, pass: -1}
}

// Queue returns the queue that r records for.
func (r *Recording) Queue() state.Queue { return r.queue }

// Err returns the first error that occurred while
// recording.
func (r *Recording) Err() error { return r.err }

// Len returns the number of commands recorded so far.
func (r *Recording) Len() int { return len(r.cmds) }

func (r *Recording) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Recording) at(v handle.ViewResourceHandle, u state.Usage, s state.Stage, l state.Layout) access {
	return access{v, state.ResourceState{Usage: u, Stage: s, Layout: l, Queue: r.queue}}
}

func (r *Recording) push(name string, as ...access) {
	if r.err != nil {
		return
	}
	if r.pass >= 0 {
		r.fail(errors.Wrapf(ErrRenderPass, "%s inside render pass", name))
		return
	}
	r.cmds = append(r.cmds, command{name, as})
}

// BeginRenderPass starts a render pass that writes to
// rtvs and dsv.
// dsv may be a nil view (one whose Resource is
// handle.Nil).
func (r *Recording) BeginRenderPass(rtvs []handle.ViewResourceHandle, dsv handle.ViewResourceHandle) {
	if r.err != nil {
		return
	}
	if r.pass >= 0 {
		r.fail(errors.Wrap(ErrRenderPass, "nested render pass"))
		return
	}
	var as []access
	for _, v := range rtvs {
		if v.Type != handle.TextureRTV {
			r.fail(errors.Wrapf(ErrViewType, "%v as render target", v))
			return
		}
		as = append(as, r.at(v, state.UReadWrite, state.SRendertarget, state.LRendertarget))
	}
	if !dsv.Resource.IsNil() {
		if dsv.Type != handle.TextureDSV {
			r.fail(errors.Wrapf(ErrViewType, "%v as depth/stencil", dsv))
			return
		}
		as = append(as, r.at(dsv, state.UReadWrite, state.SDepthStencil, state.LDepthStencil))
	}
	r.cmds = append(r.cmds, command{"render pass", as})
	r.pass = len(r.cmds) - 1
}

// EndRenderPass ends the current render pass.
func (r *Recording) EndRenderPass() {
	if r.err != nil {
		return
	}
	if r.pass < 0 {
		r.fail(errors.Wrap(ErrRenderPass, "EndRenderPass outside render pass"))
		return
	}
	r.pass = -1
}

// Bind binds views to a pipeline of the given kind.
// Inside a render pass, the views are accessed by the
// render pass; otherwise, by the next dispatch.
// Views of acceleration structures are always accessed
// from the acceleration structure stage.
func (r *Recording) Bind(kind BindKind, views ...handle.ViewResourceHandle) {
	if r.err != nil {
		return
	}
	stage := kind.stage()
	for _, v := range views {
		s := stage
		if v.Resource.Usage == handle.AccelerationStructure {
			s = state.SAccelStruct
		}
		var a access
		switch v.Type {
		case handle.BufferSRV:
			a = r.at(v, state.URead, s, state.LUndefined)
		case handle.BufferUAV:
			a = r.at(v, state.UReadWrite, s, state.LUndefined)
		case handle.BufferIBV:
			a = r.at(v, state.URead, state.SIndex, state.LUndefined)
		case handle.TextureSRV:
			a = r.at(v, state.URead, s, state.LShaderRead)
		case handle.TextureUAV:
			a = r.at(v, state.UReadWrite, s, state.LGeneral)
		case handle.DynamicBufferSRV:
			// Dynamic buffers live in upload memory.
			continue
		default:
			r.fail(errors.Wrapf(ErrViewType, "bind %v", v))
			return
		}
		if r.pass >= 0 {
			r.cmds[r.pass].accesses = append(r.cmds[r.pass].accesses, a)
		} else {
			r.pending = append(r.pending, a)
		}
	}
}

// Draw records a draw inside the current render pass.
func (r *Recording) Draw() {
	if r.err == nil && r.pass < 0 {
		r.fail(errors.Wrap(ErrRenderPass, "draw outside render pass"))
	}
}

// Dispatch records a compute dispatch that accesses the
// views bound since the previous dispatch.
func (r *Recording) Dispatch() {
	r.push("dispatch", r.pending...)
	r.pending = nil
}

// DispatchIndirect is like Dispatch, but also reads the
// dispatch arguments from args.
func (r *Recording) DispatchIndirect(args handle.ViewResourceHandle) {
	if !args.Resource.Type.IsBuffer() {
		r.fail(errors.Wrapf(ErrViewType, "%v as indirect arguments", args))
		return
	}
	as := append(r.pending, r.at(args, state.URead, state.SIndirect, state.LUndefined))
	r.push("dispatch indirect", as...)
	r.pending = nil
}

func (r *Recording) checkBuffer(cmd string, vs ...handle.ViewResourceHandle) bool {
	for _, v := range vs {
		if !v.Resource.Type.IsBuffer() {
			r.fail(errors.Wrapf(ErrViewType, "%s of %v", cmd, v))
			return false
		}
	}
	return true
}

func (r *Recording) checkTexture(cmd string, vs ...handle.ViewResourceHandle) bool {
	for _, v := range vs {
		if !v.Resource.Type.IsTexture() {
			r.fail(errors.Wrapf(ErrViewType, "%s of %v", cmd, v))
			return false
		}
	}
	return true
}

// CopyBuffer copies from src to dst.
func (r *Recording) CopyBuffer(dst, src handle.ViewResourceHandle) {
	if !r.checkBuffer("copy", dst, src) {
		return
	}
	r.push("copy buffer",
		r.at(dst, state.UWrite, state.STransfer, state.LUndefined),
		r.at(src, state.URead, state.STransfer, state.LUndefined))
}

// ReadbackBuffer copies src to host-visible memory.
func (r *Recording) ReadbackBuffer(src handle.ViewResourceHandle) {
	if !r.checkBuffer("readback", src) {
		return
	}
	r.push("readback", r.at(src, state.URead, state.STransfer, state.LUndefined))
}

// UpdateTexture uploads data to one subresource of tex.
func (r *Recording) UpdateTexture(tex handle.ViewResourceHandle, mip, slice int) {
	if !r.checkTexture("update", tex) {
		return
	}
	if mip < 0 || mip >= int(tex.AllMips) || slice < 0 {
		r.fail(errors.Wrapf(ErrViewType, "update of %v at mip %d slice %d", tex, mip, slice))
		return
	}
	v := tex
	if err := v.SetRange(int(tex.AllMips), mip, 1, slice, 1); err != nil {
		r.fail(errors.Wrap(err, "update"))
		return
	}
	r.push("update texture", r.at(v, state.UWrite, state.STransfer, state.LTransferDst))
}

// CopyTexture copies the range of src to the range of
// dst.
func (r *Recording) CopyTexture(dst, src handle.ViewResourceHandle) {
	if !r.checkTexture("copy", dst, src) {
		return
	}
	r.push("copy texture",
		r.at(dst, state.UWrite, state.STransfer, state.LTransferDst),
		r.at(src, state.URead, state.STransfer, state.LTransferSrc))
}

// PrepareForPresent transitions tex for presentation.
func (r *Recording) PrepareForPresent(tex handle.ViewResourceHandle) {
	if !r.checkTexture("present", tex) {
		return
	}
	r.push("present", r.at(tex, state.URead, state.SPresent, state.LPresent))
}

// ownership returns an ownership request for the resource
// of v. A read acquires the resource from queue q; a write
// releases it to queue q.
func (r *Recording) ownership(v handle.ViewResourceHandle, u state.Usage, q state.Queue) access {
	a := r.at(v, u, state.SCommon, state.LUndefined)
	a.next.Queue = q
	return a
}

// Release gives the resource of v to queue to.
// A recording for queue to must then acquire it, either
// explicitly or as done by Device.Submit.
// Textures are moved to the common stage first.
func (r *Recording) Release(v handle.ViewResourceHandle, to state.Queue) {
	r.push("queue release", r.ownership(v, state.UWrite, to))
}

// Acquire takes the resource of v from queue from.
// It is only needed when the release was recorded in the
// same submission, or when the resource must be acquired
// before its first use in the recording.
func (r *Recording) Acquire(v handle.ViewResourceHandle, from state.Queue) {
	r.push("queue acquire", r.ownership(v, state.URead, from))
}

// Transfer hands the resource of v over to queue to, in a
// single command that both releases and acquires it.
// No barrier is produced if no queue owns the resource.
func (r *Recording) Transfer(v handle.ViewResourceHandle, to state.Queue) {
	r.push("queue transfer", r.ownership(v, state.UWrite, to), r.ownership(v, state.URead, r.queue))
}
