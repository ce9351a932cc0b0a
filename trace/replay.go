// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package trace

import (
	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"

	"github.com/gviegas/barrier/device"
	"github.com/gviegas/barrier/handle"
	"github.com/gviegas/barrier/state"
)

// Run is the outcome of replaying a trace.
type Run struct {
	// One result per frame.
	Frames []*device.Result

	names map[handle.ResourceHandle]string
}

// Name returns the name that h was given in the trace.
func (r *Run) Name(h handle.ResourceHandle) string {
	if n, ok := r.names[h]; ok {
		return n
	}
	return h.String()
}

// replayer holds the objects created on a device for a
// trace.
type replayer struct {
	dev   *device.Device
	res   map[string]handle.ResourceHandle
	views map[string]handle.ViewResourceHandle
	// Full-range views of textures.
	whole map[string]handle.ViewResourceHandle
}

// Replay creates the resources and views of tr on dev and
// submits the commands of tr once per frame.
// The objects it creates are destroyed before it returns.
func Replay(dev *device.Device, tr *Trace) (*Run, error) {
	if err := tr.Validate(); err != nil {
		return nil, err
	}
	queue, _ := parseQueue(tr.Queue)
	rp := &replayer{
		dev:   dev,
		res:   make(map[string]handle.ResourceHandle),
		views: make(map[string]handle.ViewResourceHandle),
		whole: make(map[string]handle.ViewResourceHandle),
	}
	defer rp.destroy()
	if err := rp.create(tr); err != nil {
		return nil, err
	}

	run := &Run{names: make(map[handle.ResourceHandle]string)}
	for n, h := range rp.res {
		run.names[h] = n
	}
	for i := range tr.Frames {
		rec, err := rp.record(tr, queue)
		if err != nil {
			return nil, err
		}
		res, err := dev.Submit(rec)
		if err != nil {
			return nil, errors.Wrapf(err, "trace: frame %d", i)
		}
		run.Frames = append(run.Frames, res)
	}
	return run, nil
}

func (rp *replayer) create(tr *Trace) error {
	for _, b := range tr.Buffers {
		usage, err := parseFlags(bufferUsages, "buffer usage", b.Usage)
		if err != nil {
			return err
		}
		h, err := rp.dev.CreateBuffer(device.BufferDesc{
			Label:                 b.Name,
			Size:                  b.Size,
			Usage:                 usage,
			AccelerationStructure: b.AccelerationStructure,
		})
		if err != nil {
			return err
		}
		rp.res[b.Name] = h
	}

	for _, t := range tr.Textures {
		usage, err := parseFlags(textureUsages, "texture usage", t.Usage)
		if err != nil {
			return err
		}
		format, err := lookup(formats, "format", t.Format)
		if err != nil {
			return err
		}
		dim := gputypes.TextureDimension2D
		if t.Dimension != "" {
			if dim, err = lookup(dimensions, "dimension", t.Dimension); err != nil {
				return err
			}
		}
		desc := device.TextureDesc{
			Label:         t.Name,
			Size:          gputypes.NewExtent3D(t.Width, t.Height, max(t.Layers, 1)),
			MipLevelCount: t.Mips,
			Format:        format,
			Dimension:     dim,
			Usage:         usage,
		}
		h, err := rp.dev.CreateTexture(desc)
		if err != nil {
			return err
		}
		rp.res[t.Name] = h
		v := handle.Whole(h)
		if err := v.SetRange(desc.Mips(), 0, desc.Mips(), 0, desc.Layers()); err != nil {
			return err
		}
		rp.whole[t.Name] = v
	}

	for _, x := range tr.Views {
		typ, err := lookup(viewTypes, "view type", x.Type)
		if err != nil {
			return err
		}
		desc := device.ViewDesc{
			Type:            typ,
			BaseMipLevel:    x.BaseMip,
			MipLevelCount:   x.Mips,
			BaseArrayLayer:  x.BaseLayer,
			ArrayLayerCount: x.Layers,
		}
		if x.Load != "" {
			if desc.LoadOp, err = lookup(loadOps, "load op", x.Load); err != nil {
				return err
			}
		}
		if x.Store != "" {
			if desc.StoreOp, err = lookup(storeOps, "store op", x.Store); err != nil {
				return err
			}
		}
		v, err := rp.dev.CreateView(rp.res[x.Resource], desc)
		if err != nil {
			return errors.Wrapf(err, "trace: view %q", x.Name)
		}
		rp.views[x.Name] = v
	}
	return nil
}

// view returns the view named name, or a view of the whole
// resource named name.
func (rp *replayer) view(name string) handle.ViewResourceHandle {
	if v, ok := rp.views[name]; ok {
		return v
	}
	if v, ok := rp.whole[name]; ok {
		return v
	}
	return handle.Whole(rp.res[name])
}

func (rp *replayer) viewList(names []string) []handle.ViewResourceHandle {
	vs := make([]handle.ViewResourceHandle, len(names))
	for i, n := range names {
		vs[i] = rp.view(n)
	}
	return vs
}

func parseKind(s string, def device.BindKind) (device.BindKind, error) {
	switch norm(s) {
	case "":
		return def, nil
	case "graphics":
		return device.Graphics, nil
	case "compute":
		return device.Compute, nil
	case "raytracing":
		return device.Raytracing, nil
	}
	return def, errors.Wrapf(ErrTrace, "unknown bind kind %q", s)
}

func (rp *replayer) record(tr *Trace, queue state.Queue) (*device.Recording, error) {
	rec := device.NewRecording(queue)
	for i, c := range tr.Commands {
		switch norm(c.Op) {
		case "dispatch", "dispatchindirect":
			kind, err := parseKind(c.Kind, device.Compute)
			if err != nil {
				return nil, err
			}
			rec.Bind(kind, rp.viewList(c.Bind)...)
			if c.Args != "" {
				rec.DispatchIndirect(rp.view(c.Args))
			} else {
				rec.Dispatch()
			}
		case "renderpass":
			kind, err := parseKind(c.Kind, device.Graphics)
			if err != nil {
				return nil, err
			}
			dsv := handle.ViewResourceHandle{ID: handle.InvalidViewID, Resource: handle.Nil}
			if c.DSV != "" {
				dsv = rp.view(c.DSV)
			}
			rec.BeginRenderPass(rp.viewList(c.RTVs), dsv)
			rec.Bind(kind, rp.viewList(c.Bind)...)
			rec.Draw()
			rec.EndRenderPass()
		case "copybuffer":
			rec.CopyBuffer(rp.view(c.Dst), rp.view(c.Src))
		case "readback":
			rec.ReadbackBuffer(rp.view(c.Src))
		case "updatetexture":
			rec.UpdateTexture(rp.view(c.Dst), c.Mip, c.Slice)
		case "copytexture":
			rec.CopyTexture(rp.view(c.Dst), rp.view(c.Src))
		case "present":
			rec.PrepareForPresent(rp.view(c.Src))
		case "transfer", "release", "acquire":
			q, err := parseQueue(c.Queue)
			if err != nil {
				return nil, err
			}
			switch norm(c.Op) {
			case "transfer":
				rec.Transfer(rp.view(c.Src), q)
			case "release":
				rec.Release(rp.view(c.Src), q)
			default:
				rec.Acquire(rp.view(c.Src), q)
			}
		default:
			return nil, errors.Wrapf(ErrTrace, "command %d: unknown op %q", i, c.Op)
		}
	}
	if err := rec.Err(); err != nil {
		return nil, errors.Wrap(err, "trace: recording")
	}
	return rec, nil
}

// destroy destroys every object that rp created.
func (rp *replayer) destroy() {
	for _, v := range rp.views {
		rp.dev.DestroyView(v)
	}
	for _, h := range rp.res {
		rp.dev.Destroy(h)
	}
}
