// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package device

import (
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/gviegas/barrier/barrier"
	"github.com/gviegas/barrier/handle"
	"github.com/gviegas/barrier/internal/logging"
	"github.com/gviegas/barrier/state"
)

var noDSV = handle.ViewResourceHandle{ID: handle.InvalidViewID, Resource: handle.Nil}

func newBuffer(t *testing.T, d *Device, usage gputypes.BufferUsage) handle.ResourceHandle {
	t.Helper()
	h, err := d.CreateBuffer(BufferDesc{Label: "buf", Size: 256, Usage: usage})
	if err != nil {
		t.Fatalf("d.CreateBuffer:\nhave %v\nwant nil", err)
	}
	return h
}

func newTexture(t *testing.T, d *Device, mips uint32, usage gputypes.TextureUsage) handle.ResourceHandle {
	t.Helper()
	h, err := d.CreateTexture(TextureDesc{
		Label:         "tex",
		Size:          gputypes.NewExtent2D(4, 4),
		MipLevelCount: mips,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Dimension:     gputypes.TextureDimension2D,
		Usage:         usage,
	})
	if err != nil {
		t.Fatalf("d.CreateTexture:\nhave %v\nwant nil", err)
	}
	return h
}

func newView(t *testing.T, d *Device, r handle.ResourceHandle, desc ViewDesc) handle.ViewResourceHandle {
	t.Helper()
	v, err := d.CreateView(r, desc)
	if err != nil {
		t.Fatalf("d.CreateView:\nhave %v\nwant nil", err)
	}
	return v
}

func submit(t *testing.T, d *Device, rec *Recording) *Result {
	t.Helper()
	res, err := d.Submit(rec)
	if err != nil {
		t.Fatalf("d.Submit:\nhave %v\nwant nil", err)
	}
	return res
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.AllowCommonOptimization || cfg.SplitIncoherentRanges || cfg.Capacity != handle.DefaultCapacity {
		t.Fatalf("DefaultConfig:\nhave %+v", cfg)
	}
	d := New(nil, cfg)
	defer d.Close()
	if d.Manager() == nil {
		t.Fatal("d.Manager:\nhave nil\nwant non-nil")
	}
	if d.Config() != cfg {
		t.Fatalf("d.Config:\nhave %+v\nwant %+v", d.Config(), cfg)
	}
}

func TestCreateBuffer(t *testing.T) {
	d := New(nil, DefaultConfig())
	defer d.Close()
	for _, x := range [...]struct {
		desc  BufferDesc
		usage handle.ResourceUsage
		state state.ResourceState
	}{
		{BufferDesc{Size: 4, Usage: gputypes.BufferUsageUniform}, handle.GPUReadOnly, initialBuffer},
		{BufferDesc{Size: 4, Usage: gputypes.BufferUsageStorage}, handle.GPURW, initialBuffer},
		{BufferDesc{Size: 4, Usage: gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc}, handle.Upload, initialBuffer},
		{BufferDesc{Size: 4, Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst}, handle.Readback, initialBuffer},
		{BufferDesc{Size: 4, Usage: gputypes.BufferUsageStorage, AccelerationStructure: true}, handle.AccelerationStructure, initialAccel},
	} {
		h, err := d.CreateBuffer(x.desc)
		if err != nil {
			t.Fatalf("d.CreateBuffer:\nhave %v\nwant nil", err)
		}
		if h.Type != handle.Buffer || h.Usage != x.usage {
			t.Fatalf("d.CreateBuffer:\nhave %v/%d\nwant Buffer/%d", h.Type, h.Usage, x.usage)
		}
		if s, err := d.BufferState(h); err != nil || s != x.state {
			t.Fatalf("d.BufferState:\nhave %v, %v\nwant %v, nil", s, err, x.state)
		}
	}
	for _, x := range [...]BufferDesc{
		{Size: 0, Usage: gputypes.BufferUsageStorage},
		{Size: 16},
	} {
		if _, err := d.CreateBuffer(x); !errors.Is(err, ErrInvalidDesc) {
			t.Fatalf("d.CreateBuffer(%+v):\nhave %v\nwant %v", x, err, ErrInvalidDesc)
		}
	}
}

func TestCreateTexture(t *testing.T) {
	d := New(nil, DefaultConfig())
	defer d.Close()
	h := newTexture(t, d, 3, gputypes.TextureUsageRenderAttachment|gputypes.TextureUsageTextureBinding)
	if h.Usage != handle.RenderTarget {
		t.Fatalf("h.Usage:\nhave %d\nwant %d", h.Usage, handle.RenderTarget)
	}
	s, err := d.TextureState(h)
	if err != nil {
		t.Fatalf("d.TextureState:\nhave %v\nwant nil", err)
	}
	if s.Mips != 3 || s.Layers() != 1 {
		t.Fatalf("d.TextureState:\nhave %d mips %d layers\nwant 3 mips 1 layer", s.Mips, s.Layers())
	}
	for i, x := range s.States {
		if x != initialTexture {
			t.Fatalf("s.States[%d]:\nhave %v\nwant %v", i, x, initialTexture)
		}
	}
	// The copy must not alias the device's state.
	s.States[0] = state.Initial
	if s, _ := d.TextureState(h); s.States[0] != initialTexture {
		t.Fatalf("d.TextureState after write to copy:\nhave %v\nwant %v", s.States[0], initialTexture)
	}

	h, err = d.CreateTexture(TextureDesc{
		Size:      gputypes.NewExtent2D(8, 8),
		Format:    gputypes.TextureFormatDepth24PlusStencil8,
		Dimension: gputypes.TextureDimension2D,
		Usage:     gputypes.TextureUsageRenderAttachment,
	})
	if err != nil || h.Usage != handle.DepthStencil {
		t.Fatalf("d.CreateTexture (depth):\nhave %d, %v\nwant %d, nil", h.Usage, err, handle.DepthStencil)
	}

	for _, x := range [...]TextureDesc{
		{Size: gputypes.NewExtent2D(0, 4), Format: gputypes.TextureFormatRGBA8Unorm, Usage: gputypes.TextureUsageCopyDst},
		{Size: gputypes.NewExtent2D(4, 4), Usage: gputypes.TextureUsageCopyDst},
		{Size: gputypes.NewExtent2D(4, 4), Format: gputypes.TextureFormatRGBA8Unorm},
		{Size: gputypes.NewExtent2D(4, 4), MipLevelCount: 4, Format: gputypes.TextureFormatRGBA8Unorm, Usage: gputypes.TextureUsageCopyDst},
	} {
		if _, err := d.CreateTexture(x); !errors.Is(err, ErrInvalidDesc) {
			t.Fatalf("d.CreateTexture(%+v):\nhave %v\nwant %v", x, err, ErrInvalidDesc)
		}
	}

	// Layer counts must fit a view's range.
	for _, x := range [...]struct {
		layers uint32
		want   error
	}{
		{handle.MaxRange, nil},
		{70000, handle.ErrRangeOverflow},
	} {
		h, err := d.CreateTexture(TextureDesc{
			Size:      gputypes.NewExtent3D(4, 4, x.layers),
			Format:    gputypes.TextureFormatRGBA8Unorm,
			Dimension: gputypes.TextureDimension2D,
			Usage:     gputypes.TextureUsageTextureBinding,
		})
		if !errors.Is(err, x.want) {
			t.Fatalf("d.CreateTexture (%d layers):\nhave %v\nwant %v", x.layers, err, x.want)
		}
		if err != nil {
			continue
		}
		v := newView(t, d, h, ViewDesc{Type: handle.TextureSRV})
		if v.ArrSize != handle.MaxRange {
			t.Fatalf("v.ArrSize:\nhave %d\nwant %d", v.ArrSize, handle.MaxRange)
		}
	}
}

func TestCreateView(t *testing.T) {
	d := New(nil, DefaultConfig())
	defer d.Close()
	buf := newBuffer(t, d, gputypes.BufferUsageUniform)
	tex := newTexture(t, d, 3, gputypes.TextureUsageTextureBinding|gputypes.TextureUsageRenderAttachment)

	v := newView(t, d, tex, ViewDesc{Type: handle.TextureSRV, BaseMipLevel: 1})
	if v.Resource != tex || v.AllMips != 3 || v.StartMip != 1 || v.MipSize != 2 || v.StartArr != 0 || v.ArrSize != 1 {
		t.Fatalf("d.CreateView:\nhave %v\nwant %v mips 1+2 arr 0+1", v, tex)
	}
	if !d.Manager().ValidView(v) {
		t.Fatal("d.Manager().ValidView:\nhave false\nwant true")
	}
	if err := d.DestroyView(v); err != nil {
		t.Fatalf("d.DestroyView:\nhave %v\nwant nil", err)
	}
	if d.Manager().ValidView(v) {
		t.Fatal("d.Manager().ValidView after DestroyView:\nhave true\nwant false")
	}

	for _, x := range [...]struct {
		r    handle.ResourceHandle
		desc ViewDesc
		err  error
	}{
		{buf, ViewDesc{Type: handle.BufferUAV}, ErrUsage},
		{buf, ViewDesc{Type: handle.BufferIBV}, ErrUsage},
		{buf, ViewDesc{Type: handle.TextureSRV}, handle.ErrInvalidType},
		{tex, ViewDesc{Type: handle.TextureUAV}, ErrUsage},
		{tex, ViewDesc{Type: handle.TextureDSV}, ErrUsage},
		{tex, ViewDesc{Type: handle.BufferSRV}, handle.ErrInvalidType},
		{tex, ViewDesc{Type: handle.TextureSRV, BaseMipLevel: 3}, barrier.ErrSubresourceRange},
		{tex, ViewDesc{Type: handle.TextureSRV, MipLevelCount: 4}, barrier.ErrSubresourceRange},
		{tex, ViewDesc{Type: handle.TextureSRV, BaseArrayLayer: 1}, barrier.ErrSubresourceRange},
	} {
		if _, err := d.CreateView(x.r, x.desc); !errors.Is(err, x.err) {
			t.Fatalf("d.CreateView(%v, %+v):\nhave %v\nwant %v", x.r, x.desc, err, x.err)
		}
	}
}

func TestDestroy(t *testing.T) {
	d := New(nil, DefaultConfig())
	defer d.Close()
	h := newBuffer(t, d, gputypes.BufferUsageStorage)
	v := newView(t, d, h, ViewDesc{Type: handle.BufferUAV})
	if err := d.Destroy(h); err != nil {
		t.Fatalf("d.Destroy:\nhave %v\nwant nil", err)
	}
	if err := d.Destroy(h); !errors.Is(err, handle.ErrStaleHandle) {
		t.Fatalf("d.Destroy (again):\nhave %v\nwant %v", err, handle.ErrStaleHandle)
	}
	if _, err := d.BufferState(h); !errors.Is(err, handle.ErrStaleHandle) {
		t.Fatalf("d.BufferState:\nhave %v\nwant %v", err, handle.ErrStaleHandle)
	}
	rec := NewRecording(state.QCompute)
	rec.Bind(Compute, v)
	rec.Dispatch()
	if _, err := d.Submit(rec); !errors.Is(err, handle.ErrStaleHandle) {
		t.Fatalf("d.Submit:\nhave %v\nwant %v", err, handle.ErrStaleHandle)
	}
	if _, err := d.TextureState(newBuffer(t, d, gputypes.BufferUsageStorage)); !errors.Is(err, barrier.ErrResourceType) {
		t.Fatalf("d.TextureState of buffer:\nhave %v\nwant %v", err, barrier.ErrResourceType)
	}
}

func TestSubmitBuffer(t *testing.T) {
	for _, allowCommon := range [...]bool{true, false} {
		cfg := DefaultConfig()
		cfg.AllowCommonOptimization = allowCommon
		d := New(nil, cfg)
		h := newBuffer(t, d, gputypes.BufferUsageStorage)
		uav := newView(t, d, h, ViewDesc{Type: handle.BufferUAV})
		srv := newView(t, d, h, ViewDesc{Type: handle.BufferSRV})

		rec := NewRecording(state.QCompute)
		rec.Bind(Compute, uav)
		rec.Dispatch()
		rec.Bind(Compute, srv)
		rec.Dispatch()
		res := submit(t, d, rec)

		if len(res.Commands) != 2 || len(res.Infos) != 2 {
			t.Fatalf("d.Submit (%t):\nhave %d commands %d infos\nwant 2 and 2", allowCommon, len(res.Commands), len(res.Infos))
		}
		write := state.ResourceState{Usage: state.UReadWrite, Stage: state.SCompute, Layout: state.LUndefined}
		read := state.ResourceState{Usage: state.URead, Stage: state.SCompute, Layout: state.LUndefined}
		first := res.Barriers(res.Infos[0]).Buffers
		if allowCommon {
			if len(first) != 0 {
				t.Fatalf("res.Barriers(res.Infos[0]):\nhave %v\nwant none", first)
			}
		} else if len(first) != 1 || first[0].Before != initialBuffer || first[0].After != write {
			t.Fatalf("res.Barriers(res.Infos[0]):\nhave %v\nwant [%v -> %v]", first, initialBuffer, write)
		}
		second := res.Barriers(res.Infos[1]).Buffers
		if len(second) != 1 || second[0].Before != write || second[0].After != read || second[0].Handle != h {
			t.Fatalf("res.Barriers(res.Infos[1]):\nhave %v\nwant [%v -> %v]", second, write, read)
		}
		want := read
		want.Queue = state.QCompute
		if s, _ := d.BufferState(h); s != want {
			t.Fatalf("d.BufferState:\nhave %v\nwant %v", s, want)
		}
		d.Close()
	}
}

func TestSubmitPersistence(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowCommonOptimization = false
	d := New(nil, cfg)
	defer d.Close()
	h := newBuffer(t, d, gputypes.BufferUsageStorage)
	uav := newView(t, d, h, ViewDesc{Type: handle.BufferUAV})
	srv := newView(t, d, h, ViewDesc{Type: handle.BufferSRV})

	rec := NewRecording(state.QCompute)
	rec.Bind(Compute, uav)
	rec.Dispatch()
	submit(t, d, rec)

	rec = NewRecording(state.QCompute)
	rec.Bind(Compute, srv)
	rec.Dispatch()
	res := submit(t, d, rec)
	bs := res.Barriers(res.Infos[0]).Buffers
	write := state.ResourceState{Usage: state.UReadWrite, Stage: state.SCompute, Layout: state.LUndefined}
	if len(bs) != 1 || bs[0].Before != write {
		t.Fatalf("second submission:\nhave %v\nwant [%v -> ...]", bs, write)
	}
}

func TestSubmitTexture(t *testing.T) {
	d := New(nil, DefaultConfig())
	defer d.Close()
	h := newTexture(t, d, 3, gputypes.TextureUsageRenderAttachment|gputypes.TextureUsageTextureBinding)
	rtv := newView(t, d, h, ViewDesc{Type: handle.TextureRTV, MipLevelCount: 1, LoadOp: gputypes.LoadOpClear, StoreOp: gputypes.StoreOpStore})
	srv := newView(t, d, h, ViewDesc{Type: handle.TextureSRV})

	rec := NewRecording(state.QGraphics)
	rec.BeginRenderPass([]handle.ViewResourceHandle{rtv}, noDSV)
	rec.Draw()
	rec.EndRenderPass()
	rec.BeginRenderPass(nil, noDSV)
	rec.Bind(Graphics, srv)
	rec.Draw()
	rec.EndRenderPass()
	res := submit(t, d, rec)

	if len(res.Infos) != 2 || res.Infos[0].ImageCount != 1 || res.Infos[1].ImageCount != 2 {
		t.Fatalf("res.Infos:\nhave %+v\nwant 1 and 2 image barriers", res.Infos)
	}
	target := state.ResourceState{Usage: state.UReadWrite, Stage: state.SRendertarget, Layout: state.LRendertarget}
	b := res.Barriers(res.Infos[0]).Textures[0]
	if b.Before != initialTexture || b.After != target || b.StartMip != 0 || b.MipSize != 1 || b.ArrSize != 1 {
		t.Fatalf("res.Barriers(res.Infos[0]).Textures[0]:\nhave %+v\nwant %v -> %v mip 0+1", b, initialTexture, target)
	}
	read := state.ResourceState{Usage: state.URead, Stage: state.SGraphics, Layout: state.LShaderRead, Queue: state.QGraphics}
	for mip := range 3 {
		var n int
		for _, b := range res.Barriers(res.Infos[1]).Textures {
			if b.Contains(mip, 0) {
				n++
				if b.After != read.WithoutQueue() {
					t.Fatalf("barrier of mip %d:\nhave %v\nwant %v", mip, b.After, read.WithoutQueue())
				}
			}
		}
		if n != 1 {
			t.Fatalf("barriers covering mip %d:\nhave %d\nwant 1", mip, n)
		}
	}
	s, _ := d.TextureState(h)
	for i, x := range s.States {
		if x != read {
			t.Fatalf("s.States[%d]:\nhave %v\nwant %v", i, x, read)
		}
	}
}

func TestTransfer(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logging.SetLogger(logger)
	defer logging.SetLogger(nil)

	d := New(nil, DefaultConfig())
	defer d.Close()
	h := newBuffer(t, d, gputypes.BufferUsageStorage)
	uav := newView(t, d, h, ViewDesc{Type: handle.BufferUAV})

	rec := NewRecording(state.QCompute)
	rec.Bind(Compute, uav)
	rec.Dispatch()
	rec.Transfer(uav, state.QGraphics)
	res := submit(t, d, rec)

	bs := res.Barriers(res.Infos[1]).Buffers
	if len(bs) != 2 || bs[0].Kind != state.QueueRelease || bs[1].Kind != state.QueueAcquire {
		t.Fatalf("transfer barriers:\nhave %v\nwant release and acquire", bs)
	}
	for _, b := range bs {
		if b.Before.Queue != state.QCompute || b.After.Queue != state.QGraphics {
			t.Fatalf("transfer barrier queues:\nhave %v -> %v\nwant %v -> %v", b.Before.Queue, b.After.Queue, state.QCompute, state.QGraphics)
		}
	}
	if s, _ := d.BufferState(h); s.Queue != state.QGraphics {
		t.Fatalf("d.BufferState(h).Queue:\nhave %v\nwant %v", s.Queue, state.QGraphics)
	}
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			t.Fatalf("unexpected warning: %s", e.Message)
		}
	}

	// The buffer belongs to graphics now, so compute takes
	// it back before dispatching.
	rec = NewRecording(state.QCompute)
	rec.Bind(Compute, uav)
	rec.Dispatch()
	res = submit(t, d, rec)
	if len(res.Commands) != 2 || res.Commands[0] != "queue acquire" {
		t.Fatalf("res.Commands:\nhave %q\nwant [\"queue acquire\" \"dispatch\"]", res.Commands)
	}
	bs = res.Barriers(res.Infos[0]).Buffers
	if len(bs) != 2 || bs[0].Kind != state.QueueRelease || bs[1].Kind != state.QueueAcquire {
		t.Fatalf("inserted barriers:\nhave %v\nwant release and acquire", bs)
	}
	for _, b := range bs {
		if b.Before.Queue != state.QGraphics || b.After.Queue != state.QCompute {
			t.Fatalf("inserted barrier queues:\nhave %v -> %v\nwant %v -> %v", b.Before.Queue, b.After.Queue, state.QGraphics, state.QCompute)
		}
	}
	if s, _ := d.BufferState(h); s.Queue != state.QCompute {
		t.Fatalf("d.BufferState(h).Queue:\nhave %v\nwant %v", s.Queue, state.QCompute)
	}
	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "device: resource used before ownership transfer" {
			warned = true
		}
	}
	if !warned {
		t.Fatal("missing ownership warning")
	}
}

func TestReleaseAcquire(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logging.SetLogger(logger)
	defer logging.SetLogger(nil)

	d := New(nil, DefaultConfig())
	defer d.Close()
	h := newBuffer(t, d, gputypes.BufferUsageStorage)
	uav := newView(t, d, h, ViewDesc{Type: handle.BufferUAV})
	srv := newView(t, d, h, ViewDesc{Type: handle.BufferSRV})

	rec := NewRecording(state.QCompute)
	rec.Bind(Compute, uav)
	rec.Dispatch()
	rec.Release(uav, state.QGraphics)
	res := submit(t, d, rec)
	bs := res.Barriers(res.Infos[1]).Buffers
	if len(bs) != 1 || bs[0].Kind != state.QueueRelease {
		t.Fatalf("release barriers:\nhave %v\nwant a single release", bs)
	}
	if bs[0].Before.Queue != state.QCompute || bs[0].After.Queue != state.QGraphics {
		t.Fatalf("release queues:\nhave %v -> %v\nwant %v -> %v", bs[0].Before.Queue, bs[0].After.Queue, state.QCompute, state.QGraphics)
	}
	if s, _ := d.BufferState(h); s.Queue != state.QGraphics {
		t.Fatalf("d.BufferState(h).Queue:\nhave %v\nwant %v", s.Queue, state.QGraphics)
	}

	// The first graphics submission acquires the buffer.
	for i, want := range [...][]string{
		{"queue acquire", "render pass"},
		{"render pass"},
	} {
		rec = NewRecording(state.QGraphics)
		rec.BeginRenderPass(nil, noDSV)
		rec.Bind(Graphics, srv)
		rec.Draw()
		rec.EndRenderPass()
		res = submit(t, d, rec)
		if len(res.Commands) != len(want) || res.Commands[0] != want[0] {
			t.Fatalf("submission %d:\nhave %q\nwant %q", i, res.Commands, want)
		}
		if i > 0 {
			continue
		}
		bs = res.Barriers(res.Infos[0]).Buffers
		if len(bs) != 1 || bs[0].Kind != state.QueueAcquire {
			t.Fatalf("acquire barriers:\nhave %v\nwant a single acquire", bs)
		}
		if bs[0].Before.Queue != state.QCompute || bs[0].After.Queue != state.QGraphics {
			t.Fatalf("acquire queues:\nhave %v -> %v\nwant %v -> %v", bs[0].Before.Queue, bs[0].After.Queue, state.QCompute, state.QGraphics)
		}
	}
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			t.Fatalf("unexpected warning: %s", e.Message)
		}
	}

	// An explicit acquire is left alone.
	rec = NewRecording(state.QCompute)
	rec.Release(uav, state.QCompute)
	rec.Acquire(uav, state.QGraphics)
	rec.Bind(Compute, uav)
	rec.Dispatch()
	res = submit(t, d, rec)
	if res.Commands[0] != "queue release" {
		t.Fatalf("res.Commands:\nhave %q\nwant no inserted command", res.Commands)
	}
	if s, _ := d.BufferState(h); s.Queue != state.QCompute {
		t.Fatalf("d.BufferState(h).Queue:\nhave %v\nwant %v", s.Queue, state.QCompute)
	}
}

func TestSubmitErrors(t *testing.T) {
	d := New(nil, DefaultConfig())
	defer d.Close()
	tex := newTexture(t, d, 1, gputypes.TextureUsageTextureBinding|gputypes.TextureUsageCopyDst)
	srv := newView(t, d, tex, ViewDesc{Type: handle.TextureSRV})

	rec := NewRecording(state.QGraphics)
	rec.BeginRenderPass([]handle.ViewResourceHandle{srv}, noDSV)
	if _, err := d.Submit(rec); !errors.Is(err, ErrViewType) {
		t.Fatalf("d.Submit (SRV as target):\nhave %v\nwant %v", err, ErrViewType)
	}

	rec = NewRecording(state.QGraphics)
	rec.BeginRenderPass(nil, noDSV)
	if _, err := d.Submit(rec); !errors.Is(err, ErrRenderPass) {
		t.Fatalf("d.Submit (open pass):\nhave %v\nwant %v", err, ErrRenderPass)
	}

	// An acceleration structure can only be used from its own stage.
	as, err := d.CreateBuffer(BufferDesc{Size: 64, Usage: gputypes.BufferUsageStorage, AccelerationStructure: true})
	if err != nil {
		t.Fatalf("d.CreateBuffer:\nhave %v\nwant nil", err)
	}
	dst := newBuffer(t, d, gputypes.BufferUsageCopyDst)
	rec = NewRecording(state.QCompute)
	rec.Bind(Raytracing, newView(t, d, as, ViewDesc{Type: handle.BufferSRV}))
	rec.Dispatch()
	rec.CopyBuffer(handle.Whole(dst), handle.Whole(as))
	if _, err := d.Submit(rec); !errors.Is(err, barrier.ErrInvalidStageReuse) {
		t.Fatalf("d.Submit (copy of acceleration structure):\nhave %v\nwant %v", err, barrier.ErrInvalidStageReuse)
	}
	if s, _ := d.BufferState(as); s != initialAccel {
		t.Fatalf("d.BufferState after failed submission:\nhave %v\nwant %v", s, initialAccel)
	}

	d.Close()
	if _, err := d.Submit(NewRecording(state.QGraphics)); !errors.Is(err, ErrClosed) {
		t.Fatalf("d.Submit (closed):\nhave %v\nwant %v", err, ErrClosed)
	}
}

func TestClose(t *testing.T) {
	d := New(nil, DefaultConfig())
	a := newBuffer(t, d, gputypes.BufferUsageStorage)
	b := newBuffer(t, d, gputypes.BufferUsageStorage)
	tex := newTexture(t, d, 1, gputypes.TextureUsageCopyDst)
	if err := d.Destroy(a); err != nil {
		t.Fatalf("d.Destroy:\nhave %v\nwant nil", err)
	}
	leaked := d.Close()
	if len(leaked) != 2 || leaked[0] != b || leaked[1] != tex {
		t.Fatalf("d.Close:\nhave %v\nwant [%v %v]", leaked, b, tex)
	}
	if d.Manager().Valid(b) || d.Manager().Valid(tex) {
		t.Fatal("d.Close: leaked handles still valid")
	}
	if leaked := d.Close(); leaked != nil {
		t.Fatalf("d.Close (again):\nhave %v\nwant nil", leaked)
	}
	if _, err := d.CreateBuffer(BufferDesc{Size: 1, Usage: gputypes.BufferUsageStorage}); !errors.Is(err, ErrClosed) {
		t.Fatalf("d.CreateBuffer (closed):\nhave %v\nwant %v", err, ErrClosed)
	}
}
