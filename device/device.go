// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package device owns the persistent state of GPU
// resources and compiles recordings of GPU commands into
// barriers.
package device

import (
	"math/bits"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gviegas/barrier/barrier"
	"github.com/gviegas/barrier/handle"
	"github.com/gviegas/barrier/internal/logging"
	"github.com/gviegas/barrier/state"
)

var (
	// ErrClosed means that the device was closed.
	ErrClosed = errors.New("device: device is closed")

	// ErrInvalidDesc means that a resource descriptor is
	// not valid.
	ErrInvalidDesc = errors.New("device: invalid descriptor")

	// ErrUsage means that a view requires a usage that its
	// resource was not created with.
	ErrUsage = errors.New("device: usage not declared by resource")

	// ErrNotOwned means that a resource was not created by
	// the device it was given to.
	ErrNotOwned = errors.New("device: resource not created by this device")
)

// Config is used to configure a device.
type Config struct {
	// The number of handles of each type that the handle
	// manager can hold.
	// Only used when a device creates its own manager.
	//
	// Default is handle.DefaultCapacity.
	Capacity int

	// Assume that buffers decay to the common state
	// between submissions, so that a buffer's first access
	// in a recording needs no barrier.
	//
	// Default is true.
	AllowCommonOptimization bool

	// Split first-use image barriers whose subresources
	// are in different states, instead of failing.
	//
	// Default is false.
	SplitIncoherentRanges bool

	// Index of the GPU. It only identifies the device in
	// logs.
	//
	// Default is 0.
	GPU int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Capacity:                handle.DefaultCapacity,
		AllowCommonOptimization: true,
		SplitIncoherentRanges:   false,
		GPU:                     0,
	}
}

// BufferDesc describes a buffer.
type BufferDesc struct {
	Label string
	Size  uint64
	Usage gputypes.BufferUsage
	// Whether the buffer stores an acceleration structure.
	// Acceleration structures are only ever accessed from
	// the state.SAccelStruct stage.
	AccelerationStructure bool
}

// TextureDesc describes a texture.
type TextureDesc struct {
	Label         string
	Size          gputypes.Extent3D
	MipLevelCount uint32
	Format        gputypes.TextureFormat
	Dimension     gputypes.TextureDimension
	Usage         gputypes.TextureUsage
}

// Layers returns the number of array layers of a texture
// created from d.
func (d *TextureDesc) Layers() int {
	if d.Dimension == gputypes.TextureDimension3D {
		return 1
	}
	return max(int(d.Size.DepthOrArrayLayers), 1)
}

// Mips returns the number of mip levels of a texture
// created from d.
func (d *TextureDesc) Mips() int { return max(int(d.MipLevelCount), 1) }

// ViewDesc describes a view.
// A zero count means every level (or layer) from the base
// onwards.
type ViewDesc struct {
	Type            handle.ViewType
	BaseMipLevel    int
	MipLevelCount   int
	BaseArrayLayer  int
	ArrayLayerCount int
	LoadOp          gputypes.LoadOp
	StoreOp         gputypes.StoreOp
}

// Initial states of new resources.
var (
	initialBuffer  = state.ResourceState{Usage: state.URead, Stage: state.SCommon, Layout: state.LGeneral}
	initialAccel   = state.ResourceState{Usage: state.URead, Stage: state.SAccelStruct, Layout: state.LGeneral}
	initialTexture = state.ResourceState{Usage: state.URead, Stage: state.SCommon, Layout: state.LUndefined}
)

type buffer struct {
	h    handle.ResourceHandle
	desc BufferDesc
}

type texture struct {
	h    handle.ResourceHandle
	desc TextureDesc
}

// Device owns the state of the resources it creates.
// Its methods are safe for concurrent use; submissions
// are serialized.
type Device struct {
	mu     sync.Mutex
	m      *handle.Manager
	cfg    Config
	closed bool

	bufs handle.Vector[buffer]
	texs handle.Vector[texture]

	bufState state.BufferTable
	texState state.TextureTable
	solver   barrier.Solver

	// Resources released by a queue and not yet acquired,
	// mapped to the queue that released them.
	released map[handle.ResourceHandle]state.Queue
}

// New creates a device that allocates handles from m.
// If m is nil, the device creates its own manager.
func New(m *handle.Manager, cfg Config) *Device {
	if m == nil {
		m = handle.NewManager(cfg.Capacity)
	}
	d := &Device{m: m, cfg: cfg, released: make(map[handle.ResourceHandle]state.Queue)}
	d.log().Info("device: created")
	return d
}

func (d *Device) log() *logrus.Entry { return logging.Logger().WithField("gpu", d.cfg.GPU) }

// Manager returns the handle manager of d.
func (d *Device) Manager() *handle.Manager { return d.m }

// Config returns the configuration of d.
func (d *Device) Config() Config { return d.cfg }

// CreateBuffer creates a new buffer.
func (d *Device) CreateBuffer(desc BufferDesc) (handle.ResourceHandle, error) {
	switch {
	case desc.Size == 0:
		return handle.Nil, errors.Wrapf(ErrInvalidDesc, "buffer %q: size is 0", desc.Label)
	case desc.Usage == 0:
		return handle.Nil, errors.Wrapf(ErrInvalidDesc, "buffer %q: usage is empty", desc.Label)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return handle.Nil, ErrClosed
	}
	h, err := d.m.Allocate(handle.Buffer)
	if err != nil {
		return handle.Nil, err
	}
	s := initialBuffer
	switch {
	case desc.AccelerationStructure:
		h.Usage = handle.AccelerationStructure
		s = initialAccel
	case desc.Usage.Contains(gputypes.BufferUsageMapRead):
		h.Usage = handle.Readback
	case desc.Usage.Contains(gputypes.BufferUsageMapWrite):
		h.Usage = handle.Upload
	case desc.Usage.Contains(gputypes.BufferUsageStorage):
		h.Usage = handle.GPURW
	default:
		h.Usage = handle.GPUReadOnly
	}
	d.bufs.Set(h.ID, buffer{h, desc})
	d.bufState.Set(h.ID, s)
	d.log().WithFields(logrus.Fields{"handle": h, "label": desc.Label, "size": desc.Size}).Debug("device: buffer created")
	return h, nil
}

// CreateTexture creates a new texture.
// Every subresource starts in the undefined layout.
func (d *Device) CreateTexture(desc TextureDesc) (handle.ResourceHandle, error) {
	w, h3 := desc.Size.Width, desc.Size.Height
	if desc.Dimension == gputypes.TextureDimension3D {
		h3 = max(h3, desc.Size.DepthOrArrayLayers)
	}
	switch {
	case desc.Size.Width == 0 || desc.Size.Height == 0:
		return handle.Nil, errors.Wrapf(ErrInvalidDesc, "texture %q: empty extent", desc.Label)
	case desc.Format == gputypes.TextureFormatUndefined:
		return handle.Nil, errors.Wrapf(ErrInvalidDesc, "texture %q: undefined format", desc.Label)
	case desc.Usage == 0:
		return handle.Nil, errors.Wrapf(ErrInvalidDesc, "texture %q: usage is empty", desc.Label)
	case desc.Mips() > bits.Len32(max(w, h3)):
		return handle.Nil, errors.Wrapf(ErrInvalidDesc, "texture %q: %d mip levels for %dx%d", desc.Label, desc.Mips(), w, h3)
	case desc.Layers() > handle.MaxRange:
		return handle.Nil, errors.Wrapf(handle.ErrRangeOverflow, "texture %q: %d layers", desc.Label, desc.Layers())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return handle.Nil, ErrClosed
	}
	h, err := d.m.Allocate(handle.Texture)
	if err != nil {
		return handle.Nil, err
	}
	switch {
	case desc.Usage&gputypes.TextureUsageRenderAttachment != 0 && desc.Format.IsDepthStencil():
		h.Usage = handle.DepthStencil
	case desc.Usage&gputypes.TextureUsageRenderAttachment != 0:
		h.Usage = handle.RenderTarget
	case desc.Usage&gputypes.TextureUsageStorageBinding != 0:
		h.Usage = handle.GPURW
	default:
		h.Usage = handle.GPUReadOnly
	}
	d.texs.Set(h.ID, texture{h, desc})
	d.texState.Set(h.ID, state.NewTexture(desc.Mips(), desc.Layers(), initialTexture))
	d.log().WithFields(logrus.Fields{
		"handle": h,
		"label":  desc.Label,
		"mips":   desc.Mips(),
		"layers": desc.Layers(),
	}).Debug("device: texture created")
	return h, nil
}

// owned reports whether h was created by d and is alive.
// Callers must hold d.mu.
func (d *Device) owned(h handle.ResourceHandle) bool {
	switch {
	case h.Type == handle.Buffer:
		b, ok := d.bufs.Get(h.ID)
		return ok && b.h == h && d.m.Valid(h)
	case h.Type == handle.Texture:
		t, ok := d.texs.Get(h.ID)
		return ok && t.h == h && d.m.Valid(h)
	}
	return false
}

func (d *Device) checkOwned(h handle.ResourceHandle) error {
	if d.owned(h) {
		return nil
	}
	if !d.m.Valid(h) {
		return errors.Wrapf(handle.ErrStaleHandle, "%v", h)
	}
	return errors.Wrapf(ErrNotOwned, "%v", h)
}

// CreateView creates a view of a resource of d.
func (d *Device) CreateView(r handle.ResourceHandle, desc ViewDesc) (handle.ViewResourceHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	none := handle.ViewResourceHandle{ID: handle.InvalidViewID, Resource: handle.Nil}
	if d.closed {
		return none, ErrClosed
	}
	if err := d.checkOwned(r); err != nil {
		return none, err
	}
	if !desc.Type.Views(r.Type) {
		return none, errors.Wrapf(handle.ErrInvalidType, "%v of %v", desc.Type, r)
	}

	mips, layers := 1, 1
	if r.Type == handle.Texture {
		t, _ := d.texs.Get(r.ID)
		mips, layers = t.desc.Mips(), t.desc.Layers()
		if err := checkTextureUsage(desc.Type, &t.desc); err != nil {
			return none, errors.Wrapf(err, "%v of %v", desc.Type, r)
		}
	} else {
		b, _ := d.bufs.Get(r.ID)
		if err := checkBufferUsage(desc.Type, &b.desc); err != nil {
			return none, errors.Wrapf(err, "%v of %v", desc.Type, r)
		}
	}
	mipCount := desc.MipLevelCount
	if mipCount == 0 {
		mipCount = mips - desc.BaseMipLevel
	}
	arrCount := desc.ArrayLayerCount
	if arrCount == 0 {
		arrCount = layers - desc.BaseArrayLayer
	}
	if desc.BaseMipLevel < 0 || mipCount <= 0 || desc.BaseMipLevel+mipCount > mips ||
		desc.BaseArrayLayer < 0 || arrCount <= 0 || desc.BaseArrayLayer+arrCount > layers {
		return none, errors.Wrapf(barrier.ErrSubresourceRange, "%v of %v: mips %d+%d arr %d+%d",
			desc.Type, r, desc.BaseMipLevel, mipCount, desc.BaseArrayLayer, arrCount)
	}

	v, err := d.m.AllocateView(desc.Type, r)
	if err != nil {
		return none, err
	}
	if err := v.SetRange(mips, desc.BaseMipLevel, mipCount, desc.BaseArrayLayer, arrCount); err != nil {
		d.m.ReleaseView(v)
		return none, errors.Wrapf(err, "%v of %v", desc.Type, r)
	}
	v.LoadOp = desc.LoadOp
	v.StoreOp = desc.StoreOp
	return v, nil
}

func checkBufferUsage(t handle.ViewType, desc *BufferDesc) error {
	var need gputypes.BufferUsage
	switch t {
	case handle.BufferSRV:
		if desc.Usage.Contains(gputypes.BufferUsageUniform) {
			return nil
		}
		need = gputypes.BufferUsageStorage
	case handle.BufferUAV:
		need = gputypes.BufferUsageStorage
	case handle.BufferIBV:
		need = gputypes.BufferUsageIndex
	default:
		return nil
	}
	if desc.AccelerationStructure || desc.Usage.Contains(need) {
		return nil
	}
	return ErrUsage
}

func checkTextureUsage(t handle.ViewType, desc *TextureDesc) error {
	var need gputypes.TextureUsage
	switch t {
	case handle.TextureSRV:
		need = gputypes.TextureUsageTextureBinding
	case handle.TextureUAV:
		need = gputypes.TextureUsageStorageBinding
	case handle.TextureRTV:
		if desc.Format.IsDepthStencil() {
			return ErrUsage
		}
		need = gputypes.TextureUsageRenderAttachment
	case handle.TextureDSV:
		if !desc.Format.IsDepthStencil() {
			return ErrUsage
		}
		need = gputypes.TextureUsageRenderAttachment
	}
	if desc.Usage&need != need {
		return ErrUsage
	}
	return nil
}

// Destroy destroys a resource of d.
// Views of the resource must be destroyed separately.
func (d *Device) Destroy(h handle.ResourceHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if err := d.checkOwned(h); err != nil {
		return err
	}
	d.forget(h)
	return d.m.Release(h)
}

// forget removes h from the tables of d.
// Callers must hold d.mu.
func (d *Device) forget(h handle.ResourceHandle) {
	if h.Type == handle.Buffer {
		d.bufs.Zero(h.ID)
		d.bufState.Zero(h.ID)
	} else {
		d.texs.Zero(h.ID)
		d.texState.Zero(h.ID)
	}
	delete(d.released, h)
}

// DestroyView destroys a view.
func (d *Device) DestroyView(v handle.ViewResourceHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	return d.m.ReleaseView(v)
}

// BufferState returns the state of a buffer as of the last
// submission.
func (d *Device) BufferState(h handle.ResourceHandle) (state.ResourceState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h.Type != handle.Buffer {
		return state.ResourceState{}, errors.Wrapf(barrier.ErrResourceType, "BufferState of %v", h)
	}
	if err := d.checkOwned(h); err != nil {
		return state.ResourceState{}, err
	}
	s, _ := d.bufState.Get(h.ID)
	return s, nil
}

// TextureState returns a copy of the state of a texture as
// of the last submission.
func (d *Device) TextureState(h handle.ResourceHandle) (state.TextureResourceState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h.Type != handle.Texture {
		return state.TextureResourceState{}, errors.Wrapf(barrier.ErrResourceType, "TextureState of %v", h)
	}
	if err := d.checkOwned(h); err != nil {
		return state.TextureResourceState{}, err
	}
	s, _ := d.texState.Get(h.ID)
	s.States = append([]state.ResourceState(nil), s.States...)
	return s, nil
}

// Close closes the device.
// Resources that were not destroyed are released and
// returned.
func (d *Device) Close() []handle.ResourceHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	var leaked []handle.ResourceHandle
	for i := range d.bufs.Len() {
		if b, _ := d.bufs.Get(uint32(i)); b.h.Type != handle.Unknown && d.m.Valid(b.h) {
			leaked = append(leaked, b.h)
		}
	}
	for i := range d.texs.Len() {
		if t, _ := d.texs.Get(uint32(i)); t.h.Type != handle.Unknown && d.m.Valid(t.h) {
			leaked = append(leaked, t.h)
		}
	}
	for _, h := range leaked {
		d.log().WithField("handle", h).Warn("device: resource not destroyed")
		d.forget(h)
		d.m.Release(h)
	}
	d.log().WithField("leaked", len(leaked)).Info("device: closed")
	return leaked
}
