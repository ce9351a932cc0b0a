// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package state defines the values that describe how a
// GPU resource is being accessed, and the barriers that
// move a resource from one such description to another.
package state

import (
	"strings"

	"github.com/gviegas/barrier/handle"
)

// Usage is the type of an access usage.
// Only one usage is allowed at a time.
type Usage uint8

// Access usages.
const (
	UUnknown Usage = iota
	URead
	UWrite
	UReadWrite
)

// Writes reports whether u modifies the resource.
func (u Usage) Writes() bool { return u == UWrite || u == UReadWrite }

// Stage is the type of a pipeline stage mask.
type Stage uint16

// Pipeline stages.
const (
	SCompute Stage = 1 << iota
	SGraphics
	STransfer
	SIndex
	SIndirect
	SRendertarget
	SDepthStencil
	SPresent
	SRaytrace
	SAccelStruct
	SShadingRate
	SCommon Stage = 0
)

// Layout is the type of a texture memory layout.
// It is ignored for buffers.
type Layout uint8

// Texture layouts.
const (
	LUndefined Layout = iota
	LGeneral
	LRendertarget
	LDepthStencil
	LDepthStencilRead
	LShaderRead
	LTransferSrc
	LTransferDst
	LPreinitialized
	LDepthReadStencil
	LStencilReadDepth
	LPresent
	LSharedPresent
	LShadingRate
	LFragmentDensity
)

// Queue identifies the hardware queue owning a resource.
type Queue uint16

// Queues.
const (
	QUnknown Queue = iota
	QGraphics
	QCompute
	QDMA
	QExternal
)

// ResourceState describes one access to a resource
// (or to a texture subresource).
// Two states are equal iff all four fields are equal.
type ResourceState struct {
	Usage  Usage
	Stage  Stage
	Layout Layout
	Queue  Queue
}

// Initial is the state of a resource that was never seen.
var Initial = ResourceState{UUnknown, SCommon, LUndefined, QUnknown}

// Bit widths of the packed representation.
const (
	usageBits  = 2
	stageBits  = 16
	layoutBits = 4
	queueBits  = 10
)

// Pack encodes s into the engine's 32-bit layout.
func (s ResourceState) Pack() uint32 {
	return uint32(s.Usage)&(1<<usageBits-1) |
		uint32(s.Stage)<<usageBits |
		uint32(s.Layout)&(1<<layoutBits-1)<<(usageBits+stageBits) |
		uint32(s.Queue)&(1<<queueBits-1)<<(usageBits+stageBits+layoutBits)
}

// Unpack decodes a value produced by ResourceState.Pack.
func Unpack(raw uint32) ResourceState {
	return ResourceState{
		Usage:  Usage(raw & (1<<usageBits - 1)),
		Stage:  Stage(raw >> usageBits),
		Layout: Layout(raw >> (usageBits + stageBits) & (1<<layoutBits - 1)),
		Queue:  Queue(raw >> (usageBits + stageBits + layoutBits) & (1<<queueBits - 1)),
	}
}

// SameAccess compares s and o ignoring queue ownership.
func (s ResourceState) SameAccess(o ResourceState) bool {
	return s.Usage == o.Usage && s.Stage == o.Stage && s.Layout == o.Layout
}

// WithoutQueue returns s with its queue set to QUnknown.
func (s ResourceState) WithoutQueue() ResourceState {
	s.Queue = QUnknown
	return s
}

func (s ResourceState) String() string {
	var b strings.Builder
	b.WriteString(s.Usage.String())
	b.WriteByte('/')
	b.WriteString(s.Stage.String())
	b.WriteByte('/')
	b.WriteString(s.Layout.String())
	b.WriteByte('/')
	b.WriteString(s.Queue.String())
	return b.String()
}

// TextureResourceState holds the state of every
// subresource of a texture.
// States is indexed by slice*Mips + mip.
type TextureResourceState struct {
	Mips   int
	States []ResourceState
}

// NewTexture creates a TextureResourceState with every
// subresource set to s.
func NewTexture(mips, layers int, s ResourceState) TextureResourceState {
	states := make([]ResourceState, mips*layers)
	for i := range states {
		states[i] = s
	}
	return TextureResourceState{Mips: mips, States: states}
}

// Layers returns the number of array slices.
func (t *TextureResourceState) Layers() int {
	if t.Mips == 0 {
		return 0
	}
	return len(t.States) / t.Mips
}

// Index returns the States index of a subresource.
func (t *TextureResourceState) Index(mip, slice int) int { return slice*t.Mips + mip }

// Kind is the type of a barrier.
type Kind uint8

// Barrier kinds.
const (
	// Layout/stage/access transition on a single queue.
	Transition Kind = iota
	// Source half of a queue ownership transfer.
	QueueRelease
	// Destination half of a queue ownership transfer.
	QueueAcquire
)

// BufferBarrier is a computed buffer transition.
type BufferBarrier struct {
	Before ResourceState
	After  ResourceState
	Handle handle.ResourceHandle
	Kind   Kind
}

// ImageBarrier is a computed transition of a rectangle
// of texture subresources.
type ImageBarrier struct {
	Before   ResourceState
	After    ResourceState
	Handle   handle.ResourceHandle
	Kind     Kind
	StartMip int
	MipSize  int
	StartArr int
	ArrSize  int
}

// Contains reports whether the subresource (mip, slice)
// lies within b's range.
func (b *ImageBarrier) Contains(mip, slice int) bool {
	return mip >= b.StartMip && mip < b.StartMip+b.MipSize &&
		slice >= b.StartArr && slice < b.StartArr+b.ArrSize
}

// BufferTable is the persistent state of every buffer
// of a device, indexed by handle ID.
type BufferTable = handle.Vector[ResourceState]

// TextureTable is the persistent state of every texture
// of a device, indexed by handle ID.
type TextureTable = handle.Vector[TextureResourceState]
