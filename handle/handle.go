// Copyright 2023 Gustavo C. Viegas. All rights reserved.

// Package handle implements generation-checked identifiers
// for GPU resources and resource views.
//
// Handles are small values. A released handle becomes
// invalid because its pool bumps the generation stored
// for the handle's ID, so copies retained by callers stop
// matching even after the ID is reused.
package handle

import (
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"
)

// ResourceType is the type of a resource.
type ResourceType uint8

// Resource types.
const (
	Unknown ResourceType = iota
	Pipeline
	Renderpass
	Buffer
	DynamicBuffer
	ReadbackBuffer
	Texture
	ReadbackTexture
	MemoryHeap
	ShaderArgumentsLayout
	ShaderArguments
	NResourceType
)

var resourceTypeNames = [...]string{
	Unknown:               "Unknown",
	Pipeline:              "Pipeline",
	Renderpass:            "Renderpass",
	Buffer:                "Buffer",
	DynamicBuffer:         "DynamicBuffer",
	ReadbackBuffer:        "ReadbackBuffer",
	Texture:               "Texture",
	ReadbackTexture:       "ReadbackTexture",
	MemoryHeap:            "MemoryHeap",
	ShaderArgumentsLayout: "ShaderArgumentsLayout",
	ShaderArguments:       "ShaderArguments",
}

func (t ResourceType) String() string {
	if t < NResourceType {
		return resourceTypeNames[t]
	}
	return "ResourceType(?)"
}

// IsBuffer reports whether t is tracked as a buffer.
func (t ResourceType) IsBuffer() bool {
	return t == Buffer || t == DynamicBuffer || t == ReadbackBuffer
}

// IsTexture reports whether t is tracked as a texture.
func (t ResourceType) IsTexture() bool {
	return t == Texture || t == ReadbackTexture
}

// ViewType is the type of a resource view.
type ViewType uint8

// View types.
const (
	UnknownView ViewType = iota
	BufferSRV
	BufferUAV
	BufferIBV
	DynamicBufferSRV
	TextureSRV
	TextureUAV
	TextureRTV
	TextureDSV
	NViewType
)

var viewTypeNames = [...]string{
	UnknownView:      "Unknown",
	BufferSRV:        "BufferSRV",
	BufferUAV:        "BufferUAV",
	BufferIBV:        "BufferIBV",
	DynamicBufferSRV: "DynamicBufferSRV",
	TextureSRV:       "TextureSRV",
	TextureUAV:       "TextureUAV",
	TextureRTV:       "TextureRTV",
	TextureDSV:       "TextureDSV",
}

func (t ViewType) String() string {
	if t < NViewType {
		return viewTypeNames[t]
	}
	return "ViewType(?)"
}

// Views reports whether a view of type t can refer to a
// resource of type r.
func (t ViewType) Views(r ResourceType) bool {
	switch t {
	case BufferSRV, BufferUAV, BufferIBV:
		return r == Buffer
	case DynamicBufferSRV:
		return r == DynamicBuffer
	case TextureSRV, TextureUAV, TextureRTV, TextureDSV:
		return r == Texture
	}
	return false
}

// ResourceUsage is the declared usage of a resource.
type ResourceUsage uint8

// Resource usages.
const (
	Upload ResourceUsage = iota
	Readback
	GPUReadOnly
	GPURW
	RenderTarget
	DepthStencil
	RenderTargetRW
	DepthStencilRW
	AccelerationStructure
)

// Limits of the handle encodings.
const (
	// InvalidID is the ID of a resource handle that does
	// not refer to anything.
	InvalidID = 1<<20 - 1
	// InvalidViewID is the ID of a view handle that does
	// not refer to anything.
	InvalidViewID = 1<<14 - 1
	// AllGPUs is the ownership mask of a resource that
	// every GPU owns a copy of.
	AllGPUs = 1<<16 - 1
)

// ResourceHandle identifies a resource.
type ResourceHandle struct {
	ID    uint32
	Gen   uint32
	Type  ResourceType
	GPUs  uint16
	Usage ResourceUsage
}

// Nil is a ResourceHandle that refers to nothing.
var Nil = ResourceHandle{ID: InvalidID}

// IsNil reports whether h refers to nothing.
func (h ResourceHandle) IsNil() bool { return h.ID == InvalidID || h.Type == Unknown }

// OwnerGPU returns the index of the single GPU that owns
// h, -1 when every GPU owns its own copy, and -2 when the
// ownership mask is empty.
func (h ResourceHandle) OwnerGPU() int {
	if h.GPUs == AllGPUs {
		return -1
	}
	for i := range 16 {
		if h.GPUs&(1<<i) != 0 {
			return i
		}
	}
	return -2
}

// SetGPU makes GPU i the single owner of h.
func (h *ResourceHandle) SetGPU(i int) { h.GPUs = 1 << i }

// Shared reports whether h is owned by a single GPU and
// may be opened by others.
func (h ResourceHandle) Shared() bool { return h.OwnerGPU() >= 0 }

func (h ResourceHandle) String() string {
	return fmt.Sprintf("%v#%d.%d", h.Type, h.ID, h.Gen)
}

// ViewResourceHandle identifies a view into a resource.
// Resource is a weak reference: views never own the
// resource they refer to.
type ViewResourceHandle struct {
	ID   uint32
	Gen  uint32
	Type ViewType

	// Subresource range. AllMips is the mip count of the
	// whole resource, which is needed to index subresources.
	AllMips  uint16
	StartMip uint16
	MipSize  uint16
	StartArr uint16
	ArrSize  uint16

	LoadOp  gputypes.LoadOp
	StoreOp gputypes.StoreOp

	Resource ResourceHandle
}

// MaxRange is the largest value of a subresource range
// field.
const MaxRange = math.MaxUint16

// SetRange sets the subresource range of v.
// If any value is negative or greater than MaxRange, it
// fails with ErrRangeOverflow and leaves v unchanged.
func (v *ViewResourceHandle) SetRange(allMips, startMip, mipSize, startArr, arrSize int) error {
	for _, x := range [...]int{allMips, startMip, mipSize, startArr, arrSize} {
		if x < 0 || x > MaxRange {
			return errors.Wrapf(ErrRangeOverflow, "subresource range (%d, %d, %d, %d, %d)",
				allMips, startMip, mipSize, startArr, arrSize)
		}
	}
	v.AllMips = uint16(allMips)
	v.StartMip = uint16(startMip)
	v.MipSize = uint16(mipSize)
	v.StartArr = uint16(startArr)
	v.ArrSize = uint16(arrSize)
	return nil
}

// Whole returns a view covering the first subresource of
// r. It is what buffers and single-subresource textures
// are accessed through when no explicit view exists.
func Whole(r ResourceHandle) ViewResourceHandle {
	return ViewResourceHandle{
		ID:       InvalidViewID,
		AllMips:  1,
		MipSize:  1,
		ArrSize:  1,
		Resource: r,
	}
}

func (v ViewResourceHandle) String() string {
	return fmt.Sprintf("%v#%d.%d(%v mips %d+%d arr %d+%d)",
		v.Type, v.ID, v.Gen, v.Resource, v.StartMip, v.MipSize, v.StartArr, v.ArrSize)
}
