// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package state

import (
	"strings"
)

func (u Usage) String() string {
	switch u {
	case UUnknown:
		return "Unknown"
	case URead:
		return "Read"
	case UWrite:
		return "Write"
	case UReadWrite:
		return "ReadWrite"
	}
	return "Usage(?)"
}

var stageNames = [...]string{
	"Compute",
	"Graphics",
	"Transfer",
	"Index",
	"Indirect",
	"Rendertarget",
	"DepthStencil",
	"Present",
	"Raytrace",
	"AccelerationStructure",
	"ShadingRateSource",
}

// String joins the names of the stages set in s with '|'.
func (s Stage) String() string {
	if s == SCommon {
		return "Common"
	}
	var names []string
	for i, n := range stageNames {
		if s&(1<<i) != 0 {
			names = append(names, n)
		}
	}
	if rest := s &^ (1<<len(stageNames) - 1); rest != 0 {
		names = append(names, "Stage(?)")
	}
	return strings.Join(names, "|")
}

var layoutNames = [...]string{
	LUndefined:        "Undefined",
	LGeneral:          "General",
	LRendertarget:     "Rendertarget",
	LDepthStencil:     "DepthStencil",
	LDepthStencilRead: "DepthStencilReadOnly",
	LShaderRead:       "ShaderReadOnly",
	LTransferSrc:      "TransferSrc",
	LTransferDst:      "TransferDst",
	LPreinitialized:   "Preinitialize",
	LDepthReadStencil: "DepthReadOnlyStencil",
	LStencilReadDepth: "StencilReadOnlyDepth",
	LPresent:          "Present",
	LSharedPresent:    "SharedPresent",
	LShadingRate:      "ShadingRate",
	LFragmentDensity:  "FragmentDensityMap",
}

func (l Layout) String() string {
	if int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return "Unknown layout"
}

func (q Queue) String() string {
	switch q {
	case QUnknown:
		return "Unknown"
	case QGraphics:
		return "Graphics"
	case QCompute:
		return "Compute"
	case QDMA:
		return "DMA"
	case QExternal:
		return "External"
	}
	return "Queue(?)"
}

func (k Kind) String() string {
	switch k {
	case Transition:
		return "transition"
	case QueueRelease:
		return "release"
	case QueueAcquire:
		return "acquire"
	}
	return "Kind(?)"
}
