// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package handle

import (
	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"
)

// ErrRangeOverflow means that a value does not fit in a
// handle field or in the packed encoding.
var ErrRangeOverflow = errors.New("handle: value exceeds field width")

// Packed resource handle layout, from the least
// significant bit:
//
//	id 20 | gen 8 | type 6 | gpus 16 | usage 4 | unused 10
const (
	rIDBits    = 20
	rGenBits   = 8
	rTypeBits  = 6
	rGPUBits   = 16
	rUsageBits = 4
)

// Packed view layout (first word), from the least
// significant bit:
//
//	id 14 | gen 8 | type 4 | allMips 4 | startMip 4 |
//	mipSize 4 | startArr 11 | arrSize 11 | load 2 | store 1
//
// allMips, mipSize and arrSize are stored minus one.
// The second word is the packed resource handle.
const (
	vIDBits   = 14
	vGenBits  = 8
	vTypeBits = 4
	vMipBits  = 4
	vArrBits  = 11
	vLoadBits = 2
)

// Pack encodes h in the engine's 64-bit layout.
// The generation is stored modulo 256.
func (h ResourceHandle) Pack() (uint64, error) {
	switch {
	case h.ID > InvalidID:
		return 0, errors.Wrapf(ErrRangeOverflow, "id %d", h.ID)
	case h.Type >= 1<<rTypeBits:
		return 0, errors.Wrapf(ErrRangeOverflow, "type %d", h.Type)
	case h.Usage >= 1<<rUsageBits:
		return 0, errors.Wrapf(ErrRangeOverflow, "usage %d", h.Usage)
	}
	var p packer
	p.put(uint64(h.ID), rIDBits)
	p.put(uint64(h.Gen)&(1<<rGenBits-1), rGenBits)
	p.put(uint64(h.Type), rTypeBits)
	p.put(uint64(h.GPUs), rGPUBits)
	p.put(uint64(h.Usage), rUsageBits)
	return p.v, nil
}

// UnpackResource decodes a value produced by
// ResourceHandle.Pack.
func UnpackResource(raw uint64) ResourceHandle {
	u := unpacker{v: raw}
	return ResourceHandle{
		ID:    uint32(u.get(rIDBits)),
		Gen:   uint32(u.get(rGenBits)),
		Type:  ResourceType(u.get(rTypeBits)),
		GPUs:  uint16(u.get(rGPUBits)),
		Usage: ResourceUsage(u.get(rUsageBits)),
	}
}

// Pack encodes v in the engine's 128-bit layout.
// Unlike the engine, it refuses subresource ranges that do
// not fit rather than truncating them.
func (v ViewResourceHandle) Pack() ([2]uint64, error) {
	var raw [2]uint64
	fits := func(x uint16, bits int, off int) bool { return int(x)-off >= 0 && int(x)-off < 1<<bits }
	switch {
	case v.ID > InvalidViewID:
		return raw, errors.Wrapf(ErrRangeOverflow, "view id %d", v.ID)
	case v.Type >= 1<<vTypeBits:
		return raw, errors.Wrapf(ErrRangeOverflow, "view type %d", v.Type)
	case !fits(v.AllMips, vMipBits, 1), !fits(v.StartMip, vMipBits, 0), !fits(v.MipSize, vMipBits, 1):
		return raw, errors.Wrapf(ErrRangeOverflow, "mip range %d+%d of %d", v.StartMip, v.MipSize, v.AllMips)
	case !fits(v.StartArr, vArrBits, 0), !fits(v.ArrSize, vArrBits, 1):
		return raw, errors.Wrapf(ErrRangeOverflow, "array range %d+%d", v.StartArr, v.ArrSize)
	}
	res, err := v.Resource.Pack()
	if err != nil {
		return raw, err
	}
	var p packer
	p.put(uint64(v.ID), vIDBits)
	p.put(uint64(v.Gen)&(1<<vGenBits-1), vGenBits)
	p.put(uint64(v.Type), vTypeBits)
	p.put(uint64(v.AllMips-1), vMipBits)
	p.put(uint64(v.StartMip), vMipBits)
	p.put(uint64(v.MipSize-1), vMipBits)
	p.put(uint64(v.StartArr), vArrBits)
	p.put(uint64(v.ArrSize-1), vArrBits)
	p.put(packLoad(v.LoadOp), vLoadBits)
	p.put(packStore(v.StoreOp), 1)
	raw[0], raw[1] = p.v, res
	return raw, nil
}

// UnpackView decodes a value produced by
// ViewResourceHandle.Pack.
func UnpackView(raw [2]uint64) ViewResourceHandle {
	u := unpacker{v: raw[0]}
	v := ViewResourceHandle{
		ID:   uint32(u.get(vIDBits)),
		Gen:  uint32(u.get(vGenBits)),
		Type: ViewType(u.get(vTypeBits)),
	}
	v.AllMips = uint16(u.get(vMipBits)) + 1
	v.StartMip = uint16(u.get(vMipBits))
	v.MipSize = uint16(u.get(vMipBits)) + 1
	v.StartArr = uint16(u.get(vArrBits))
	v.ArrSize = uint16(u.get(vArrBits)) + 1
	v.LoadOp = unpackLoad(u.get(vLoadBits))
	v.StoreOp = unpackStore(u.get(1))
	v.Resource = UnpackResource(raw[1])
	return v
}

// Engine load/store op values.
const (
	opLoad     = 0
	opClear    = 1
	opDontCare = 2
	opStore    = 0
	opDiscard  = 1
)

func packLoad(op gputypes.LoadOp) uint64 {
	switch op {
	case gputypes.LoadOpLoad:
		return opLoad
	case gputypes.LoadOpClear:
		return opClear
	}
	return opDontCare
}

func unpackLoad(x uint64) (op gputypes.LoadOp) {
	switch x {
	case opLoad:
		op = gputypes.LoadOpLoad
	case opClear:
		op = gputypes.LoadOpClear
	}
	return
}

func packStore(op gputypes.StoreOp) uint64 {
	if op == gputypes.StoreOpDiscard {
		return opDiscard
	}
	return opStore
}

func unpackStore(x uint64) gputypes.StoreOp {
	if x == opDiscard {
		return gputypes.StoreOpDiscard
	}
	return gputypes.StoreOpStore
}

type packer struct {
	v   uint64
	off int
}

func (p *packer) put(x uint64, bits int) {
	p.v |= (x & (1<<bits - 1)) << p.off
	p.off += bits
}

type unpacker struct {
	v   uint64
	off int
}

func (u *unpacker) get(bits int) uint64 {
	x := u.v >> u.off & (1<<bits - 1)
	u.off += bits
	return x
}
