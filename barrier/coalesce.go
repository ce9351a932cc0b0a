// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package barrier

import (
	"cmp"
	"slices"

	"github.com/gviegas/barrier/handle"
	"github.com/gviegas/barrier/state"
)

// rect is a rectangle of subresources that share one
// transition.
type rect struct {
	before, after state.ResourceState
	mip, mips     int
	arr, arrs     int
}

func (r *rect) sameKey(o *rect) bool {
	return r.before == o.before && r.after == o.after
}

func (r *rect) image(h handle.ResourceHandle, k state.Kind) state.ImageBarrier {
	return state.ImageBarrier{
		Before:   r.before,
		After:    r.after,
		Handle:   h,
		Kind:     k,
		StartMip: r.mip,
		MipSize:  r.mips,
		StartArr: r.arr,
		ArrSize:  r.arrs,
	}
}

// coalescer merges subresource transitions into
// rectangles.
// Subresources must be added one mip level at a time, in
// increasing mip and slice order.
// Within a mip level, consecutive slices with the same
// transition form a run; a run extends the rectangle
// that ended at the previous mip level if it spans the
// same slices with the same transition.
// The rectangles never overlap, and together they cover
// exactly the subresources that were added.
type coalescer struct {
	open []rect
	next []rect
	row  []rect
	out  []rect
	mip  int
}

func (c *coalescer) begin() {
	c.open = c.open[:0]
	c.next = c.next[:0]
	c.row = c.row[:0]
	c.out = c.out[:0]
	c.mip = -1
}

func (c *coalescer) add(mip, slice int, before, after state.ResourceState) {
	if mip != c.mip {
		c.endRow()
		c.mip = mip
	}
	r := rect{before: before, after: after, mip: mip, mips: 1, arr: slice, arrs: 1}
	if n := len(c.row); n > 0 {
		if l := &c.row[n-1]; l.sameKey(&r) && l.arr+l.arrs == slice {
			l.arrs++
			return
		}
	}
	c.row = append(c.row, r)
}

// endRow merges the runs of the current mip level into
// the open rectangles.
func (c *coalescer) endRow() {
	c.next = c.next[:0]
	for _, r := range c.row {
		i := slices.IndexFunc(c.open, func(o rect) bool {
			return o.sameKey(&r) && o.arr == r.arr && o.arrs == r.arrs && o.mip+o.mips == r.mip
		})
		if i < 0 {
			c.next = append(c.next, r)
			continue
		}
		o := c.open[i]
		o.mips++
		c.next = append(c.next, o)
		c.open = slices.Delete(c.open, i, i+1)
	}
	c.out = append(c.out, c.open...)
	c.open, c.next = c.next, c.open
	c.row = c.row[:0]
}

// end flushes every rectangle to fn, ordered by first
// slice and then by first mip level.
func (c *coalescer) end(fn func(rect)) {
	c.endRow()
	c.out = append(c.out, c.open...)
	c.open = c.open[:0]
	slices.SortFunc(c.out, func(a, b rect) int {
		if n := cmp.Compare(a.arr, b.arr); n != 0 {
			return n
		}
		return cmp.Compare(a.mip, b.mip)
	})
	for _, r := range c.out {
		fn(r)
	}
}
