// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package device

import (
	"context"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/pkg/errors"

	"github.com/gviegas/barrier/handle"
	"github.com/gviegas/barrier/state"
)

func TestGroup(t *testing.T) {
	if _, err := NewGroup(0, DefaultConfig()); err == nil {
		t.Fatal("NewGroup(0):\nhave nil\nwant error")
	}
	g, err := NewGroup(3, DefaultConfig())
	if err != nil {
		t.Fatalf("NewGroup:\nhave %v\nwant nil", err)
	}
	defer g.Close()
	if g.Len() != 3 {
		t.Fatalf("g.Len:\nhave %d\nwant 3", g.Len())
	}
	for i := range g.Len() {
		d := g.Device(i)
		if d.Manager() != g.Manager() {
			t.Fatalf("g.Device(%d).Manager: not shared", i)
		}
		if d.Config().GPU != i {
			t.Fatalf("g.Device(%d).Config().GPU:\nhave %d\nwant %d", i, d.Config().GPU, i)
		}
	}

	const frames = 4
	work := make([][]*Recording, g.Len())
	bufs := make([]handle.ResourceHandle, g.Len())
	for i := range g.Len() {
		d := g.Device(i)
		bufs[i] = newBuffer(t, d, gputypes.BufferUsageStorage)
		uav := newView(t, d, bufs[i], ViewDesc{Type: handle.BufferUAV})
		srv := newView(t, d, bufs[i], ViewDesc{Type: handle.BufferSRV})
		for range frames {
			rec := NewRecording(state.QCompute)
			rec.Bind(Compute, uav)
			rec.Dispatch()
			rec.Bind(Compute, srv)
			rec.Dispatch()
			work[i] = append(work[i], rec)
		}
	}
	res, err := g.SubmitAll(context.Background(), work)
	if err != nil {
		t.Fatalf("g.SubmitAll:\nhave %v\nwant nil", err)
	}
	if len(res) != g.Len() {
		t.Fatalf("g.SubmitAll:\nhave %d result lists\nwant %d", len(res), g.Len())
	}
	for i := range res {
		if len(res[i]) != frames {
			t.Fatalf("res[%d]:\nhave %d results\nwant %d", i, len(res[i]), frames)
		}
		for j, r := range res[i] {
			if r.Count() != 1 || r.Buffers[0].Handle != bufs[i] {
				t.Fatalf("res[%d][%d]:\nhave %v\nwant one barrier of %v", i, j, r.Buffers, bufs[i])
			}
		}
	}

	// Resources belong to the device that created them.
	other := NewRecording(state.QCompute)
	other.ReadbackBuffer(handle.Whole(bufs[0]))
	if _, err := g.SubmitAll(context.Background(), [][]*Recording{nil, {other}}); !errors.Is(err, ErrNotOwned) {
		t.Fatalf("g.SubmitAll (foreign resource):\nhave %v\nwant %v", err, ErrNotOwned)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.SubmitAll(ctx, work); !errors.Is(err, context.Canceled) {
		t.Fatalf("g.SubmitAll (canceled):\nhave %v\nwant %v", err, context.Canceled)
	}
}
