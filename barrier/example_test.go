// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package barrier_test

import (
	"fmt"

	"github.com/gviegas/barrier/barrier"
	"github.com/gviegas/barrier/handle"
	"github.com/gviegas/barrier/state"
)

func Example() {
	var (
		buffers  state.BufferTable
		textures state.TextureTable
		s        barrier.Solver
	)
	view := handle.Whole(handle.ResourceHandle{Type: handle.Buffer})

	s.Reset(&buffers, &textures)
	for _, next := range [...]state.ResourceState{
		{Usage: state.UWrite, Stage: state.SCompute},
		{Usage: state.URead, Stage: state.SGraphics},
	} {
		if err := s.AddBuffer(s.AddDrawCall(), view, next); err != nil {
			panic(err)
		}
	}
	if err := s.LocalPass(true); err != nil {
		panic(err)
	}
	if err := s.GlobalPass(); err != nil {
		panic(err)
	}

	for _, info := range s.BarrierInfos() {
		bs := s.RunBarrier(info)
		fmt.Printf("draw %d: %d buffer barrier(s)\n", info.DrawCall, info.BufferCount)
		for _, b := range bs.Buffers {
			fmt.Printf("%v: %v/%v -> %v/%v\n", b.Handle, b.Before.Usage, b.Before.Stage, b.After.Usage, b.After.Stage)
		}
	}
	g, _ := buffers.Get(view.Resource.ID)
	fmt.Println("final:", g)

	// Output:
	// draw 0: 0 buffer barrier(s)
	// draw 1: 1 buffer barrier(s)
	// Buffer#0.0: Write/Compute -> Read/Graphics
	// final: Read/Graphics/Undefined/Unknown
}
