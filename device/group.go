// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package device

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/gviegas/barrier/handle"
)

// Group is a set of devices that share a handle manager.
// Each device keeps its own resource states, so the
// devices of a group can submit in parallel.
type Group struct {
	m    *handle.Manager
	devs []*Device
}

// NewGroup creates a group of n devices configured by cfg.
// The GPU index of the i-th device is i.
func NewGroup(n int, cfg Config) (*Group, error) {
	if n <= 0 || n > 16 {
		return nil, errors.Errorf("device: invalid group size %d", n)
	}
	g := &Group{m: handle.NewManager(cfg.Capacity)}
	for i := range n {
		c := cfg
		c.GPU = i
		g.devs = append(g.devs, New(g.m, c))
	}
	return g, nil
}

// Device returns the i-th device of g.
func (g *Group) Device(i int) *Device { return g.devs[i] }

// Len returns the number of devices in g.
func (g *Group) Len() int { return len(g.devs) }

// Manager returns the handle manager shared by the devices
// of g.
func (g *Group) Manager() *handle.Manager { return g.m }

// SubmitAll submits work[i] to the i-th device, one device
// per goroutine.
// The recordings of a device are submitted in order.
// If any submission fails or ctx is done, SubmitAll stops
// the remaining submissions and returns the first error.
func (g *Group) SubmitAll(ctx context.Context, work [][]*Recording) ([][]*Result, error) {
	if len(work) > len(g.devs) {
		return nil, errors.Errorf("device: %d work lists for %d devices", len(work), len(g.devs))
	}
	res := make([][]*Result, len(work))
	eg, ctx := errgroup.WithContext(ctx)
	for i, recs := range work {
		d := g.devs[i]
		res[i] = make([]*Result, len(recs))
		eg.Go(func() error {
			for j, rec := range recs {
				if err := ctx.Err(); err != nil {
					return err
				}
				r, err := d.Submit(rec)
				if err != nil {
					return errors.Wrapf(err, "gpu %d: recording %d", i, j)
				}
				res[i][j] = r
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// Close closes every device of g and returns the resources
// that were not destroyed.
func (g *Group) Close() []handle.ResourceHandle {
	var leaked []handle.ResourceHandle
	for _, d := range g.devs {
		leaked = append(leaked, d.Close()...)
	}
	return leaked
}
