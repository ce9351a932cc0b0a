// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package handle

import (
	"github.com/pkg/errors"
)

// DefaultCapacity is the per-type pool capacity used by
// NewManager when given a non-positive size.
const DefaultCapacity = 1024 * 64

// Manager owns one Pool per resource type and one ViewPool
// per view type.
// It is meant to be shared by every device of a group, so
// that a handle means the same resource on all of them.
// Manager is safe for concurrent use.
type Manager struct {
	pools [NResourceType]*Pool
	views [NViewType]*ViewPool
}

// NewManager creates a Manager whose pools can hold up to
// capacity handles each.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	m := new(Manager)
	for t := Unknown + 1; t < NResourceType; t++ {
		m.pools[t] = NewPool(t, capacity)
	}
	for t := UnknownView + 1; t < NViewType; t++ {
		m.views[t] = NewViewPool(t, capacity)
	}
	return m
}

// Allocate allocates a resource handle of type t.
func (m *Manager) Allocate(t ResourceType) (ResourceHandle, error) {
	if t == Unknown || t >= NResourceType {
		return Nil, errors.Wrapf(ErrInvalidType, "allocate %v", t)
	}
	return m.pools[t].Allocate()
}

// AllocateView allocates a view handle of type t that
// refers to r.
func (m *Manager) AllocateView(t ViewType, r ResourceHandle) (ViewResourceHandle, error) {
	if t == UnknownView || t >= NViewType || !t.Views(r.Type) {
		return ViewResourceHandle{ID: InvalidViewID, Resource: Nil}, errors.Wrapf(ErrInvalidType, "allocate %v of %v", t, r)
	}
	if !m.Valid(r) {
		return ViewResourceHandle{ID: InvalidViewID, Resource: Nil}, errors.Wrapf(ErrStaleHandle, "allocate %v of %v", t, r)
	}
	v, err := m.views[t].Allocate()
	if err != nil {
		return v, err
	}
	v.Resource = r
	return v, nil
}

// Release releases a resource handle.
func (m *Manager) Release(h ResourceHandle) error {
	if h.Type == Unknown || h.Type >= NResourceType {
		return errors.Wrapf(ErrInvalidType, "release %v", h)
	}
	return m.pools[h.Type].Release(h)
}

// ReleaseView releases a view handle.
func (m *Manager) ReleaseView(v ViewResourceHandle) error {
	if v.Type == UnknownView || v.Type >= NViewType {
		return errors.Wrapf(ErrInvalidType, "release %v", v)
	}
	return m.views[v.Type].Release(v)
}

// Valid reports whether h is a live resource handle.
func (m *Manager) Valid(h ResourceHandle) bool {
	if h.Type == Unknown || h.Type >= NResourceType {
		return false
	}
	return m.pools[h.Type].Valid(h)
}

// ValidView reports whether v is a live view handle.
// The resource v refers to is not checked.
func (m *Manager) ValidView(v ViewResourceHandle) bool {
	if v.Type == UnknownView || v.Type >= NViewType {
		return false
	}
	return m.views[v.Type].Valid(v)
}

// Live returns every live resource handle of type t.
func (m *Manager) Live(t ResourceType) []ResourceHandle {
	if t == Unknown || t >= NResourceType {
		return nil
	}
	return m.pools[t].Live()
}
