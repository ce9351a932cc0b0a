// Copyright 2023 Gustavo C. Viegas. All rights reserved.

package barrier

import (
	"github.com/pkg/errors"
)

var (
	// ErrInvalidStageReuse means that an acceleration
	// structure was accessed from a different stage than
	// the one it was last accessed from.
	ErrInvalidStageReuse = errors.New("barrier: acceleration structure stage changed")

	// ErrIncoherentRange means that the subresources of a
	// coalesced image barrier did not share one global
	// state when the barrier was resolved.
	ErrIncoherentRange = errors.New("barrier: incoherent image barrier range")

	// ErrNotReset means that the solver was used before
	// Reset bound it to a pair of state tables.
	ErrNotReset = errors.New("barrier: solver not reset")

	// ErrPhase means that a solver method was called out of
	// order (e.g., AddBuffer after LocalPass, or GlobalPass
	// before LocalPass).
	ErrPhase = errors.New("barrier: call out of phase")

	// ErrDrawOrder means that an access refers to a draw
	// call that was not added or that precedes the draw
	// call of a previous access.
	ErrDrawOrder = errors.New("barrier: draw call out of order")

	// ErrResourceType means that a view refers to a
	// resource of the wrong type for the call.
	ErrResourceType = errors.New("barrier: wrong resource type")

	// ErrSubresourceRange means that a texture view's range
	// does not fit the texture's declared extent.
	ErrSubresourceRange = errors.New("barrier: subresource range out of bounds")

	// ErrInvalidAccess means that an access has no usage.
	ErrInvalidAccess = errors.New("barrier: access with unknown usage")
)
