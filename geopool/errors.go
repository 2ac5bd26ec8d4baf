package geopool

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/geopool/memutils"
)

var (
	// ErrCapacityExhausted is returned by Register when the vertex or index pool has no free range
	// large enough for the mesh. The pool is unchanged and the caller may unregister other meshes
	// and retry.
	ErrCapacityExhausted = errors.New("geometry pool capacity exhausted")
	// ErrSlotLimitExceeded is returned by Register when the pool already holds its configured
	// maximum number of meshes. The pool is unchanged.
	ErrSlotLimitExceeded = errors.New("geometry pool mesh limit exceeded")
	// ErrRegistrationConflict is returned by Register when a different mesh is already registered
	// under the same content key. The pool is unchanged.
	ErrRegistrationConflict = errors.New("geometry pool registration conflict")
	// ErrInvalidHandleUsage indicates that a stale, out-of-range or invalid handle was used. It is a
	// programming error: builds with the debug_geopool tag panic instead of returning it.
	ErrInvalidHandleUsage = errors.New("invalid geometry pool handle")
	// ErrInvalidMesh is returned by Register for a nil mesh or one with no vertices or no indices
	ErrInvalidMesh = errors.New("invalid mesh")
	// ErrDisposed is returned by any operation on a pool after Dispose
	ErrDisposed = errors.New("geometry pool has been disposed")
)

// invalidHandle builds an assertion failure marked with ErrInvalidHandleUsage
func invalidHandle(format string, args ...interface{}) error {
	err := errors.Mark(errors.AssertionFailedf(format, args...), ErrInvalidHandleUsage)
	memutils.DebugAssert(err)
	return err
}
