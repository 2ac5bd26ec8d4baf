package geopool

import "strconv"

// Handle is a stable reference to the pooled storage of one registered mesh. Handles of
// unregistered meshes are reused by later registrations.
type Handle int32

// InvalidHandle is returned whenever no pooled storage is available for a mesh
const InvalidHandle Handle = -1

// Valid returns true if the handle refers to a slot. A valid handle may still be stale.
func (h Handle) Valid() bool {
	return h >= 0
}

func (h Handle) String() string {
	if !h.Valid() {
		return "InvalidHandle"
	}
	return strconv.Itoa(int(h))
}
