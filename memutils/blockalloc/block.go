package blockalloc

import (
	"fmt"
	"math"
)

// Block is a contiguous [Offset, Offset+Count) span of elements within a single pool
type Block struct {
	Offset uint32
	Count  uint32
}

// End returns the first element past the end of the block
func (b Block) End() uint32 {
	return b.Offset + b.Count
}

// Overlaps reports whether the two blocks share at least one element
func (b Block) Overlaps(other Block) bool {
	return b.Offset < other.End() && other.Offset < b.End()
}

// Adjacent reports whether other begins exactly where b ends, or ends exactly where b begins
func (b Block) Adjacent(other Block) bool {
	return b.End() == other.Offset || other.End() == b.Offset
}

func (b Block) String() string {
	return fmt.Sprintf("[%d, %d)", b.Offset, b.End())
}

// InvalidHandle is the Allocation handle value used to indicate that an allocation failed or
// has not been made
const InvalidHandle int32 = -1

// Allocation is a span of elements granted by a BlockAllocator. It is owned by whoever requested
// it until it is passed back to BlockAllocator.Free.
type Allocation struct {
	Handle int32
	Block  Block
}

// InvalidAllocation is returned by BlockAllocator.Allocate when the request cannot be satisfied
var InvalidAllocation = Allocation{Handle: InvalidHandle}

// Valid returns true if this allocation was successfully granted
func (a Allocation) Valid() bool {
	return a.Handle != InvalidHandle
}

func (a Allocation) String() string {
	if !a.Valid() {
		return "Allocation(invalid)"
	}
	return fmt.Sprintf("Allocation(%d %s)", a.Handle, a.Block)
}

const maxHandle int32 = math.MaxInt32
