// Package defrag relocates live allocations of a blockalloc.BlockAllocator toward the start of
// its space so that free elements collect into fewer, larger blocks. Relocation is split into
// passes: each pass collects a bounded set of moves, the caller copies the data for each move,
// and completing the pass retires the moved-from ranges.
package defrag

import "github.com/vkngwrapper/geopool/memutils/blockalloc"

// MoveOperation tells CompletePass what became of a move
type MoveOperation uint32

const (
	// MoveCopy indicates that the data was copied to the destination, which now replaces the
	// source. This is the default.
	MoveCopy MoveOperation = iota
	// MoveIgnore indicates that the data was not copied. The destination is released and the
	// source remains live.
	MoveIgnore
)

var moveOperationMapping = map[MoveOperation]string{
	MoveCopy:   "MoveCopy",
	MoveIgnore: "MoveIgnore",
}

func (o MoveOperation) String() string {
	return moveOperationMapping[o]
}

// Candidate is a live allocation that may be relocated. Key is opaque to this package and is
// passed back in the Move so the owner can find what the allocation belongs to.
type Candidate struct {
	Key        int
	Allocation blockalloc.Allocation
}

// Move is a single relocation. Dst has already been claimed from the allocator when the move is
// collected, and Src is still live until the pass is completed.
type Move struct {
	Key       int
	Src       blockalloc.Allocation
	Dst       blockalloc.Allocation
	Operation MoveOperation
}

// Stats contains basic metrics for defragmentation over time
type Stats struct {
	// ElementsMoved is the number of elements that have been successfully relocated
	ElementsMoved int
	// AllocationsMoved is the number of successful relocations
	AllocationsMoved int
}

func (s *Stats) Add(stats Stats) {
	s.ElementsMoved += stats.ElementsMoved
	s.AllocationsMoved += stats.AllocationsMoved
}

type counterStatus uint32

const (
	counterPass counterStatus = iota
	counterIgnore
	counterEnd
)

var counterStatusMapping = map[counterStatus]string{
	counterPass:   "counterPass",
	counterIgnore: "counterIgnore",
	counterEnd:    "counterEnd",
}

func (s counterStatus) String() string {
	return counterStatusMapping[s]
}
