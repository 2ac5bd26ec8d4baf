package blockalloc

import (
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/core/v2/common"
	"github.com/vkngwrapper/geopool/memutils"
	"golang.org/x/exp/slices"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags uint32

var createFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// AllocatorCreateNoCoalesce causes freed blocks to be appended to the free list unchanged,
	// without merging them with adjacent free blocks. Freeing becomes slightly cheaper, but a
	// long-running allocator with heavy churn will splinter its free space into many small blocks
	// that may not be able to satisfy large requests even when the total free count is sufficient.
	AllocatorCreateNoCoalesce CreateFlags = 1 << iota
)

func init() {
	AllocatorCreateNoCoalesce.Register("AllocatorCreateNoCoalesce")
}

// ErrInvalidAllocation is returned from BlockAllocator.Free when it is passed an allocation that
// was never granted, has already been freed, or belongs to a different allocator
var ErrInvalidAllocation = errors.New("cannot free an invalid allocation")

// BlockAllocator sub-allocates a fixed, one-dimensional space of capacity elements. Free space is
// tracked as an unordered slice of disjoint blocks, and allocations are placed in the smallest
// free block that can hold them.
//
// BlockAllocator is not safe for concurrent use.
type BlockAllocator struct {
	flags    CreateFlags
	capacity uint32

	freeCount       uint32
	allocatedCount  uint32
	allocationCount int
	nextHandle      int32

	freeBlocks []Block
	live       *swiss.Map[int32, Block]

	// Only present when coalescing: map a free block's first element and its end
	// to the block's index in freeBlocks.
	startIndex *swiss.Map[uint32, int]
	endIndex   *swiss.Map[uint32, int]
}

var _ memutils.Validatable = &BlockAllocator{}

// NewBlockAllocator creates a BlockAllocator and initializes it with the provided capacity
func NewBlockAllocator(capacity uint32, flags CreateFlags) *BlockAllocator {
	a := &BlockAllocator{flags: flags}
	a.Init(capacity)
	return a
}

// Init resets the allocator to a single free block covering [0, capacity). Any allocations
// granted before Init is called are forgotten.
func (a *BlockAllocator) Init(capacity uint32) {
	a.capacity = capacity
	a.freeCount = capacity
	a.allocatedCount = 0
	a.allocationCount = 0
	a.nextHandle = 0
	a.freeBlocks = a.freeBlocks[:0]
	a.live = swiss.NewMap[int32, Block](42)

	if a.coalescing() {
		a.startIndex = swiss.NewMap[uint32, int](42)
		a.endIndex = swiss.NewMap[uint32, int](42)
	} else {
		a.startIndex = nil
		a.endIndex = nil
	}

	if capacity > 0 {
		a.pushFreeBlock(Block{Offset: 0, Count: capacity})
	}
}

func (a *BlockAllocator) coalescing() bool {
	return a.flags&AllocatorCreateNoCoalesce == 0
}

// Flags returns the flags the allocator was created with
func (a *BlockAllocator) Flags() CreateFlags { return a.flags }

// Capacity returns the total number of elements managed by this allocator
func (a *BlockAllocator) Capacity() uint32 { return a.capacity }

// FreeCount returns the total number of elements that are not part of a live allocation
func (a *BlockAllocator) FreeCount() uint32 { return a.freeCount }

// AllocatedCount returns the total number of elements covered by live allocations
func (a *BlockAllocator) AllocatedCount() uint32 { return a.allocatedCount }

// AllocationCount returns the number of live allocations
func (a *BlockAllocator) AllocationCount() int { return a.allocationCount }

// FreeRegionsCount returns the number of entries in the free list
func (a *BlockAllocator) FreeRegionsCount() int { return len(a.freeBlocks) }

// IsEmpty returns true if there are no live allocations
func (a *BlockAllocator) IsEmpty() bool { return a.allocationCount == 0 }

// LargestFreeBlock returns the element count of the largest free block, which is the
// largest request that Allocate can currently satisfy
func (a *BlockAllocator) LargestFreeBlock() uint32 {
	var largest uint32
	for _, block := range a.freeBlocks {
		if block.Count > largest {
			largest = block.Count
		}
	}
	return largest
}

// FreeBlocks returns a copy of the free list in its current order. The order has no meaning
// and changes as blocks are allocated and freed.
func (a *BlockAllocator) FreeBlocks() []Block {
	return slices.Clone(a.freeBlocks)
}

// VisitFreeBlocks calls the provided callback once for each block in the free list, stopping
// early if the callback returns an error.
func (a *BlockAllocator) VisitFreeBlocks(visit func(block Block) error) error {
	for _, block := range a.freeBlocks {
		err := visit(block)
		if err != nil {
			return err
		}
	}
	return nil
}

// Allocate grants count contiguous elements from the smallest free block that can hold them.
// When several free blocks of the same size qualify, the first one in free list order is used.
// If count is zero, exceeds the capacity of the allocator, or there is no single free block large
// enough, InvalidAllocation is returned. That is an expected outcome and not an error.
func (a *BlockAllocator) Allocate(count uint32) Allocation {
	if count == 0 || count > a.freeCount || len(a.freeBlocks) == 0 {
		return InvalidAllocation
	}

	memutils.DebugValidate(a)

	selected := -1
	var selectedCount uint32
	for i, block := range a.freeBlocks {
		if count <= block.Count && (selected == -1 || block.Count < selectedCount) {
			selected = i
			selectedCount = block.Count

			if selectedCount == count {
				break
			}
		}
	}

	if selected == -1 {
		return InvalidAllocation
	}

	chosen := a.freeBlocks[selected]
	remainder := Block{Offset: chosen.Offset + count, Count: chosen.Count - count}
	if remainder.Count > 0 {
		a.replaceFreeBlock(selected, remainder)
	} else {
		a.removeFreeBlock(selected)
	}

	alloc := a.grant(Block{Offset: chosen.Offset, Count: count})

	memutils.DebugValidate(a)

	return alloc
}

// AllocateAt grants exactly the elements [offset, offset+count), which must lie inside a single
// free block. The remainder of that block on either side stays free. InvalidAllocation is
// returned if count is zero or the range is not entirely free.
func (a *BlockAllocator) AllocateAt(offset, count uint32) Allocation {
	if count == 0 || memutils.CheckRange(offset, count, a.capacity) != nil {
		return InvalidAllocation
	}

	requested := Block{Offset: offset, Count: count}

	selected := -1
	for i, block := range a.freeBlocks {
		if block.Offset <= requested.Offset && requested.End() <= block.End() {
			selected = i
			break
		}
	}

	if selected == -1 {
		return InvalidAllocation
	}

	memutils.DebugValidate(a)

	chosen := a.freeBlocks[selected]
	before := Block{Offset: chosen.Offset, Count: requested.Offset - chosen.Offset}
	after := Block{Offset: requested.End(), Count: chosen.End() - requested.End()}

	switch {
	case before.Count > 0 && after.Count > 0:
		a.replaceFreeBlock(selected, before)
		a.pushFreeBlock(after)
	case before.Count > 0:
		a.replaceFreeBlock(selected, before)
	case after.Count > 0:
		a.replaceFreeBlock(selected, after)
	default:
		a.removeFreeBlock(selected)
	}

	alloc := a.grant(requested)

	memutils.DebugValidate(a)

	return alloc
}

// grant records block, which has already been removed from the free list, as a live allocation
func (a *BlockAllocator) grant(block Block) Allocation {
	a.freeCount -= block.Count
	a.allocatedCount += block.Count
	a.allocationCount++

	// Handles wrap, so skip any that are still held by a long-lived allocation
	for a.live.Has(a.nextHandle) {
		a.advanceHandle()
	}

	alloc := Allocation{
		Handle: a.nextHandle,
		Block:  block,
	}
	a.live.Put(alloc.Handle, block)
	a.advanceHandle()

	return alloc
}

func (a *BlockAllocator) advanceHandle() {
	if a.nextHandle == maxHandle {
		a.nextHandle = 0
	} else {
		a.nextHandle++
	}
}

// IsLive returns true if alloc was granted by this allocator and has not been freed since
func (a *BlockAllocator) IsLive(alloc Allocation) bool {
	if !alloc.Valid() {
		return false
	}
	block, ok := a.live.Get(alloc.Handle)
	return ok && block == alloc.Block
}

// Free returns an allocation's elements to the free list. Unless the allocator was created
// with AllocatorCreateNoCoalesce, the freed block is merged with any free blocks directly
// before or after it. Passing an invalid allocation, or one that is not live in this
// allocator, is a usage error and returns ErrInvalidAllocation.
func (a *BlockAllocator) Free(alloc Allocation) error {
	if !alloc.Valid() {
		return ErrInvalidAllocation
	}

	if !a.IsLive(alloc) {
		return errors.Wrapf(ErrInvalidAllocation, "%s is not live in this allocator", alloc)
	}

	memutils.DebugValidate(a)

	block := alloc.Block
	a.live.Delete(alloc.Handle)
	a.freeCount += block.Count
	a.allocatedCount -= block.Count
	a.allocationCount--

	if !a.coalescing() {
		a.freeBlocks = append(a.freeBlocks, block)
		return nil
	}

	// Merge with the free block that ends where this one starts
	if prevIndex, hasPrev := a.endIndex.Get(block.Offset); hasPrev {
		prev := a.freeBlocks[prevIndex]
		block = Block{Offset: prev.Offset, Count: prev.Count + block.Count}
		a.removeFreeBlock(prevIndex)
	}

	// Merge with the free block that starts where this one ends
	if nextIndex, hasNext := a.startIndex.Get(block.End()); hasNext {
		next := a.freeBlocks[nextIndex]
		block.Count += next.Count
		a.removeFreeBlock(nextIndex)
	}

	a.pushFreeBlock(block)

	memutils.DebugValidate(a)

	return nil
}

func (a *BlockAllocator) pushFreeBlock(block Block) {
	a.freeBlocks = append(a.freeBlocks, block)
	if a.coalescing() {
		index := len(a.freeBlocks) - 1
		a.startIndex.Put(block.Offset, index)
		a.endIndex.Put(block.End(), index)
	}
}

func (a *BlockAllocator) replaceFreeBlock(index int, block Block) {
	if a.coalescing() {
		old := a.freeBlocks[index]
		a.startIndex.Delete(old.Offset)
		a.endIndex.Delete(old.End())
		a.startIndex.Put(block.Offset, index)
		a.endIndex.Put(block.End(), index)
	}
	a.freeBlocks[index] = block
}

// removeFreeBlock removes the entry at index by moving the last entry into its place
func (a *BlockAllocator) removeFreeBlock(index int) {
	last := len(a.freeBlocks) - 1
	removed := a.freeBlocks[index]

	if a.coalescing() {
		a.startIndex.Delete(removed.Offset)
		a.endIndex.Delete(removed.End())
	}

	if index != last {
		moved := a.freeBlocks[last]
		a.freeBlocks[index] = moved
		if a.coalescing() {
			a.startIndex.Put(moved.Offset, index)
			a.endIndex.Put(moved.End(), index)
		}
	}

	a.freeBlocks = a.freeBlocks[:last]
}

// Clone returns a deep copy of the allocator's state
func (a *BlockAllocator) Clone() *BlockAllocator {
	clone := &BlockAllocator{
		flags:           a.flags,
		capacity:        a.capacity,
		freeCount:       a.freeCount,
		allocatedCount:  a.allocatedCount,
		allocationCount: a.allocationCount,
		nextHandle:      a.nextHandle,
		freeBlocks:      slices.Clone(a.freeBlocks),
		live:            swiss.NewMap[int32, Block](uint32(a.live.Count()) + 1),
	}

	a.live.Iter(func(handle int32, block Block) bool {
		clone.live.Put(handle, block)
		return false
	})

	if a.coalescing() {
		clone.startIndex = swiss.NewMap[uint32, int](uint32(len(a.freeBlocks)) + 1)
		clone.endIndex = swiss.NewMap[uint32, int](uint32(len(a.freeBlocks)) + 1)
		for i, block := range clone.freeBlocks {
			clone.startIndex.Put(block.Offset, i)
			clone.endIndex.Put(block.End(), i)
		}
	}

	return clone
}

// Validate performs internal consistency checks on the free list. When the allocator is
// functioning correctly, it should not be possible for this method to return an error.
func (a *BlockAllocator) Validate() error {
	if a.freeCount+a.allocatedCount != a.capacity {
		return errors.Errorf("free count %d plus allocated count %d does not equal the capacity %d", a.freeCount, a.allocatedCount, a.capacity)
	}

	if a.allocationCount < 0 {
		return errors.Errorf("negative allocation count: %d", a.allocationCount)
	}

	if a.allocationCount == 0 && a.allocatedCount != 0 {
		return errors.Errorf("there are no live allocations, but %d elements are allocated", a.allocatedCount)
	}

	if a.live.Count() != a.allocationCount {
		return errors.Errorf("the allocation count is %d, but %d allocations are live", a.allocationCount, a.live.Count())
	}

	var liveSum uint32
	var liveErr error
	a.live.Iter(func(handle int32, block Block) bool {
		if block.Count == 0 {
			liveErr = errors.Errorf("live allocation %d is empty", handle)
			return true
		}
		if err := memutils.CheckRange(block.Offset, block.Count, a.capacity); err != nil {
			liveErr = errors.Wrapf(err, "live allocation %d", handle)
			return true
		}
		liveSum += block.Count
		return false
	})
	if liveErr != nil {
		return liveErr
	}
	if liveSum != a.allocatedCount {
		return errors.Errorf("the allocated count is %d, but live allocations add up to %d", a.allocatedCount, liveSum)
	}

	sorted := slices.Clone(a.freeBlocks)
	slices.SortFunc(sorted, func(l, r Block) bool {
		return l.Offset < r.Offset
	})

	var sum uint32
	for i, block := range sorted {
		if block.Count == 0 {
			return errors.Errorf("free block at offset %d is empty", block.Offset)
		}

		err := memutils.CheckRange(block.Offset, block.Count, a.capacity)
		if err != nil {
			return errors.Wrapf(err, "free block %s", block)
		}

		if i > 0 {
			prev := sorted[i-1]
			if prev.Overlaps(block) {
				return errors.Errorf("free block %s overlaps free block %s", prev, block)
			}

			if a.coalescing() && prev.End() == block.Offset {
				return errors.Errorf("free blocks %s and %s are adjacent but were not merged", prev, block)
			}
		}

		sum += block.Count
	}

	if sum != a.freeCount {
		return errors.Errorf("the free count of the allocator is %d, but the free blocks only added up to %d", a.freeCount, sum)
	}

	if a.coalescing() {
		if a.startIndex.Count() != len(a.freeBlocks) || a.endIndex.Count() != len(a.freeBlocks) {
			return errors.Errorf("the free list has %d entries, but the start index has %d and the end index has %d",
				len(a.freeBlocks), a.startIndex.Count(), a.endIndex.Count())
		}

		for i, block := range a.freeBlocks {
			startIndex, ok := a.startIndex.Get(block.Offset)
			if !ok || startIndex != i {
				return errors.Errorf("free block %s at index %d is not correctly tracked by the start index", block, i)
			}

			endIndex, ok := a.endIndex.Get(block.End())
			if !ok || endIndex != i {
				return errors.Errorf("free block %s at index %d is not correctly tracked by the end index", block, i)
			}
		}
	}

	return nil
}

// AddStatistics sums this allocator's occupancy into the provided memutils.Statistics object
func (a *BlockAllocator) AddStatistics(stats *memutils.Statistics) {
	stats.PoolCount++
	stats.AllocationCount += a.allocationCount
	stats.CapacityElements += int(a.capacity)
	stats.AllocatedElements += int(a.allocatedCount)
}

// AddDetailedStatistics sums this allocator's occupancy and free range distribution into the
// provided memutils.DetailedStatistics object. If allocationSizes is provided it feeds in the
// allocation sizes instead of the allocator's own live allocations.
func (a *BlockAllocator) AddDetailedStatistics(stats *memutils.DetailedStatistics, allocationSizes func(add func(count int))) {
	stats.PoolCount++
	stats.CapacityElements += int(a.capacity)

	for _, block := range a.freeBlocks {
		stats.AddFreeRange(int(block.Count))
	}

	if allocationSizes != nil {
		allocationSizes(stats.AddAllocation)
	} else {
		a.live.Iter(func(_ int32, block Block) bool {
			stats.AddAllocation(int(block.Count))
			return false
		})
	}
}

// BlockJsonData populates a json object with information about this allocator
func (a *BlockAllocator) BlockJsonData(json jwriter.ObjectState) {
	json.Name("TotalElements").Int(int(a.capacity))
	json.Name("FreeElements").Int(int(a.freeCount))
	json.Name("Allocations").Int(a.allocationCount)
	json.Name("FreeRanges").Int(len(a.freeBlocks))
	json.Name("Flags").String(a.flags.String())

	arrayState := json.Name("FreeBlocks").Array()
	defer arrayState.End()

	for _, block := range a.freeBlocks {
		obj := arrayState.Object()
		obj.Name("Offset").Int(int(block.Offset))
		obj.Name("Count").Int(int(block.Count))
		obj.End()
	}
}
