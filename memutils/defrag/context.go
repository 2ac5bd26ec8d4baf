package defrag

import (
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/geopool/memutils"
	"github.com/vkngwrapper/geopool/memutils/blockalloc"
)

// MoveHandler is called by CompletePass once for each move whose Operation is still MoveCopy,
// after the data has been copied. Returning an error undoes the move: the destination is released
// and the source stays live.
type MoveHandler func(move Move) error

// Context is the core of the defragmentation logic. A Context can be reused for any number of
// passes over the same allocator.
type Context struct {
	// Allocator is the allocator this context exists to defragment
	Allocator *blockalloc.BlockAllocator
	// Handler is called to complete each relocation as part of CompletePass
	Handler MoveHandler

	moves []Move
}

// CollectMoves retrieves a single pass's worth of moves, which can then be read from Moves. Each
// candidate, starting with the one at the highest offset, is moved into the lowest free block
// that lies before it and can hold it, so a move's source and destination never overlap.
// CollectMoves returns true if the pass budget was spent before every candidate was considered.
func (c *Context) CollectMoves(pass *PassContext, candidates []Candidate) bool {
	if c.Allocator == nil {
		panic("attempted to collect defragmentation moves without an allocator")
	}
	if len(c.moves) > 0 {
		panic(fmt.Sprintf("attempted to collect defragmentation moves while %d moves from the previous pass are incomplete", len(c.moves)))
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Allocation.Block.Offset > candidates[j].Allocation.Block.Offset
	})

	for _, candidate := range candidates {
		src := candidate.Allocation
		if !src.Valid() || src.Block.Offset == 0 {
			continue
		}

		count := int(src.Block.Count)
		switch status := pass.checkCounters(count); status {
		case counterIgnore:
			continue
		case counterEnd:
			return true
		case counterPass:
		default:
			panic(fmt.Sprintf("unexpected defrag counter status: %s", status))
		}

		dst, found := c.lowestFit(src.Block)
		if !found {
			continue
		}

		c.moves = append(c.moves, Move{
			Key: candidate.Key,
			Src: src,
			Dst: dst,
		})

		if pass.incrementCounters(count) {
			return true
		}
	}

	return false
}

// lowestFit claims the start of the lowest free block that ends at or before src and can hold
// src's elements
func (c *Context) lowestFit(src blockalloc.Block) (blockalloc.Allocation, bool) {
	var best blockalloc.Block
	found := false

	_ = c.Allocator.VisitFreeBlocks(func(block blockalloc.Block) error {
		if block.End() <= src.Offset && block.Count >= src.Count && (!found || block.Offset < best.Offset) {
			best = block
			found = true
		}
		return nil
	})

	if !found {
		return blockalloc.InvalidAllocation, false
	}

	alloc := c.Allocator.AllocateAt(best.Offset, src.Count)
	return alloc, alloc.Valid()
}

// Moves returns the moves most recently collected with CollectMoves. The Operation of each move
// may be changed before CompletePass is called.
func (c *Context) Moves() []Move {
	return c.moves
}

// CompletePass should be called after the data for every move collected by CollectMoves has been
// copied. Completed moves free their source, and ignored or failed moves free their destination
// and are removed from the pass statistics. Errors returned from Handler are combined.
func (c *Context) CompletePass(pass *PassContext) error {
	var allErrors error

	for _, move := range c.moves {
		var release blockalloc.Allocation

		if move.Operation == MoveIgnore {
			release = move.Dst
		} else if err := c.Handler(move); err != nil {
			allErrors = errors.CombineErrors(allErrors, err)
			release = move.Dst
		} else {
			release = move.Src
		}

		if release == move.Dst {
			pass.Stats.ElementsMoved -= int(move.Src.Block.Count)
			pass.Stats.AllocationsMoved--
		}

		if err := c.Allocator.Free(release); err != nil {
			allErrors = errors.CombineErrors(allErrors, errors.Wrapf(err, "failed to release %s after relocating key %d", release, move.Key))
		}
	}

	c.moves = c.moves[:0]
	memutils.DebugValidate(c.Allocator)

	return allErrors
}
