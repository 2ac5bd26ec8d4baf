package defrag_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/geopool/memutils/blockalloc"
	"github.com/vkngwrapper/geopool/memutils/defrag"
)

// fragmented returns an allocator of 100 elements holding five allocations of 10, with the
// first two freed: [0,20) free, [20,50) live, [50,100) free
func fragmented(t *testing.T, flags blockalloc.CreateFlags) (*blockalloc.BlockAllocator, []defrag.Candidate) {
	allocator := blockalloc.NewBlockAllocator(100, flags)

	var allocs []blockalloc.Allocation
	for i := 0; i < 5; i++ {
		alloc := allocator.AllocateAt(uint32(i*10), 10)
		require.True(t, alloc.Valid())
		allocs = append(allocs, alloc)
	}

	require.NoError(t, allocator.Free(allocs[0]))
	require.NoError(t, allocator.Free(allocs[1]))

	return allocator, []defrag.Candidate{
		{Key: 2, Allocation: allocs[2]},
		{Key: 3, Allocation: allocs[3]},
		{Key: 4, Allocation: allocs[4]},
	}
}

func TestCollectMoves(t *testing.T) {
	allocator, candidates := fragmented(t, 0)

	context := defrag.Context{Allocator: allocator}
	var pass defrag.PassContext

	more := context.CollectMoves(&pass, candidates)
	require.False(t, more)

	moves := context.Moves()
	require.Len(t, moves, 2)

	// The highest allocation moves first, into the lowest hole
	require.Equal(t, 4, moves[0].Key)
	require.Equal(t, blockalloc.Block{Offset: 40, Count: 10}, moves[0].Src.Block)
	require.Equal(t, blockalloc.Block{Offset: 0, Count: 10}, moves[0].Dst.Block)

	require.Equal(t, 3, moves[1].Key)
	require.Equal(t, blockalloc.Block{Offset: 30, Count: 10}, moves[1].Src.Block)
	require.Equal(t, blockalloc.Block{Offset: 10, Count: 10}, moves[1].Dst.Block)

	require.Equal(t, defrag.Stats{ElementsMoved: 20, AllocationsMoved: 2}, pass.Stats)
	require.NoError(t, allocator.Validate())
}

func TestCompletePass(t *testing.T) {
	allocator, candidates := fragmented(t, 0)

	var handled []int
	context := defrag.Context{
		Allocator: allocator,
		Handler: func(move defrag.Move) error {
			handled = append(handled, move.Key)
			return nil
		},
	}

	var pass defrag.PassContext
	context.CollectMoves(&pass, candidates)
	require.NoError(t, context.CompletePass(&pass))

	require.Equal(t, []int{4, 3}, handled)
	require.Empty(t, context.Moves())
	require.Equal(t, defrag.Stats{ElementsMoved: 20, AllocationsMoved: 2}, pass.Stats)

	// [0,30) is live and everything after it is free
	require.Equal(t, uint32(30), allocator.AllocatedCount())
	require.Equal(t, uint32(70), allocator.LargestFreeBlock())
	require.Equal(t, []blockalloc.Block{{Offset: 30, Count: 70}}, allocator.FreeBlocks())
	require.NoError(t, allocator.Validate())
}

func TestCompletePassIgnoreAndFailure(t *testing.T) {
	allocator, candidates := fragmented(t, 0)
	before := allocator.FreeCount()

	context := defrag.Context{
		Allocator: allocator,
		Handler: func(move defrag.Move) error {
			return errors.New("copy failed")
		},
	}

	var pass defrag.PassContext
	context.CollectMoves(&pass, candidates)
	context.Moves()[0].Operation = defrag.MoveIgnore

	err := context.CompletePass(&pass)
	require.EqualError(t, err, "copy failed")
	require.Equal(t, defrag.Stats{}, pass.Stats)

	// Every source is still live and every destination was released
	require.Equal(t, before, allocator.FreeCount())
	require.ElementsMatch(t, []blockalloc.Block{{Offset: 0, Count: 20}, {Offset: 50, Count: 50}}, allocator.FreeBlocks())
	require.NoError(t, allocator.Validate())
}

func TestPassBudget(t *testing.T) {
	allocator, candidates := fragmented(t, 0)
	context := defrag.Context{Allocator: allocator, Handler: func(defrag.Move) error { return nil }}

	pass := defrag.PassContext{MaxPassMoves: 1}
	require.True(t, context.CollectMoves(&pass, candidates))
	require.Len(t, context.Moves(), 1)
	require.NoError(t, context.CompletePass(&pass))

	// An element budget smaller than any allocation collects nothing
	allocator, candidates = fragmented(t, 0)
	context = defrag.Context{Allocator: allocator}
	pass = defrag.PassContext{MaxPassElements: 5}
	require.False(t, context.CollectMoves(&pass, candidates))
	require.Empty(t, context.Moves())
}

func TestCollectMovesNothingToDo(t *testing.T) {
	allocator := blockalloc.NewBlockAllocator(100, blockalloc.AllocatorCreateNoCoalesce)
	first := allocator.Allocate(30)
	second := allocator.Allocate(30)

	context := defrag.Context{Allocator: allocator}
	var pass defrag.PassContext
	require.False(t, context.CollectMoves(&pass, []defrag.Candidate{{Key: 1, Allocation: first}, {Key: 2, Allocation: second}}))
	require.Empty(t, context.Moves())
}

func TestMoveOperationString(t *testing.T) {
	require.Equal(t, "MoveCopy", defrag.MoveOperation(0).String())
	require.Equal(t, "MoveIgnore", defrag.MoveIgnore.String())
}
