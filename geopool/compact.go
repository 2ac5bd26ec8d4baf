package geopool

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/geopool/gpu"
	"github.com/vkngwrapper/geopool/memutils"
	"github.com/vkngwrapper/geopool/memutils/blockalloc"
	"github.com/vkngwrapper/geopool/memutils/defrag"
	"golang.org/x/exp/slog"
)

// CompactOptions bound the work done by a single call to Compact. Zero fields are unlimited.
type CompactOptions struct {
	MaxVerticesMoved int
	MaxIndicesMoved  int
	// MaxMeshesMoved limits the relocations of each pool separately
	MaxMeshesMoved int
}

// CompactionStats reports the relocations performed by a call to Compact
type CompactionStats struct {
	Vertices defrag.Stats
	Indices  defrag.Stats
	// Incomplete is true if the budget in CompactOptions stopped either pool from considering
	// every mesh
	Incomplete bool
}

// Moved returns true if any range was relocated. Calling Compact until it moves nothing leaves
// no mesh that can be moved to a lower free range.
func (s CompactionStats) Moved() bool {
	return s.Vertices.AllocationsMoved > 0 || s.Indices.AllocationsMoved > 0
}

// Compact relocates registered geometry toward the start of both pools so that free space
// collects into larger ranges. The copies are recorded alongside uploads and execute on the next
// Flush, after every upload recorded before them. Handles are unchanged, but the ranges returned
// by GetVertexRange, GetIndexRange and SubmeshRanges move, so anything that caches them must query
// them again.
func (p *Pool) Compact(options CompactOptions) (CompactionStats, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	var stats CompactionStats
	if p.disposed {
		return stats, ErrDisposed
	}

	vertexPass := defrag.PassContext{MaxPassElements: options.MaxVerticesMoved, MaxPassMoves: options.MaxMeshesMoved}
	vertexMore, err := p.compactPool(&vertexPass, p.slots.vertexAllocator,
		func(slot *geometrySlot) blockalloc.Allocation { return slot.vertexAlloc },
		p.vertexCopies,
		p.slots.relocateVertices,
	)
	stats.Vertices = vertexPass.Stats
	if err != nil {
		return stats, errors.Wrap(err, "failed to compact vertex pool")
	}

	indexPass := defrag.PassContext{MaxPassElements: options.MaxIndicesMoved, MaxPassMoves: options.MaxMeshesMoved}
	indexMore, err := p.compactPool(&indexPass, p.slots.indexAllocator,
		func(slot *geometrySlot) blockalloc.Allocation { return slot.indexAlloc },
		p.indexCopies,
		p.slots.relocateIndices,
	)
	stats.Indices = indexPass.Stats
	if err != nil {
		return stats, errors.Wrap(err, "failed to compact index pool")
	}

	stats.Incomplete = vertexMore || indexMore

	p.logger.Debug("Pool::Compact",
		slog.Int("VerticesMoved", stats.Vertices.ElementsMoved),
		slog.Int("VertexRangesMoved", stats.Vertices.AllocationsMoved),
		slog.Int("IndicesMoved", stats.Indices.ElementsMoved),
		slog.Int("IndexRangesMoved", stats.Indices.AllocationsMoved),
		slog.Bool("Incomplete", stats.Incomplete),
	)

	memutils.DebugValidate(p.slots)
	return stats, nil
}

func (p *Pool) compactPool(
	pass *defrag.PassContext,
	allocator *blockalloc.BlockAllocator,
	allocation func(slot *geometrySlot) blockalloc.Allocation,
	copies func(src, dst blockalloc.Block) []gpu.CopyArgs,
	relocate func(handle Handle, dst blockalloc.Allocation) error,
) (bool, error) {
	var candidates []defrag.Candidate
	p.slots.visitLive(func(handle Handle, slot *geometrySlot, owner *meshSlot) {
		candidates = append(candidates, defrag.Candidate{Key: int(handle), Allocation: allocation(slot)})
	})

	context := defrag.Context{
		Allocator: allocator,
		Handler: func(move defrag.Move) error {
			return relocate(Handle(move.Key), move.Dst)
		},
	}

	more := context.CollectMoves(pass, candidates)
	for _, move := range context.Moves() {
		p.uploads.recordRelocation(copies(move.Src.Block, move.Dst.Block))
	}

	return more, context.CompletePass(pass)
}

// vertexCopies returns one copy per attribute plane
func (p *Pool) vertexCopies(src, dst blockalloc.Block) []gpu.CopyArgs {
	copies := make([]gpu.CopyArgs, 0, gpu.AttributeCount)
	for attribute := gpu.AttributePosition; attribute < gpu.AttributeCount; attribute++ {
		copies = append(copies, gpu.CopyArgs{
			Source:       p.vertexPool,
			SourceOffset: p.vertexLayout.ElementOffset(attribute, int(src.Offset)),
			Dest:         p.vertexPool,
			DestOffset:   p.vertexLayout.ElementOffset(attribute, int(dst.Offset)),
			Size:         int(src.Count) * attribute.ByteSize(),
		})
	}
	return copies
}

func (p *Pool) indexCopies(src, dst blockalloc.Block) []gpu.CopyArgs {
	return []gpu.CopyArgs{{
		Source:       p.indexPool,
		SourceOffset: int(src.Offset) * gpu.IndexByteSize,
		Dest:         p.indexPool,
		DestOffset:   int(dst.Offset) * gpu.IndexByteSize,
		Size:         int(src.Count) * gpu.IndexByteSize,
	}}
}
