package geopool_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/geopool/geopool"
	"github.com/vkngwrapper/geopool/memutils/blockalloc"
)

func TestGeometryPoolCompact(t *testing.T) {
	pool, device := createPool(t, 0, poolConfig(100, 100, 10))

	a := gridMesh(1, 10, 12)
	b := gridMesh(2, 20, 20)
	c := gridMesh(3, 10, 12)

	_, err := pool.Register(a)
	require.NoError(t, err)
	bHandle, err := pool.Register(b)
	require.NoError(t, err)
	cHandle, err := pool.Register(c)
	require.NoError(t, err)
	require.NoError(t, pool.Flush())

	require.NoError(t, pool.Unregister(a))

	stats, err := pool.Compact(geopool.CompactOptions{})
	require.NoError(t, err)
	require.True(t, stats.Moved())
	require.False(t, stats.Incomplete)
	require.Equal(t, 1, stats.Vertices.AllocationsMoved)
	require.Equal(t, 10, stats.Vertices.ElementsMoved)
	require.Equal(t, 1, stats.Indices.AllocationsMoved)
	require.Equal(t, 12, stats.Indices.ElementsMoved)
	require.Equal(t, 2, pool.PendingUploads())

	// c moved into the range a left behind, b did not move
	vertexRange, err := pool.GetVertexRange(cHandle)
	require.NoError(t, err)
	require.Equal(t, blockalloc.Block{Offset: 0, Count: 10}, vertexRange)

	indexRange, err := pool.GetIndexRange(cHandle)
	require.NoError(t, err)
	require.Equal(t, blockalloc.Block{Offset: 0, Count: 12}, indexRange)

	submeshes, err := pool.SubmeshRanges(cHandle)
	require.NoError(t, err)
	require.Len(t, submeshes, 1)
	require.Equal(t, uint32(0), submeshes[0].BaseVertex)
	require.Equal(t, uint32(0), submeshes[0].IndexStart)
	require.Equal(t, uint32(12), submeshes[0].IndexCount)

	bRange, err := pool.GetVertexRange(bHandle)
	require.NoError(t, err)
	require.Equal(t, blockalloc.Block{Offset: 10, Count: 20}, bRange)

	dispatches := device.DispatchCount()
	require.NoError(t, pool.Flush())
	// One copy per vertex attribute plane and one for the indices
	require.Equal(t, 6, device.DispatchCount()-dispatches)

	requireContents(t, pool, cHandle, c)
	requireContents(t, pool, bHandle, b)

	var poolStats geopool.Statistics
	pool.CalculateStatistics(&poolStats)
	require.Equal(t, 1, poolStats.Vertices.FreeRangeCount)
	require.Equal(t, 70, poolStats.Vertices.FreeRangeMax)
	require.Equal(t, 1, poolStats.Indices.FreeRangeCount)
	require.Equal(t, 68, poolStats.Indices.FreeRangeMax)

	stats, err = pool.Compact(geopool.CompactOptions{})
	require.NoError(t, err)
	require.False(t, stats.Moved())
	require.Equal(t, 0, pool.PendingUploads())
	require.NoError(t, pool.Validate())
}

func TestGeometryPoolCompactBeforeFlush(t *testing.T) {
	pool, _ := createPool(t, 0, poolConfig(100, 100, 10))

	a := gridMesh(1, 10, 10)
	c := gridMesh(3, 10, 10)

	_, err := pool.Register(a)
	require.NoError(t, err)
	cHandle, err := pool.Register(c)
	require.NoError(t, err)
	require.NoError(t, pool.Unregister(a))

	// The relocation is recorded after c's upload, so it copies the uploaded data
	stats, err := pool.Compact(geopool.CompactOptions{})
	require.NoError(t, err)
	require.True(t, stats.Moved())
	require.Equal(t, 4, pool.PendingUploads())

	require.NoError(t, pool.Flush())
	requireContents(t, pool, cHandle, c)
}

func TestGeometryPoolCompactBudget(t *testing.T) {
	pool, _ := createPool(t, 0, poolConfig(100, 100, 10))

	var meshes []geopool.Handle
	first := gridMesh(0, 10, 10)
	_, err := pool.Register(first)
	require.NoError(t, err)
	for seed := 1; seed <= 4; seed++ {
		handle, err := pool.Register(gridMesh(seed, 5, 5))
		require.NoError(t, err)
		meshes = append(meshes, handle)
	}
	require.NoError(t, pool.Unregister(first))

	stats, err := pool.Compact(geopool.CompactOptions{MaxMeshesMoved: 1})
	require.NoError(t, err)
	require.True(t, stats.Incomplete)
	require.Equal(t, 1, stats.Vertices.AllocationsMoved)
	require.Equal(t, 1, stats.Indices.AllocationsMoved)

	// Compacting until nothing moves packs every mesh into [0, 20)
	for stats.Moved() {
		stats, err = pool.Compact(geopool.CompactOptions{MaxMeshesMoved: 1})
		require.NoError(t, err)
	}

	for _, handle := range meshes {
		vertexRange, err := pool.GetVertexRange(handle)
		require.NoError(t, err)
		require.LessOrEqual(t, vertexRange.End(), uint32(20))
	}

	require.NoError(t, pool.Flush())
	require.NoError(t, pool.Validate())
}

func TestGeometryPoolCompactResidentSubmeshes(t *testing.T) {
	pool, device := createPool(t, 0, poolConfig(100, 100, 10))

	filler := gridMesh(9, 8, 9)
	_, err := pool.Register(filler)
	require.NoError(t, err)

	positions := []float32{0, 0, 0, 1, 0, 0, 0, 1, 0, 1, 1, 0}
	resident := residentMesh16(t, device, 7, positions, []uint16{0, 1, 2}, []uint16{1, 3, 2})
	handle, err := pool.Register(resident)
	require.NoError(t, err)
	require.NoError(t, pool.Flush())

	require.NoError(t, pool.Unregister(filler))
	_, err = pool.Compact(geopool.CompactOptions{})
	require.NoError(t, err)
	require.NoError(t, pool.Flush())

	submeshes, err := pool.SubmeshRanges(handle)
	require.NoError(t, err)
	require.Equal(t, []geopool.SubmeshRange{
		{IndexStart: 0, IndexCount: 3, BaseVertex: 0},
		{IndexStart: 3, IndexCount: 3, BaseVertex: 0},
	}, submeshes)

	indices, err := pool.ReadIndices(handle)
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 1, 2, 1, 3, 2}, indices)
}
