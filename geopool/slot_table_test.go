package geopool

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/geopool/gpu"
	"github.com/vkngwrapper/geopool/memutils"
	"github.com/vkngwrapper/geopool/memutils/blockalloc"
	"github.com/vkngwrapper/geopool/mesh"
)

func testMesh(seed, vertexCount, indexCount int) *mesh.Data {
	positions := make([]float32, vertexCount*3)
	for i := range positions {
		positions[i] = float32(seed*10000 + i)
	}

	indices := make([]uint32, indexCount)
	for i := range indices {
		indices[i] = uint32(i % vertexCount)
	}

	return &mesh.Data{
		Positions: positions,
		Submeshes: [][]uint32{indices},
	}
}

func testSlotTable(vertices, indices, maxMeshes int) *slotTable {
	return newSlotTable(Config{
		VertexPoolByteSize: uint32(vertices * gpu.VertexByteSize),
		IndexPoolByteSize:  uint32(indices * gpu.IndexByteSize),
		MaxMeshes:          uint32(maxMeshes),
	}, 0)
}

func register(t *testing.T, table *slotTable, m mesh.Mesh) Handle {
	handle, err := table.reserve(m)
	require.NoError(t, err)
	require.NoError(t, table.commit(m, handle))
	return handle
}

type slotTableSnapshot struct {
	vertexFree  []blockalloc.Block
	indexFree   []blockalloc.Block
	geoSlots    []geometrySlot
	freeHandles []Handle
	meshSlots   int
}

func snapshot(table *slotTable) slotTableSnapshot {
	return slotTableSnapshot{
		vertexFree:  table.vertexAllocator.FreeBlocks(),
		indexFree:   table.indexAllocator.FreeBlocks(),
		geoSlots:    append([]geometrySlot(nil), table.geoSlots...),
		freeHandles: append([]Handle(nil), table.freeHandles...),
		meshSlots:   table.meshSlots.Count(),
	}
}

func TestSlotTable_HandleReuseIsLIFO(t *testing.T) {
	table := testSlotTable(1000, 1000, 10)

	meshes := []*mesh.Data{testMesh(1, 3, 3), testMesh(2, 3, 3), testMesh(3, 3, 3), testMesh(4, 3, 3)}
	for i, m := range meshes {
		require.Equal(t, Handle(i), register(t, table, m))
	}

	_, released, err := table.unregister(meshes[1])
	require.NoError(t, err)
	require.True(t, released)
	_, released, err = table.unregister(meshes[3])
	require.NoError(t, err)
	require.True(t, released)

	require.Equal(t, Handle(3), register(t, table, testMesh(5, 3, 3)))
	require.Equal(t, Handle(1), register(t, table, testMesh(6, 3, 3)))
	require.Equal(t, Handle(4), register(t, table, testMesh(7, 3, 3)))
	require.NoError(t, table.Validate())
}

func TestSlotTable_FailedReserveLeavesStateIdentical(t *testing.T) {
	table := testSlotTable(50, 50, 4)

	a := testMesh(1, 10, 10)
	b := testMesh(2, 10, 10)
	c := testMesh(3, 10, 10)
	register(t, table, a)
	register(t, table, b)
	register(t, table, c)
	_, _, err := table.unregister(b)
	require.NoError(t, err)

	before := snapshot(table)

	_, err = table.reserve(testMesh(4, 5, 25))
	require.ErrorIs(t, err, ErrCapacityExhausted)
	require.Equal(t, before, snapshot(table))

	_, err = table.reserve(testMesh(5, 25, 5))
	require.ErrorIs(t, err, ErrCapacityExhausted)
	require.Equal(t, before, snapshot(table))

	register(t, table, testMesh(6, 1, 1))
	register(t, table, testMesh(7, 1, 1))
	before = snapshot(table)

	_, err = table.reserve(testMesh(8, 1, 1))
	require.ErrorIs(t, err, ErrSlotLimitExceeded)
	require.Equal(t, before, snapshot(table))
}

func TestSlotTable_CommitConflictReleasesReservation(t *testing.T) {
	table := testSlotTable(100, 100, 10)

	m := testMesh(1, 5, 5)
	register(t, table, m)

	handle, err := table.reserve(testMesh(1, 5, 5))
	require.NoError(t, err)

	err = table.commit(testMesh(1, 5, 5), handle)
	require.ErrorIs(t, err, ErrRegistrationConflict)
	require.Equal(t, 1, table.liveCount())
	require.Equal(t, []Handle{handle}, table.freeHandles)
	require.NoError(t, table.Validate())
}

func TestSlotTable_Submeshes(t *testing.T) {
	table := testSlotTable(100, 100, 10)
	register(t, table, testMesh(1, 7, 4))

	m := testMesh(2, 5, 3)
	m.Submeshes = append(m.Submeshes, []uint32{0, 1, 2, 3}, []uint32{})
	handle := register(t, table, m)

	slot, err := table.slot(handle)
	require.NoError(t, err)
	require.Equal(t, blockalloc.Block{Offset: 7, Count: 5}, slot.vertexAlloc.Block)
	require.Equal(t, blockalloc.Block{Offset: 4, Count: 7}, slot.indexAlloc.Block)
	require.Equal(t, []SubmeshRange{
		{IndexStart: 4, IndexCount: 3, BaseVertex: 7},
		{IndexStart: 7, IndexCount: 4, BaseVertex: 7},
		{IndexStart: 11, IndexCount: 0, BaseVertex: 7},
	}, slot.submeshes)
}

func TestSlotTable_Churn(t *testing.T) {
	table := testSlotTable(5000, 5000, 200)
	random := rand.New(rand.NewSource(42))

	var live []*mesh.Data
	for i := 0; i < 3000; i++ {
		if len(live) > 0 && (random.Intn(3) == 0 || i%500 == 0) {
			index := random.Intn(len(live))
			_, released, err := table.unregister(live[index])
			require.NoError(t, err)
			require.True(t, released)

			require.False(t, table.lookup(live[index]).Valid())
			live[index] = live[len(live)-1]
			live = live[:len(live)-1]
		} else {
			m := testMesh(i, 1+random.Intn(80), 1+random.Intn(80))
			before := snapshot(table)

			handle, err := table.reserve(m)
			if err != nil {
				require.Equal(t, before, snapshot(table))
				continue
			}
			require.NoError(t, table.commit(m, handle))
			require.Equal(t, handle, table.lookup(m))
			live = append(live, m)
		}

		require.NoError(t, table.Validate())
		require.Equal(t, len(live), table.liveCount())
	}

	for _, m := range live {
		_, released, err := table.unregister(m)
		require.NoError(t, err)
		require.True(t, released)
	}

	require.NoError(t, table.Validate())
	require.Equal(t, uint32(5000), table.vertexAllocator.LargestFreeBlock())
	require.Equal(t, uint32(5000), table.indexAllocator.LargestFreeBlock())
}

func TestSlotTable_ReleaseFailureLeavesSlotIntact(t *testing.T) {
	if memutils.DebugEnabled {
		t.Skip("invalid handle usage panics in debug builds")
	}

	table := testSlotTable(100, 100, 4)
	handle := register(t, table, testMesh(1, 10, 12))
	slot := table.geoSlots[handle]

	// Lose the index range behind the table's back
	require.NoError(t, table.indexAllocator.Free(slot.indexAlloc))
	vertexFree := table.vertexAllocator.FreeBlocks()

	err := table.release(handle)
	require.True(t, errors.Is(err, ErrInvalidHandleUsage))

	require.Equal(t, slot, table.geoSlots[handle])
	require.True(t, table.vertexAllocator.IsLive(slot.vertexAlloc))
	require.Equal(t, vertexFree, table.vertexAllocator.FreeBlocks())
	require.Empty(t, table.freeHandles)

	// Retrying cannot free the vertex range twice
	err = table.release(handle)
	require.True(t, errors.Is(err, ErrInvalidHandleUsage))
	require.Equal(t, uint32(90), table.vertexAllocator.FreeCount())
	require.NoError(t, table.vertexAllocator.Validate())
}

func TestSlotTable_ReferenceCountSaturates(t *testing.T) {
	table := testSlotTable(100, 100, 4)
	m := testMesh(1, 3, 3)
	handle := register(t, table, m)

	slot, err := table.find(m)
	require.NoError(t, err)
	slot.refCount = math.MaxUint32 - 1

	require.NoError(t, table.addReference(slot))
	require.Equal(t, uint32(math.MaxUint32), slot.refCount)

	err = table.addReference(slot)
	require.True(t, errors.Is(err, ErrCapacityExhausted))
	require.Equal(t, uint32(math.MaxUint32), slot.refCount)
	require.Equal(t, handle, table.lookup(m))

	_, released, err := table.unregister(m)
	require.NoError(t, err)
	require.False(t, released)
	require.Equal(t, handle, table.lookup(m))
}
