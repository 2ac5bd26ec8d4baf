package geopool

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/geopool/memutils"
)

// Statistics describes the occupancy of a pool at one point in time. Vertex and index sizes are
// measured in vertices and indices respectively.
type Statistics struct {
	Vertices memutils.DetailedStatistics
	Indices  memutils.DetailedStatistics

	MeshCount       int
	SlotCount       int
	FreeHandleCount int

	PendingUploads int
	StagingBuffers int
	Submissions    int
}

// CalculateStatistics populates stats with the current occupancy of the pool
func (p *Pool) CalculateStatistics(stats *Statistics) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	p.calculateStatistics(stats)
}

func (p *Pool) calculateStatistics(stats *Statistics) {
	stats.Vertices.Clear()
	stats.Indices.Clear()

	allocationSizes := func(vertices bool) func(add func(count int)) {
		return func(add func(count int)) {
			p.slots.visitLive(func(handle Handle, slot *geometrySlot, owner *meshSlot) {
				if vertices {
					add(int(slot.vertexAlloc.Block.Count))
				} else {
					add(int(slot.indexAlloc.Block.Count))
				}
			})
		}
	}

	p.slots.vertexAllocator.AddDetailedStatistics(&stats.Vertices, allocationSizes(true))
	p.slots.indexAllocator.AddDetailedStatistics(&stats.Indices, allocationSizes(false))

	stats.MeshCount = p.slots.liveCount()
	stats.SlotCount = len(p.slots.geoSlots)
	stats.FreeHandleCount = len(p.slots.freeHandles)
	stats.PendingUploads = p.uploads.pendingCount()
	stats.StagingBuffers = p.uploads.stagingCount()
	stats.Submissions = p.uploads.submitCount
}

// BuildStatsString returns a json document describing the pool. When detailed is true, the free
// ranges of both pools and the ranges of every live mesh are included.
func (p *Pool) BuildStatsString(detailed bool) string {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	var stats Statistics
	p.calculateStatistics(&stats)

	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Id").String(p.id.String())
	obj.Name("Flags").String(p.flags.String())
	obj.Name("MaxMeshes").Int(int(p.config.MaxMeshes))
	obj.Name("MeshCount").Int(stats.MeshCount)
	obj.Name("SlotCount").Int(stats.SlotCount)
	obj.Name("FreeHandles").Int(stats.FreeHandleCount)
	obj.Name("PendingUploads").Int(stats.PendingUploads)
	obj.Name("StagingBuffers").Int(stats.StagingBuffers)
	obj.Name("Submissions").Int(stats.Submissions)

	printDetailedStatistics(obj.Name("VertexStats").Object(), &stats.Vertices)
	printDetailedStatistics(obj.Name("IndexStats").Object(), &stats.Indices)

	if detailed {
		vertexObj := obj.Name("VertexPool").Object()
		p.slots.vertexAllocator.BlockJsonData(vertexObj)
		vertexObj.End()

		indexObj := obj.Name("IndexPool").Object()
		p.slots.indexAllocator.BlockJsonData(indexObj)
		indexObj.End()

		meshes := obj.Name("Meshes").Array()
		p.slots.visitLive(func(handle Handle, slot *geometrySlot, owner *meshSlot) {
			meshObj := meshes.Object()
			defer meshObj.End()

			meshObj.Name("Handle").Int(int(handle))
			if owner != nil {
				meshObj.Name("RefCount").Int(int(owner.refCount))
			}
			meshObj.Name("VertexOffset").Int(int(slot.vertexAlloc.Block.Offset))
			meshObj.Name("VertexCount").Int(int(slot.vertexAlloc.Block.Count))
			meshObj.Name("IndexOffset").Int(int(slot.indexAlloc.Block.Offset))
			meshObj.Name("IndexCount").Int(int(slot.indexAlloc.Block.Count))
			meshObj.Name("Submeshes").Int(len(slot.submeshes))
		})
		meshes.End()
	}

	obj.End()
	return string(writer.Bytes())
}

func printDetailedStatistics(obj jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	defer obj.End()

	obj.Name("Capacity").Int(stats.CapacityElements)
	obj.Name("Allocated").Int(stats.AllocatedElements)
	obj.Name("Allocations").Int(stats.AllocationCount)
	obj.Name("FreeRanges").Int(stats.FreeRangeCount)

	if stats.AllocationCount > 0 {
		obj.Name("AllocationMin").Int(stats.AllocationMin)
		obj.Name("AllocationMax").Int(stats.AllocationMax)
	}
	if stats.FreeRangeCount > 0 {
		obj.Name("FreeRangeMin").Int(stats.FreeRangeMin)
		obj.Name("FreeRangeMax").Int(stats.FreeRangeMax)
	}
	obj.Name("Fragmentation").Float64(stats.Fragmentation())
}
