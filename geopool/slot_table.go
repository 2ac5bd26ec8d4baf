package geopool

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/geopool/memutils"
	"github.com/vkngwrapper/geopool/memutils/blockalloc"
	"github.com/vkngwrapper/geopool/mesh"
)

// SubmeshRange locates one submesh of a registered mesh inside the pools. IndexStart is absolute
// within the index pool. Indices are stored as the mesh provided them, so a draw must add
// BaseVertex to each index to address the vertex pool.
type SubmeshRange struct {
	IndexStart uint32
	IndexCount uint32
	BaseVertex uint32
	Topology   mesh.Topology
}

type geometrySlot struct {
	vertexAlloc blockalloc.Allocation
	indexAlloc  blockalloc.Allocation
	submeshes   []SubmeshRange
	meshKey     uint64
}

func (s *geometrySlot) valid() bool {
	return s.vertexAlloc.Valid() && s.indexAlloc.Valid()
}

type meshSlot struct {
	refCount uint32
	handle   Handle
	mesh     mesh.Mesh
}

// slotTable maps mesh identities to pooled storage. The geometry slots are addressed by handle and
// their storage is never shrunk: freed handles go onto a stack and are reused before the slot
// slice grows.
type slotTable struct {
	maxMeshes uint32

	vertexAllocator *blockalloc.BlockAllocator
	indexAllocator  *blockalloc.BlockAllocator

	meshSlots   *swiss.Map[uint64, *meshSlot]
	geoSlots    []geometrySlot
	freeHandles []Handle
}

func newSlotTable(config Config, allocatorFlags blockalloc.CreateFlags) *slotTable {
	return &slotTable{
		maxMeshes:       config.MaxMeshes,
		vertexAllocator: blockalloc.NewBlockAllocator(config.MaxVertexCount(), allocatorFlags),
		indexAllocator:  blockalloc.NewBlockAllocator(config.MaxIndexCount(), allocatorFlags),
		meshSlots:       swiss.NewMap[uint64, *meshSlot](42),
	}
}

func (t *slotTable) liveCount() int {
	return len(t.geoSlots) - len(t.freeHandles)
}

// find returns the mesh slot registered for m, or nil. A different mesh registered under the same
// key produces ErrRegistrationConflict.
func (t *slotTable) find(m mesh.Mesh) (*meshSlot, error) {
	key := m.Key()
	slot, ok := t.meshSlots.Get(key)
	if !ok {
		return nil, nil
	}

	if !slot.mesh.Equal(m) {
		return nil, errors.Wrapf(ErrRegistrationConflict, "mesh key %#016x is already registered to different geometry", key)
	}

	return slot, nil
}

// lookup is find without the conflict error
func (t *slotTable) lookup(m mesh.Mesh) Handle {
	slot, err := t.find(m)
	if err != nil || slot == nil {
		return InvalidHandle
	}

	return slot.handle
}

// addReference counts one more registration of an already registered mesh
func (t *slotTable) addReference(slot *meshSlot) error {
	if slot.refCount == math.MaxUint32 {
		return errors.Wrapf(ErrCapacityExhausted, "mesh at handle %d already holds %d references", slot.handle, slot.refCount)
	}

	slot.refCount++
	return nil
}

var _ memutils.Validatable = &slotTable{}

// checkReserve returns the error reserve would fail with for m, or nil if it would succeed
func (t *slotTable) checkReserve(m mesh.Mesh) error {
	if uint32(t.liveCount()) >= t.maxMeshes {
		return errors.Wrapf(ErrSlotLimitExceeded, "pool already holds %d meshes", t.maxMeshes)
	}

	vertexCount := uint32(m.VertexCount())
	indexCount := uint32(mesh.IndexCount(m))

	// Both ranges are checked before either is claimed so that a failure never has to be undone
	if vertexCount > t.vertexAllocator.LargestFreeBlock() {
		return errors.Wrapf(ErrCapacityExhausted, "vertex pool has no free range of %d vertices (%d free in %d ranges)",
			vertexCount, t.vertexAllocator.FreeCount(), t.vertexAllocator.FreeRegionsCount())
	}
	if indexCount > t.indexAllocator.LargestFreeBlock() {
		return errors.Wrapf(ErrCapacityExhausted, "index pool has no free range of %d indices (%d free in %d ranges)",
			indexCount, t.indexAllocator.FreeCount(), t.indexAllocator.FreeRegionsCount())
	}

	return nil
}

// reserve claims a handle and a vertex and index range sized for m. The mesh slot is not created
// until commit. On failure nothing is changed.
func (t *slotTable) reserve(m mesh.Mesh) (Handle, error) {
	err := t.checkReserve(m)
	if err != nil {
		return InvalidHandle, err
	}

	vertexCount := uint32(m.VertexCount())
	indexCount := uint32(mesh.IndexCount(m))

	vertexAlloc := t.vertexAllocator.Allocate(vertexCount)
	indexAlloc := t.indexAllocator.Allocate(indexCount)
	if !vertexAlloc.Valid() || !indexAlloc.Valid() {
		return InvalidHandle, errors.AssertionFailedf("allocation of %d vertices and %d indices failed after the free ranges were checked", vertexCount, indexCount)
	}

	submeshes := make([]SubmeshRange, 0, m.SubmeshCount())
	indexStart := indexAlloc.Block.Offset
	for i := 0; i < m.SubmeshCount(); i++ {
		submesh := m.Submesh(i)
		submeshes = append(submeshes, SubmeshRange{
			IndexStart: indexStart,
			IndexCount: uint32(submesh.IndexCount),
			BaseVertex: vertexAlloc.Block.Offset,
			Topology:   submesh.Topology,
		})
		indexStart += uint32(submesh.IndexCount)
	}

	slot := geometrySlot{
		vertexAlloc: vertexAlloc,
		indexAlloc:  indexAlloc,
		submeshes:   submeshes,
		meshKey:     m.Key(),
	}

	var handle Handle
	if len(t.freeHandles) > 0 {
		handle = t.freeHandles[len(t.freeHandles)-1]
		t.freeHandles = t.freeHandles[:len(t.freeHandles)-1]
		t.geoSlots[handle] = slot
	} else {
		handle = Handle(len(t.geoSlots))
		t.geoSlots = append(t.geoSlots, slot)
	}

	return handle, nil
}

// commit creates the mesh slot for a handle returned by reserve. If the key was claimed in the
// meantime, the reservation is released and ErrRegistrationConflict is returned.
func (t *slotTable) commit(m mesh.Mesh, handle Handle) error {
	key := m.Key()
	if t.meshSlots.Has(key) {
		releaseErr := t.release(handle)
		if releaseErr != nil {
			return errors.CombineErrors(errors.Wrapf(ErrRegistrationConflict, "mesh key %#016x inserted during registration", key), releaseErr)
		}
		return errors.Wrapf(ErrRegistrationConflict, "mesh key %#016x inserted during registration", key)
	}

	t.meshSlots.Put(key, &meshSlot{
		refCount: 1,
		handle:   handle,
		mesh:     m,
	})
	return nil
}

// slot returns the live geometry slot for a handle
func (t *slotTable) slot(handle Handle) (*geometrySlot, error) {
	if !handle.Valid() || int(handle) >= len(t.geoSlots) {
		return nil, invalidHandle("handle %d is out of range for %d geometry slots", handle, len(t.geoSlots))
	}

	slot := &t.geoSlots[handle]
	if !slot.valid() {
		return nil, invalidHandle("handle %d refers to a released geometry slot", handle)
	}

	return slot, nil
}

// release frees a handle's ranges and returns the handle to the free stack
func (t *slotTable) release(handle Handle) error {
	slot, err := t.slot(handle)
	if err != nil {
		return err
	}

	// Both ranges are checked before either is freed so that a failure leaves the slot intact
	if !t.vertexAllocator.IsLive(slot.vertexAlloc) {
		return invalidHandle("vertex range %s of handle %d is not live", slot.vertexAlloc, handle)
	}
	if !t.indexAllocator.IsLive(slot.indexAlloc) {
		return invalidHandle("index range %s of handle %d is not live", slot.indexAlloc, handle)
	}

	err = t.vertexAllocator.Free(slot.vertexAlloc)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to free vertex range of handle %d", handle), ErrInvalidHandleUsage)
	}
	slot.vertexAlloc = blockalloc.InvalidAllocation

	err = t.indexAllocator.Free(slot.indexAlloc)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to free index range of handle %d", handle), ErrInvalidHandleUsage)
	}

	*slot = geometrySlot{
		vertexAlloc: blockalloc.InvalidAllocation,
		indexAlloc:  blockalloc.InvalidAllocation,
	}
	t.freeHandles = append(t.freeHandles, handle)

	return nil
}

// unregister drops one reference to m. released is true if that was the last reference and the
// mesh's storage was freed. Meshes that are not registered are ignored.
func (t *slotTable) unregister(m mesh.Mesh) (handle Handle, released bool, err error) {
	slot, err := t.find(m)
	if err != nil {
		// Same key, different geometry: m itself was never registered
		return InvalidHandle, false, nil
	}
	if slot == nil {
		return InvalidHandle, false, nil
	}

	if slot.refCount > 1 {
		slot.refCount--
		return slot.handle, false, nil
	}

	err = t.release(slot.handle)
	if err != nil {
		return slot.handle, false, err
	}

	t.meshSlots.Delete(m.Key())
	return slot.handle, true, nil
}

// relocateVertices moves a live slot's vertex range to dst. Indices are relative to BaseVertex, so
// only the submesh descriptors change.
func (t *slotTable) relocateVertices(handle Handle, dst blockalloc.Allocation) error {
	slot, err := t.slot(handle)
	if err != nil {
		return err
	}
	if dst.Block.Count != slot.vertexAlloc.Block.Count {
		return errors.AssertionFailedf("relocating %d vertices of handle %d into a range of %d", slot.vertexAlloc.Block.Count, handle, dst.Block.Count)
	}

	slot.vertexAlloc = dst
	for i := range slot.submeshes {
		slot.submeshes[i].BaseVertex = dst.Block.Offset
	}
	return nil
}

// relocateIndices moves a live slot's index range to dst
func (t *slotTable) relocateIndices(handle Handle, dst blockalloc.Allocation) error {
	slot, err := t.slot(handle)
	if err != nil {
		return err
	}
	if dst.Block.Count != slot.indexAlloc.Block.Count {
		return errors.AssertionFailedf("relocating %d indices of handle %d into a range of %d", slot.indexAlloc.Block.Count, handle, dst.Block.Count)
	}

	src := slot.indexAlloc.Block
	slot.indexAlloc = dst
	for i := range slot.submeshes {
		slot.submeshes[i].IndexStart = slot.submeshes[i].IndexStart - src.Offset + dst.Block.Offset
	}
	return nil
}

// visitLive calls visit once per live geometry slot, in handle order
func (t *slotTable) visitLive(visit func(handle Handle, slot *geometrySlot, meshSlot *meshSlot)) {
	for i := range t.geoSlots {
		slot := &t.geoSlots[i]
		if !slot.valid() {
			continue
		}

		owner, _ := t.meshSlots.Get(slot.meshKey)
		visit(Handle(i), slot, owner)
	}
}

// Validate checks that mesh slots, geometry slots and free handles agree with one another and
// with both allocators.
func (t *slotTable) Validate() error {
	err := t.vertexAllocator.Validate()
	if err != nil {
		return errors.Wrap(err, "vertex pool")
	}
	err = t.indexAllocator.Validate()
	if err != nil {
		return errors.Wrap(err, "index pool")
	}

	freeHandles := make(map[Handle]struct{}, len(t.freeHandles))
	for _, handle := range t.freeHandles {
		if !handle.Valid() || int(handle) >= len(t.geoSlots) {
			return errors.Newf("free handle %d is out of range for %d geometry slots", handle, len(t.geoSlots))
		}
		if _, duplicate := freeHandles[handle]; duplicate {
			return errors.Newf("free handle %d appears more than once", handle)
		}
		if t.geoSlots[handle].valid() {
			return errors.Newf("free handle %d refers to a live geometry slot", handle)
		}
		freeHandles[handle] = struct{}{}
	}

	var vertexCount, indexCount uint32
	liveSlots := 0
	for i := range t.geoSlots {
		handle := Handle(i)
		slot := &t.geoSlots[i]
		_, free := freeHandles[handle]

		if !slot.valid() {
			if !free {
				return errors.Newf("geometry slot %d is released but its handle is not free", handle)
			}
			continue
		}

		owner, ok := t.meshSlots.Get(slot.meshKey)
		if !ok {
			return errors.Newf("geometry slot %d has no mesh slot", handle)
		}
		if owner.handle != handle {
			return errors.Newf("geometry slot %d is owned by a mesh slot for handle %d", handle, owner.handle)
		}

		liveSlots++
		vertexCount += slot.vertexAlloc.Block.Count
		indexCount += slot.indexAlloc.Block.Count
	}

	if liveSlots != t.meshSlots.Count() {
		return errors.Newf("%d live geometry slots but %d mesh slots", liveSlots, t.meshSlots.Count())
	}
	if vertexCount != t.vertexAllocator.AllocatedCount() {
		return errors.Newf("geometry slots hold %d vertices but the vertex pool has %d allocated", vertexCount, t.vertexAllocator.AllocatedCount())
	}
	if indexCount != t.indexAllocator.AllocatedCount() {
		return errors.Newf("geometry slots hold %d indices but the index pool has %d allocated", indexCount, t.indexAllocator.AllocatedCount())
	}

	return nil
}
