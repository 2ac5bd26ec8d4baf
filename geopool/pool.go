// Package geopool shares two fixed-size device buffers, a vertex pool and an index pool, between
// many meshes. Meshes are registered by content: registering the same geometry twice shares one
// set of ranges and counts references. Uploads into the pools are recorded as meshes are
// registered and submitted together on Flush.
package geopool

import (
	"context"
	"encoding/binary"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/extensions/v2/khr_buffer_device_address"
	"github.com/vkngwrapper/geopool/geopool/internal/utils"
	"github.com/vkngwrapper/geopool/gpu"
	"github.com/vkngwrapper/geopool/memutils"
	"github.com/vkngwrapper/geopool/memutils/blockalloc"
	"github.com/vkngwrapper/geopool/mesh"
	"golang.org/x/exp/slog"
)

// Pool is a geometry pool. Unless it was created with PoolCreateSynchronized, a Pool must only be
// used from one goroutine at a time.
type Pool struct {
	logger *slog.Logger
	id     uuid.UUID
	device gpu.Device
	flags  CreateFlags
	config Config
	mutex  *utils.OptionalRWMutex

	vertexLayout gpu.VertexLayout
	vertexPool   gpu.Buffer
	indexPool    gpu.Buffer

	slots   *slotTable
	uploads *uploadBatcher

	disposed bool
}

// New creates a geometry pool and its vertex and index buffers on the provided device
func New(logger *slog.Logger, device gpu.Device, options CreateOptions) (*Pool, error) {
	if logger == nil {
		return nil, errors.New("attempted to create a geometry pool with a nil logger")
	}
	if device == nil {
		return nil, errors.New("attempted to create a geometry pool with a nil device")
	}

	config := options.Config.WithDefaults()
	if config.MaxMeshes > math.MaxInt32 {
		return nil, errors.Newf("max meshes %d exceeds the largest handle", config.MaxMeshes)
	}

	id := uuid.New()
	label := "geopool-" + id.String()
	logger = logger.With(slog.String("pool", id.String()))

	logger.Debug("Pool::New",
		slog.Int("VertexPoolByteSize", int(config.VertexPoolByteSize)),
		slog.Int("IndexPoolByteSize", int(config.IndexPoolByteSize)),
		slog.Int("MaxMeshes", int(config.MaxMeshes)),
		slog.String("Flags", options.Flags.String()),
	)

	pool := &Pool{
		logger:       logger,
		id:           id,
		device:       device,
		flags:        options.Flags,
		config:       config,
		mutex:        utils.NewOptionalRWMutex(options.Flags&PoolCreateSynchronized != 0),
		vertexLayout: gpu.VertexLayout{Capacity: int(config.MaxVertexCount())},
	}

	var extraUsage core1_0.BufferUsageFlags
	if options.Flags&PoolCreateDeviceAddressable != 0 {
		extraUsage = khr_buffer_device_address.BufferUsageShaderDeviceAddress
	}

	vertexPool, res, err := device.CreateBuffer(label+" vertices", core1_0.BufferCreateInfo{
		Size:        pool.vertexLayout.ByteSize(),
		Usage:       core1_0.BufferUsageStorageBuffer | core1_0.BufferUsageVertexBuffer | core1_0.BufferUsageTransferDst | extraUsage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create vertex pool buffer (%v)", res)
	}

	indexPool, res, err := device.CreateBuffer(label+" indices", core1_0.BufferCreateInfo{
		Size:        int(config.MaxIndexCount()) * gpu.IndexByteSize,
		Usage:       core1_0.BufferUsageStorageBuffer | core1_0.BufferUsageIndexBuffer | core1_0.BufferUsageTransferDst | extraUsage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		vertexPool.Destroy()
		return nil, errors.Wrapf(err, "failed to create index pool buffer (%v)", res)
	}

	var allocatorFlags blockalloc.CreateFlags
	if options.Flags&PoolCreateNoCoalesce != 0 {
		allocatorFlags |= blockalloc.AllocatorCreateNoCoalesce
	}

	pool.vertexPool = vertexPool
	pool.indexPool = indexPool
	pool.slots = newSlotTable(config, allocatorFlags)
	pool.uploads = newUploadBatcher(logger, device, label, vertexPool, indexPool, pool.vertexLayout)

	return pool, nil
}

// ID returns the unique id of this pool, which also prefixes the labels of its buffers
func (p *Pool) ID() uuid.UUID { return p.id }

// Config returns the configuration of this pool with every default applied
func (p *Pool) Config() Config { return p.config }

// Flags returns the flags this pool was created with
func (p *Pool) Flags() CreateFlags { return p.flags }

// VertexBuffer returns the shared vertex pool buffer. Its layout is planar: each attribute
// occupies a contiguous plane sized for VertexLayout().Capacity vertices.
func (p *Pool) VertexBuffer() gpu.Buffer { return p.vertexPool }

// IndexBuffer returns the shared index pool buffer, which holds 32-bit indices
func (p *Pool) IndexBuffer() gpu.Buffer { return p.indexPool }

// VertexLayout returns the planar layout of the vertex pool buffer
func (p *Pool) VertexLayout() gpu.VertexLayout { return p.vertexLayout }

// Register adds a reference to m and returns the handle of its pooled storage. The first
// registration of some geometry claims ranges in both pools and records an upload that executes on
// the next Flush. Later registrations of the same geometry share those ranges.
//
// ErrCapacityExhausted, ErrSlotLimitExceeded and ErrRegistrationConflict are recoverable: the pool
// is left exactly as it was and the caller may unregister other meshes and retry. A mesh that
// already holds math.MaxUint32 references also fails with ErrCapacityExhausted.
func (p *Pool) Register(m mesh.Mesh) (Handle, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.disposed {
		return InvalidHandle, ErrDisposed
	}
	if m == nil {
		return InvalidHandle, errors.Wrap(ErrInvalidMesh, "attempted to register a nil mesh")
	}

	p.logger.Debug("Pool::Register", slog.Int("VertexCount", m.VertexCount()), slog.Int("SubmeshCount", m.SubmeshCount()))

	existing, err := p.slots.find(m)
	if err != nil {
		return InvalidHandle, err
	}
	if existing != nil {
		err = p.slots.addReference(existing)
		if err != nil {
			return InvalidHandle, err
		}
		return existing.handle, nil
	}

	if mesh.IsEmpty(m) {
		return InvalidHandle, errors.Wrapf(ErrInvalidMesh, "mesh has %d vertices and %d indices", m.VertexCount(), mesh.IndexCount(m))
	}

	err = p.slots.checkReserve(m)
	if err != nil {
		p.logger.Debug("  Pool::Register FAILED", slog.Any("error", err))
		return InvalidHandle, err
	}

	upload, err := p.uploads.prepare(m)
	if err != nil {
		return InvalidHandle, err
	}

	handle, err := p.slots.reserve(m)
	if err != nil {
		p.uploads.discard(upload)
		return InvalidHandle, err
	}

	err = p.slots.commit(m, handle)
	if err != nil {
		p.uploads.discard(upload)
		return InvalidHandle, err
	}

	slot, err := p.slots.slot(handle)
	if err != nil {
		p.uploads.discard(upload)
		return InvalidHandle, err
	}
	p.uploads.record(upload, slot)

	memutils.DebugValidate(p.slots)
	return handle, nil
}

// TryRegister is Register for callers that only need to know whether registration succeeded.
// Errors other than the recoverable capacity and limit failures are logged.
func (p *Pool) TryRegister(m mesh.Mesh) (bool, Handle) {
	handle, err := p.Register(m)
	if err != nil {
		if !errors.IsAny(err, ErrCapacityExhausted, ErrSlotLimitExceeded) {
			p.logger.Error("failed to register mesh", slog.Any("error", err))
		}
		return false, InvalidHandle
	}

	return true, handle
}

// Unregister drops a reference to m. When the last reference is dropped, both of the mesh's
// ranges are freed and its handle becomes available for reuse. Unregistering a mesh that is not
// registered does nothing.
func (p *Pool) Unregister(m mesh.Mesh) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.disposed {
		return ErrDisposed
	}
	if m == nil {
		return nil
	}

	handle, released, err := p.slots.unregister(m)
	if err != nil {
		return err
	}

	if released {
		p.logger.Debug("Pool::Unregister released geometry", slog.Int("Handle", int(handle)))
		memutils.DebugValidate(p.slots)
	}

	return nil
}

// GetHandle returns the handle of m's pooled storage, or InvalidHandle if m is not registered
func (p *Pool) GetHandle(m mesh.Mesh) Handle {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.disposed || m == nil {
		return InvalidHandle
	}

	return p.slots.lookup(m)
}

// RefCount returns the number of outstanding registrations of m
func (p *Pool) RefCount(m mesh.Mesh) int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.disposed || m == nil {
		return 0
	}

	slot, err := p.slots.find(m)
	if err != nil || slot == nil {
		return 0
	}

	return int(slot.refCount)
}

// MeshCount returns the number of distinct meshes currently holding pooled storage
func (p *Pool) MeshCount() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.slots.liveCount()
}

// Flush submits every upload recorded since the last flush as a single command list and releases
// the staging buffers those uploads read from.
func (p *Pool) Flush() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.disposed {
		return ErrDisposed
	}

	return p.uploads.flush()
}

// PendingUploads returns the number of registration uploads and compaction relocations that have
// not yet been flushed
func (p *Pool) PendingUploads() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.uploads.pendingCount()
}

// GetIndexRange returns the range of the index pool, in indices, that holds a handle's indices
func (p *Pool) GetIndexRange(handle Handle) (blockalloc.Block, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	slot, err := p.liveSlot(handle)
	if err != nil {
		return blockalloc.Block{}, err
	}

	return slot.indexAlloc.Block, nil
}

// GetVertexRange returns the range of the vertex pool, in vertices, that holds a handle's vertices
func (p *Pool) GetVertexRange(handle Handle) (blockalloc.Block, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	slot, err := p.liveSlot(handle)
	if err != nil {
		return blockalloc.Block{}, err
	}

	return slot.vertexAlloc.Block, nil
}

// SubmeshRanges returns one draw range per submesh of the handle's mesh
func (p *Pool) SubmeshRanges(handle Handle) ([]SubmeshRange, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	slot, err := p.liveSlot(handle)
	if err != nil {
		return nil, err
	}

	ranges := make([]SubmeshRange, len(slot.submeshes))
	copy(ranges, slot.submeshes)
	return ranges, nil
}

func (p *Pool) liveSlot(handle Handle) (*geometrySlot, error) {
	if p.disposed {
		return nil, ErrDisposed
	}

	return p.slots.slot(handle)
}

// ReadIndices waits for the device to go idle and reads back the pooled indices of a handle. It
// is intended for verification: uploads that have not been flushed are not visible.
func (p *Pool) ReadIndices(handle Handle) ([]uint32, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	slot, err := p.liveSlot(handle)
	if err != nil {
		return nil, err
	}

	res, err := p.device.WaitIdle()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to wait for device (%v)", res)
	}

	block := slot.indexAlloc.Block
	data := make([]byte, int(block.Count)*gpu.IndexByteSize)
	res, err = p.indexPool.Read(int(block.Offset)*gpu.IndexByteSize, data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read index range %s (%v)", block, res)
	}

	indices := make([]uint32, block.Count)
	for i := range indices {
		indices[i] = binary.LittleEndian.Uint32(data[i*gpu.IndexByteSize:])
	}
	return indices, nil
}

// ReadVertices waits for the device to go idle and reads back one attribute of a handle's
// pooled vertices, as tightly packed floats. It is intended for verification: uploads that have
// not been flushed are not visible.
func (p *Pool) ReadVertices(handle Handle, attribute gpu.Attribute) ([]float32, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if attribute < gpu.AttributePosition || attribute >= gpu.AttributeCount {
		return nil, errors.Newf("invalid vertex attribute %d", attribute)
	}

	slot, err := p.liveSlot(handle)
	if err != nil {
		return nil, err
	}

	res, err := p.device.WaitIdle()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to wait for device (%v)", res)
	}

	block := slot.vertexAlloc.Block
	data := make([]byte, int(block.Count)*attribute.ByteSize())
	res, err = p.vertexPool.Read(p.vertexLayout.ElementOffset(attribute, int(block.Offset)), data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s plane for vertex range %s (%v)", attribute, block, res)
	}

	values := make([]float32, len(data)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return values, nil
}

// Validate checks the internal consistency of the pool's allocators and slot tables
func (p *Pool) Validate() error {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	if p.disposed {
		return ErrDisposed
	}

	return p.slots.Validate()
}

// Dispose releases the pool's buffers. Meshes that are still registered are logged, and uploads
// that were never flushed are dropped. The pool cannot be used afterward.
func (p *Pool) Dispose() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.disposed {
		return ErrDisposed
	}

	p.logger.Debug("Pool::Dispose")

	live := p.slots.liveCount()
	if live > 0 {
		p.slots.visitLive(p.logUnreleasedGeometry)
	}

	p.uploads.dispose()

	res, err := p.device.WaitIdle()
	if err != nil {
		p.logger.Error("error waiting for device before destroying geometry pool buffers", slog.Any("error", err), slog.Any("result", res))
	}

	p.vertexPool.Destroy()
	p.indexPool.Destroy()
	p.disposed = true

	if live > 0 {
		return errors.Newf("%d meshes were not unregistered before the geometry pool was disposed", live)
	}
	return nil
}

func (p *Pool) logUnreleasedGeometry(handle Handle, slot *geometrySlot, owner *meshSlot) {
	refCount := 0
	if owner != nil {
		refCount = int(owner.refCount)
	}

	p.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED GEOMETRY] mesh still registered",
		slog.Int("handle", int(handle)),
		slog.Int("refCount", refCount),
		slog.String("vertices", slot.vertexAlloc.Block.String()),
		slog.String("indices", slot.indexAlloc.Block.String()),
	)
}
