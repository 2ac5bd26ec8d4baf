package geopool

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/geopool/gpu"
	"github.com/vkngwrapper/geopool/mesh"
	"golang.org/x/exp/slog"
)

// pendingUpload is the source side of one registration's upload. It is prepared before any pool
// range is claimed, because preparing it can fail and recording it cannot.
type pendingUpload struct {
	mesh mesh.Mesh

	indexSource gpu.Buffer
	indexKernel gpu.Kernel
	// indexStarts holds the source start of each submesh within indexSource
	indexStarts []int
	// indexStaged is true if every submesh's indices were concatenated into the staging buffer,
	// so that they can be updated with a single dispatch
	indexStaged bool

	streams [gpu.AttributeCount]gpu.VertexStream
	flags   gpu.InputFlags

	// staging is nil when every source was already resident on the device
	staging gpu.Buffer
}

// commandBatch is everything recorded since the last flush: the command list that will be
// submitted and the staging buffers it reads from. The command list is cleared on first reuse
// after submission rather than at submission, so a submitted batch is never modified while it
// is being handed to the device.
type commandBatch struct {
	commands  *gpu.CommandList
	staging   []gpu.Buffer
	pending   int
	submitted bool
}

// uploadBatcher accumulates the index and vertex update dispatches of every registration and
// submits them as a single command list on flush.
type uploadBatcher struct {
	logger *slog.Logger
	device gpu.Device
	label  string

	vertexPool   gpu.Buffer
	indexPool    gpu.Buffer
	vertexLayout gpu.VertexLayout

	batch         commandBatch
	stagingSerial int
	submitCount   int
}

func newUploadBatcher(logger *slog.Logger, device gpu.Device, label string, vertexPool, indexPool gpu.Buffer, vertexLayout gpu.VertexLayout) *uploadBatcher {
	return &uploadBatcher{
		logger:       logger,
		device:       device,
		label:        label,
		vertexPool:   vertexPool,
		indexPool:    indexPool,
		vertexLayout: vertexLayout,
		batch: commandBatch{
			commands: gpu.NewCommandList(label + " uploads"),
		},
	}
}

// prepare resolves the source buffer of every index and vertex stream of m, creating a staging
// buffer for whatever is only available in host memory.
func (b *uploadBatcher) prepare(m mesh.Mesh) (*pendingUpload, error) {
	upload := &pendingUpload{mesh: m}
	vertexCount := m.VertexCount()

	var stagingData []byte

	indexBuffer, hasIndexBuffer := m.IndexBuffer()
	if hasIndexBuffer {
		upload.indexSource = indexBuffer
		upload.indexKernel = gpu.KernelUpdateIndexBuffer32
		if m.IndexFormat() == mesh.IndexFormat16 {
			upload.indexKernel = gpu.KernelUpdateIndexBuffer16
		}

		for i := 0; i < m.SubmeshCount(); i++ {
			upload.indexStarts = append(upload.indexStarts, m.Submesh(i).IndexStart)
		}
	} else {
		// Host indices are concatenated and staged as 32-bit regardless of the mesh's format
		upload.indexKernel = gpu.KernelUpdateIndexBuffer32
		upload.indexStaged = true
		for i := 0; i < m.SubmeshCount(); i++ {
			submesh := m.Submesh(i)
			indices := m.SubmeshIndices(i)
			if len(indices) != submesh.IndexCount {
				return nil, errors.Wrapf(ErrInvalidMesh, "submesh %d has %d host indices but declares %d", i, len(indices), submesh.IndexCount)
			}

			upload.indexStarts = append(upload.indexStarts, len(stagingData)/4)
			for _, index := range indices {
				stagingData = binary.LittleEndian.AppendUint32(stagingData, index)
			}
		}
	}

	if !m.HasAttribute(gpu.AttributePosition) {
		return nil, errors.Wrap(ErrInvalidMesh, "mesh has no positions")
	}

	for attribute := gpu.AttributePosition; attribute < gpu.AttributeCount; attribute++ {
		present := m.HasAttribute(attribute)
		switch attribute {
		case gpu.AttributeUV1:
			if !present {
				continue
			}
			upload.flags |= gpu.InputHasUV1
		case gpu.AttributeTangent:
			if !present {
				continue
			}
			upload.flags |= gpu.InputHasTangent
		}

		if present {
			stream, resident := m.VertexStream(attribute)
			if resident {
				upload.streams[attribute] = stream
				continue
			}
		}

		// Host data is staged tightly packed. Missing uv0 and normals have no flag to zero them,
		// so they are staged as zeros.
		elementSize := attribute.ByteSize()
		upload.streams[attribute] = gpu.VertexStream{Offset: len(stagingData), Stride: elementSize}

		if !present {
			stagingData = append(stagingData, make([]byte, vertexCount*elementSize)...)
			continue
		}

		data := m.VertexData(attribute)
		if len(data)*4 != vertexCount*elementSize {
			return nil, errors.Wrapf(ErrInvalidMesh, "%s data has %d floats but %d vertices require %d", attribute, len(data), vertexCount, vertexCount*elementSize/4)
		}
		for _, value := range data {
			stagingData = binary.LittleEndian.AppendUint32(stagingData, math.Float32bits(value))
		}
	}

	if len(stagingData) == 0 {
		return upload, nil
	}

	staging, err := b.createStagingBuffer(stagingData)
	if err != nil {
		return nil, err
	}

	upload.staging = staging
	if !hasIndexBuffer {
		upload.indexSource = staging
	}
	for attribute := range upload.streams {
		if upload.streams[attribute].Buffer == nil && upload.streams[attribute].Stride > 0 {
			upload.streams[attribute].Buffer = staging
		}
	}

	return upload, nil
}

func (b *uploadBatcher) createStagingBuffer(data []byte) (gpu.Buffer, error) {
	label := fmt.Sprintf("%s staging %d", b.label, b.stagingSerial)
	b.stagingSerial++

	buffer, res, err := b.device.CreateBuffer(label, core1_0.BufferCreateInfo{
		Size:        len(data),
		Usage:       core1_0.BufferUsageStorageBuffer | core1_0.BufferUsageTransferSrc,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create staging buffer of %d bytes (%v)", len(data), res)
	}

	res, err = buffer.Write(0, data)
	if err != nil {
		buffer.Destroy()
		return nil, errors.Wrapf(err, "failed to populate staging buffer %q (%v)", label, res)
	}

	return buffer, nil
}

// discard releases the resources of an upload that will not be recorded
func (b *uploadBatcher) discard(upload *pendingUpload) {
	if upload.staging != nil {
		upload.staging.Destroy()
		upload.staging = nil
	}
}

// allocateBatch returns the batch to record into, clearing it first if it has already been
// submitted, and counts one more pending operation.
func (b *uploadBatcher) allocateBatch() *commandBatch {
	if b.batch.submitted {
		b.batch.commands.Clear()
		b.batch.submitted = false
	}

	b.batch.pending++
	return &b.batch
}

// record adds the dispatches for an upload into the slot's ranges. Ownership of any staging
// buffer passes to the batch.
func (b *uploadBatcher) record(upload *pendingUpload, slot *geometrySlot) {
	batch := b.allocateBatch()

	if upload.indexStaged {
		batch.commands.UpdateIndices(upload.indexKernel, gpu.IndexUpdateArgs{
			Source:    upload.indexSource,
			Count:     int(slot.indexAlloc.Block.Count),
			Dest:      b.indexPool,
			DestStart: int(slot.indexAlloc.Block.Offset),
		})
	} else {
		for i, submesh := range slot.submeshes {
			batch.commands.UpdateIndices(upload.indexKernel, gpu.IndexUpdateArgs{
				Source:      upload.indexSource,
				SourceStart: upload.indexStarts[i],
				Count:       int(submesh.IndexCount),
				Dest:        b.indexPool,
				DestStart:   int(submesh.IndexStart),
			})
		}
	}

	batch.commands.UpdateVertices(gpu.VertexUpdateArgs{
		Streams:     upload.streams,
		Flags:       upload.flags,
		VertexCount: int(slot.vertexAlloc.Block.Count),
		Dest:        b.vertexPool,
		DestStart:   int(slot.vertexAlloc.Block.Offset),
		DestLayout:  b.vertexLayout,
	})

	if upload.staging != nil {
		batch.staging = append(batch.staging, upload.staging)
		upload.staging = nil
	}
}

// recordRelocation adds the copies that move one mesh's range within a pool
func (b *uploadBatcher) recordRelocation(copies []gpu.CopyArgs) {
	batch := b.allocateBatch()
	for _, args := range copies {
		batch.commands.CopyBuffer(args)
	}
}

// flush submits every operation recorded since the last flush as one command list, then releases
// the staging buffers those operations read from. The staging buffers are released even if
// nothing was pending or the submission failed.
func (b *uploadBatcher) flush() error {
	var submitErr error

	if b.batch.pending > 0 {
		b.logger.Debug("UploadBatcher::flush",
			slog.Int("Operations", b.batch.pending),
			slog.Int("Dispatches", b.batch.commands.Len()),
			slog.Int("StagingBuffers", len(b.batch.staging)),
		)

		res, err := b.device.Submit(b.batch.commands)
		if err != nil {
			submitErr = errors.Wrapf(err, "failed to submit %d geometry uploads (%v)", b.batch.pending, res)
		} else {
			b.submitCount++
		}

		b.batch.submitted = true
		b.batch.pending = 0
	}

	b.releaseStaging()
	return submitErr
}

func (b *uploadBatcher) releaseStaging() {
	for i, buffer := range b.batch.staging {
		buffer.Destroy()
		b.batch.staging[i] = nil
	}
	b.batch.staging = b.batch.staging[:0]
}

// dispose drops any unsubmitted operations and releases their staging buffers
func (b *uploadBatcher) dispose() {
	if b.batch.pending > 0 {
		b.logger.Warn("dropping unflushed geometry uploads", slog.Int("Operations", b.batch.pending))
	}

	b.batch.commands.Clear()
	b.batch.pending = 0
	b.batch.submitted = false
	b.releaseStaging()
}

func (b *uploadBatcher) pendingCount() int {
	return b.batch.pending
}

func (b *uploadBatcher) stagingCount() int {
	return len(b.batch.staging)
}
