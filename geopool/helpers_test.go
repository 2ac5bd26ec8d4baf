package geopool_test

import (
	"encoding/binary"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/geopool/geopool"
	"github.com/vkngwrapper/geopool/gpu"
	"github.com/vkngwrapper/geopool/gpu/soft"
	"github.com/vkngwrapper/geopool/mesh"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout))
}

func poolConfig(vertices, indices, maxMeshes int) geopool.Config {
	return geopool.Config{
		VertexPoolByteSize: uint32(vertices * gpu.VertexByteSize),
		IndexPoolByteSize:  uint32(indices * gpu.IndexByteSize),
		MaxMeshes:          uint32(maxMeshes),
	}
}

func createPool(t *testing.T, flags geopool.CreateFlags, config geopool.Config) (*geopool.Pool, *soft.Device) {
	device := soft.NewDevice(soft.DeviceOptions{})
	pool, err := geopool.New(testLogger(), device, geopool.CreateOptions{Flags: flags, Config: config})
	require.NoError(t, err)
	return pool, device
}

// gridMesh builds a triangle-list mesh with vertexCount vertices whose attribute values are
// derived from seed, so that meshes built from different seeds have different content
func gridMesh(seed int, vertexCount int, indexCount int) *mesh.Data {
	positions := make([]float32, 0, vertexCount*3)
	uvs := make([]float32, 0, vertexCount*2)
	normals := make([]float32, 0, vertexCount*3)

	for v := 0; v < vertexCount; v++ {
		base := float32(seed*1000 + v)
		positions = append(positions, base, base+0.25, base+0.5)
		uvs = append(uvs, float32(v)/float32(vertexCount), float32(seed))
		normals = append(normals, 0, 1, 0)
	}

	indices := make([]uint32, indexCount)
	for i := range indices {
		indices[i] = uint32((i + seed) % vertexCount)
	}

	return mesh.NewData("grid", positions, uvs, normals, indices)
}

func residentMesh16(t *testing.T, device *soft.Device, id uint64, positions []float32, submeshIndices ...[]uint16) *mesh.Resident {
	vertexCount := len(positions) / 3

	positionBuffer := createSourceBuffer(t, device, float32Bytes(positions))

	var indexBytes []byte
	var submeshes []mesh.Submesh
	for _, indices := range submeshIndices {
		submeshes = append(submeshes, mesh.Submesh{
			IndexStart: len(indexBytes) / 2,
			IndexCount: len(indices),
			Topology:   mesh.TopologyTriangles,
		})
		for _, index := range indices {
			indexBytes = binary.LittleEndian.AppendUint16(indexBytes, index)
		}
	}
	indexBuffer := createSourceBuffer(t, device, indexBytes)

	resident := &mesh.Resident{
		ID:        id,
		Vertices:  vertexCount,
		Indices:   indexBuffer,
		Format:    mesh.IndexFormat16,
		Submeshes: submeshes,
	}
	resident.Streams[gpu.AttributePosition] = gpu.VertexStream{Buffer: positionBuffer, Stride: gpu.PositionByteSize}
	resident.Streams[gpu.AttributeUV0] = gpu.VertexStream{Buffer: createSourceBuffer(t, device, make([]byte, vertexCount*gpu.UV0ByteSize))}
	resident.Streams[gpu.AttributeNormal] = gpu.VertexStream{Buffer: createSourceBuffer(t, device, make([]byte, vertexCount*gpu.NormalByteSize))}

	return resident
}

func createSourceBuffer(t *testing.T, device *soft.Device, data []byte) gpu.Buffer {
	buffer, _, err := device.CreateBuffer("source", core1_0.BufferCreateInfo{
		Size:        len(data),
		Usage:       core1_0.BufferUsageStorageBuffer,
		SharingMode: core1_0.SharingModeExclusive,
	})
	require.NoError(t, err)

	_, err = buffer.Write(0, data)
	require.NoError(t, err)

	t.Cleanup(buffer.Destroy)
	return buffer
}

func float32Bytes(values []float32) []byte {
	data := make([]byte, 0, len(values)*4)
	for _, value := range values {
		data = binary.LittleEndian.AppendUint32(data, math.Float32bits(value))
	}
	return data
}

func allIndices(m *mesh.Data) []uint32 {
	var indices []uint32
	for _, submesh := range m.Submeshes {
		indices = append(indices, submesh...)
	}
	return indices
}

func requireContents(t *testing.T, pool *geopool.Pool, handle geopool.Handle, m *mesh.Data) {
	indices, err := pool.ReadIndices(handle)
	require.NoError(t, err)
	require.Equal(t, allIndices(m), indices)

	positions, err := pool.ReadVertices(handle, gpu.AttributePosition)
	require.NoError(t, err)
	require.Equal(t, m.Positions, positions)

	uvs, err := pool.ReadVertices(handle, gpu.AttributeUV0)
	require.NoError(t, err)
	require.Equal(t, m.UV0, uvs)

	normals, err := pool.ReadVertices(handle, gpu.AttributeNormal)
	require.NoError(t, err)
	require.Equal(t, m.Normals, normals)
}
