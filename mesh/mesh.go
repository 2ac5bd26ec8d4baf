// Package mesh defines the source geometry that a geometry pool consumes, along with two
// implementations: Data, which holds its attributes and indices in host memory, and Resident,
// whose attributes and indices already live in device buffers.
package mesh

import (
	"github.com/vkngwrapper/geopool/gpu"
)

// IndexFormat is the width of a mesh's source indices
type IndexFormat int

const (
	IndexFormat16 IndexFormat = iota
	IndexFormat32
)

var indexFormatMapping = map[IndexFormat]string{
	IndexFormat16: "IndexFormat16",
	IndexFormat32: "IndexFormat32",
}

func (f IndexFormat) String() string {
	return indexFormatMapping[f]
}

// ByteSize returns the size of a single index in this format
func (f IndexFormat) ByteSize() int {
	if f == IndexFormat16 {
		return 2
	}
	return 4
}

// Topology is the primitive topology a submesh's indices describe
type Topology int

const (
	TopologyTriangles Topology = iota
	TopologyQuads
	TopologyLines
	TopologyLineStrip
	TopologyPoints
)

var topologyMapping = map[Topology]string{
	TopologyTriangles: "Triangles",
	TopologyQuads:     "Quads",
	TopologyLines:     "Lines",
	TopologyLineStrip: "LineStrip",
	TopologyPoints:    "Points",
}

func (t Topology) String() string {
	return topologyMapping[t]
}

// Submesh is a contiguous run of a mesh's indices drawn with a single topology
type Submesh struct {
	// IndexStart is the position of the submesh's first index within the mesh's index buffer
	IndexStart int
	IndexCount int
	Topology   Topology
}

// Mesh is the source geometry consumed by a geometry pool. Implementations must be immutable
// while registered: the pool identifies meshes by Key and does not observe later changes.
type Mesh interface {
	// Key returns a stable 64-bit identity for the mesh's contents. Distinct meshes may share a
	// key, so a pool confirms a key match with Equal.
	Key() uint64
	// Equal returns true if other describes exactly the same geometry as this mesh
	Equal(other Mesh) bool

	VertexCount() int
	SubmeshCount() int
	Submesh(index int) Submesh

	// HasAttribute returns true if the mesh provides data for the attribute
	HasAttribute(attribute gpu.Attribute) bool
	// VertexStream returns the device-resident stream for an attribute. When ok is false the
	// attribute must be read from VertexData instead.
	VertexStream(attribute gpu.Attribute) (stream gpu.VertexStream, ok bool)
	// VertexData returns tightly packed host data for an attribute, or nil if the mesh has none
	VertexData(attribute gpu.Attribute) []float32

	IndexFormat() IndexFormat
	// IndexBuffer returns the device-resident index buffer, if any. Submesh index starts
	// address this buffer in elements of IndexFormat.
	IndexBuffer() (buffer gpu.Buffer, ok bool)
	// SubmeshIndices returns host indices for the submesh when no index buffer is resident
	SubmeshIndices(index int) []uint32
}

// IndexCount returns the total number of indices across all of the mesh's submeshes
func IndexCount(m Mesh) int {
	count := 0
	for i := 0; i < m.SubmeshCount(); i++ {
		count += m.Submesh(i).IndexCount
	}
	return count
}

// IsEmpty returns true if the mesh has no vertices or no indices
func IsEmpty(m Mesh) bool {
	return m.VertexCount() == 0 || IndexCount(m) == 0
}
