package gpu

// Byte sizes of each vertex attribute as it is stored in the vertex pool
const (
	PositionByteSize = 3 * 4
	UV0ByteSize      = 2 * 4
	UV1ByteSize      = 2 * 4
	NormalByteSize   = 3 * 4
	TangentByteSize  = 3 * 4

	// VertexByteSize is the number of vertex pool bytes consumed by a single vertex
	VertexByteSize = PositionByteSize + UV0ByteSize + UV1ByteSize + NormalByteSize + TangentByteSize

	// IndexByteSize is the size of a single index in the index pool. The pool always stores
	// 32-bit indices regardless of the width of the source data.
	IndexByteSize = 4
)

// Attribute identifies one of the vertex streams stored in the vertex pool
type Attribute int

const (
	AttributePosition Attribute = iota
	AttributeUV0
	AttributeUV1
	AttributeNormal
	AttributeTangent

	AttributeCount
)

var attributeMapping = map[Attribute]string{
	AttributePosition: "Position",
	AttributeUV0:      "UV0",
	AttributeUV1:      "UV1",
	AttributeNormal:   "Normal",
	AttributeTangent:  "Tangent",
}

func (a Attribute) String() string {
	return attributeMapping[a]
}

// ByteSize returns the number of bytes a single element of this attribute occupies
func (a Attribute) ByteSize() int {
	switch a {
	case AttributePosition:
		return PositionByteSize
	case AttributeUV0:
		return UV0ByteSize
	case AttributeUV1:
		return UV1ByteSize
	case AttributeNormal:
		return NormalByteSize
	case AttributeTangent:
		return TangentByteSize
	}
	return 0
}

// VertexLayout describes the planar arrangement of a vertex pool. Every attribute gets its own
// plane sized for the full vertex capacity of the pool, so the plane offsets depend on capacity.
type VertexLayout struct {
	Capacity int
}

// PlaneOffset returns the byte offset of the first element of the attribute's plane
func (l VertexLayout) PlaneOffset(attribute Attribute) int {
	offset := 0
	for a := AttributePosition; a < attribute; a++ {
		offset += a.ByteSize() * l.Capacity
	}
	return offset
}

// ElementOffset returns the byte offset of the attribute for the vertex at index vertex
func (l VertexLayout) ElementOffset(attribute Attribute, vertex int) int {
	return l.PlaneOffset(attribute) + vertex*attribute.ByteSize()
}

// ByteSize returns the total size in bytes of a vertex pool with this layout
func (l VertexLayout) ByteSize() int {
	return l.Capacity * VertexByteSize
}

// ThreadGroupSize is the number of threads in a single group of every geometry pool kernel
const ThreadGroupSize = 64

// GroupCount returns the number of thread groups that is sufficient to process n elements
// with threads threads per group.
func GroupCount(n, threads int) int {
	return (n + threads - 1) / threads
}
