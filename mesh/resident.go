package mesh

import (
	"github.com/vkngwrapper/geopool/gpu"
	"golang.org/x/exp/slices"
)

// Resident is a mesh whose vertex streams and indices already live in device buffers. Its key is
// the caller-assigned ID, since hashing would require reading the buffers back.
type Resident struct {
	ID       uint64
	Vertices int

	// Streams holds one entry per attribute. A stream with a nil Buffer is absent.
	Streams [gpu.AttributeCount]gpu.VertexStream

	Indices   gpu.Buffer
	Format    IndexFormat
	Submeshes []Submesh
}

var _ Mesh = &Resident{}

func (r *Resident) Key() uint64 { return r.ID }

// Equal returns true if other is a Resident that references the same buffers with the same
// layout
func (r *Resident) Equal(other Mesh) bool {
	otherResident, ok := other.(*Resident)
	if !ok || otherResident == nil {
		return false
	}
	if r == otherResident {
		return true
	}

	return r.ID == otherResident.ID &&
		r.Vertices == otherResident.Vertices &&
		r.Streams == otherResident.Streams &&
		r.Indices == otherResident.Indices &&
		r.Format == otherResident.Format &&
		slices.Equal(r.Submeshes, otherResident.Submeshes)
}

func (r *Resident) VertexCount() int { return r.Vertices }

func (r *Resident) SubmeshCount() int { return len(r.Submeshes) }

func (r *Resident) Submesh(index int) Submesh { return r.Submeshes[index] }

func (r *Resident) HasAttribute(attribute gpu.Attribute) bool {
	return r.Streams[attribute].Buffer != nil
}

func (r *Resident) VertexStream(attribute gpu.Attribute) (gpu.VertexStream, bool) {
	stream := r.Streams[attribute]
	return stream, stream.Buffer != nil
}

func (r *Resident) VertexData(attribute gpu.Attribute) []float32 { return nil }

func (r *Resident) IndexFormat() IndexFormat { return r.Format }

func (r *Resident) IndexBuffer() (gpu.Buffer, bool) {
	return r.Indices, r.Indices != nil
}

func (r *Resident) SubmeshIndices(index int) []uint32 { return nil }
