package mesh

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/geopool/gpu"
	"golang.org/x/exp/slices"
)

// Data is a mesh whose attributes and indices are held in host memory. Each attribute is a
// tightly packed float32 slice: 3 floats per vertex for positions, normals and tangents and 2
// for texture coordinates. Submesh indices are stored per-submesh.
type Data struct {
	Name string

	Positions []float32
	UV0       []float32
	UV1       []float32
	Normals   []float32
	Tangents  []float32

	Format    IndexFormat
	Topology  Topology
	Submeshes [][]uint32

	keyOnce sync.Once
	key     uint64
}

var _ Mesh = &Data{}

// NewData creates a triangle mesh with positions, uv0 and normals and a single submesh
func NewData(name string, positions, uv0, normals []float32, indices []uint32) *Data {
	return &Data{
		Name:      name,
		Positions: positions,
		UV0:       uv0,
		Normals:   normals,
		Format:    IndexFormat32,
		Submeshes: [][]uint32{indices},
	}
}

// Validate checks that every attribute is sized for the vertex count, that every index fits
// the index format and addresses a vertex.
func (d *Data) Validate() error {
	vertexCount := d.VertexCount()
	if len(d.Positions)%3 != 0 {
		return errors.Newf("mesh %q: position data length %d is not a multiple of 3", d.Name, len(d.Positions))
	}

	for attribute := gpu.AttributeUV0; attribute < gpu.AttributeCount; attribute++ {
		data := d.VertexData(attribute)
		if data == nil {
			continue
		}

		expected := vertexCount * attribute.ByteSize() / 4
		if len(data) != expected {
			return errors.Newf("mesh %q: %s data has %d floats but %d vertices require %d", d.Name, attribute, len(data), vertexCount, expected)
		}
	}

	for submeshIndex, submesh := range d.Submeshes {
		for _, index := range submesh {
			if d.Format == IndexFormat16 && index > math.MaxUint16 {
				return errors.Newf("mesh %q: submesh %d index %d does not fit a 16-bit index format", d.Name, submeshIndex, index)
			}
			if int(index) >= vertexCount {
				return errors.Newf("mesh %q: submesh %d index %d is out of range for %d vertices", d.Name, submeshIndex, index, vertexCount)
			}
		}
	}

	return nil
}

func (d *Data) VertexCount() int { return len(d.Positions) / 3 }

func (d *Data) SubmeshCount() int { return len(d.Submeshes) }

func (d *Data) Submesh(index int) Submesh {
	start := 0
	for i := 0; i < index; i++ {
		start += len(d.Submeshes[i])
	}

	return Submesh{
		IndexStart: start,
		IndexCount: len(d.Submeshes[index]),
		Topology:   d.Topology,
	}
}

func (d *Data) HasAttribute(attribute gpu.Attribute) bool {
	return d.VertexData(attribute) != nil
}

// VertexStream always returns false: a Data mesh has no device-resident streams
func (d *Data) VertexStream(attribute gpu.Attribute) (gpu.VertexStream, bool) {
	return gpu.VertexStream{}, false
}

func (d *Data) VertexData(attribute gpu.Attribute) []float32 {
	switch attribute {
	case gpu.AttributePosition:
		return d.Positions
	case gpu.AttributeUV0:
		return d.UV0
	case gpu.AttributeUV1:
		return d.UV1
	case gpu.AttributeNormal:
		return d.Normals
	case gpu.AttributeTangent:
		return d.Tangents
	}
	return nil
}

func (d *Data) IndexFormat() IndexFormat { return d.Format }

// IndexBuffer always returns false: a Data mesh has no device-resident indices
func (d *Data) IndexBuffer() (gpu.Buffer, bool) { return nil, false }

func (d *Data) SubmeshIndices(index int) []uint32 { return d.Submeshes[index] }

// Key returns an FNV-64a hash of the mesh's geometry. The name is not part of the key. The key
// is computed on first use, so the mesh must not be modified afterward.
func (d *Data) Key() uint64 {
	d.keyOnce.Do(func() {
		hash := fnv.New64a()
		var scratch [8]byte

		writeInt := func(value int) {
			binary.LittleEndian.PutUint64(scratch[:], uint64(value))
			_, _ = hash.Write(scratch[:])
		}

		writeInt(d.VertexCount())
		for attribute := gpu.AttributePosition; attribute < gpu.AttributeCount; attribute++ {
			data := d.VertexData(attribute)
			if data == nil {
				writeInt(-1)
				continue
			}

			writeInt(len(data))
			for _, value := range data {
				binary.LittleEndian.PutUint32(scratch[:4], math.Float32bits(value))
				_, _ = hash.Write(scratch[:4])
			}
		}

		writeInt(int(d.Format))
		writeInt(int(d.Topology))
		writeInt(len(d.Submeshes))
		for _, submesh := range d.Submeshes {
			writeInt(len(submesh))
			for _, index := range submesh {
				binary.LittleEndian.PutUint32(scratch[:4], index)
				_, _ = hash.Write(scratch[:4])
			}
		}

		d.key = hash.Sum64()
	})

	return d.key
}

// Equal compares geometry bit-for-bit. Two Data values with the same geometry and different
// names are equal.
func (d *Data) Equal(other Mesh) bool {
	otherData, ok := other.(*Data)
	if !ok || otherData == nil {
		return false
	}
	if d == otherData {
		return true
	}

	if d.Format != otherData.Format || d.Topology != otherData.Topology {
		return false
	}

	for attribute := gpu.AttributePosition; attribute < gpu.AttributeCount; attribute++ {
		if !equalFloatBits(d.VertexData(attribute), otherData.VertexData(attribute)) {
			return false
		}
	}

	return slices.EqualFunc(d.Submeshes, otherData.Submeshes, func(l, r []uint32) bool {
		return slices.Equal(l, r)
	})
}

func equalFloatBits(left, right []float32) bool {
	if (left == nil) != (right == nil) {
		return false
	}

	return slices.EqualFunc(left, right, func(l, r float32) bool {
		return math.Float32bits(l) == math.Float32bits(r)
	})
}
