package mesh

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/geopool/gpu"
)

func quad(name string) *Data {
	return NewData(name,
		[]float32{0, 0, 0, 1, 0, 0, 1, 1, 0, 0, 1, 0},
		[]float32{0, 0, 1, 0, 1, 1, 0, 1},
		[]float32{0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0, 1},
		[]uint32{0, 1, 2, 0, 2, 3},
	)
}

func TestData_Counts(t *testing.T) {
	m := quad("quad")
	m.Submeshes = append(m.Submeshes, []uint32{1, 2, 3})

	require.NoError(t, m.Validate())
	require.Equal(t, 4, m.VertexCount())
	require.Equal(t, 2, m.SubmeshCount())
	require.Equal(t, 9, IndexCount(m))
	require.Equal(t, Submesh{IndexStart: 6, IndexCount: 3, Topology: TopologyTriangles}, m.Submesh(1))
	require.False(t, IsEmpty(m))
	require.True(t, m.HasAttribute(gpu.AttributeNormal))
	require.False(t, m.HasAttribute(gpu.AttributeTangent))

	_, ok := m.IndexBuffer()
	require.False(t, ok)
	_, ok = m.VertexStream(gpu.AttributePosition)
	require.False(t, ok)
}

func TestData_KeyIgnoresName(t *testing.T) {
	first := quad("first")
	second := quad("second")

	require.Equal(t, first.Key(), second.Key())
	require.True(t, first.Equal(second))
}

func TestData_KeyDistinguishesContent(t *testing.T) {
	first := quad("quad")
	second := quad("quad")
	second.Submeshes[0][5] = 1

	require.NotEqual(t, first.Key(), second.Key())
	require.False(t, first.Equal(second))

	third := quad("quad")
	third.Format = IndexFormat16
	require.NotEqual(t, first.Key(), third.Key())
	require.False(t, first.Equal(third))

	fourth := quad("quad")
	fourth.Tangents = make([]float32, 12)
	require.NotEqual(t, first.Key(), fourth.Key())
	require.False(t, first.Equal(fourth))
}

func TestData_Validate(t *testing.T) {
	m := quad("quad")
	m.Submeshes[0][0] = 4
	require.Error(t, m.Validate())

	m = quad("quad")
	m.UV0 = m.UV0[:6]
	require.Error(t, m.Validate())

	m = quad("quad")
	m.Positions = append(m.Positions, 1)
	require.Error(t, m.Validate())
}

func TestResident_Equal(t *testing.T) {
	first := &Resident{
		ID:        7,
		Vertices:  3,
		Format:    IndexFormat16,
		Submeshes: []Submesh{{IndexCount: 3}},
	}
	second := &Resident{
		ID:        7,
		Vertices:  3,
		Format:    IndexFormat16,
		Submeshes: []Submesh{{IndexCount: 3}},
	}

	require.Equal(t, uint64(7), first.Key())
	require.True(t, first.Equal(second))

	second.Submeshes[0].IndexStart = 3
	require.False(t, first.Equal(second))
	require.False(t, first.Equal(quad("quad")))
	require.False(t, quad("quad").Equal(first))
}
