package gpu

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVertexLayout_Planes(t *testing.T) {
	layout := VertexLayout{Capacity: 10}

	require.Equal(t, 0, layout.PlaneOffset(AttributePosition))
	require.Equal(t, 120, layout.PlaneOffset(AttributeUV0))
	require.Equal(t, 200, layout.PlaneOffset(AttributeUV1))
	require.Equal(t, 280, layout.PlaneOffset(AttributeNormal))
	require.Equal(t, 400, layout.PlaneOffset(AttributeTangent))
	require.Equal(t, 520, layout.ByteSize())
	require.Equal(t, 520, layout.PlaneOffset(AttributeCount))

	require.Equal(t, 120+3*8, layout.ElementOffset(AttributeUV0, 3))
}

func TestGroupCount(t *testing.T) {
	require.Equal(t, 0, GroupCount(0, ThreadGroupSize))
	require.Equal(t, 1, GroupCount(1, ThreadGroupSize))
	require.Equal(t, 1, GroupCount(64, ThreadGroupSize))
	require.Equal(t, 2, GroupCount(65, ThreadGroupSize))
}

func TestCommandList_RecordAndClear(t *testing.T) {
	list := NewCommandList("test")
	list.UpdateIndices(KernelUpdateIndexBuffer16, IndexUpdateArgs{Count: 130})
	list.UpdateVertices(VertexUpdateArgs{VertexCount: 10, Flags: InputHasUV1})
	list.CopyBuffer(CopyArgs{SourceOffset: 64, Size: 32})

	require.Equal(t, 3, list.Len())
	require.Equal(t, KernelUpdateIndexBuffer16, list.Dispatches()[0].Kernel)
	require.Equal(t, 3, list.Dispatches()[0].GroupCountX)
	require.Equal(t, KernelUpdateVertexBuffer, list.Dispatches()[1].Kernel)
	require.Equal(t, 1, list.Dispatches()[1].GroupCountX)
	require.Equal(t, KernelCopyBuffer, list.Dispatches()[2].Kernel)
	require.Equal(t, 32, list.Dispatches()[2].Copy.Size)

	list.Clear()
	require.Equal(t, 0, list.Len())
	require.Equal(t, "test", list.Name())
}
