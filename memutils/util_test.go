package memutils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDivUp(t *testing.T) {
	require.Equal(t, uint32(0), DivUp[uint32](0, 52))
	require.Equal(t, uint32(1), DivUp[uint32](1, 52))
	require.Equal(t, uint32(1), DivUp[uint32](52, 52))
	require.Equal(t, uint32(2), DivUp[uint32](53, 52))
	require.Equal(t, 3, DivUp(9, 4))

	// Near the top of the range
	require.Equal(t, uint32(82595525), DivUp[uint32](math.MaxUint32, 52))
	require.Equal(t, uint32(1073741824), DivUp[uint32](math.MaxUint32-1, 4))
	require.Equal(t, uint32(math.MaxUint32), DivUp[uint32](math.MaxUint32, 1))
	require.Equal(t, uint8(128), DivUp[uint8](255, 2))
}

func TestAlignUp(t *testing.T) {
	require.Equal(t, 0, AlignUp(0, 16))
	require.Equal(t, 16, AlignUp(1, 16))
	require.Equal(t, 16, AlignUp(16, 16))
	require.Equal(t, 32, AlignUp(17, 16))
	require.Equal(t, uint32(256), AlignUp[uint32](255, 256))
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, CheckPow2(1, "alignment"))
	require.NoError(t, CheckPow2(64, "alignment"))
	require.EqualError(t, CheckPow2(0, "alignment"), "alignment must be a power of two, but is 0")
	require.EqualError(t, CheckPow2(-4, "alignment"), "alignment must be a power of two, but is -4")
	require.EqualError(t, CheckPow2(24, "alignment"), "alignment must be a power of two, but is 24")
}

func TestCheckRange(t *testing.T) {
	require.NoError(t, CheckRange(0, 10, 10))
	require.NoError(t, CheckRange(10, 0, 10))
	require.NoError(t, CheckRange(3, 4, 10))
	require.EqualError(t, CheckRange(5, 6, 10), "range [5, 11) exceeds capacity 10")
	require.EqualError(t, CheckRange(11, 0, 10), "range [11, 11) exceeds capacity 10")
	require.Error(t, CheckRange(-1, 2, 10))
	require.Error(t, CheckRange(2, -1, 10))

	// count > capacity-offset must not overflow for large unsigned values
	require.Error(t, CheckRange[uint32](1, 0xFFFFFFFF, 0xFFFFFFFF))
}
