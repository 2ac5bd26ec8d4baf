package memutils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetailedStatistics_Accumulate(t *testing.T) {
	var stats DetailedStatistics
	stats.Clear()
	require.Equal(t, math.MaxInt, stats.AllocationMin)
	require.Equal(t, math.MaxInt, stats.FreeRangeMin)

	stats.PoolCount = 1
	stats.CapacityElements = 100
	stats.AddAllocation(10)
	stats.AddAllocation(30)
	stats.AddFreeRange(20)
	stats.AddFreeRange(40)

	require.Equal(t, 2, stats.AllocationCount)
	require.Equal(t, 40, stats.AllocatedElements)
	require.Equal(t, 60, stats.FreeElements())
	require.Equal(t, 10, stats.AllocationMin)
	require.Equal(t, 30, stats.AllocationMax)
	require.Equal(t, 2, stats.FreeRangeCount)
	require.Equal(t, 20, stats.FreeRangeMin)
	require.Equal(t, 40, stats.FreeRangeMax)
	require.InDelta(t, 1.0/3.0, stats.Fragmentation(), 1e-9)

	var other DetailedStatistics
	other.Clear()
	other.PoolCount = 1
	other.CapacityElements = 50
	other.AddAllocation(5)
	other.AddFreeRange(45)

	stats.AddDetailedStatistics(&other)
	require.Equal(t, 2, stats.PoolCount)
	require.Equal(t, 150, stats.CapacityElements)
	require.Equal(t, 3, stats.AllocationCount)
	require.Equal(t, 45, stats.AllocatedElements)
	require.Equal(t, 5, stats.AllocationMin)
	require.Equal(t, 30, stats.AllocationMax)
	require.Equal(t, 3, stats.FreeRangeCount)
	require.Equal(t, 20, stats.FreeRangeMin)
	require.Equal(t, 45, stats.FreeRangeMax)
}

func TestDetailedStatistics_Fragmentation(t *testing.T) {
	var stats DetailedStatistics
	stats.Clear()
	stats.CapacityElements = 100

	// Nothing free, so nothing fragmented
	stats.AddAllocation(100)
	require.Zero(t, stats.Fragmentation())

	stats.Clear()
	stats.CapacityElements = 100
	stats.AddFreeRange(100)
	require.Zero(t, stats.Fragmentation())
}

func TestStatistics_Clear(t *testing.T) {
	stats := Statistics{PoolCount: 1, AllocationCount: 2, CapacityElements: 3, AllocatedElements: 4}
	stats.Clear()
	require.Equal(t, Statistics{}, stats)
}
