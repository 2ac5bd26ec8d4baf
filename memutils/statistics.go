package memutils

import "math"

// Statistics holds basic occupancy numbers for one or more element pools. All sizes are
// counted in pool elements (vertices or indices), not bytes.
type Statistics struct {
	PoolCount         int
	AllocationCount   int
	CapacityElements  int
	AllocatedElements int
}

func (s *Statistics) Clear() {
	s.PoolCount = 0
	s.AllocationCount = 0
	s.CapacityElements = 0
	s.AllocatedElements = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.PoolCount += other.PoolCount
	s.AllocationCount += other.AllocationCount
	s.CapacityElements += other.CapacityElements
	s.AllocatedElements += other.AllocatedElements
}

// FreeElements is the number of elements not covered by a live allocation
func (s *Statistics) FreeElements() int {
	return s.CapacityElements - s.AllocatedElements
}

// DetailedStatistics extends Statistics with the distribution of allocation and free range
// sizes, which is what fragmentation shows up in.
type DetailedStatistics struct {
	Statistics
	FreeRangeCount int
	AllocationMin  int
	AllocationMax  int
	FreeRangeMin   int
	FreeRangeMax   int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeRangeCount = 0
	s.AllocationMin = math.MaxInt
	s.AllocationMax = 0
	s.FreeRangeMin = math.MaxInt
	s.FreeRangeMax = 0
}

func (s *DetailedStatistics) AddFreeRange(count int) {
	s.FreeRangeCount++

	if count < s.FreeRangeMin {
		s.FreeRangeMin = count
	}

	if count > s.FreeRangeMax {
		s.FreeRangeMax = count
	}
}

func (s *DetailedStatistics) AddAllocation(count int) {
	s.AllocationCount++
	s.AllocatedElements += count

	if count < s.AllocationMin {
		s.AllocationMin = count
	}

	if count > s.AllocationMax {
		s.AllocationMax = count
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeRangeCount += other.FreeRangeCount

	if other.FreeRangeMin < s.FreeRangeMin {
		s.FreeRangeMin = other.FreeRangeMin
	}

	if other.FreeRangeMax > s.FreeRangeMax {
		s.FreeRangeMax = other.FreeRangeMax
	}

	if other.AllocationMin < s.AllocationMin {
		s.AllocationMin = other.AllocationMin
	}

	if other.AllocationMax > s.AllocationMax {
		s.AllocationMax = other.AllocationMax
	}
}

// Fragmentation returns a value in [0, 1]: 0 when all free space is a single range, approaching
// 1 as the free space splinters into many small ranges.
func (s *DetailedStatistics) Fragmentation() float64 {
	free := s.FreeElements()
	if free <= 0 || s.FreeRangeCount == 0 {
		return 0
	}

	return 1 - float64(s.FreeRangeMax)/float64(free)
}
