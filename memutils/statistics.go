package memutils

import "math"

// Statistics is a bundle of basic occupancy numbers for one or more fixed-capacity
// address containers.
type Statistics struct {
	// ContainerCount is the number of containers contributing to these statistics
	ContainerCount int
	// BlockCount is the number of live blocks registered in those containers
	BlockCount int
	// ContainerBytes is the total byte capacity of the contributing containers
	ContainerBytes int
	// BlockBytes is the total number of bytes claimed by live blocks
	BlockBytes int
}

func (s *Statistics) Clear() {
	s.ContainerCount = 0
	s.BlockCount = 0
	s.ContainerBytes = 0
	s.BlockBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.ContainerCount += other.ContainerCount
	s.BlockCount += other.BlockCount
	s.ContainerBytes += other.ContainerBytes
	s.BlockBytes += other.BlockBytes
}

// DetailedStatistics extends Statistics with free-space fragmentation data. It is more
// expensive to collect than Statistics.
type DetailedStatistics struct {
	Statistics
	UnusedRangeCount   int
	BlockSizeMin       int
	BlockSizeMax       int
	UnusedRangeSizeMin int
	UnusedRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.UnusedRangeCount = 0
	s.BlockSizeMin = math.MaxInt
	s.BlockSizeMax = 0
	s.UnusedRangeSizeMin = math.MaxInt
	s.UnusedRangeSizeMax = 0
}

func (s *DetailedStatistics) AddUnusedRange(size int) {
	s.UnusedRangeCount++

	if size < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = size
	}

	if size > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = size
	}
}

func (s *DetailedStatistics) AddBlock(size int) {
	s.BlockCount++
	s.BlockBytes += size

	if size < s.BlockSizeMin {
		s.BlockSizeMin = size
	}

	if size > s.BlockSizeMax {
		s.BlockSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.UnusedRangeCount += other.UnusedRangeCount

	if other.BlockSizeMin < s.BlockSizeMin {
		s.BlockSizeMin = other.BlockSizeMin
	}

	if other.BlockSizeMax > s.BlockSizeMax {
		s.BlockSizeMax = other.BlockSizeMax
	}

	if other.UnusedRangeSizeMin < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = other.UnusedRangeSizeMin
	}

	if other.UnusedRangeSizeMax > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = other.UnusedRangeSizeMax
	}
}
