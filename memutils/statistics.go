package memutils

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics is a cheap summary of an arena's usage. The values can be summed across several
// arenas with AddStatistics.
type Statistics struct {
	// ArenaBytes is the total length of the managed arena, sentinels included
	ArenaBytes int
	// AllocationCount is the number of live allocated blocks
	AllocationCount int
	// AllocationBytes is the number of bytes held by live allocated blocks, header and footer included
	AllocationBytes int
	// FreeBlockCount is the number of free blocks available for reuse
	FreeBlockCount int
	// FreeBytes is the number of bytes held by free blocks
	FreeBytes int
}

func (s *Statistics) Clear() {
	s.ArenaBytes = 0
	s.AllocationCount = 0
	s.AllocationBytes = 0
	s.FreeBlockCount = 0
	s.FreeBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.ArenaBytes += other.ArenaBytes
	s.AllocationCount += other.AllocationCount
	s.AllocationBytes += other.AllocationBytes
	s.FreeBlockCount += other.FreeBlockCount
	s.FreeBytes += other.FreeBytes
}

// Utilization is the fraction of the arena held by allocated blocks. It returns 0 for an empty arena.
func (s *Statistics) Utilization() float64 {
	if s.ArenaBytes == 0 {
		return 0
	}

	return float64(s.AllocationBytes) / float64(s.ArenaBytes)
}

// DetailedStatistics extends Statistics with size extremes. Call Clear before populating it so
// that the minimums start at math.MaxInt.
type DetailedStatistics struct {
	Statistics
	AllocationSizeMin int
	AllocationSizeMax int
	FreeBlockSizeMin  int
	FreeBlockSizeMax  int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.FreeBlockSizeMin = math.MaxInt
	s.FreeBlockSizeMax = 0
}

func (s *DetailedStatistics) AddFreeBlock(size int) {
	s.FreeBlockCount++
	s.FreeBytes += size

	if size < s.FreeBlockSizeMin {
		s.FreeBlockSizeMin = size
	}

	if size > s.FreeBlockSizeMax {
		s.FreeBlockSizeMax = size
	}
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)

	if other.FreeBlockSizeMin < s.FreeBlockSizeMin {
		s.FreeBlockSizeMin = other.FreeBlockSizeMin
	}

	if other.FreeBlockSizeMax > s.FreeBlockSizeMax {
		s.FreeBlockSizeMax = other.FreeBlockSizeMax
	}

	if other.AllocationSizeMin < s.AllocationSizeMin {
		s.AllocationSizeMin = other.AllocationSizeMin
	}

	if other.AllocationSizeMax > s.AllocationSizeMax {
		s.AllocationSizeMax = other.AllocationSizeMax
	}
}

// PrintJson writes the statistics as fields of the provided json object. Size extremes are omitted
// when no block of that kind was counted.
func (s *DetailedStatistics) PrintJson(json *jwriter.ObjectState) {
	json.Name("ArenaBytes").Int(s.ArenaBytes)
	json.Name("Allocations").Int(s.AllocationCount)
	json.Name("AllocationBytes").Int(s.AllocationBytes)
	json.Name("FreeBlocks").Int(s.FreeBlockCount)
	json.Name("FreeBytes").Int(s.FreeBytes)
	json.Name("Utilization").Float64(s.Utilization())

	if s.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(s.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(s.AllocationSizeMax)
	}

	if s.FreeBlockCount > 0 {
		json.Name("FreeBlockSizeMin").Int(s.FreeBlockSizeMin)
		json.Name("FreeBlockSizeMax").Int(s.FreeBlockSizeMax)
	}
}
