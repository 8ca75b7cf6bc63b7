package heap

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/mmheap/memutils"
)

// AddStatistics adds the heap's running totals to stats without walking the arena
func (h *Heap) AddStatistics(stats *memutils.Statistics) {
	stats.ArenaBytes += len(h.data)
	stats.AllocationCount += h.allocCount
	stats.AllocationBytes += h.allocBytes
	stats.FreeBlockCount += h.freeCount
	stats.FreeBytes += h.freeBytes
}

// AddDetailedStatistics walks every block in the arena and adds it to stats
func (h *Heap) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.ArenaBytes += len(h.data)

	_ = h.VisitAllBlocks(func(bp Pointer, size int, allocated bool) error {
		if allocated {
			stats.AddAllocation(size)
		} else {
			stats.AddFreeBlock(size)
		}
		return nil
	})
}

// SizeClassCounts returns the number of free blocks listed in each size class
func (h *Heap) SizeClassCounts() [NumSizeClasses]int {
	var counts [NumSizeClasses]int
	for class, head := range h.freeLists {
		for bp := head; bp != Null; bp = h.nextFree(bp) {
			counts[class]++
		}
	}
	return counts
}

// BuildStatsString returns a json document summarizing the heap. When detailed is true, every
// block in the arena is listed as well.
func (h *Heap) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()

	obj := writer.Object()

	var stats memutils.DetailedStatistics
	stats.Clear()
	h.AddDetailedStatistics(&stats)

	totalObj := obj.Name("Total").Object()
	stats.PrintJson(&totalObj)
	totalObj.End()

	configObj := obj.Name("Config").Object()
	configObj.Name("ChunkSize").Int(h.chunkSize)
	configObj.Name("Placement").String(h.placement.String())
	configObj.End()

	classArray := obj.Name("SizeClasses").Array()
	for class, count := range h.SizeClassCounts() {
		if count == 0 {
			continue
		}

		classObj := classArray.Object()
		classObj.Name("Class").Int(class)
		classObj.Name("FreeBlocks").Int(count)
		classObj.End()
	}
	classArray.End()

	if detailed {
		h.PrintDetailedMap(&obj)
	}

	obj.End()

	return string(writer.Bytes())
}

// PrintDetailedMap writes a "Blocks" array to the provided json object describing each block in
// physical order
func (h *Heap) PrintDetailedMap(json *jwriter.ObjectState) {
	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	_ = h.VisitAllBlocks(func(bp Pointer, size int, allocated bool) error {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(int(bp))
		obj.Name("Size").Int(size)
		if allocated {
			obj.Name("Type").String("Allocated")
		} else {
			obj.Name("Type").String("Free")
			obj.Name("SizeClass").Int(classOf(size))
		}

		return nil
	})
}
