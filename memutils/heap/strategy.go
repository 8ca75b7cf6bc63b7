package heap

// SplitPlacement chooses which end of an oversized free block the allocated portion is carved
// from when the block is split. The leftover becomes a free block at the other end.
type SplitPlacement uint32

const (
	// PlacementLow keeps the allocated portion at the start of the block and frees the tail. This
	// is the default.
	PlacementLow SplitPlacement = iota
	// PlacementHigh keeps the allocated portion at the end of the block and frees the head
	PlacementHigh
	// PlacementNearestNeighbor places the allocated portion against whichever physical neighbour
	// is closest to it in size, so that similarly sized blocks tend to sit together and coalesce
	// when they are freed. Ties and sentinel neighbours fall back to PlacementLow.
	PlacementNearestNeighbor
)

var placementNames = map[SplitPlacement]string{
	PlacementLow:             "Low",
	PlacementHigh:            "High",
	PlacementNearestNeighbor: "NearestNeighbor",
}

func (p SplitPlacement) String() string {
	name, ok := placementNames[p]
	if !ok {
		return "Unknown"
	}
	return name
}

// ParsePlacement returns the SplitPlacement whose String form is name
func ParsePlacement(name string) (SplitPlacement, bool) {
	for placement, placementName := range placementNames {
		if placementName == name {
			return placement, true
		}
	}
	return PlacementLow, false
}

// splitHigh decides whether the free block at bp should hand out its high end when asize bytes
// are carved from it
func (h *Heap) splitHigh(bp Pointer, asize int) bool {
	switch h.placement {
	case PlacementHigh:
		return true
	case PlacementNearestNeighbor:
		prevDistance := neighborDistance(unpackSize(h.prevFooter(bp)), asize)
		nextDistance := neighborDistance(h.blockSize(h.nextBlock(bp)), asize)
		return nextDistance < prevDistance
	default:
		return false
	}
}

// neighborDistance measures how far a neighbour's size is from the request. Sentinels are
// smaller than any real block and never attract an allocation.
func neighborDistance(neighborSize int, asize int) uint {
	if neighborSize < MinBlockSize {
		return ^uint(0)
	}
	if neighborSize > asize {
		return uint(neighborSize - asize)
	}
	return uint(asize - neighborSize)
}
