package trace

import (
	"math/rand"
)

// RandomOptions shapes a generated trace
type RandomOptions struct {
	// Ops is the number of operations to generate
	Ops int
	// MaxSize is the largest request size. Sizes are drawn uniformly from [1, MaxSize].
	MaxSize int
	// ResizePercent is the share of operations on live blocks that resize rather than free
	ResizePercent int
	// FreeAll appends a free for every block still live at the end of the trace
	FreeAll bool
}

const (
	defaultRandomOps     = 1000
	defaultRandomMaxSize = 512
)

// Random generates a valid trace of interleaved allocations, frees and resizes. The same seed and
// options always generate the same trace.
func Random(seed int64, options RandomOptions) *Trace {
	if options.Ops <= 0 {
		options.Ops = defaultRandomOps
	}
	if options.MaxSize <= 0 {
		options.MaxSize = defaultRandomMaxSize
	}

	rng := rand.New(rand.NewSource(seed))
	t := &Trace{Weight: 1}

	var live []int
	nextID := 0

	for len(t.Ops) < options.Ops {
		// Allocate about half the time, or whenever nothing is live
		if len(live) == 0 || rng.Intn(2) == 0 {
			t.Ops = append(t.Ops, Op{Kind: OpAllocate, ID: nextID, Size: 1 + rng.Intn(options.MaxSize)})
			live = append(live, nextID)
			nextID++
			continue
		}

		index := rng.Intn(len(live))
		id := live[index]

		if rng.Intn(100) < options.ResizePercent {
			t.Ops = append(t.Ops, Op{Kind: OpResize, ID: id, Size: 1 + rng.Intn(options.MaxSize)})
			continue
		}

		t.Ops = append(t.Ops, Op{Kind: OpFree, ID: id})
		live[index] = live[len(live)-1]
		live = live[:len(live)-1]
	}

	if options.FreeAll {
		for _, id := range live {
			t.Ops = append(t.Ops, Op{Kind: OpFree, ID: id})
		}
	}

	t.NumIDs = nextID
	t.SuggestedHeapSize = nextID * options.MaxSize

	return t
}
