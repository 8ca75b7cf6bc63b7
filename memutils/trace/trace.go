package trace

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
)

// MaxIDs is the largest id count a trace may declare
const MaxIDs = 1 << 24

// maxPresize caps how much storage is reserved up front from counts a trace declares
const maxPresize = 1 << 16

func presize(n int) int {
	return max(0, min(n, maxPresize))
}

// ErrMalformedTrace is returned when a trace cannot be parsed or refers to ids inconsistently
var ErrMalformedTrace = errors.New("malformed trace")

// OpKind identifies the allocator call a trace operation makes
type OpKind byte

const (
	// OpAllocate requests a new block of Size bytes for ID
	OpAllocate OpKind = 'a'
	// OpFree releases the block held by ID
	OpFree OpKind = 'f'
	// OpResize changes the block held by ID to Size bytes
	OpResize OpKind = 'r'
)

func (k OpKind) String() string {
	switch k {
	case OpAllocate:
		return "Allocate"
	case OpFree:
		return "Free"
	case OpResize:
		return "Resize"
	default:
		return "Unknown"
	}
}

// Op is a single allocator call. ID names the block the call produces or consumes, and Size is
// the requested byte count for OpAllocate and OpResize.
type Op struct {
	Kind OpKind
	ID   int
	Size int
}

// Trace is a recorded sequence of allocator calls, in the text format read by Parse
type Trace struct {
	// SuggestedHeapSize is informational and is not used during replay
	SuggestedHeapSize int
	// NumIDs bounds the block ids used by Ops to [0, NumIDs)
	NumIDs int
	// Weight is the trace's weight when scores from several traces are combined
	Weight int
	Ops    []Op
}

// Validate checks that every op refers to an id in range, that no id is allocated while it is
// already live, and that only live ids are freed. Resizing an id that is not live allocates it.
func (t *Trace) Validate() error {
	if t.NumIDs < 0 || t.NumIDs > MaxIDs {
		return errors.Wrapf(ErrMalformedTrace, "trace has %d ids, which is outside [0, %d]", t.NumIDs, MaxIDs)
	}

	live := swiss.NewMap[int, struct{}](uint32(presize(t.NumIDs)))

	for index, op := range t.Ops {
		if op.ID < 0 || op.ID >= t.NumIDs {
			return errors.Wrapf(ErrMalformedTrace, "op %d refers to id %d, but the trace has %d ids", index, op.ID, t.NumIDs)
		}

		switch op.Kind {
		case OpAllocate:
			if op.Size < 0 {
				return errors.Wrapf(ErrMalformedTrace, "op %d allocates %d bytes", index, op.Size)
			}
			if live.Has(op.ID) {
				return errors.Wrapf(ErrMalformedTrace, "op %d allocates id %d, which is already live", index, op.ID)
			}
			live.Put(op.ID, struct{}{})
		case OpFree:
			if !live.Has(op.ID) {
				return errors.Wrapf(ErrMalformedTrace, "op %d frees id %d, which is not live", index, op.ID)
			}
			live.Delete(op.ID)
		case OpResize:
			if op.Size < 0 {
				return errors.Wrapf(ErrMalformedTrace, "op %d resizes to %d bytes", index, op.Size)
			}
			if op.Size == 0 {
				live.Delete(op.ID)
			} else {
				live.Put(op.ID, struct{}{})
			}
		default:
			return errors.Wrapf(ErrMalformedTrace, "op %d has unknown kind %q", index, byte(op.Kind))
		}
	}

	return nil
}
