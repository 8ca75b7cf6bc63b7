package trace

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/mmheap/memutils"
	"github.com/vkngwrapper/mmheap/memutils/heap"
	"golang.org/x/exp/slog"
)

var (
	// ErrPayloadCorrupted is returned when bytes written to a live block changed before the block
	// was freed or resized
	ErrPayloadCorrupted = errors.New("payload corrupted")
	// ErrOverlap is returned when the allocator hands out a block overlapping a live one
	ErrOverlap = errors.New("allocated blocks overlap")
	// ErrBadPointer is returned when the allocator returns a misaligned pointer or one whose
	// payload does not fit inside the arena
	ErrBadPointer = errors.New("invalid pointer")
)

// Allocator is the surface a trace is replayed against. It is satisfied by *heap.Heap.
type Allocator interface {
	memutils.Validatable

	Allocate(size int) (heap.Pointer, error)
	Free(p heap.Pointer)
	Resize(p heap.Pointer, size int) (heap.Pointer, error)
	Payload(p heap.Pointer) []byte
	ArenaSize() int
}

var _ Allocator = &heap.Heap{}

// ReplayOptions contains optional checks to run while replaying
type ReplayOptions struct {
	// ValidateEachOp runs the allocator's consistency check after every op
	ValidateEachOp bool
	// CheckPayload fills every block with a pattern when it is allocated and verifies the pattern
	// before the block is freed or resized
	CheckPayload bool
}

// Result summarizes a replay
type Result struct {
	Ops int
	// PeakLiveBytes is the largest total of requested bytes live at one time
	PeakLiveBytes int
	// ArenaBytes is the arena size once the trace completes
	ArenaBytes int
	// Elapsed is the time spent inside allocator calls
	Elapsed time.Duration
}

// Utilization is the peak number of live requested bytes over the final arena size
func (r *Result) Utilization() float64 {
	if r.ArenaBytes == 0 {
		return 0
	}
	return float64(r.PeakLiveBytes) / float64(r.ArenaBytes)
}

// Throughput is the number of ops completed per second of allocator time
func (r *Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Elapsed.Seconds()
}

// PrintJson writes the result as fields of the provided json object
func (r *Result) PrintJson(json *jwriter.ObjectState) {
	json.Name("Ops").Int(r.Ops)
	json.Name("PeakLiveBytes").Int(r.PeakLiveBytes)
	json.Name("ArenaBytes").Int(r.ArenaBytes)
	json.Name("Utilization").Float64(r.Utilization())
	json.Name("ElapsedNanoseconds").Int(int(r.Elapsed.Nanoseconds()))
	json.Name("OpsPerSecond").Float64(r.Throughput())
}

// BuildStatsString returns the result as a json document
func (r *Result) BuildStatsString() string {
	writer := jwriter.NewWriter()
	obj := writer.Object()
	r.PrintJson(&obj)
	obj.End()

	return string(writer.Bytes())
}

// Replayer replays traces against an allocator, checking every block it hands out
type Replayer struct {
	logger  *slog.Logger
	options ReplayOptions
}

// NewReplayer creates a Replayer. A nil logger discards all output.
func NewReplayer(logger *slog.Logger, options ReplayOptions) *Replayer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	return &Replayer{
		logger:  logger,
		options: options,
	}
}

type liveBlock struct {
	p    heap.Pointer
	size int
}

type replayState struct {
	*Replayer
	allocator Allocator
	live      *swiss.Map[int, liveBlock]
	liveBytes int
	result    Result
}

// Replay runs every op in the trace against the allocator, which should be freshly initialized.
// Blocks still live when the trace ends are left allocated.
func (r *Replayer) Replay(allocator Allocator, t *Trace) (*Result, error) {
	r.logger.Debug("Replayer::Replay", slog.Int("Ops", len(t.Ops)), slog.Int("NumIDs", t.NumIDs))

	err := t.Validate()
	if err != nil {
		return nil, err
	}

	state := &replayState{
		Replayer:  r,
		allocator: allocator,
		live:      swiss.NewMap[int, liveBlock](uint32(presize(t.NumIDs))),
	}

	for index, op := range t.Ops {
		err = state.apply(op)
		if err == nil && r.options.ValidateEachOp {
			err = allocator.Validate()
		}

		if err != nil {
			r.logger.LogAttrs(context.Background(), slog.LevelError, "replay failed",
				slog.Int("Op", index),
				slog.String("Kind", op.Kind.String()),
				slog.Int("ID", op.ID),
				slog.Any("error", err))
			return nil, errors.Wrapf(err, "op %d (%s id %d size %d)", index, op.Kind, op.ID, op.Size)
		}

		state.result.Ops++
	}

	state.result.ArenaBytes = allocator.ArenaSize()

	r.logger.Debug("  Replay complete",
		slog.Int("PeakLiveBytes", state.result.PeakLiveBytes),
		slog.Int("ArenaBytes", state.result.ArenaBytes),
		slog.Duration("Elapsed", state.result.Elapsed))

	return &state.result, nil
}

func (s *replayState) apply(op Op) error {
	switch op.Kind {
	case OpAllocate:
		start := time.Now()
		p, err := s.allocator.Allocate(op.Size)
		s.result.Elapsed += time.Since(start)
		if err != nil {
			return err
		}

		return s.track(op.ID, p, op.Size)

	case OpFree:
		block, _ := s.live.Get(op.ID)
		err := s.verifyPattern(op.ID, block, block.size)
		if err != nil {
			return err
		}

		s.untrack(op.ID, block)

		start := time.Now()
		s.allocator.Free(block.p)
		s.result.Elapsed += time.Since(start)
		return nil

	case OpResize:
		block, _ := s.live.Get(op.ID)
		err := s.verifyPattern(op.ID, block, block.size)
		if err != nil {
			return err
		}

		start := time.Now()
		p, err := s.allocator.Resize(block.p, op.Size)
		s.result.Elapsed += time.Since(start)
		s.untrack(op.ID, block)
		if err != nil {
			return err
		}

		if op.Size > 0 && p == heap.Null {
			return errors.Wrapf(ErrBadPointer, "allocator returned no block when resizing to %d bytes", op.Size)
		}

		moved := liveBlock{p: p, size: block.size}
		err = s.verifyPattern(op.ID, moved, min(block.size, op.Size))
		if err != nil {
			return err
		}

		return s.track(op.ID, p, op.Size)
	}

	return errors.Wrapf(ErrMalformedTrace, "unknown op kind %q", byte(op.Kind))
}

func (s *replayState) track(id int, p heap.Pointer, size int) error {
	if size == 0 {
		return nil
	}

	if p == heap.Null {
		return errors.Wrapf(ErrBadPointer, "allocator returned no block for %d bytes", size)
	}

	if !memutils.IsAligned(int(p), heap.Alignment) {
		return errors.Wrapf(ErrBadPointer, "pointer %d is not aligned to %d bytes", p, heap.Alignment)
	}

	if int(p) < 0 || int(p)+size > s.allocator.ArenaSize() {
		return errors.Wrapf(ErrBadPointer, "payload [%d, %d) lies outside the arena of %d bytes", p, int(p)+size, s.allocator.ArenaSize())
	}

	var overlapErr error
	s.live.Iter(func(otherID int, other liveBlock) bool {
		if int(p) < int(other.p)+other.size && int(other.p) < int(p)+size {
			overlapErr = errors.Wrapf(ErrOverlap, "payload [%d, %d) of id %d overlaps payload [%d, %d) of id %d",
				p, int(p)+size, id, other.p, int(other.p)+other.size, otherID)
			return true
		}
		return false
	})
	if overlapErr != nil {
		return overlapErr
	}

	block := liveBlock{p: p, size: size}
	s.live.Put(id, block)
	s.liveBytes += size
	if s.liveBytes > s.result.PeakLiveBytes {
		s.result.PeakLiveBytes = s.liveBytes
	}

	if s.options.CheckPayload {
		payload := s.allocator.Payload(p)
		for i := 0; i < size; i++ {
			payload[i] = patternByte(id, i)
		}
	}

	return nil
}

func (s *replayState) untrack(id int, block liveBlock) {
	if !s.live.Has(id) {
		return
	}

	s.live.Delete(id)
	s.liveBytes -= block.size
}

func (s *replayState) verifyPattern(id int, block liveBlock, n int) error {
	if !s.options.CheckPayload || n == 0 {
		return nil
	}

	payload := s.allocator.Payload(block.p)
	if len(payload) < n {
		return errors.Wrapf(ErrPayloadCorrupted, "block of id %d holds %d bytes, expected at least %d", id, len(payload), n)
	}

	for i := 0; i < n; i++ {
		if payload[i] != patternByte(id, i) {
			return errors.Wrapf(ErrPayloadCorrupted, "byte %d of id %d at offset %d", i, id, block.p)
		}
	}

	return nil
}

func patternByte(id int, i int) byte {
	return byte(id*131 + i)
}
