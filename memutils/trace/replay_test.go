package trace_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/mmheap/memutils/arena"
	"github.com/vkngwrapper/mmheap/memutils/heap"
	"github.com/vkngwrapper/mmheap/memutils/trace"
)

func newHeap(t require.TestingT, options heap.CreateOptions) *heap.Heap {
	h, err := heap.New(nil, arena.New(0), options)
	require.NoError(t, err)
	return h
}

var checkedReplay = trace.ReplayOptions{ValidateEachOp: true, CheckPayload: true}

func TestReplaySmallTrace(t *testing.T) {
	tr, err := trace.Parse(strings.NewReader(smallTrace))
	require.NoError(t, err)

	h := newHeap(t, heap.CreateOptions{})
	result, err := trace.NewReplayer(nil, checkedReplay).Replay(h, tr)
	require.NoError(t, err)

	require.Equal(t, 5, result.Ops)
	require.Equal(t, 128, result.PeakLiveBytes)
	require.Equal(t, 288, result.ArenaBytes)
	require.InDelta(t, 128.0/288.0, result.Utilization(), 1e-9)
	require.Equal(t, 0, h.AllocationCount())
	require.NoError(t, h.Validate())

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.BuildStatsString()), &decoded))
	require.Equal(t, float64(5), decoded["Ops"])
	require.Equal(t, float64(288), decoded["ArenaBytes"])
}

func TestReplayRandomTrace(t *testing.T) {
	tr := trace.Random(42, trace.RandomOptions{Ops: 1000, MaxSize: 256, ResizePercent: 20})

	placements := []heap.SplitPlacement{heap.PlacementLow, heap.PlacementHigh, heap.PlacementNearestNeighbor}
	for _, placement := range placements {
		t.Run(placement.String(), func(t *testing.T) {
			replayer := trace.NewReplayer(nil, checkedReplay)

			h := newHeap(t, heap.CreateOptions{Placement: placement})
			result, err := replayer.Replay(h, tr)
			require.NoError(t, err)
			require.Equal(t, 1000, result.Ops)
			require.NoError(t, h.Validate())
			require.Greater(t, result.Utilization(), 0.0)
			require.LessOrEqual(t, result.Utilization(), 1.0)

			// Utilization does not depend on timing
			again, err := replayer.Replay(newHeap(t, heap.CreateOptions{Placement: placement}), tr)
			require.NoError(t, err)
			require.Equal(t, result.PeakLiveBytes, again.PeakLiveBytes)
			require.Equal(t, result.ArenaBytes, again.ArenaBytes)
		})
	}
}

func TestReplayFreeAllLeavesNoAllocations(t *testing.T) {
	tr := trace.Random(8, trace.RandomOptions{Ops: 300, MaxSize: 2048, ResizePercent: 40, FreeAll: true})

	h := newHeap(t, heap.CreateOptions{})
	_, err := trace.NewReplayer(nil, checkedReplay).Replay(h, tr)
	require.NoError(t, err)
	require.Equal(t, 0, h.AllocationCount())
	require.Equal(t, 1, h.FreeBlockCount())
}

func TestReplayOutOfMemory(t *testing.T) {
	tr := trace.Random(8, trace.RandomOptions{Ops: 300, MaxSize: 4096})

	h, err := heap.New(nil, arena.New(4096), heap.CreateOptions{})
	require.NoError(t, err)

	_, err = trace.NewReplayer(nil, trace.ReplayOptions{}).Replay(h, tr)
	require.ErrorIs(t, err, arena.ErrOutOfMemory)
	require.NoError(t, h.Validate())
}

func TestReplayRejectsInvalidTrace(t *testing.T) {
	tr := &trace.Trace{NumIDs: 1, Ops: []trace.Op{{Kind: trace.OpFree, ID: 0}}}

	_, err := trace.NewReplayer(nil, trace.ReplayOptions{}).Replay(newHeap(t, heap.CreateOptions{}), tr)
	require.ErrorIs(t, err, trace.ErrMalformedTrace)

	tr = &trace.Trace{NumIDs: trace.MaxIDs + 1, Ops: []trace.Op{{Kind: trace.OpAllocate, ID: 0, Size: 8}}}
	_, err = trace.NewReplayer(nil, trace.ReplayOptions{}).Replay(newHeap(t, heap.CreateOptions{}), tr)
	require.ErrorIs(t, err, trace.ErrMalformedTrace)
}

// stuckAllocator hands out the same block for every allocation
type stuckAllocator struct {
	*heap.Heap
	first heap.Pointer
}

func (a *stuckAllocator) Allocate(size int) (heap.Pointer, error) {
	p, err := a.Heap.Allocate(size)
	if err != nil {
		return p, err
	}

	if a.first == heap.Null {
		a.first = p
	}
	return a.first, nil
}

// scribblingAllocator zeroes the first block it handed out on every later allocation
type scribblingAllocator struct {
	*heap.Heap
	victim heap.Pointer
}

func (a *scribblingAllocator) Allocate(size int) (heap.Pointer, error) {
	if a.victim != heap.Null {
		clear(a.Heap.Payload(a.victim))
	}

	p, err := a.Heap.Allocate(size)
	if a.victim == heap.Null {
		a.victim = p
	}
	return p, err
}

// misalignedAllocator offsets every pointer by a word
type misalignedAllocator struct {
	*heap.Heap
}

func (a *misalignedAllocator) Allocate(size int) (heap.Pointer, error) {
	p, err := a.Heap.Allocate(size)
	return p + heap.WordSize, err
}

func TestReplayDetectsBrokenAllocators(t *testing.T) {
	tr := &trace.Trace{
		NumIDs: 2,
		Ops: []trace.Op{
			{Kind: trace.OpAllocate, ID: 0, Size: 16},
			{Kind: trace.OpAllocate, ID: 1, Size: 16},
			{Kind: trace.OpFree, ID: 0},
		},
	}

	testCases := map[string]struct {
		allocator trace.Allocator
		expected  error
	}{
		"Overlap": {
			allocator: &stuckAllocator{Heap: newHeap(t, heap.CreateOptions{})},
			expected:  trace.ErrOverlap,
		},
		"Corruption": {
			allocator: &scribblingAllocator{Heap: newHeap(t, heap.CreateOptions{})},
			expected:  trace.ErrPayloadCorrupted,
		},
		"Misaligned": {
			allocator: &misalignedAllocator{Heap: newHeap(t, heap.CreateOptions{})},
			expected:  trace.ErrBadPointer,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := trace.NewReplayer(nil, trace.ReplayOptions{CheckPayload: true}).Replay(testCase.allocator, tr)
			require.ErrorIs(t, err, testCase.expected)
		})
	}
}

func BenchmarkReplayRandom(b *testing.B) {
	tr := trace.Random(1, trace.RandomOptions{Ops: 10000, MaxSize: 1024, ResizePercent: 10})
	replayer := trace.NewReplayer(nil, trace.ReplayOptions{})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		h := newHeap(b, heap.CreateOptions{})
		b.StartTimer()

		_, err := replayer.Replay(h, tr)
		if err != nil {
			b.Fatal(err)
		}
	}
}
