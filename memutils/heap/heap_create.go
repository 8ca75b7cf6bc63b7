package heap

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mmheap/memutils"
	"github.com/vkngwrapper/mmheap/memutils/arena"
	"golang.org/x/exp/slog"
)

const (
	// DefaultChunkSize is the minimum number of bytes the arena grows by when no free block can
	// satisfy a request
	DefaultChunkSize int = 1 << 7
)

// ErrInvalidSize is returned when a request size is negative or too large to be represented as
// a block
var ErrInvalidSize = errors.New("invalid allocation size")

// ErrMemoryNotEmpty is returned from Init when the backing memory already holds bytes
var ErrMemoryNotEmpty = errors.New("heap memory must be empty before initialization")

// CreateOptions contains optional settings when creating a heap
type CreateOptions struct {
	// ChunkSize is the minimum number of bytes to grow the arena by on a miss. It must be a power
	// of two no smaller than MinBlockSize. Zero selects DefaultChunkSize.
	ChunkSize int
	// Placement chooses which end of a split block is handed out. The zero value is PlacementLow.
	Placement SplitPlacement
}

// New creates a heap managing the provided memory, which must be empty, and initializes it with
// its sentinel blocks. A nil logger discards all output.
func New(logger *slog.Logger, memory arena.Memory, options CreateOptions) (*Heap, error) {
	if memory == nil {
		return nil, errors.New("heap memory must not be nil")
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	chunkSize := options.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	err := memutils.CheckPow2(chunkSize, "ChunkSize")
	if err != nil {
		return nil, err
	}

	if chunkSize < MinBlockSize {
		return nil, errors.Errorf("ChunkSize is %d but must be at least %d", chunkSize, MinBlockSize)
	}

	if _, known := placementNames[options.Placement]; !known {
		return nil, errors.Errorf("unknown split placement %d", options.Placement)
	}

	h := &Heap{
		logger:    logger,
		memory:    memory,
		chunkSize: chunkSize,
		placement: options.Placement,
	}

	err = h.Init()
	if err != nil {
		return nil, err
	}

	return h, nil
}

// Init lays out the sentinel blocks in the heap's memory and empties every free list. The memory
// must be empty, so a heap over an arena.Arena can be reinitialized after arena.Arena.Reset.
// Failing to grow the memory for the sentinels leaves the heap unusable.
func (h *Heap) Init() error {
	h.logger.Debug("Heap::Init", slog.Int("ChunkSize", h.chunkSize), slog.String("Placement", h.placement.String()))

	if existing := len(h.memory.Bytes()); existing != 0 {
		return errors.Wrapf(ErrMemoryNotEmpty, "memory already holds %d bytes", existing)
	}

	_, err := h.memory.Sbrk(sentinelOverhead)
	if err != nil {
		h.logger.LogAttrs(context.Background(), slog.LevelError, "heap initialization failed", slog.Any("error", err))
		return errors.Wrap(err, "could not allocate the heap sentinels")
	}
	h.data = h.memory.Bytes()

	h.putWord(0, 0)
	h.writeTags(prologue, prologueSize, true)
	h.putWord(headerOffset(h.epilogue()), pack(0, true))

	for class := range h.freeLists {
		h.freeLists[class] = Null
	}
	h.freeCount = 0
	h.freeBytes = 0
	h.allocCount = 0
	h.allocBytes = 0

	return nil
}
