package heap

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mmheap/memutils"
	"github.com/vkngwrapper/mmheap/memutils/arena"
	"golang.org/x/exp/slog"
)

// maxRequest is the largest request whose block size can still be computed without overflow
const maxRequest = math.MaxInt - 2*Alignment

// Heap is a segregated-fit allocator carving a single growable arena into blocks delimited by
// boundary tags. Free blocks are kept in NumSizeClasses size-ordered, doubly linked lists whose
// links live inside the free blocks themselves.
//
// A Heap is not safe for concurrent use.
type Heap struct {
	logger    *slog.Logger
	memory    arena.Memory
	data      []byte
	chunkSize int
	placement SplitPlacement

	freeLists  [NumSizeClasses]Pointer
	freeCount  int
	freeBytes  int
	allocCount int
	allocBytes int
}

var _ memutils.Validatable = &Heap{}

// Allocate reserves a block with room for at least size bytes and returns its payload pointer.
// A zero size returns Null with no error. Failure to grow the arena returns an error that
// matches arena.ErrOutOfMemory and leaves the heap unchanged.
func (h *Heap) Allocate(size int) (Pointer, error) {
	memutils.DebugValidate(h)
	h.logger.Debug("Heap::Allocate", slog.Int("Size", size))

	return h.allocate(size)
}

// Free returns a block to the heap, merging it with any free physical neighbour. Freeing Null
// does nothing. Freeing anything other than a live pointer returned by this heap is undefined.
func (h *Heap) Free(p Pointer) {
	memutils.DebugValidate(h)
	h.logger.Debug("Heap::Free", slog.Int("Pointer", int(p)))

	h.free(p)
}

// Resize changes the size of the block at p, keeping the first min(old, new) payload bytes. The
// returned pointer may differ from p. A zero size frees p and returns Null, and a Null pointer
// behaves like Allocate.
//
// Growing first tries to absorb free neighbours in place. When that is not enough a new block is
// allocated and the contents copied. If that allocation fails the old block is released to the
// free lists and the error is returned, so p must not be used afterward.
func (h *Heap) Resize(p Pointer, size int) (Pointer, error) {
	memutils.DebugValidate(h)
	h.logger.Debug("Heap::Resize", slog.Int("Pointer", int(p)), slog.Int("Size", size))

	if size == 0 {
		h.free(p)
		return Null, nil
	}

	if p == Null {
		return h.allocate(size)
	}

	asize, err := requestSize(size)
	if err != nil {
		return Null, err
	}

	oldSize := h.blockSize(p)
	if asize <= oldSize {
		h.shrink(p, asize)
		return p, nil
	}

	oldPayload := oldSize - BlockOverhead

	h.markFree(p)
	bp := h.coalesce(p)
	merged := h.blockSize(bp)

	if merged >= asize {
		if bp != p {
			copy(h.data[bp:], h.data[p:int(p)+oldPayload])
		}
		h.markAllocated(bp, merged)
		h.shrink(bp, asize)

		h.logger.Debug("  Resized in place", slog.Int("Pointer", int(bp)), slog.Int("BlockSize", h.blockSize(bp)))
		return bp, nil
	}

	// Hold the merged block while allocating so growth cannot absorb it, since it is in no list
	h.markAllocated(bp, merged)

	newP, err := h.allocate(size)
	if err != nil {
		h.free(bp)
		return Null, err
	}

	copy(h.data[newP:], h.data[p:int(p)+oldPayload])
	h.free(bp)

	h.logger.Debug("  Resized by relocation", slog.Int("Pointer", int(newP)))
	return newP, nil
}

// Payload returns the usable bytes of an allocated block. The slice aliases the arena and is
// invalidated by the next operation that grows it.
func (h *Heap) Payload(p Pointer) []byte {
	end := int(p) + h.UsableSize(p)
	return h.data[p:end:end]
}

// UsableSize returns the number of payload bytes in the block at p, which is at least the size
// it was last allocated or resized to
func (h *Heap) UsableSize(p Pointer) int {
	return h.blockSize(p) - BlockOverhead
}

// ArenaSize returns the current length of the managed arena, sentinels included
func (h *Heap) ArenaSize() int {
	return len(h.data)
}

// ChunkSize returns the minimum number of bytes the arena grows by
func (h *Heap) ChunkSize() int {
	return h.chunkSize
}

// Placement returns the split placement the heap was created with
func (h *Heap) Placement() SplitPlacement {
	return h.placement
}

// AllocationCount returns the number of live allocated blocks
func (h *Heap) AllocationCount() int {
	return h.allocCount
}

// FreeBlockCount returns the number of blocks held in the free lists
func (h *Heap) FreeBlockCount() int {
	return h.freeCount
}

func requestSize(size int) (int, error) {
	if size < 0 || size > maxRequest {
		return 0, errors.Wrapf(ErrInvalidSize, "requested %d bytes", size)
	}

	return adjustedSize(size), nil
}

func (h *Heap) allocate(size int) (Pointer, error) {
	if size == 0 {
		return Null, nil
	}

	asize, err := requestSize(size)
	if err != nil {
		return Null, err
	}

	bp := h.findFit(asize)
	if bp == Null {
		h.logger.Debug("  No fit found, growing", slog.Int("BlockSize", asize))

		bp, err = h.extendHeap(max(asize, h.chunkSize) / WordSize)
		if err != nil {
			return Null, err
		}
	}

	return h.place(bp, asize), nil
}

func (h *Heap) free(p Pointer) {
	if p == Null {
		return
	}

	h.markFree(p)
	h.insertFreeBlock(h.coalesce(p))
}

// place allocates asize bytes out of the unlisted free block bp, returning any leftover large
// enough to be a block of its own to the free lists. Both neighbours of bp are allocated, so the
// leftover never needs coalescing.
func (h *Heap) place(bp Pointer, asize int) Pointer {
	size := h.blockSize(bp)
	remainder := size - asize

	if remainder < MinBlockSize {
		h.markAllocated(bp, size)
		return bp
	}

	if h.splitHigh(bp, asize) {
		h.writeTags(bp, remainder, false)
		h.insertFreeBlock(bp)

		allocated := bp + Pointer(remainder)
		h.markAllocated(allocated, asize)
		return allocated
	}

	h.markAllocated(bp, asize)

	leftover := bp + Pointer(asize)
	h.writeTags(leftover, remainder, false)
	h.insertFreeBlock(leftover)
	return bp
}

// shrink crops an allocated block down to asize bytes when the cropped tail is big enough to be
// a block. The tail is merged with a free successor before it is listed.
func (h *Heap) shrink(bp Pointer, asize int) {
	size := h.blockSize(bp)
	remainder := size - asize

	if remainder < MinBlockSize {
		return
	}

	h.writeTags(bp, asize, true)
	h.allocBytes -= remainder

	tail := bp + Pointer(asize)
	h.writeTags(tail, remainder, false)
	h.insertFreeBlock(h.coalesce(tail))
}

func (h *Heap) markAllocated(bp Pointer, size int) {
	h.writeTags(bp, size, true)
	h.allocCount++
	h.allocBytes += size
}

func (h *Heap) markFree(bp Pointer) {
	size := h.blockSize(bp)
	h.writeTags(bp, size, false)
	h.allocCount--
	h.allocBytes -= size
}
