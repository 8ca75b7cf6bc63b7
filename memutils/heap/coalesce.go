package heap

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mmheap/memutils"
	"golang.org/x/exp/slog"
)

// coalesce merges the free block bp with whichever of its physical neighbours are free, removing
// those neighbours from the free lists. The merged block is returned and is not inserted into
// any free list; its start moves to the predecessor when the predecessor is absorbed.
func (h *Heap) coalesce(bp Pointer) Pointer {
	prevAllocated := unpackAllocated(h.prevFooter(bp))
	next := h.nextBlock(bp)
	nextAllocated := h.isAllocated(next)
	size := h.blockSize(bp)

	switch {
	case prevAllocated && nextAllocated:
		return bp

	case prevAllocated && !nextAllocated:
		h.removeFreeBlock(next)
		size += h.blockSize(next)
		h.writeTags(bp, size, false)
		return bp

	case !prevAllocated && nextAllocated:
		prev := h.prevBlock(bp)
		h.removeFreeBlock(prev)
		size += h.blockSize(prev)
		h.writeTags(prev, size, false)
		return prev

	default:
		prev := h.prevBlock(bp)
		h.removeFreeBlock(prev)
		h.removeFreeBlock(next)
		size += h.blockSize(prev) + h.blockSize(next)
		h.writeTags(prev, size, false)
		return prev
	}
}

// extendHeap grows the arena by the given number of words, rounded up to an even count, and
// turns the new space into a free block that has been coalesced with a free predecessor. The
// returned block is not in any free list.
func (h *Heap) extendHeap(words int) (Pointer, error) {
	size := memutils.AlignUp(words, 2) * WordSize

	brk, err := h.memory.Sbrk(size)
	if err != nil {
		h.logger.LogAttrs(context.Background(), slog.LevelError, "heap growth failed",
			slog.Int("Size", size),
			slog.Int("ArenaBytes", len(h.data)),
			slog.Any("error", err))
		return Null, errors.Wrapf(err, "could not extend the heap by %d bytes", size)
	}
	if brk != len(h.data) {
		return Null, errors.Newf("memory grew from offset %d, but the heap ends at %d", brk, len(h.data))
	}
	h.data = h.memory.Bytes()

	// The old epilogue header becomes the new block's header
	bp := Pointer(brk)
	h.writeTags(bp, size, false)
	h.putWord(headerOffset(h.nextBlock(bp)), pack(0, true))

	h.logger.Debug("  Heap::extendHeap", slog.Int("Size", size), slog.Int("ArenaBytes", len(h.data)))

	return h.coalesce(bp), nil
}
