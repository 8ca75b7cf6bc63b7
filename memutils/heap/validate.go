package heap

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/mmheap/memutils"
	"golang.org/x/exp/slog"
)

// Validate walks the free lists and the physical block chain and returns an error describing
// the first inconsistency found. It never modifies the heap.
func (h *Heap) Validate() error {
	arenaSize := len(h.data)
	if arenaSize < sentinelOverhead {
		return errors.Errorf("arena is %d bytes, too small to hold the heap sentinels", arenaSize)
	}

	if !memutils.IsAligned(arenaSize, Alignment) {
		return errors.Errorf("arena is %d bytes, which is not a multiple of %d", arenaSize, Alignment)
	}

	if h.header(prologue) != pack(prologueSize, true) || h.word(h.footerOffset(prologue, prologueSize)) != pack(prologueSize, true) {
		return errors.New("prologue block is corrupted")
	}

	if h.header(h.epilogue()) != pack(0, true) {
		return errors.New("epilogue header is corrupted")
	}

	listed := swiss.NewMap[Pointer, int](uint32(h.freeCount + 1))
	var listedBytes int

	// Check integrity of free lists
	for class := 0; class < NumSizeClasses; class++ {
		head := h.freeLists[class]
		if head == Null {
			continue
		}

		if !h.inBounds(head) {
			return errors.Errorf("head of size class %d is at offset %d, outside the arena", class, head)
		}

		if h.prevFree(head) != Null {
			return errors.Errorf("block at offset %d is the head of size class %d but has a previous block", head, class)
		}

		prevSize := 0
		for bp := head; bp != Null; bp = h.nextFree(bp) {
			if listed.Has(bp) {
				return errors.Errorf("block at offset %d appears in the free lists more than once", bp)
			}

			if h.isAllocated(bp) {
				return errors.Errorf("block at offset %d is in the free list but is not free", bp)
			}

			size := h.blockSize(bp)
			if classOf(size) != class {
				return errors.Errorf("block at offset %d of size %d belongs in size class %d but is listed in %d", bp, size, classOf(size), class)
			}

			if size < prevSize {
				return errors.Errorf("block at offset %d of size %d follows a larger block in size class %d", bp, size, class)
			}
			prevSize = size

			next := h.nextFree(bp)
			if next != Null {
				if !h.inBounds(next) {
					return errors.Errorf("block at offset %d links to offset %d, outside the arena", bp, next)
				}

				if h.prevFree(next) != bp {
					return errors.Errorf("block at offset %d lists the block at offset %d as its next block, but the reverse reference is broken", bp, next)
				}
			}

			listed.Put(bp, class)
			listedBytes += size
		}
	}

	var freeCount, freeBytes, allocCount, allocBytes int
	calculatedSize := sentinelOverhead
	prevFree := false

	err := h.VisitAllBlocks(func(bp Pointer, size int, allocated bool) error {
		calculatedSize += size

		if allocated {
			allocCount++
			allocBytes += size
			prevFree = false
			return nil
		}

		if prevFree {
			return errors.Errorf("free block at offset %d follows another free block", bp)
		}
		prevFree = true

		if !listed.Has(bp) {
			return errors.Errorf("free block at offset %d is not in any free list", bp)
		}

		freeCount++
		freeBytes += size
		return nil
	})
	if err != nil {
		return err
	}

	if listed.Count() != freeCount {
		return errors.Errorf("the number of free blocks in the physical chain and the number of blocks in the free lists do not match! free lists: %d, physical chain: %d", listed.Count(), freeCount)
	}

	if calculatedSize != arenaSize {
		return errors.Errorf("blocks and sentinels add up to %d bytes but the arena is %d bytes", calculatedSize, arenaSize)
	}

	if h.freeCount != freeCount || h.freeBytes != listedBytes || listedBytes != freeBytes {
		return errors.Errorf("free block counters report %d blocks of %d bytes but %d blocks of %d bytes were found", h.freeCount, h.freeBytes, freeCount, freeBytes)
	}

	if h.allocCount != allocCount || h.allocBytes != allocBytes {
		return errors.Errorf("allocation counters report %d blocks of %d bytes but %d blocks of %d bytes were found", h.allocCount, h.allocBytes, allocCount, allocBytes)
	}

	return nil
}

// Check runs Validate and reports whether the heap is consistent, logging the problem if not
func (h *Heap) Check() bool {
	err := h.Validate()
	if err != nil {
		h.logger.LogAttrs(context.Background(), slog.LevelError, "heap consistency check failed",
			slog.Int("ArenaBytes", len(h.data)),
			slog.Any("error", err))
		return false
	}

	return true
}

// VisitAllBlocks calls the provided callback once for each block between the sentinels in
// physical order. Iteration stops at the first error returned by the callback, or at the first
// block whose boundary tags are malformed.
func (h *Heap) VisitAllBlocks(visit func(bp Pointer, size int, allocated bool) error) error {
	end := h.epilogue()

	bp := firstBlock
	for bp < end {
		size := h.blockSize(bp)
		if size < MinBlockSize || size%Alignment != 0 {
			return errors.Errorf("block at offset %d has invalid size %d", bp, size)
		}

		if int(bp)+size > int(end) {
			return errors.Errorf("block at offset %d of size %d runs past the epilogue at %d", bp, size, end)
		}

		if h.word(h.footerOffset(bp, size)) != h.header(bp) {
			return errors.Errorf("block at offset %d has a footer that does not match its header", bp)
		}

		err := visit(bp, size, h.isAllocated(bp))
		if err != nil {
			return err
		}

		bp += Pointer(size)
	}

	if bp != end {
		return errors.Errorf("physical block chain ends at offset %d instead of the epilogue at %d", bp, end)
	}

	return nil
}

// inBounds reports whether bp could be the payload of a real block
func (h *Heap) inBounds(bp Pointer) bool {
	return bp >= firstBlock && int(bp)+MinBlockSize-WordSize <= len(h.data) && int(bp)%Alignment == 0
}
