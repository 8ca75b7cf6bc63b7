package heap

import (
	"fmt"
	"math/bits"
)

const (
	// NumSizeClasses is the number of segregated free lists
	NumSizeClasses = 32
	// sizeClassShift is the number of low bits discarded before a size is bucketed, so that
	// everything below 64 bytes shares class 0
	sizeClassShift = 6
)

// classOf maps a block size to its size class: one past the highest set bit of the size once
// the low bits are discarded, clamped to the last class
func classOf(size int) int {
	class := bits.Len(uint(size) >> sizeClassShift)
	if class >= NumSizeClasses {
		return NumSizeClasses - 1
	}
	return class
}

// insertFreeBlock links a free block into its size class, keeping the class sorted by ascending
// size. Blocks of equal size are kept in insertion order.
func (h *Heap) insertFreeBlock(bp Pointer) {
	if h.isAllocated(bp) {
		panic(fmt.Sprintf("block at offset %d is allocated and cannot be inserted into a free list", bp))
	}

	size := h.blockSize(bp)
	class := classOf(size)

	prev := Null
	next := h.freeLists[class]
	for next != Null && h.blockSize(next) <= size {
		prev = next
		next = h.nextFree(next)
	}

	h.setPrevFree(bp, prev)
	h.setNextFree(bp, next)

	switch {
	case prev == Null && next == Null:
		// Only block in the class
		h.freeLists[class] = bp
	case prev == Null:
		// New head
		h.setPrevFree(next, bp)
		h.freeLists[class] = bp
	case next == Null:
		// New tail
		h.setNextFree(prev, bp)
	default:
		h.setNextFree(prev, bp)
		h.setPrevFree(next, bp)
	}

	h.freeCount++
	h.freeBytes += size
}

// removeFreeBlock unlinks a free block from its size class. The block's size must not have
// changed since it was inserted.
func (h *Heap) removeFreeBlock(bp Pointer) {
	if h.isAllocated(bp) {
		panic(fmt.Sprintf("block at offset %d is not free", bp))
	}

	size := h.blockSize(bp)
	prev := h.prevFree(bp)
	next := h.nextFree(bp)

	if prev == Null {
		class := classOf(size)
		if h.freeLists[class] != bp {
			panic(fmt.Sprintf("block at offset %d was not in the free list at the expected location", bp))
		}
		h.freeLists[class] = next
	} else {
		h.setNextFree(prev, next)
	}

	if next != Null {
		h.setPrevFree(next, prev)
	}

	h.freeCount--
	h.freeBytes -= size
}

// findFit removes and returns the first free block of at least asize bytes, searching upward from
// the class asize belongs to. Classes are sorted, so the first fit in a class is also its best
// fit. Returns Null if no free block is large enough.
func (h *Heap) findFit(asize int) Pointer {
	for class := classOf(asize); class < NumSizeClasses; class++ {
		for bp := h.freeLists[class]; bp != Null; bp = h.nextFree(bp) {
			if h.blockSize(bp) >= asize {
				h.removeFreeBlock(bp)
				return bp
			}
		}
	}

	return Null
}
