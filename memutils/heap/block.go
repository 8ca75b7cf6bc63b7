package heap

import (
	"github.com/vkngwrapper/mmheap/memutils"
	"github.com/vkngwrapper/mmheap/memutils/arena"
)

// Pointer identifies an allocation by the arena offset of its payload. Pointers stay valid
// across arena growth, unlike slices returned from Heap.Payload.
type Pointer int

// Null is the pointer returned when no allocation was made. Offset 0 holds the alignment pad
// word and is never a payload.
const Null Pointer = 0

const (
	// WordSize is the width of a boundary tag or free-list link
	WordSize = arena.WordSize
	// Alignment is the double-word boundary every payload and block size is aligned to
	Alignment = 2 * WordSize
	// BlockOverhead is the number of bytes of every block taken up by its header and footer
	BlockOverhead = 2 * WordSize
	// MinBlockSize is the smallest block that can hold a header, two free-list links and a footer
	MinBlockSize = 4 * WordSize

	allocatedBit uint64 = 0x1
	sizeMask     uint64 = ^uint64(Alignment - 1)

	// pad word, prologue header & footer, epilogue header
	sentinelOverhead = 4 * WordSize
	prologueSize     = Alignment
	prologue         Pointer = 2 * WordSize
	firstBlock       Pointer = sentinelOverhead
)

func pack(size int, allocated bool) uint64 {
	word := uint64(size)
	if allocated {
		word |= allocatedBit
	}
	return word
}

func unpackSize(word uint64) int {
	return int(word & sizeMask)
}

func unpackAllocated(word uint64) bool {
	return word&allocatedBit != 0
}

// adjustedSize converts a request into a block size: payload plus header and footer, rounded
// up to the alignment and never below MinBlockSize
func adjustedSize(size int) int {
	asize := memutils.AlignUp(size+BlockOverhead, Alignment)
	if asize < MinBlockSize {
		return MinBlockSize
	}
	return asize
}

func headerOffset(bp Pointer) int {
	return int(bp) - WordSize
}

func (h *Heap) word(off int) uint64 {
	return arena.ReadWord(h.data, off)
}

func (h *Heap) putWord(off int, value uint64) {
	arena.WriteWord(h.data, off, value)
}

func (h *Heap) header(bp Pointer) uint64 {
	return h.word(headerOffset(bp))
}

func (h *Heap) blockSize(bp Pointer) int {
	return unpackSize(h.header(bp))
}

func (h *Heap) isAllocated(bp Pointer) bool {
	return unpackAllocated(h.header(bp))
}

func (h *Heap) footerOffset(bp Pointer, size int) int {
	return int(bp) + size - Alignment
}

// writeTags stamps the same encoded word into the header and footer of a block of the given size
func (h *Heap) writeTags(bp Pointer, size int, allocated bool) {
	word := pack(size, allocated)
	h.putWord(headerOffset(bp), word)
	h.putWord(h.footerOffset(bp, size), word)
}

func (h *Heap) nextBlock(bp Pointer) Pointer {
	return bp + Pointer(h.blockSize(bp))
}

// prevFooter returns the footer word of the block physically preceding bp
func (h *Heap) prevFooter(bp Pointer) uint64 {
	return h.word(int(bp) - Alignment)
}

func (h *Heap) prevBlock(bp Pointer) Pointer {
	return bp - Pointer(unpackSize(h.prevFooter(bp)))
}

func (h *Heap) epilogue() Pointer {
	return Pointer(len(h.data))
}

// Free-list links live in the first two payload words of a free block

func (h *Heap) nextFree(bp Pointer) Pointer {
	return Pointer(h.word(int(bp)))
}

func (h *Heap) prevFree(bp Pointer) Pointer {
	return Pointer(h.word(int(bp) + WordSize))
}

func (h *Heap) setNextFree(bp Pointer, next Pointer) {
	h.putWord(int(bp), uint64(next))
}

func (h *Heap) setPrevFree(bp Pointer, prev Pointer) {
	h.putWord(int(bp)+WordSize, uint64(prev))
}
