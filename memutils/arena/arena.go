package arena

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"
)

const (
	// WordSize is the width in bytes of a single arena word
	WordSize = 8

	// DefaultLimit is the maximum arena length used when New is given a non-positive limit. It
	// is equal to 20Mb.
	DefaultLimit = 20 * 1024 * 1024
)

var (
	// ErrOutOfMemory is returned from Sbrk when growing the arena would exceed its limit
	ErrOutOfMemory = errors.New("arena: out of memory")
	// ErrBadIncrement is returned from Sbrk when the increment is negative or not word-aligned
	ErrBadIncrement = errors.New("arena: increment must be a non-negative multiple of the word size")
)

// Memory is the growth primitive a heap is built on. It behaves like sbrk: the region only ever
// grows by appending at its end, and the bytes it hands out are never given back.
type Memory interface {
	// Sbrk extends the region by n bytes and returns the offset of the first new byte, which is
	// also the length of the region before the call. n must be a non-negative multiple of
	// WordSize. On failure the region is left untouched.
	Sbrk(n int) (int, error)
	// Bytes returns the whole region. The returned slice is invalidated by the next call to Sbrk.
	Bytes() []byte
}

// Arena is a Memory implementation backed by a single byte slice with a simulated address space
// limit. It is not safe for concurrent use.
type Arena struct {
	buf   []byte
	limit int
}

var _ Memory = &Arena{}

// New creates an empty Arena that refuses to grow beyond limit bytes. A non-positive limit
// selects DefaultLimit.
func New(limit int) *Arena {
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &Arena{limit: limit}
}

// Sbrk grows the arena by n zeroed bytes and returns the previous length
func (a *Arena) Sbrk(n int) (int, error) {
	if n < 0 || n%WordSize != 0 {
		return -1, errors.Wrapf(ErrBadIncrement, "requested %d bytes", n)
	}

	oldLen := len(a.buf)
	if n > a.limit-oldLen {
		return -1, errors.Wrapf(ErrOutOfMemory, "requested %d bytes with %d of %d in use", n, oldLen, a.limit)
	}

	newLen := oldLen + n
	if newLen > cap(a.buf) {
		newCap := 2 * cap(a.buf)
		if newCap < newLen {
			newCap = newLen
		}
		if newCap > a.limit {
			newCap = a.limit
		}

		grown := make([]byte, newLen, newCap)
		copy(grown, a.buf)
		a.buf = grown
	} else {
		a.buf = a.buf[:newLen]
		clear(a.buf[oldLen:])
	}

	return oldLen, nil
}

// Bytes returns the arena's current contents
func (a *Arena) Bytes() []byte { return a.buf }

// Len returns the current length of the arena in bytes
func (a *Arena) Len() int { return len(a.buf) }

// Limit returns the maximum length the arena may reach
func (a *Arena) Limit() int { return a.limit }

// Reset drops the arena back to zero length. The backing storage is retained for reuse.
func (a *Arena) Reset() {
	a.buf = a.buf[:0]
}

// Word reads the little-endian word starting at off. It panics if the word does not lie entirely
// inside the arena.
func (a *Arena) Word(off int) uint64 {
	return ReadWord(a.buf, off)
}

// PutWord writes a little-endian word starting at off. It panics if the word does not lie
// entirely inside the arena.
func (a *Arena) PutWord(off int, value uint64) {
	WriteWord(a.buf, off, value)
}

// ReadWord reads the little-endian word starting at off in data. It panics if the word does not
// lie entirely inside data.
func ReadWord(data []byte, off int) uint64 {
	checkWord(data, off)
	return binary.LittleEndian.Uint64(data[off:])
}

// WriteWord writes a little-endian word starting at off in data. It panics if the word does not
// lie entirely inside data.
func WriteWord(data []byte, off int, value uint64) {
	checkWord(data, off)
	binary.LittleEndian.PutUint64(data[off:], value)
}

func checkWord(data []byte, off int) {
	if off < 0 || off > len(data)-WordSize {
		panic(fmt.Sprintf("arena: word access at offset %d is outside the arena [0, %d)", off, len(data)))
	}
}
