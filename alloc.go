package ffibridge

import (
	"errors"
	"sort"
)

// ErrOutOfMemory is returned by FreeList.Alloc when the range cannot grow.
var ErrOutOfMemory = errors.New("out of payload memory")

// firstOffset keeps offset 0 free so it can stand for "no payload".
const firstOffset = 8

type span struct {
	off, size uint32
}

// FreeList is a first-fit allocator over a linear address range.
// It is not safe for concurrent use.
type FreeList struct {
	grow  func(minLimit uint32) (uint32, bool)
	spans []span
	end   uint32
	limit uint32
	inUse uint32
}

// NewFreeList creates an allocator over [0, limit). grow is called when an
// allocation does not fit; it returns the new limit, or false if the range
// cannot be extended. grow may be nil.
func NewFreeList(limit uint32, grow func(minLimit uint32) (uint32, bool)) *FreeList {
	return &FreeList{
		grow:  grow,
		end:   firstOffset,
		limit: limit,
	}
}

// Alloc reserves size bytes aligned to align and returns the offset.
// align must be a power of two.
func (f *FreeList) Alloc(size, align uint32) (uint32, error) {
	if size == 0 {
		size = 1
	}
	if align == 0 {
		align = 1
	}

	for i, s := range f.spans {
		start := alignUp(s.off, align)
		if uint64(start)+uint64(size) > uint64(s.off)+uint64(s.size) {
			continue
		}
		var rest []span
		if start > s.off {
			rest = append(rest, span{s.off, start - s.off})
		}
		if tail := s.off + s.size - (start + size); tail > 0 {
			rest = append(rest, span{start + size, tail})
		}
		f.spans = append(f.spans[:i], append(rest, f.spans[i+1:]...)...)
		f.inUse += size
		return start, nil
	}

	start := alignUp(f.end, align)
	need := uint64(start) + uint64(size)
	if need > 1<<32-1 {
		return 0, ErrOutOfMemory
	}
	if uint32(need) > f.limit {
		if f.grow == nil {
			return 0, ErrOutOfMemory
		}
		limit, ok := f.grow(uint32(need))
		if !ok || limit < uint32(need) {
			return 0, ErrOutOfMemory
		}
		f.limit = limit
	}
	if start > f.end {
		f.insert(span{f.end, start - f.end})
	}
	f.end = uint32(need)
	f.inUse += size
	return start, nil
}

// Free returns a block obtained from Alloc. Freeing offset 0 is a no-op.
func (f *FreeList) Free(ptr, size, _ uint32) {
	if ptr == 0 {
		return
	}
	if size == 0 {
		size = 1
	}
	f.inUse -= size
	f.insert(span{ptr, size})

	// Give the tail back to the bump region.
	for len(f.spans) > 0 {
		last := f.spans[len(f.spans)-1]
		if last.off+last.size != f.end {
			break
		}
		f.end = last.off
		f.spans = f.spans[:len(f.spans)-1]
	}
}

// InUse returns the number of allocated bytes.
func (f *FreeList) InUse() uint32 {
	return f.inUse
}

// Limit returns the current size of the managed range.
func (f *FreeList) Limit() uint32 {
	return f.limit
}

func (f *FreeList) insert(s span) {
	i := sort.Search(len(f.spans), func(i int) bool { return f.spans[i].off > s.off })
	f.spans = append(f.spans, span{})
	copy(f.spans[i+1:], f.spans[i:])
	f.spans[i] = s

	if i+1 < len(f.spans) && f.spans[i].off+f.spans[i].size == f.spans[i+1].off {
		f.spans[i].size += f.spans[i+1].size
		f.spans = append(f.spans[:i+1], f.spans[i+2:]...)
	}
	if i > 0 && f.spans[i-1].off+f.spans[i-1].size == f.spans[i].off {
		f.spans[i-1].size += f.spans[i].size
		f.spans = append(f.spans[:i], f.spans[i+1:]...)
	}
}

func alignUp(v, align uint32) uint32 {
	return (v + align - 1) &^ (align - 1)
}
