package heap

import (
	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/errors"
)

const initialStoreSize = 4096

// memStore keeps payloads in a growable Go byte slice.
// The VM serializes access.
type memStore struct {
	alloc *ffibridge.FreeList
	buf   []byte
}

func newMemStore() *memStore {
	s := &memStore{buf: make([]byte, initialStoreSize)}
	s.alloc = ffibridge.NewFreeList(uint32(len(s.buf)), s.grow)
	return s
}

func (s *memStore) grow(minLimit uint32) (uint32, bool) {
	n := uint64(len(s.buf))
	for n < uint64(minLimit) {
		n *= 2
	}
	if n > 1<<32-1 {
		n = 1<<32 - 1
	}
	buf := make([]byte, n)
	copy(buf, s.buf)
	s.buf = buf
	return uint32(n), true
}

// Read returns a view of the payload bytes. The view is invalidated by the
// next allocation.
func (s *memStore) Read(offset, length uint32) ([]byte, error) {
	end := uint64(offset) + uint64(length)
	if end > uint64(len(s.buf)) {
		return nil, errors.OutOfBounds(offset, length, uint32(len(s.buf)))
	}
	return s.buf[offset:end], nil
}

func (s *memStore) Write(offset uint32, data []byte) error {
	end := uint64(offset) + uint64(len(data))
	if end > uint64(len(s.buf)) {
		return errors.OutOfBounds(offset, uint32(len(data)), uint32(len(s.buf)))
	}
	copy(s.buf[offset:], data)
	return nil
}

func (s *memStore) Size() uint32 {
	return uint32(len(s.buf))
}

func (s *memStore) Alloc(size, align uint32) (uint32, error) {
	return s.alloc.Alloc(size, align)
}

func (s *memStore) Free(ptr, size, align uint32) {
	s.alloc.Free(ptr, size, align)
}

var _ ffibridge.Store = (*memStore)(nil)
var _ ffibridge.MemorySizer = (*memStore)(nil)
