package ffibridge

// Memory is the linear byte store holding managed object payloads.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
}

// MemorySizer provides the current size of the store in bytes.
type MemorySizer interface {
	Size() uint32
}

// Allocator allocates payload space in Memory. Offset 0 is never returned.
type Allocator interface {
	Alloc(size, align uint32) (uint32, error)
	Free(ptr, size, align uint32)
}

// Store combines Memory and Allocator.
type Store interface {
	Memory
	Allocator
}
