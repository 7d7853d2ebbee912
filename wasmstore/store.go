package wasmstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/errors"
)

// Store is an ffibridge.Store backed by wazero linear memory.
// It is safe for concurrent use.
type Store struct {
	runtime wazero.Runtime
	module  api.Module
	mem     api.Memory
	alloc   *ffibridge.FreeList
	cfg     Config
	mu      sync.Mutex
	closed  bool
}

var (
	_ ffibridge.Store       = (*Store)(nil)
	_ ffibridge.MemorySizer = (*Store)(nil)
)

// New creates a store with default configuration.
func New(ctx context.Context) (*Store, error) {
	return NewWithConfig(ctx, nil)
}

// NewWithConfig creates a store with custom configuration.
func NewWithConfig(ctx context.Context, cfg *Config) (*Store, error) {
	c := cfg.withDefaults()
	if c.MemoryLimitPages > MaxPages {
		return nil, fmt.Errorf("memory limit %d pages exceeds %d", c.MemoryLimitPages, MaxPages)
	}
	if c.InitialPages > c.MemoryLimitPages {
		return nil, fmt.Errorf("initial pages %d exceed limit %d", c.InitialPages, c.MemoryLimitPages)
	}

	runtimeCfg := wazero.NewRuntimeConfig().WithMemoryLimitPages(c.MemoryLimitPages)
	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	compiled, err := r.CompileModule(ctx, memoryModule(c.InitialPages))
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("compile memory module: %w", err), r.Close(ctx))
	}
	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("ffibridge-heap"))
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("instantiate memory module: %w", err), r.Close(ctx))
	}
	mem := mod.ExportedMemory(MemoryExport)
	if mem == nil {
		return nil, multierr.Append(fmt.Errorf("module does not export %q", MemoryExport), r.Close(ctx))
	}

	s := &Store{
		runtime: r,
		module:  mod,
		mem:     mem,
		cfg:     c,
	}
	s.alloc = ffibridge.NewFreeList(mem.Size(), s.grow)

	Logger().Debug("wasm store created",
		zap.Uint32("pages", c.InitialPages),
		zap.Uint32("limit_pages", c.MemoryLimitPages))
	return s, nil
}

// grow extends memory by whole pages until it holds minLimit bytes.
func (s *Store) grow(minLimit uint32) (uint32, bool) {
	size := s.mem.Size()
	delta := (uint64(minLimit) - uint64(size) + PageSize - 1) / PageSize
	if delta == 0 {
		return size, true
	}
	prev, ok := s.mem.Grow(uint32(delta))
	if !ok {
		Logger().Warn("wasm store memory exhausted",
			zap.Uint32("size", size),
			zap.Uint32("requested", minLimit),
			zap.Uint32("limit_pages", s.cfg.MemoryLimitPages))
		return 0, false
	}
	Logger().Debug("wasm store grew",
		zap.Uint32("from_pages", prev),
		zap.Uint64("delta_pages", delta))
	return s.mem.Size(), true
}

// Read returns a view of linear memory. The view is invalidated when memory
// grows.
func (s *Store) Read(offset, length uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.Closed(errors.PhaseStore, "wasm store")
	}
	data, ok := s.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(offset, length, s.mem.Size())
	}
	return data, nil
}

func (s *Store) Write(offset uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Closed(errors.PhaseStore, "wasm store")
	}
	if !s.mem.Write(offset, data) {
		return errors.OutOfBounds(offset, uint32(len(data)), s.mem.Size())
	}
	return nil
}

// Size returns the current memory size in bytes.
func (s *Store) Size() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}
	return s.mem.Size()
}

// Pages returns the current memory size in pages.
func (s *Store) Pages() uint32 {
	return s.Size() / PageSize
}

// InUse returns the number of allocated payload bytes.
func (s *Store) InUse() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alloc.InUse()
}

func (s *Store) Alloc(size, align uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.Closed(errors.PhaseStore, "wasm store")
	}
	ptr, err := s.alloc.Alloc(size, align)
	if err != nil {
		return 0, errors.AllocationFailed(size, align, err)
	}
	return ptr, nil
}

func (s *Store) Free(ptr, size, align uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.alloc.Free(ptr, size, align)
}

// Close releases the module and the wazero runtime.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return multierr.Append(s.module.Close(ctx), s.runtime.Close(ctx))
}
