package wasmstore

const (
	// PageSize is the size of a WebAssembly memory page.
	PageSize = 65536

	// MaxPages is the largest memory whose size in bytes fits in uint32.
	MaxPages = 65535

	// DefaultInitialPages is the memory size a store starts with.
	DefaultInitialPages = 1

	// DefaultMemoryLimitPages caps a store at 16MB.
	DefaultMemoryLimitPages = 256
)

// Config holds configuration for store creation
type Config struct {
	// InitialPages sets the starting memory size in pages (64KB each).
	// 0 means DefaultInitialPages.
	InitialPages uint32

	// MemoryLimitPages sets the maximum memory size in pages.
	// 0 means DefaultMemoryLimitPages.
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32
}

func (c *Config) withDefaults() Config {
	var out Config
	if c != nil {
		out = *c
	}
	if out.InitialPages == 0 {
		out.InitialPages = DefaultInitialPages
	}
	if out.MemoryLimitPages == 0 {
		out.MemoryLimitPages = DefaultMemoryLimitPages
	}
	return out
}
