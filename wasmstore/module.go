package wasmstore

// MemoryExport is the name under which the payload memory is exported.
const MemoryExport = "memory"

// memoryModule encodes a module with one memory of minPages pages, exported
// as MemoryExport, and nothing else.
func memoryModule(minPages uint32) []byte {
	limits := appendULEB128([]byte{0x00}, minPages)

	mod := []byte{
		0x00, 0x61, 0x73, 0x6d, // \0asm
		0x01, 0x00, 0x00, 0x00, // version 1
	}

	// memory section: one memory, min only
	mod = append(mod, 0x05)
	mod = appendULEB128(mod, uint32(1+len(limits)))
	mod = append(mod, 0x01)
	mod = append(mod, limits...)

	// export section: "memory" -> memory 0
	export := []byte{0x01}
	export = appendULEB128(export, uint32(len(MemoryExport)))
	export = append(export, MemoryExport...)
	export = append(export, 0x02, 0x00)
	mod = append(mod, 0x07)
	mod = appendULEB128(mod, uint32(len(export)))
	return append(mod, export...)
}

func appendULEB128(buf []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		buf = append(buf, b)
		if v == 0 {
			return buf
		}
	}
}
