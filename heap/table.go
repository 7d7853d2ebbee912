package heap

import (
	"math"

	ffibridge "github.com/wippyai/ffi-bridge"
)

// Reference layout, low to high bits:
//
//	[0:2)   kind tag (1 = local, 2 = global)
//	[2:32)  slot index, 1-based
//	[32:48) slot generation
//	[48:64) owning attachment serial (locals only)
const (
	tagLocal  = 1
	tagGlobal = 2

	maxSlots = 1<<30 - 1
)

func makeRef(tag uint64, owner, gen uint16, index uint32) ffibridge.Ref {
	return ffibridge.Ref(uint64(owner)<<48 | uint64(gen)<<32 | uint64(index)<<2 | tag)
}

func splitRef(r ffibridge.Ref) (tag uint64, owner, gen uint16, index uint32) {
	v := uint64(r)
	return v & 3, uint16(v >> 48), uint16(v >> 32), uint32(v>>2) & maxSlots
}

// KindOf reports whether r is a local or global reference issued by a VM.
func KindOf(r ffibridge.Ref) ffibridge.RefKind {
	switch tag, _, _, index := splitRef(r); {
	case index == 0:
		return ffibridge.InvalidRef
	case tag == tagLocal:
		return ffibridge.LocalRef
	case tag == tagGlobal:
		return ffibridge.GlobalRef
	default:
		return ffibridge.InvalidRef
	}
}

type slotState uint8

const (
	slotLive slotState = iota
	slotReleased
	slotStale
)

type slot[T any] struct {
	value T
	gen   uint16
	valid bool
}

// slotTable stores values behind 1-based indexes with a free list.
// Index 0 is reserved and always invalid. Reused slots get a new generation
// so references to the previous occupant are detected as stale.
// Callers provide synchronization.
type slotTable[T any] struct {
	slots    []slot[T]
	freeList []uint32
	live     int
}

func (t *slotTable[T]) insert(v T) (uint32, uint16, bool) {
	if len(t.freeList) > 0 {
		idx := t.freeList[len(t.freeList)-1]
		t.freeList = t.freeList[:len(t.freeList)-1]
		s := &t.slots[idx-1]
		s.gen++
		s.value = v
		s.valid = true
		t.live++
		return idx, s.gen, true
	}

	if len(t.slots) >= maxSlots {
		return 0, 0, false
	}
	t.slots = append(t.slots, slot[T]{value: v, gen: 1, valid: true})
	t.live++
	return uint32(len(t.slots)), 1, true
}

// lookup returns the live value at idx if gen matches.
// A gen of 0 skips the generation check.
func (t *slotTable[T]) lookup(idx uint32, gen uint16) (*T, slotState) {
	if idx == 0 || int(idx) > len(t.slots) {
		return nil, slotStale
	}
	s := &t.slots[idx-1]
	if gen != 0 && s.gen != gen {
		return nil, slotStale
	}
	if !s.valid {
		return nil, slotReleased
	}
	return &s.value, slotLive
}

func (t *slotTable[T]) remove(idx uint32) (T, bool) {
	var zero T
	if idx == 0 || int(idx) > len(t.slots) {
		return zero, false
	}
	s := &t.slots[idx-1]
	if !s.valid {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.valid = false
	t.live--
	// A slot whose generation is exhausted is retired rather than reused,
	// so an old reference can never match a later occupant.
	if s.gen < math.MaxUint16 {
		t.freeList = append(t.freeList, idx)
	}
	return v, true
}

func (t *slotTable[T]) len() int {
	return t.live
}

// each iterates over live slots until fn returns false.
func (t *slotTable[T]) each(fn func(idx uint32, gen uint16, v *T) bool) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.valid {
			if !fn(uint32(i+1), s.gen, &s.value) {
				return
			}
		}
	}
}

func (t *slotTable[T]) reset() {
	t.slots = nil
	t.freeList = nil
	t.live = 0
}
