package heap

import (
	"unsafe"

	"github.com/google/uuid"

	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/errors"
)

type pinKey = unsafe.Pointer

type pin struct {
	ref    ffibridge.Ref
	object uint32
	kind   objectKind
}

// Env is the per-thread view of a VM. It implements ffibridge.Env.
// An Env must only be used from the thread it was attached to.
type Env struct {
	vm       *VM
	pins     map[pinKey]pin
	locals   slotTable[uint32]
	thread   ffibridge.ThreadID
	id       uuid.UUID
	serial   uint16
	detached bool
}

var _ ffibridge.Env = (*Env)(nil)

// Thread returns the thread this Env is attached to.
func (e *Env) Thread() ffibridge.ThreadID {
	return e.thread
}

// Attachment returns the identity of this attachment.
func (e *Env) Attachment() uuid.UUID {
	return e.id
}

// VM returns the runtime this Env belongs to.
func (e *Env) VM() *VM {
	return e.vm
}

// AcquireStringData returns the string's text as NUL-terminated UTF-8.
func (e *Env) AcquireStringData(s ffibridge.Ref) []byte {
	var chars []byte
	e.vm.run(func(tx *txn) {
		idx, obj, ok := e.deref(tx, errors.PhaseAcquire, s, kindString)
		if !ok {
			return
		}
		text, err := e.vm.stringValue(obj)
		if err != nil {
			tx.violate(errors.Wrap(errors.PhaseAcquire, errors.KindOutOfBounds, err, "read string payload"))
			return
		}
		chars = make([]byte, len(text)+1)
		copy(chars, text)
		e.pin(tx, unsafe.Pointer(unsafe.SliceData(chars)), pin{ref: s, object: idx, kind: kindString}, obj)
	})
	return chars
}

// ReleaseStringData releases text obtained from AcquireStringData.
func (e *Env) ReleaseStringData(s ffibridge.Ref, chars []byte) {
	e.vm.run(func(tx *txn) {
		if !e.enter(tx, errors.PhaseRelease) {
			return
		}
		if cap(chars) == 0 {
			tx.violate(errors.BufferMismatch(s))
			return
		}
		e.unpin(tx, s, unsafe.Pointer(unsafe.SliceData(chars)), kindString)
	})
}

// AcquireBufferData returns a copy of the byte array's elements.
func (e *Env) AcquireBufferData(a ffibridge.Ref) []int8 {
	var elems []int8
	e.vm.run(func(tx *txn) {
		idx, obj, ok := e.deref(tx, errors.PhaseAcquire, a, kindByteArray)
		if !ok {
			return
		}
		data, err := e.vm.payload(obj)
		if err != nil {
			tx.violate(errors.Wrap(errors.PhaseAcquire, errors.KindOutOfBounds, err, "read array payload"))
			return
		}
		// Keep capacity non-zero so empty arrays still have an identity.
		elems = make([]int8, len(data), max(len(data), 1))
		for i, b := range data {
			elems[i] = int8(b)
		}
		e.pin(tx, unsafe.Pointer(unsafe.SliceData(elems)), pin{ref: a, object: idx, kind: kindByteArray}, obj)
	})
	return elems
}

// ReleaseBufferData releases elements obtained from AcquireBufferData.
// ReleaseCommit and ReleaseKeep write the elements back into the array.
// ReleaseKeep leaves the pin in place.
func (e *Env) ReleaseBufferData(a ffibridge.Ref, elems []int8, mode ffibridge.ReleaseMode) {
	e.vm.run(func(tx *txn) {
		if !e.enter(tx, errors.PhaseRelease) {
			return
		}
		if cap(elems) == 0 {
			tx.violate(errors.BufferMismatch(a))
			return
		}
		key := unsafe.Pointer(unsafe.SliceData(elems))
		p, ok := e.pins[key]
		if !ok || p.kind != kindByteArray || !e.sameObject(p, a) {
			tx.violate(errors.BufferMismatch(a))
			return
		}

		if mode == ffibridge.ReleaseCommit || mode == ffibridge.ReleaseKeep {
			if obj, state := e.vm.objects.lookup(p.object, 0); state == slotLive {
				n := min(len(elems), int(obj.size))
				data := make([]byte, n)
				for i := range data {
					data[i] = byte(elems[i])
				}
				if err := e.vm.store.Write(obj.ptr, data); err != nil {
					tx.violate(errors.Wrap(errors.PhaseRelease, errors.KindOutOfBounds, err, "write back array"))
				}
			}
		}
		if mode == ffibridge.ReleaseKeep {
			return
		}
		e.unpin(tx, a, key, kindByteArray)
	})
}

// NewString creates a local string from native text. Text ends at the first
// NUL; bytes that are not valid UTF-8 become U+FFFD. A nil slice yields
// NullRef. NullRef is also returned when the frame is full or the payload
// cannot be allocated.
func (e *Env) NewString(cstr []byte) ffibridge.Ref {
	if cstr == nil {
		return ffibridge.NullRef
	}
	var ref ffibridge.Ref
	e.vm.run(func(tx *txn) {
		if !e.enter(tx, errors.PhaseReference) {
			return
		}
		units, err := encodeUTF16(nativeText(cstr))
		if err != nil {
			tx.violate(errors.Wrap(errors.PhaseReference, errors.KindAllocation, err, "encode string"))
			return
		}
		ref = e.newLocalObject(tx, kindString, "", units, nil)
	})
	return ref
}

// NewGlobalRef promotes r to a global reference.
func (e *Env) NewGlobalRef(r ffibridge.Ref) ffibridge.Ref {
	var ref ffibridge.Ref
	e.vm.run(func(tx *txn) {
		idx, obj, ok := e.deref(tx, errors.PhaseReference, r, 0)
		if !ok {
			return
		}
		slot, gen, ok := e.vm.globals.insert(idx)
		if !ok {
			tx.violate(errors.New(errors.PhaseReference, errors.KindCapacity).Detail("global table full").Build())
			return
		}
		obj.refs++
		ref = makeRef(tagGlobal, 0, gen, slot)
		tx.emit(Event{Type: EventGlobalCreated, Ref: ref, Thread: e.thread, Attachment: e.id})
	})
	return ref
}

// DeleteGlobalRef releases a global reference. Deleting NullRef is a no-op.
func (e *Env) DeleteGlobalRef(r ffibridge.Ref) {
	if r == ffibridge.NullRef {
		return
	}
	e.vm.run(func(tx *txn) {
		if !e.enter(tx, errors.PhaseRelease) {
			return
		}
		tag, _, gen, slot := splitRef(r)
		if tag != tagGlobal {
			tx.violate(errors.WrongKind(errors.PhaseRelease, r, "global reference", KindOf(r).String()+" reference"))
			return
		}
		idx, state := e.vm.globals.lookup(slot, gen)
		switch state {
		case slotReleased:
			tx.violate(errors.DoubleRelease(r, "global reference"))
			return
		case slotStale:
			tx.violate(errors.InvalidRef(errors.PhaseRelease, r, "stale global reference"))
			return
		}
		objIdx := *idx
		e.vm.globals.remove(slot)
		e.vm.dropRef(objIdx)
		tx.emit(Event{Type: EventGlobalDeleted, Ref: r, Thread: e.thread, Attachment: e.id})
	})
}

// DeleteLocalRef releases a local reference owned by this Env.
// Deleting NullRef is a no-op.
func (e *Env) DeleteLocalRef(r ffibridge.Ref) {
	if r == ffibridge.NullRef {
		return
	}
	e.vm.run(func(tx *txn) {
		if !e.enter(tx, errors.PhaseRelease) {
			return
		}
		tag, owner, gen, slot := splitRef(r)
		if tag != tagLocal {
			tx.violate(errors.WrongKind(errors.PhaseRelease, r, "local reference", KindOf(r).String()+" reference"))
			return
		}
		if owner != e.serial {
			tx.violate(errors.InvalidRef(errors.PhaseRelease, r, "local reference belongs to another thread"))
			return
		}
		idx, state := e.locals.lookup(slot, gen)
		switch state {
		case slotReleased:
			tx.violate(errors.DoubleRelease(r, "local reference"))
			return
		case slotStale:
			tx.violate(errors.InvalidRef(errors.PhaseRelease, r, "stale local reference"))
			return
		}
		objIdx := *idx
		e.locals.remove(slot)
		e.vm.dropRef(objIdx)
		tx.emit(Event{Type: EventLocalDeleted, Ref: r, Thread: e.thread, Attachment: e.id})
	})
}

// EndCall drops every local reference, as returning to the runtime does.
// Pins must be released before the call ends; any left over are reported.
func (e *Env) EndCall() {
	e.vm.run(func(tx *txn) {
		if !e.enter(tx, errors.PhaseRelease) {
			return
		}
		e.dropLocals(tx)
		if n := len(e.pins); n > 0 {
			tx.violate(errors.New(errors.PhaseRelease, errors.KindLeak).
				Thread(e.thread).
				Detail("%d pins outlive the call", n).
				Build())
		}
	})
}

// LocalCount returns the number of live local references.
func (e *Env) LocalCount() int {
	e.vm.mu.Lock()
	defer e.vm.mu.Unlock()
	return e.locals.len()
}

// NewByteArray creates a local byte array holding a copy of data.
func (e *Env) NewByteArray(data []byte) ffibridge.Ref {
	var ref ffibridge.Ref
	e.vm.run(func(tx *txn) {
		if !e.enter(tx, errors.PhaseReference) {
			return
		}
		ref = e.newLocalObject(tx, kindByteArray, "", data, nil)
	})
	return ref
}

// DefineClass returns a local reference to the class with the given name,
// loading it on first use. Loaded classes are never collected.
func (e *Env) DefineClass(name string) ffibridge.Ref {
	var ref ffibridge.Ref
	e.vm.run(func(tx *txn) {
		if !e.enter(tx, errors.PhaseReference) {
			return
		}
		idx, ok := e.vm.classes[name]
		if !ok {
			var err error
			idx, err = e.vm.newObject(kindClass, name, nil, nil)
			if err != nil {
				tx.violate(err)
				return
			}
			obj, _ := e.vm.objects.lookup(idx, 0)
			obj.permanent = true
			e.vm.classes[name] = idx
		}
		ref = e.newLocal(tx, idx)
	})
	return ref
}

// NewObject creates a local reference to a new instance of class. value is
// the Go state carried by the instance; Object returns it.
func (e *Env) NewObject(class ffibridge.Ref, value any) ffibridge.Ref {
	var ref ffibridge.Ref
	e.vm.run(func(tx *txn) {
		_, cls, ok := e.deref(tx, errors.PhaseReference, class, kindClass)
		if !ok {
			return
		}
		ref = e.newLocalObject(tx, kindObject, cls.name, nil, value)
	})
	return ref
}

// Object returns the Go state of an object created by NewObject.
func (e *Env) Object(r ffibridge.Ref) (any, bool) {
	var value any
	var found bool
	e.vm.run(func(tx *txn) {
		_, obj, ok := e.deref(tx, errors.PhaseAcquire, r, kindObject)
		if !ok {
			return
		}
		value, found = obj.value, true
	})
	return value, found
}

// ClassName returns the class name of a class or object reference.
func (e *Env) ClassName(r ffibridge.Ref) (string, bool) {
	var name string
	var found bool
	e.vm.run(func(tx *txn) {
		_, obj, ok := e.deref(tx, errors.PhaseAcquire, r, 0)
		if !ok || (obj.kind != kindClass && obj.kind != kindObject) {
			return
		}
		name, found = obj.name, true
	})
	return name, found
}

// StringValue returns the contents of a string reference.
func (e *Env) StringValue(r ffibridge.Ref) (string, bool) {
	var text string
	var found bool
	e.vm.run(func(tx *txn) {
		_, obj, ok := e.deref(tx, errors.PhaseAcquire, r, kindString)
		if !ok {
			return
		}
		s, err := e.vm.stringValue(obj)
		if err != nil {
			tx.violate(errors.Wrap(errors.PhaseAcquire, errors.KindOutOfBounds, err, "read string payload"))
			return
		}
		text, found = s, true
	})
	return text, found
}

// StringLength returns the length of a string in UTF-16 code units.
func (e *Env) StringLength(r ffibridge.Ref) int {
	n := -1
	e.vm.run(func(tx *txn) {
		if _, obj, ok := e.deref(tx, errors.PhaseAcquire, r, kindString); ok {
			n = int(obj.size / 2)
		}
	})
	return n
}

// ByteArrayValue returns a copy of a byte array's contents.
func (e *Env) ByteArrayValue(r ffibridge.Ref) ([]byte, bool) {
	var data []byte
	var found bool
	e.vm.run(func(tx *txn) {
		_, obj, ok := e.deref(tx, errors.PhaseAcquire, r, kindByteArray)
		if !ok {
			return
		}
		b, err := e.vm.payload(obj)
		if err != nil {
			tx.violate(errors.Wrap(errors.PhaseAcquire, errors.KindOutOfBounds, err, "read array payload"))
			return
		}
		if b == nil {
			b = []byte{}
		}
		data, found = b, true
	})
	return data, found
}

// enter checks that the Env may be used by the calling thread.
func (e *Env) enter(tx *txn, phase errors.Phase) bool {
	if e.detached || e.vm.closed {
		tx.violate(errors.New(phase, errors.KindClosed).Thread(e.thread).Detail("env used after detach").Build())
		return false
	}
	if e.vm.cfg.CheckThreads {
		if caller := ffibridge.CurrentThread(); caller != e.thread {
			tx.violate(errors.ThreadMismatch(phase, e.thread, caller))
		}
	}
	return true
}

// deref resolves r to a live object. want of 0 accepts any object kind.
func (e *Env) deref(tx *txn, phase errors.Phase, r ffibridge.Ref, want objectKind) (uint32, *object, bool) {
	if !e.enter(tx, phase) {
		return 0, nil, false
	}
	if r == ffibridge.NullRef {
		tx.violate(errors.InvalidRef(phase, r, "null reference"))
		return 0, nil, false
	}

	tag, owner, gen, slot := splitRef(r)
	var target *uint32
	var state slotState
	switch tag {
	case tagLocal:
		if owner != e.serial {
			tx.violate(errors.InvalidRef(phase, r, "local reference belongs to another thread"))
			return 0, nil, false
		}
		target, state = e.locals.lookup(slot, gen)
	case tagGlobal:
		target, state = e.vm.globals.lookup(slot, gen)
	default:
		tx.violate(errors.InvalidRef(phase, r, "not a reference"))
		return 0, nil, false
	}
	if state != slotLive {
		tx.violate(errors.InvalidRef(phase, r, "reference used after release"))
		return 0, nil, false
	}

	idx := *target
	obj, state := e.vm.objects.lookup(idx, 0)
	if state != slotLive {
		tx.violate(errors.InvalidRef(phase, r, "object collected"))
		return 0, nil, false
	}
	if want != 0 && obj.kind != want {
		tx.violate(errors.WrongKind(phase, r, want.String(), obj.kind.String()))
		return 0, nil, false
	}
	return idx, obj, true
}

// sameObject reports whether r refers to the object recorded in p.
func (e *Env) sameObject(p pin, r ffibridge.Ref) bool {
	if p.ref == r {
		return true
	}
	tag, owner, gen, slot := splitRef(r)
	var target *uint32
	var state slotState
	switch {
	case tag == tagLocal && owner == e.serial:
		target, state = e.locals.lookup(slot, gen)
	case tag == tagGlobal:
		target, state = e.vm.globals.lookup(slot, gen)
	default:
		return false
	}
	return state == slotLive && *target == p.object
}

func (e *Env) pin(tx *txn, key pinKey, p pin, obj *object) {
	e.pins[key] = p
	obj.pins++
	tx.emit(Event{Type: EventPinned, Ref: p.ref, Thread: e.thread, Attachment: e.id})
}

func (e *Env) unpin(tx *txn, r ffibridge.Ref, key pinKey, kind objectKind) {
	p, ok := e.pins[key]
	if !ok || p.kind != kind || !e.sameObject(p, r) {
		tx.violate(errors.BufferMismatch(r))
		return
	}
	delete(e.pins, key)
	e.vm.unpin(p.object)
	tx.emit(Event{Type: EventUnpinned, Ref: r, Thread: e.thread, Attachment: e.id})
}

func (e *Env) newLocal(tx *txn, idx uint32) ffibridge.Ref {
	if e.locals.len() >= e.vm.cfg.LocalCapacity {
		tx.violate(errors.CapacityExceeded(e.thread, e.vm.cfg.LocalCapacity))
		return ffibridge.NullRef
	}
	slot, gen, ok := e.locals.insert(idx)
	if !ok {
		tx.violate(errors.CapacityExceeded(e.thread, e.vm.cfg.LocalCapacity))
		return ffibridge.NullRef
	}
	e.vm.addRef(idx)
	ref := makeRef(tagLocal, e.serial, gen, slot)
	tx.emit(Event{Type: EventLocalCreated, Ref: ref, Thread: e.thread, Attachment: e.id})
	return ref
}

func (e *Env) newLocalObject(tx *txn, kind objectKind, name string, payload []byte, value any) ffibridge.Ref {
	if e.locals.len() >= e.vm.cfg.LocalCapacity {
		tx.violate(errors.CapacityExceeded(e.thread, e.vm.cfg.LocalCapacity))
		return ffibridge.NullRef
	}
	idx, err := e.vm.newObject(kind, name, payload, value)
	if err != nil {
		tx.violate(err)
		return ffibridge.NullRef
	}
	ref := e.newLocal(tx, idx)
	if ref == ffibridge.NullRef {
		obj, _ := e.vm.objects.lookup(idx, 0)
		e.vm.collect(idx, obj)
	}
	return ref
}

func (e *Env) dropLocals(tx *txn) {
	var slots []uint32
	e.locals.each(func(slot uint32, gen uint16, _ *uint32) bool {
		slots = append(slots, slot)
		tx.emit(Event{Type: EventLocalDeleted, Ref: makeRef(tagLocal, e.serial, gen, slot), Thread: e.thread, Attachment: e.id})
		return true
	})
	// Removing slot by slot keeps generations, so stale locals stay detectable.
	for _, slot := range slots {
		if idx, ok := e.locals.remove(slot); ok {
			e.vm.dropRef(idx)
		}
	}
}
