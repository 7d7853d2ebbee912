package heap

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/errors"
)

// VM is an in-process managed runtime. It is safe for concurrent use; every
// operation runs under a single lock.
type VM struct {
	store      ffibridge.Store
	envs       map[ffibridge.ThreadID]*Env
	classes    map[string]uint32
	serials    map[uint16]struct{}
	observers  []subscription
	violations []error
	objects    slotTable[object]
	globals    slotTable[uint32]
	counters   [eventTypeCount]uint64
	nextObs    uint64
	cfg        Config
	mu         sync.Mutex
	obsMu      sync.RWMutex
	id         uuid.UUID
	serial     uint16
	closed     bool
}

// New creates a VM with default configuration.
func New() *VM {
	return NewWithConfig(nil)
}

// NewWithConfig creates a VM with custom configuration.
func NewWithConfig(cfg *Config) *VM {
	c := cfg.withDefaults()
	vm := &VM{
		cfg:     c,
		store:   c.Store,
		envs:    make(map[ffibridge.ThreadID]*Env),
		classes: make(map[string]uint32),
		serials: make(map[uint16]struct{}),
		id:      uuid.New(),
	}
	Logger().Debug("vm created",
		zap.Stringer("vm", vm.id),
		zap.Int("local_capacity", c.LocalCapacity),
		zap.Bool("check_threads", c.CheckThreads))
	return vm
}

// ID returns the VM's unique identity.
func (vm *VM) ID() uuid.UUID {
	return vm.id
}

// Resolve returns the Env for tid, attaching the thread if needed.
func (vm *VM) Resolve(tid ffibridge.ThreadID) (ffibridge.Env, error) {
	env, err := vm.Attach(tid)
	if err != nil {
		return nil, err
	}
	return env, nil
}

// Attach returns the Env for tid, attaching the thread if needed. Repeated
// calls for the same thread return the same Env.
func (vm *VM) Attach(tid ffibridge.ThreadID) (*Env, error) {
	var env *Env
	var err error
	vm.run(func(tx *txn) {
		if vm.closed {
			err = errors.Closed(errors.PhaseAttach, "vm")
			return
		}
		if existing, ok := vm.envs[tid]; ok {
			env = existing
			return
		}
		if tid == 0 {
			err = errors.EnvUnavailable(tid, nil)
			return
		}

		serial, ok := vm.nextSerial()
		if !ok {
			err = errors.New(errors.PhaseAttach, errors.KindCapacity).
				Thread(tid).
				Detail("all %d attachment serials in use", maxSerials).
				Build()
			return
		}
		env = &Env{
			vm:     vm,
			thread: tid,
			id:     uuid.New(),
			serial: serial,
			pins:   make(map[pinKey]pin),
		}
		vm.envs[tid] = env
		vm.serials[serial] = struct{}{}
		tx.emit(Event{Type: EventAttached, Thread: tid, Attachment: env.id})
	})
	return env, err
}

// Env returns the Env attached to tid without attaching.
func (vm *VM) Env(tid ffibridge.ThreadID) (*Env, bool) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	env, ok := vm.envs[tid]
	return env, ok
}

// Detach drops every local reference of the thread and detaches it.
// Pins still held by the thread are force-released and reported.
func (vm *VM) Detach(tid ffibridge.ThreadID) error {
	var err error
	vm.run(func(tx *txn) {
		env, ok := vm.envs[tid]
		if !ok {
			return
		}
		env.dropLocals(tx)
		if n := len(env.pins); n > 0 {
			err = errors.Leak("pins", n)
			tx.violate(err)
			for key, p := range env.pins {
				delete(env.pins, key)
				vm.unpin(p.object)
			}
		}
		env.detached = true
		delete(vm.envs, tid)
		delete(vm.serials, env.serial)
		tx.emit(Event{Type: EventDetached, Thread: tid, Attachment: env.id})
	})
	return err
}

// Subscribe adds an observer for lifecycle events and returns a function
// that removes it.
func (vm *VM) Subscribe(o Observer) (unsubscribe func()) {
	vm.obsMu.Lock()
	defer vm.obsMu.Unlock()
	vm.nextObs++
	id := vm.nextObs
	vm.observers = append(vm.observers, subscription{id: id, observer: o})

	return func() {
		vm.obsMu.Lock()
		defer vm.obsMu.Unlock()
		for i, sub := range vm.observers {
			if sub.id == id {
				vm.observers = append(vm.observers[:i:i], vm.observers[i+1:]...)
				return
			}
		}
	}
}

// Violations returns the contract violations recorded so far.
func (vm *VM) Violations() []error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	out := make([]error, len(vm.violations))
	copy(out, vm.violations)
	return out
}

// Stats returns a snapshot of VM state.
func (vm *VM) Stats() Stats {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	s := Stats{
		Objects:        vm.objects.len(),
		Globals:        vm.globals.len(),
		Threads:        len(vm.envs),
		Violations:     len(vm.violations),
		GlobalsCreated: vm.counters[EventGlobalCreated],
		GlobalsDeleted: vm.counters[EventGlobalDeleted],
		LocalsCreated:  vm.counters[EventLocalCreated],
		LocalsDeleted:  vm.counters[EventLocalDeleted],
		Pinned:         vm.counters[EventPinned],
		Unpinned:       vm.counters[EventUnpinned],
	}
	for _, env := range vm.envs {
		s.Locals += env.locals.len()
		s.Pins += len(env.pins)
	}
	return s
}

// Close detaches every thread and releases all objects. It reports global
// references and pins that were never released.
func (vm *VM) Close() error {
	var err error
	vm.run(func(tx *txn) {
		if vm.closed {
			return
		}
		vm.closed = true

		if n := vm.globals.len(); n > 0 {
			err = multierr.Append(err, errors.Leak("global references", n))
		}
		pins := 0
		for tid, env := range vm.envs {
			pins += len(env.pins)
			env.detached = true
			env.locals.reset()
			env.pins = nil
			delete(vm.envs, tid)
		}
		if pins > 0 {
			err = multierr.Append(err, errors.Leak("pins", pins))
		}

		vm.objects.each(func(_ uint32, _ uint16, obj *object) bool {
			if obj.ptr != 0 {
				vm.store.Free(obj.ptr, obj.size, 2)
			}
			return true
		})
		vm.objects.reset()
		vm.globals.reset()
		vm.classes = nil
		vm.serials = nil
	})

	if err != nil {
		Logger().Warn("vm closed with outstanding references",
			zap.Stringer("vm", vm.id),
			zap.Error(err))
	}
	return err
}

// maxSerials is the number of distinct attachment serials. Zero is never used.
const maxSerials = 1<<16 - 1

// nextSerial returns the next serial not held by a live attachment. Serials
// are handed out in rotation, so a detached thread's serial is reused only
// after every other serial has been issued since.
func (vm *VM) nextSerial() (uint16, bool) {
	for i := 0; i < maxSerials; i++ {
		vm.serial++
		if vm.serial == 0 {
			vm.serial = 1
		}
		if _, used := vm.serials[vm.serial]; !used {
			return vm.serial, true
		}
	}
	return 0, false
}

type subscription struct {
	observer Observer
	id       uint64
}

// txn collects events and violations produced while the VM lock is held.
type txn struct {
	vm     *VM
	events []Event
}

func (tx *txn) emit(e Event) {
	tx.vm.counters[e.Type]++
	tx.events = append(tx.events, e)
}

func (tx *txn) violate(err error) {
	tx.vm.violations = append(tx.vm.violations, err)
	tx.emit(Event{Type: EventViolation, Err: err})
}

// run executes fn under the VM lock, then logs violations and notifies
// observers outside the lock.
func (vm *VM) run(fn func(tx *txn)) {
	tx := txn{vm: vm}
	vm.mu.Lock()
	fn(&tx)
	vm.mu.Unlock()

	if len(tx.events) == 0 {
		return
	}
	for _, e := range tx.events {
		if e.Type == EventViolation {
			Logger().Warn("contract violation",
				zap.Stringer("vm", vm.id),
				zap.Error(e.Err))
		}
	}

	vm.obsMu.RLock()
	observers := vm.observers
	vm.obsMu.RUnlock()
	for _, e := range tx.events {
		for _, sub := range observers {
			sub.observer.OnEvent(e)
		}
	}
}

// newObject stores a payload and returns the new object index.
func (vm *VM) newObject(kind objectKind, name string, payload []byte, value any) (uint32, error) {
	obj := object{kind: kind, name: name, value: value}
	if len(payload) > 0 {
		ptr, err := vm.store.Alloc(uint32(len(payload)), 2)
		if err != nil {
			return 0, errors.AllocationFailed(uint32(len(payload)), 2, err)
		}
		if err := vm.store.Write(ptr, payload); err != nil {
			vm.store.Free(ptr, uint32(len(payload)), 2)
			return 0, errors.Wrap(errors.PhaseStore, errors.KindOutOfBounds, err, "write payload")
		}
		obj.ptr = ptr
		obj.size = uint32(len(payload))
	}

	idx, _, ok := vm.objects.insert(obj)
	if !ok {
		if obj.ptr != 0 {
			vm.store.Free(obj.ptr, obj.size, 2)
		}
		return 0, errors.AllocationFailed(0, 0, nil)
	}
	return idx, nil
}

// payload returns a copy of the object's payload bytes.
func (vm *VM) payload(obj *object) ([]byte, error) {
	if obj.size == 0 {
		return nil, nil
	}
	view, err := vm.store.Read(obj.ptr, obj.size)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

func (vm *VM) stringValue(obj *object) (string, error) {
	data, err := vm.payload(obj)
	if err != nil {
		return "", err
	}
	return decodeUTF16(data)
}

func (vm *VM) addRef(idx uint32) {
	if obj, state := vm.objects.lookup(idx, 0); state == slotLive {
		obj.refs++
	}
}

func (vm *VM) dropRef(idx uint32) {
	if obj, state := vm.objects.lookup(idx, 0); state == slotLive {
		obj.refs--
		vm.collect(idx, obj)
	}
}

func (vm *VM) unpin(idx uint32) {
	if obj, state := vm.objects.lookup(idx, 0); state == slotLive {
		obj.pins--
		vm.collect(idx, obj)
	}
}

// collect frees an object once nothing references or pins it.
func (vm *VM) collect(idx uint32, obj *object) {
	if obj.refs > 0 || obj.pins > 0 || obj.permanent {
		return
	}
	if obj.ptr != 0 {
		vm.store.Free(obj.ptr, obj.size, 2)
	}
	vm.objects.remove(idx)
}
