package main

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	ffibridge "github.com/wippyai/ffi-bridge"
	"github.com/wippyai/ffi-bridge/handle"
	"github.com/wippyai/ffi-bridge/heap"
	"github.com/wippyai/ffi-bridge/wasmstore"
)

type options struct {
	store        string
	bridges      int
	rounds       int
	limitPages   uint32
	checkThreads bool
}

type report struct {
	started    time.Time
	elapsed    time.Duration
	leaks      error
	violations []error
	stats      heap.Stats
	storeSize  uint32
	delivered  int64
	crossed    int64
	roundTrips int64
	bridges    int
	rounds     int
	store      string
}

// Clean reports whether the run finished without leaks or violations.
func (r *report) Clean() bool {
	return r.leaks == nil && len(r.violations) == 0 && r.stats.Globals == 0
}

// progressFunc is called after each bridge finishes a round.
type progressFunc func(done, total int)

type counters struct {
	delivered  atomic.Int64
	crossed    atomic.Int64
	roundTrips atomic.Int64
	done       atomic.Int64
}

// runScenario drives opts.bridges bridges, each on its own locked OS thread.
// Every bridge completes and closes its neighbour's callback, and closes its
// neighbour's class reference, so all releases happen on a foreign thread.
func runScenario(ctx context.Context, opts options, progress progressFunc) (*report, error) {
	if opts.bridges < 2 {
		return nil, fmt.Errorf("need at least 2 bridges, got %d", opts.bridges)
	}
	if opts.rounds < 1 {
		opts.rounds = 1
	}

	cfg := &heap.Config{CheckThreads: opts.checkThreads}
	var store *wasmstore.Store
	switch opts.store {
	case "go":
	case "wasm":
		var err error
		store, err = wasmstore.NewWithConfig(ctx, &wasmstore.Config{MemoryLimitPages: opts.limitPages})
		if err != nil {
			return nil, fmt.Errorf("create wasm store: %w", err)
		}
		cfg.Store = store
	default:
		return nil, fmt.Errorf("unknown store %q (want go or wasm)", opts.store)
	}

	vm := heap.NewWithConfig(cfg)
	rep := &report{
		started: time.Now(),
		bridges: opts.bridges,
		rounds:  opts.rounds,
		store:   opts.store,
	}

	var c counters
	total := opts.bridges * opts.rounds
	var runErr error
	for round := 0; round < opts.rounds && runErr == nil; round++ {
		if runErr = ctx.Err(); runErr != nil {
			break
		}
		runErr = runRound(vm, opts.bridges, &c, func() {
			if progress != nil {
				progress(int(c.done.Add(1)), total)
			}
		})
	}

	rep.elapsed = time.Since(rep.started)
	rep.stats = vm.Stats()
	rep.violations = vm.Violations()
	if store != nil {
		rep.storeSize = store.Size()
	}
	rep.leaks = vm.Close()
	if store != nil {
		runErr = multierr.Append(runErr, store.Close(ctx))
	}
	rep.delivered = c.delivered.Load()
	rep.crossed = c.crossed.Load()
	rep.roundTrips = c.roundTrips.Load()
	return rep, runErr
}

type slot struct {
	registry *handle.Registry[string]
	class    *handle.ClassRef
	token    handle.Token
	thread   ffibridge.ThreadID
}

func runRound(vm *heap.VM, n int, c *counters, step func()) error {
	slots := make([]slot, n)
	var ready sync.WaitGroup
	var failed atomic.Bool
	ready.Add(n)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()

			err := setupBridge(vm, i, &slots[i], c)
			if err != nil {
				failed.Store(true)
			}
			ready.Done()
			ready.Wait()

			if err == nil && !failed.Load() {
				peer := &slots[(i+1)%n]
				if peer.registry.Complete(peer.token, fmt.Sprintf("from bridge %d", i)) {
					c.crossed.Add(1)
				}
				peer.class.Close()
			} else {
				// No bridge will reach across, so release our own globals
				// while this thread is still attached.
				releaseSlot(&slots[i])
			}

			if env, ok := vm.Env(slots[i].thread); ok {
				env.EndCall()
			}
			step()
			return multierr.Append(err, vm.Detach(slots[i].thread))
		})
	}
	return g.Wait()
}

func releaseSlot(s *slot) {
	if s.registry != nil {
		s.registry.Close()
	}
	if s.class != nil {
		s.class.Close()
	}
}

// afterSetup runs at the end of each successful bridge setup.
var afterSetup = func(int) error { return nil }

// setupBridge runs on the bridge's own thread. It exercises the scoped
// accessors and leaves a pending callback and a class reference for the
// neighbouring bridge to release.
func setupBridge(vm *heap.VM, i int, s *slot, c *counters) error {
	resolved, err := ffibridge.Current(vm)
	if err != nil {
		return fmt.Errorf("bridge %d: %w", i, err)
	}
	env := resolved.(*heap.Env)
	s.thread = env.Thread()

	text := fmt.Sprintf("bridge-%03d", i)
	local := handle.NewString(env, append([]byte(text), 0))
	err = handle.WithString(env, local.Ref(), func(h *handle.String) error {
		if h.String() != text {
			return fmt.Errorf("bridge %d: round trip got %q", i, h.String())
		}
		return nil
	})
	local.Close()
	if err != nil {
		return err
	}

	fromBytes := handle.NewStringFromBytes(env, []byte(text))
	fromBytes.Close()

	arr := env.NewByteArray([]byte(text))
	err = handle.WithByteArray(env, arr, func(a *handle.ByteArray) error {
		if string(a.Bytes()) != text {
			return fmt.Errorf("bridge %d: byte array got %q", i, a.Bytes())
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.roundTrips.Add(1)

	class := env.DefineClass("refstress/Callback")
	s.class = handle.NewClassRef(vm, env.NewGlobalRef(class))

	obj := env.NewObject(class, i)
	cb := handle.NewCallback(vm, func(env ffibridge.Env, callback ffibridge.Ref, result string) {
		if owner, ok := env.(*heap.Env).Object(callback); ok && owner == i {
			c.delivered.Add(1)
		}
	}, obj)
	if cb.Inert() {
		return fmt.Errorf("bridge %d: callback is inert", i)
	}
	s.registry = handle.NewRegistry[string]()
	s.token = s.registry.Register(cb)
	return afterSetup(i)
}
