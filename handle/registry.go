package handle

import (
	"sync"
)

// Token identifies a pending operation. Native code carries it in place of a
// pointer; zero is never issued.
type Token uint64

type closer interface {
	Close()
}

// finisher is implemented by sinks that can refuse a result without being
// spent, such as a Callback completed on a thread with no Env.
type finisher interface {
	Done() bool
}

// Registry holds the sinks of pending native operations until they complete.
// It is safe for concurrent use.
type Registry[T any] struct {
	pending map[Token]Sink[T]
	next    Token
	mu      sync.Mutex
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{pending: make(map[Token]Sink[T])}
}

// Register stores sink and returns its token. A nil sink is rejected and a
// closed registry closes the sink immediately; both return zero.
func (r *Registry[T]) Register(sink Sink[T]) Token {
	if sink == nil {
		return 0
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		closeSink(sink)
		return 0
	}
	r.next++
	tok := r.next
	r.pending[tok] = sink
	r.mu.Unlock()
	return tok
}

// Complete removes the sink for tok, delivers result to it and closes it.
// It returns false for unknown or already completed tokens, or if the sink
// rejected the result.
//
// A sink that rejects the result but reports it is not Done stays registered
// under tok, so the operation can be completed again later, for example from
// a thread that has an Env. While that delivery attempt runs, concurrent
// calls for the same token return false.
func (r *Registry[T]) Complete(tok Token, result T) bool {
	sink, ok := r.take(tok)
	if !ok {
		return false
	}
	if sink.Complete(result) {
		closeSink(sink)
		return true
	}
	if f, ok := sink.(finisher); ok && !f.Done() && r.restore(tok, sink) {
		return false
	}
	closeSink(sink)
	return false
}

// Cancel removes and closes the sink for tok without delivering.
func (r *Registry[T]) Cancel(tok Token) bool {
	sink, ok := r.take(tok)
	if !ok {
		return false
	}
	closeSink(sink)
	return true
}

// Len returns the number of pending operations.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Close closes every pending sink. Later registrations are rejected.
func (r *Registry[T]) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, sink := range pending {
		closeSink(sink)
	}
}

func (r *Registry[T]) take(tok Token) (Sink[T], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sink, ok := r.pending[tok]
	if ok {
		delete(r.pending, tok)
	}
	return sink, ok
}

// restore puts sink back under tok unless the registry has been closed.
func (r *Registry[T]) restore(tok Token, sink Sink[T]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.pending[tok] = sink
	return true
}

func closeSink[T any](sink Sink[T]) {
	if c, ok := sink.(closer); ok {
		c.Close()
	}
}
