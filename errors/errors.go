package errors

import (
	"fmt"
	"strconv"
	"strings"

	ffibridge "github.com/wippyai/ffi-bridge"
)

// Phase indicates which boundary operation produced the error
type Phase string

const (
	PhaseAttach    Phase = "attach"    // thread attachment and env resolution
	PhaseAcquire   Phase = "acquire"   // pinning string or array data
	PhaseRelease   Phase = "release"   // unpinning and reference deletion
	PhaseReference Phase = "reference" // reference creation and promotion
	PhaseCallback  Phase = "callback"  // completion delivery
	PhaseStore     Phase = "store"     // payload memory
)

// Kind categorizes the error
type Kind string

const (
	KindEnvUnavailable Kind = "env_unavailable"
	KindThreadMismatch Kind = "thread_mismatch"
	KindInvalidRef     Kind = "invalid_ref"
	KindWrongKind      Kind = "wrong_kind"
	KindDoubleRelease  Kind = "double_release"
	KindBufferMismatch Kind = "buffer_mismatch"
	KindCapacity       Kind = "capacity"
	KindAllocation     Kind = "allocation"
	KindOutOfBounds    Kind = "out_of_bounds"
	KindClosed         Kind = "closed"
	KindLeak           Kind = "leak"
)

// Error is the structured error type used throughout the library
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Ref    ffibridge.Ref
	Thread ffibridge.ThreadID
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Ref != ffibridge.NullRef {
		b.WriteString(" ref=0x")
		b.WriteString(strconv.FormatUint(uint64(e.Ref), 16))
	}
	if e.Thread != 0 {
		b.WriteString(" thread=")
		b.WriteString(strconv.FormatUint(uint64(e.Thread), 10))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Ref sets the offending reference
func (b *Builder) Ref(r ffibridge.Ref) *Builder {
	b.err.Ref = r
	return b
}

// Thread sets the thread the operation ran on
func (b *Builder) Thread(tid ffibridge.ThreadID) *Builder {
	b.err.Thread = tid
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// EnvUnavailable creates an environment resolution error
func EnvUnavailable(tid ffibridge.ThreadID, cause error) *Error {
	return &Error{
		Phase:  PhaseAttach,
		Kind:   KindEnvUnavailable,
		Thread: tid,
		Detail: "no environment for thread",
		Cause:  cause,
	}
}

// ThreadMismatch creates an error for an env used off its owning thread
func ThreadMismatch(phase Phase, owner, caller ffibridge.ThreadID) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindThreadMismatch,
		Thread: caller,
		Detail: fmt.Sprintf("env attached to thread %d used from thread %d", owner, caller),
	}
}

// InvalidRef creates an invalid reference error
func InvalidRef(phase Phase, r ffibridge.Ref, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidRef,
		Ref:    r,
		Detail: detail,
	}
}

// WrongKind creates an error for a reference of an unexpected kind or type
func WrongKind(phase Phase, r ffibridge.Ref, want, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindWrongKind,
		Ref:    r,
		Detail: fmt.Sprintf("expected %s, got %s", want, got),
	}
}

// DoubleRelease creates an error for a second release of the same handle
func DoubleRelease(r ffibridge.Ref, what string) *Error {
	return &Error{
		Phase:  PhaseRelease,
		Kind:   KindDoubleRelease,
		Ref:    r,
		Detail: what + " already released",
	}
}

// BufferMismatch creates an error for a release with a buffer that was never acquired
func BufferMismatch(r ffibridge.Ref) *Error {
	return &Error{
		Phase:  PhaseRelease,
		Kind:   KindBufferMismatch,
		Ref:    r,
		Detail: "buffer does not belong to a matching acquire",
	}
}

// CapacityExceeded creates an error for an exhausted local reference frame
func CapacityExceeded(tid ffibridge.ThreadID, capacity int) *Error {
	return &Error{
		Phase:  PhaseReference,
		Kind:   KindCapacity,
		Thread: tid,
		Detail: fmt.Sprintf("local reference capacity %d exhausted", capacity),
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(size, align uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseStore,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
		Cause:  cause,
	}
}

// OutOfBounds creates an out of bounds payload access error
func OutOfBounds(offset, length, size uint32) *Error {
	return &Error{
		Phase:  PhaseStore,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("range [%d, %d) exceeds memory size %d", offset, uint64(offset)+uint64(length), size),
	}
}

// Closed creates an error for use after shutdown
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: what + " closed",
	}
}

// Leak creates a leak report for references still held at shutdown
func Leak(what string, count int) *Error {
	return &Error{
		Phase:  PhaseRelease,
		Kind:   KindLeak,
		Detail: fmt.Sprintf("%d %s still held", count, what),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
