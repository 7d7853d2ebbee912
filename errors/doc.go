// Package errors provides structured error types for the ffi-bridge library.
//
// Errors are categorized by Phase (which boundary operation was running) and
// Kind (what went wrong). The Error type carries the reference and thread
// involved, a detail message and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRelease, errors.KindDoubleRelease).
//		Ref(ref).
//		Thread(tid).
//		Detail("global reference already deleted").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.InvalidRef(errors.PhaseAcquire, ref, "stale local reference")
//	err := errors.ThreadMismatch(errors.PhaseAcquire, owner, caller)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
